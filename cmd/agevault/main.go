// agevault encrypts a user-selected set of files into a single portable
// artifact protected by a policy of independent recipients: a passphrase key
// held by the user, or a YubiKey performing decryption in hardware. Any one
// recipient unlocks the vault.
//
// The artifact is self-describing: a compressed archive encrypted to all
// recipients at once, with a sidecar manifest recording file hashes so
// recovery can verify integrity offline.
package main

import (
	"github.com/agevault/agevault/internal/cli"
)

// version is the application version. Overridden at build time via
// -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.Execute(version)
}
