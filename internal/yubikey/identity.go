package yubikey

import (
	"fmt"
	"strings"

	"github.com/agevault/agevault/internal/errors"
)

// Identity is the pair required to encrypt to and decrypt from a provisioned
// slot: the age recipient and the plugin's opaque identity blob.
type Identity struct {
	Recipient   string `json:"recipient"`
	IdentityTag string `json:"identity_tag"`
}

// IdentityTagPrefix is the magic prefix of plugin identity blobs.
const IdentityTagPrefix = "AGE-PLUGIN-YUBIKEY-"

// ParseIdentityOutput extracts the recipient and identity tag from the
// identity plugin's generation output. The tool prints, among banner text,
// lines of the form:
//
//	#       Serial: 31310024, Slot: 1
//	#    Recipient: age1yubikey1q...
//	AGE-PLUGIN-YUBIKEY-1Q...
func ParseIdentityOutput(out string) (Identity, error) {
	var id Identity
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if idx := strings.Index(line, "Recipient:"); idx >= 0 {
			candidate := strings.TrimSpace(line[idx+len("Recipient:"):])
			if strings.HasPrefix(candidate, "age1yubikey") {
				id.Recipient = candidate
			}
		}
		if strings.HasPrefix(line, IdentityTagPrefix) {
			id.IdentityTag = line
		}
	}

	if id.Recipient == "" || id.IdentityTag == "" {
		return Identity{}, errors.Wrap(errors.ErrPluginExecution,
			"identity plugin output missing recipient or identity")
	}
	return id, nil
}

// IdentityFileContent renders the short text identity file used to drive the
// age binary during decryption. The header keeps the file self-describing for
// support purposes; only the tag line is machine-relevant.
func IdentityFileContent(serial Serial, slot int, identity Identity) string {
	return fmt.Sprintf(
		"#       Serial: %s, Slot: %d\n#   PIN policy: once\n# Touch policy: cached\n#    Recipient: %s\n%s\n",
		serial.String(), slot, identity.Recipient, identity.IdentityTag)
}
