package yubikey

import (
	"strings"
	"testing"
)

// FuzzStripANSI checks that stripping never panics and never produces output
// longer than its input.
func FuzzStripANSI(f *testing.F) {
	f.Add([]byte("plain"))
	f.Add([]byte("\x1b[31mred\x1b[0m"))
	f.Add([]byte("\x1b]0;title\x07body"))
	f.Add([]byte("\x1b["))
	f.Add([]byte{0x1b})

	f.Fuzz(func(t *testing.T, chunk []byte) {
		out := StripANSI(chunk)
		if len(out) > len(chunk) {
			t.Errorf("stripped output longer than input: %d > %d", len(out), len(chunk))
		}
		if strings.ContainsRune(out, '\r') {
			t.Error("carriage return survived stripping")
		}
	})
}

// FuzzPromptMachine checks that arbitrary chunk streams never panic the state
// machine and that a failed machine always carries an error.
func FuzzPromptMachine(f *testing.F) {
	f.Add([]byte("Enter PIN: "))
	f.Add([]byte("error: something"))
	f.Add([]byte("Please touch your YubiKey"))
	f.Add([]byte("2 retries left, failed"))

	f.Fuzz(func(t *testing.T, chunk []byte) {
		m := NewPromptMachine()
		action := m.Feed(chunk)
		if action == ActionFail && m.Err() == nil {
			t.Error("ActionFail without a classified error")
		}
		if action == ActionSendPin && !m.PinSent() {
			t.Error("ActionSendPin without PinSent")
		}
	})
}

// FuzzParseIdentityOutput checks the plugin output parser against arbitrary
// text.
func FuzzParseIdentityOutput(f *testing.F) {
	f.Add("#    Recipient: age1yubikey1qfoo\nAGE-PLUGIN-YUBIKEY-1QBAR\n")
	f.Add("junk")
	f.Add("")

	f.Fuzz(func(t *testing.T, out string) {
		id, err := ParseIdentityOutput(out)
		if err == nil {
			if id.Recipient == "" || id.IdentityTag == "" {
				t.Error("successful parse with empty fields")
			}
		}
	})
}
