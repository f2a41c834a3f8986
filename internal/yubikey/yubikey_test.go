package yubikey

import (
	"fmt"
	"strings"
	"testing"

	"github.com/agevault/agevault/internal/errors"
)

func TestNewSerial(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"12345678", true},
		{"123456789012", true},
		{"1234567", false},      // too short
		{"1234567890123", false}, // too long
		{"1234567a", false},     // non-numeric
		{"", false},
	}
	for _, tt := range tests {
		_, err := NewSerial(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("NewSerial(%q) error = %v; want ok=%v", tt.input, err, tt.ok)
		}
	}

	if _, err := NewSerial(""); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("empty serial = %v; want ErrSerialRequired", err)
	}
	if _, err := NewSerial("abc"); !errors.Is(err, errors.ErrInvalidSerial) {
		t.Errorf("bad serial = %v; want ErrInvalidSerial", err)
	}
}

func TestSerialRedacted(t *testing.T) {
	s, err := NewSerial("31310024")
	if err != nil {
		t.Fatal(err)
	}
	r := s.Redacted()
	if strings.Contains(r, "3131") {
		t.Errorf("redacted serial leaks prefix: %s", r)
	}
	if !strings.HasSuffix(r, "0024") {
		t.Errorf("redacted serial should keep last four: %s", r)
	}
}

func TestNewPin(t *testing.T) {
	tests := []struct {
		input string
		ok    bool
	}{
		{"123456", true},
		{"12345678", true},
		{"12345", false},     // too short
		{"123456789", false}, // too long
		{"12345a", false},    // non-numeric
	}
	for _, tt := range tests {
		p, err := NewPin(tt.input)
		if (err == nil) != tt.ok {
			t.Errorf("NewPin(%q) error = %v; want ok=%v", tt.input, err, tt.ok)
		}
		if p != nil {
			p.Close()
		}
	}
}

func TestPinZeroizedAndRedacted(t *testing.T) {
	p, err := NewPin("654321")
	if err != nil {
		t.Fatal(err)
	}
	if p.Expose() != "654321" {
		t.Error("Expose should return the PIN before Close")
	}
	if s := fmt.Sprintf("%v %#v", p, p); strings.Contains(s, "654321") {
		t.Errorf("debug output leaks PIN: %s", s)
	}

	p.Close()
	if p.Expose() != "" {
		t.Error("Expose after Close should be empty")
	}
	p.Close() // idempotent
}

func TestPromptDetection(t *testing.T) {
	// PIN prompts
	for _, s := range []string{"Enter PIN for YubiKey", "PIN: ", "PIN for slot 1"} {
		if !IsPinPrompt(s) {
			t.Errorf("IsPinPrompt(%q) = false", s)
		}
	}
	if IsPinPrompt("Some other message") {
		t.Error("IsPinPrompt matched unrelated text")
	}

	// Touch prompts, including the Windows age message
	for _, s := range []string{
		"Please touch your YubiKey",
		"Touch your YubiKey",
		"Please touch the device",
		"age: waiting on yubikey plugin...",
	} {
		if !IsTouchPrompt(s) {
			t.Errorf("IsTouchPrompt(%q) = false", s)
		}
	}
	if IsTouchPrompt("Some other message") {
		t.Error("IsTouchPrompt matched unrelated text")
	}

	// Errors
	for _, s := range []string{"error: bad input", "Operation failed", "Error: x", "Failed to connect"} {
		if !IsErrorOutput(s) {
			t.Errorf("IsErrorOutput(%q) = false", s)
		}
	}
	if IsErrorOutput("Successfully completed") {
		t.Error("IsErrorOutput matched success text")
	}
}

func TestParsePinAttempts(t *testing.T) {
	tests := []struct {
		output string
		want   int
	}{
		{"WARNING: 2 retries left", 2},
		{"3 tries remaining", 3},
		{"1 attempt remaining", 1},
		{"0 retries left", 0},
		{"Enter PIN:", -1},
		{"", -1},
	}
	for _, tt := range tests {
		if got := ParsePinAttempts(tt.output); got != tt.want {
			t.Errorf("ParsePinAttempts(%q) = %d; want %d", tt.output, got, tt.want)
		}
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"plain text", "plain text"},
		{"\x1b[2J\x1b[Hcleared", "cleared"},
		{"col\x1b[31mor\x1b[0med", "colored"},
		{"line\r\nending", "line\nending"},
		{"\x1b]0;title\x07body", "body"},
		{"\x1b[?25lhidden cursor\x1b[?25h", "hidden cursor"},
	}
	for _, tt := range tests {
		if got := StripANSI([]byte(tt.input)); got != tt.want {
			t.Errorf("StripANSI(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

// TestChunkedStrippingPreservesContent feeds a recorded escape-laden stream in
// arbitrary chunk boundaries and asserts every printable token survives in the
// accumulated output.
func TestChunkedStrippingPreservesContent(t *testing.T) {
	raw := "\x1b[2J\x1b[0;0HEnter PIN for YubiKey 31310024: \x1b[31m" +
		"\r\nPlease touch your YubiKey\x1b[0m\r\ndone\x1b[?25h"
	tokens := []string{"Enter PIN for YubiKey 31310024", "Please touch your YubiKey", "done"}

	for _, chunkSize := range []int{1, 3, 7, 16, len(raw)} {
		m := NewPromptMachine()
		for off := 0; off < len(raw); off += chunkSize {
			end := off + chunkSize
			if end > len(raw) {
				end = len(raw)
			}
			m.Feed([]byte(raw[off:end]))
		}
		acc := m.Accumulated()
		for _, token := range tokens {
			if !strings.Contains(acc, token) {
				t.Errorf("chunk size %d: token %q lost, accumulator %q", chunkSize, token, acc)
			}
		}
	}
}

func TestPromptMachinePinInjection(t *testing.T) {
	m := NewPromptMachine()

	if a := m.Feed([]byte("starting up\n")); a != ActionNone {
		t.Errorf("benign output = %v; want ActionNone", a)
	}
	if a := m.Feed([]byte("Enter PIN for YubiKey: ")); a != ActionSendPin {
		t.Errorf("pin prompt = %v; want ActionSendPin", a)
	}
	if !m.PinSent() {
		t.Error("PinSent should be true")
	}
	// A second PIN prompt must not trigger another injection.
	if a := m.Feed([]byte("Enter PIN again: ")); a != ActionNone {
		t.Errorf("second pin prompt = %v; want ActionNone (inject once)", a)
	}
}

func TestPromptMachineTouchPhase(t *testing.T) {
	m := NewPromptMachine()

	// Before any prompt the deadline is the short PIN window.
	if m.Deadline() >= 30e9 {
		t.Error("pre-PIN deadline should be the short window")
	}

	m.Feed([]byte("Enter PIN: "))
	m.Feed([]byte("Please touch your YubiKey"))
	if !m.TouchSeen() {
		t.Error("TouchSeen should be true")
	}
	if m.Deadline() < 30e9 {
		t.Error("touch deadline should be the long window")
	}
	if !errors.Is(m.TimeoutError(), errors.ErrTouchTimeout) {
		t.Errorf("touch timeout = %v; want ErrTouchTimeout", m.TimeoutError())
	}
}

func TestPromptMachineErrorClassification(t *testing.T) {
	m := NewPromptMachine()
	if a := m.Feed([]byte("age: error: no identity matched")); a != ActionFail {
		t.Fatalf("error output = %v; want ActionFail", a)
	}
	if !errors.Is(m.Err(), errors.ErrPtyOperation) {
		t.Errorf("Err = %v; want ErrPtyOperation", m.Err())
	}
}

func TestPromptMachinePinAttemptsBanner(t *testing.T) {
	m := NewPromptMachine()
	m.Feed([]byte("PIN verification failed, 2 retries left\n"))

	var pinErr *errors.PinRequiredError
	if !errors.As(m.Err(), &pinErr) {
		t.Fatalf("Err = %v; want PinRequiredError", m.Err())
	}
	if pinErr.AttemptsRemaining != 2 {
		t.Errorf("attempts = %d; want 2", pinErr.AttemptsRemaining)
	}
}

func TestPromptMachinePinBlocked(t *testing.T) {
	m := NewPromptMachine()
	m.Feed([]byte("PIN verification failed, 0 retries left\n"))
	if !errors.Is(m.Err(), errors.ErrPinBlocked) {
		t.Errorf("Err = %v; want ErrPinBlocked", m.Err())
	}
}

func TestPromptMachineWindowsConPTYStream(t *testing.T) {
	// A recorded-style ConPTY sequence: cursor positioning, color, title, and
	// the prompt split across escape-heavy chunks.
	chunks := [][]byte{
		[]byte("\x1b]0;age\x07\x1b[?25l"),
		[]byte("\x1b[1;1HEnter P"),
		[]byte("IN for YubiKey: \x1b[0m"),
	}
	m := NewPromptMachine()
	var last Action
	for _, c := range chunks {
		last = m.Feed(c)
	}
	if last != ActionSendPin {
		t.Errorf("ConPTY stream final action = %v; want ActionSendPin", last)
	}
}

func TestParseSerialList(t *testing.T) {
	out := "31310024\n87654321\n\nnot-a-serial\n"
	serials := ParseSerialList(out)
	if len(serials) != 2 || serials[0] != "31310024" || serials[1] != "87654321" {
		t.Errorf("ParseSerialList = %v", serials)
	}
}

func TestParseDeviceInfo(t *testing.T) {
	serial, _ := NewSerial("31310024")
	out := `Device type: YubiKey 5 NFC
Serial number: 31310024
Firmware version: 5.4.3
Form factor: Keychain (USB-A)
`
	dev := ParseDeviceInfo(serial, out)
	if dev.Model != "YubiKey 5 NFC" {
		t.Errorf("Model = %q", dev.Model)
	}
	if dev.FirmwareVersion != "5.4.3" {
		t.Errorf("FirmwareVersion = %q", dev.FirmwareVersion)
	}
}

func TestParseSlotProvisioned(t *testing.T) {
	provisioned := `PIV version: 5.4.3
Slot 82:
  Algorithm: ECCP256
  Subject DN: CN=age identity
`
	if !ParseSlotProvisioned(provisioned) {
		t.Error("retired slot with key should report provisioned")
	}

	empty := `PIV version: 5.4.3
PIN tries remaining: 3/3
`
	if ParseSlotProvisioned(empty) {
		t.Error("empty PIV info should not report provisioned")
	}

	// Slot 9a (authentication) is not a retired slot.
	auth := "Slot 9a:\n  Algorithm: RSA2048\n"
	if ParseSlotProvisioned(auth) {
		t.Error("non-retired slot should not count")
	}
}

func TestParseIdentityOutput(t *testing.T) {
	out := `🎉 Done! This YubiKey is ready for encryption.
#       Serial: 31310024, Slot: 1
#   PIN policy: once
# Touch policy: cached
#    Recipient: age1yubikey1q2rldkpdugwzhsyxm5uw4xd43gt5rqc0157zduq7u2jqq0656zc2sewvr9e
AGE-PLUGIN-YUBIKEY-1QT5PGQYZ2NVZQYQ5WC2
`
	id, err := ParseIdentityOutput(out)
	if err != nil {
		t.Fatalf("ParseIdentityOutput: %v", err)
	}
	if !strings.HasPrefix(id.Recipient, "age1yubikey1q2") {
		t.Errorf("Recipient = %q", id.Recipient)
	}
	if id.IdentityTag != "AGE-PLUGIN-YUBIKEY-1QT5PGQYZ2NVZQYQ5WC2" {
		t.Errorf("IdentityTag = %q", id.IdentityTag)
	}
}

func TestParseIdentityOutputIncomplete(t *testing.T) {
	if _, err := ParseIdentityOutput("no identity here"); !errors.Is(err, errors.ErrPluginExecution) {
		t.Errorf("incomplete output = %v; want ErrPluginExecution", err)
	}
	// Recipient without identity tag is still incomplete.
	if _, err := ParseIdentityOutput("#    Recipient: age1yubikey1qfoo\n"); err == nil {
		t.Error("missing identity tag should fail")
	}
}

func TestIdentityFileContent(t *testing.T) {
	serial, _ := NewSerial("31310024")
	id := Identity{Recipient: "age1yubikey1qfoo", IdentityTag: "AGE-PLUGIN-YUBIKEY-1QBAR"}
	content := IdentityFileContent(serial, 1, id)

	for _, want := range []string{
		"# ", "Serial: 31310024", "Slot: 1",
		"Recipient: age1yubikey1qfoo",
		"AGE-PLUGIN-YUBIKEY-1QBAR\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("identity file missing %q:\n%s", want, content)
		}
	}
	// The identity tag must be the last, uncommented line.
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if lines[len(lines)-1] != "AGE-PLUGIN-YUBIKEY-1QBAR" {
		t.Errorf("identity tag not on final line: %q", lines[len(lines)-1])
	}
}

func TestHashRecoveryCode(t *testing.T) {
	h1 := HashRecoveryCode("ABCD-EFGH-JKMN")
	h2 := HashRecoveryCode("ABCD-EFGH-JKMN")
	h3 := HashRecoveryCode("ABCD-EFGH-JKMP")

	if h1 != h2 {
		t.Error("hash must be deterministic")
	}
	if h1 == h3 {
		t.Error("different codes must hash differently")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d; want 64 hex chars", len(h1))
	}
	if strings.Contains(h1, "ABCD") {
		t.Error("hash must not contain the plaintext code")
	}
}
