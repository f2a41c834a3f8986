// Package yubikey manages hardware token identities: device enumeration and
// state classification, PIV initialization, identity generation via the
// bundled plugin, and PIN/touch-driven decryption over a pseudo-terminal.
//
// Every operation is serial-scoped so multi-device hosts cannot cross-operate
// on the wrong token.
package yubikey

import (
	"strings"

	"github.com/agevault/agevault/internal/crypto"
	"github.com/agevault/agevault/internal/errors"
)

// Serial is a validated YubiKey serial number: 8-12 digits.
type Serial struct {
	value string
}

// NewSerial validates and wraps a serial string.
func NewSerial(s string) (Serial, error) {
	if strings.TrimSpace(s) == "" {
		return Serial{}, errors.ErrSerialRequired
	}
	if len(s) < 8 || len(s) > 12 {
		return Serial{}, errors.Wrap(errors.ErrInvalidSerial, "serial must be 8-12 digits")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return Serial{}, errors.Wrap(errors.ErrInvalidSerial, "serial must be numeric")
		}
	}
	return Serial{value: s}, nil
}

// String returns the full serial. Use Redacted for anything that may be logged.
func (s Serial) String() string {
	return s.value
}

// Redacted masks all but the last four digits for log output.
func (s Serial) Redacted() string {
	if len(s.value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s.value)-4) + s.value[len(s.value)-4:]
}

// IsZero reports whether the serial is unset.
func (s Serial) IsZero() bool {
	return s.value == ""
}

// Pin is a validated PIV PIN: 6-8 digits, zeroized on Close.
type Pin struct {
	data []byte
}

// NewPin validates and wraps a PIN string.
func NewPin(p string) (*Pin, error) {
	if len(p) < 6 || len(p) > 8 {
		return nil, errors.Wrap(errors.ErrInvalidPin, "PIN must be 6-8 digits")
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return nil, errors.Wrap(errors.ErrInvalidPin, "PIN must be numeric")
		}
	}
	data := make([]byte, len(p))
	copy(data, p)
	return &Pin{data: data}, nil
}

// Expose returns the PIN digits. Returns "" after Close.
func (p *Pin) Expose() string {
	if p == nil || p.data == nil {
		return ""
	}
	return string(p.data)
}

// Close zeros the PIN material. Idempotent.
func (p *Pin) Close() {
	if p == nil || p.data == nil {
		return
	}
	crypto.Wipe(p.data)
	p.data = nil
}

// String implements fmt.Stringer and never reveals the PIN.
func (p *Pin) String() string {
	return "Pin(redacted)"
}

// GoString keeps %#v redacted too.
func (p *Pin) GoString() string {
	return "Pin(redacted)"
}

// DefaultPIVPin is the factory PIN present on an uninitialized device.
const DefaultPIVPin = "123456"

// DefaultManagementKey is the factory TDES management key on an uninitialized
// device, used once to authenticate the change to a protected random key.
const DefaultManagementKey = "010203040506070801020304050607080102030405060708"
