// Package registry persists the typed key registry: passphrase-protected keys
// and YubiKey identities, with lifecycle states and atomic on-disk rewrites.
package registry

import (
	"time"

	"github.com/agevault/agevault/internal/errors"
)

// KeyType tags the two entry variants in the persisted document.
type KeyType string

const (
	TypePassphrase KeyType = "passphrase"
	TypeYubiKey    KeyType = "yubikey"
)

// LifecycleStatus is the state of a key in its lifecycle FSM.
type LifecycleStatus string

const (
	StatusActive      LifecycleStatus = "active"
	StatusSuspended   LifecycleStatus = "suspended"
	StatusDeactivated LifecycleStatus = "deactivated"
)

// RestoreGraceWindow is how long a deactivated key stays restorable,
// computed on demand from the deactivation timestamp.
const RestoreGraceWindow = 30 * 24 * time.Hour

// Lifecycle carries the status and the timestamps the FSM decisions need.
type Lifecycle struct {
	Status        LifecycleStatus `json:"status"`
	DeactivatedAt *time.Time      `json:"deactivated_at,omitempty"`
}

// CanTransition reports whether moving to the target status is legal now.
// Active and Suspended swap freely; either may deactivate; a deactivated key
// may leave that state only while inside the grace window.
func (l Lifecycle) CanTransition(to LifecycleStatus, now time.Time) bool {
	if l.Status == to {
		return false
	}
	switch l.Status {
	case StatusActive, StatusSuspended:
		return to == StatusActive || to == StatusSuspended || to == StatusDeactivated
	case StatusDeactivated:
		if to != StatusActive && to != StatusSuspended {
			return false
		}
		return l.Restorable(now)
	default:
		return false
	}
}

// Restorable reports whether a deactivated key is still inside the grace
// window. Non-deactivated keys are trivially restorable.
func (l Lifecycle) Restorable(now time.Time) bool {
	if l.Status != StatusDeactivated {
		return true
	}
	if l.DeactivatedAt == nil {
		return false
	}
	return now.Sub(*l.DeactivatedAt) <= RestoreGraceWindow
}

// transition applies a lifecycle change, stamping DeactivatedAt as needed.
func (l *Lifecycle) transition(to LifecycleStatus, now time.Time) error {
	if !l.CanTransition(to, now) {
		if l.Status == StatusDeactivated && !l.Restorable(now) {
			return errors.ErrGraceWindowExpired
		}
		return errors.ErrInvalidKeyState
	}
	if to == StatusDeactivated {
		t := now
		l.DeactivatedAt = &t
	} else {
		l.DeactivatedAt = nil
	}
	l.Status = to
	return nil
}

// PassphraseEntry is a registry entry for a passphrase-wrapped key.
type PassphraseEntry struct {
	KeyID       string     `json:"key_id"`
	Label       string     `json:"label"`
	PublicKey   string     `json:"public_key"`
	KeyFilename string     `json:"key_filename"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty"`
	Lifecycle   Lifecycle  `json:"lifecycle"`
}

// YubiKeyEntry is a registry entry for a hardware token identity.
type YubiKeyEntry struct {
	KeyID            string     `json:"key_id"`
	Label            string     `json:"label"`
	Serial           string     `json:"serial"`
	PIVSlot          int        `json:"piv_slot"`
	Recipient        string     `json:"recipient"`
	IdentityTag      string     `json:"identity_tag"`
	FirmwareVersion  string     `json:"firmware_version,omitempty"`
	RecoveryCodeHash string     `json:"recovery_code_hash"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsed         *time.Time `json:"last_used,omitempty"`
	Lifecycle        Lifecycle  `json:"lifecycle"`
}

// Entry is the tagged union stored per key id. Exactly one of Passphrase and
// YubiKey is set, matching Type.
type Entry struct {
	Type       KeyType          `json:"type"`
	Passphrase *PassphraseEntry `json:"-"`
	YubiKey    *YubiKeyEntry    `json:"-"`
}

// ID returns the entry's key id.
func (e *Entry) ID() string {
	switch e.Type {
	case TypePassphrase:
		return e.Passphrase.KeyID
	case TypeYubiKey:
		return e.YubiKey.KeyID
	}
	return ""
}

// Label returns the entry's display label.
func (e *Entry) Label() string {
	switch e.Type {
	case TypePassphrase:
		return e.Passphrase.Label
	case TypeYubiKey:
		return e.YubiKey.Label
	}
	return ""
}

// PublicKey returns the recipient string ciphertexts are addressed to.
func (e *Entry) PublicKey() string {
	switch e.Type {
	case TypePassphrase:
		return e.Passphrase.PublicKey
	case TypeYubiKey:
		return e.YubiKey.Recipient
	}
	return ""
}

// lifecycle returns a pointer to the entry's lifecycle for FSM updates.
func (e *Entry) lifecycle() *Lifecycle {
	switch e.Type {
	case TypePassphrase:
		return &e.Passphrase.Lifecycle
	case TypeYubiKey:
		return &e.YubiKey.Lifecycle
	}
	return nil
}

// Status returns the entry's current lifecycle status.
func (e *Entry) Status() LifecycleStatus {
	return e.lifecycle().Status
}

// MarkUsed stamps the last-used timestamp.
func (e *Entry) MarkUsed(now time.Time) {
	switch e.Type {
	case TypePassphrase:
		e.Passphrase.LastUsed = &now
	case TypeYubiKey:
		e.YubiKey.LastUsed = &now
	}
}
