package yubikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/log"
	"github.com/agevault/agevault/internal/registry"
	"github.com/agevault/agevault/internal/util"
)

// Config points the manager at the bundled external binaries.
type Config struct {
	YkmanBinary  string // device manager
	PluginBinary string // identity plugin
	AgeBinary    string // age CLI for PTY-driven decryption
}

// DefaultConfig resolves the bundled binaries by their conventional names.
func DefaultConfig() Config {
	return Config{
		YkmanBinary:  "ykman",
		PluginBinary: "age-plugin-yubikey",
		AgeBinary:    "age",
	}
}

// DefaultSlot is the retired PIV slot identities are generated in when the
// caller does not choose one.
const DefaultSlot = 1

// Manager performs serial-scoped YubiKey operations. Two concurrent
// operations on the same device are rejected; different devices proceed
// independently.
type Manager struct {
	cfg      Config
	registry *registry.Store
	enum     enumerator

	mu   sync.Mutex
	busy map[string]bool
}

// NewManager creates a YubiKey manager over the shared registry.
func NewManager(cfg Config, reg *registry.Store) *Manager {
	return &Manager{
		cfg:      cfg,
		registry: reg,
		enum:     &ykmanEnumerator{binary: cfg.YkmanBinary},
		busy:     make(map[string]bool),
	}
}

// acquire reserves a serial for one operation.
func (m *Manager) acquire(serial Serial) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[serial.String()] {
		return errors.ErrDeviceBusy
	}
	m.busy[serial.String()] = true
	return nil
}

func (m *Manager) release(serial Serial) {
	m.mu.Lock()
	delete(m.busy, serial.String())
	m.mu.Unlock()
}

// ListWithState enumerates connected devices and merges them with the
// registry into classified states: New, Reused, Orphaned, Registered.
func (m *Manager) ListWithState(ctx context.Context) ([]DeviceWithState, error) {
	serials, err := m.enum.ListSerials(ctx)
	if err != nil {
		return nil, err
	}

	connected := make(map[string]bool, len(serials))
	var result []DeviceWithState

	for _, raw := range serials {
		serial, err := NewSerial(raw)
		if err != nil {
			continue
		}
		connected[serial.String()] = true

		dev, err := m.enum.DeviceInfo(ctx, serial)
		if err != nil {
			log.Warn("device info failed", log.Serial("serial", serial.String()), log.Err(err))
			dev = Device{Serial: serial}
		}

		entry, regErr := m.registry.FindYubiKeyBySerial(serial.String())
		if regErr == nil {
			result = append(result, DeviceWithState{Device: dev, State: StateRegistered, KeyID: entry.KeyID})
			continue
		}

		provisioned, err := m.enum.SlotProvisioned(ctx, serial)
		if err != nil {
			return nil, err
		}
		state := StateNew
		if provisioned {
			state = StateReused
		}
		result = append(result, DeviceWithState{Device: dev, State: state})
	}

	// Registry entries whose hardware is not plugged in are orphaned.
	_, yks, err := m.registry.ListByType()
	if err != nil {
		return nil, err
	}
	for _, yk := range yks {
		if connected[yk.Serial] {
			continue
		}
		serial, err := NewSerial(yk.Serial)
		if err != nil {
			continue
		}
		result = append(result, DeviceWithState{
			Device: Device{Serial: serial, FirmwareVersion: yk.FirmwareVersion},
			State:  StateOrphaned,
			KeyID:  yk.KeyID,
		})
	}

	return result, nil
}

// IsDeviceConnected reports whether the device with the serial is present.
func (m *Manager) IsDeviceConnected(ctx context.Context, serial Serial) (bool, error) {
	if serial.IsZero() {
		return false, errors.ErrSerialRequired
	}
	serials, err := m.enum.ListSerials(ctx)
	if err != nil {
		return false, err
	}
	for _, s := range serials {
		if s == serial.String() {
			return true, nil
		}
	}
	return false, nil
}

// requireConnected fails with ErrDeviceNotFound when the serial is absent.
func (m *Manager) requireConnected(ctx context.Context, serial Serial) error {
	ok, err := m.IsDeviceConnected(ctx, serial)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrap(errors.ErrDeviceNotFound, serial.Redacted())
	}
	return nil
}

// InitializeDeviceHardware takes a factory-default device to a protected
// state: the PIV management key becomes a random TDES key stored protected by
// the PIN, and the PIN changes from the factory default to the user's PIN.
// Returns the plaintext recovery code for one-time display; only its SHA-256
// is ever persisted.
func (m *Manager) InitializeDeviceHardware(ctx context.Context, serial Serial, pin *Pin) (string, error) {
	if serial.IsZero() {
		return "", errors.ErrSerialRequired
	}
	if err := m.acquire(serial); err != nil {
		return "", err
	}
	defer m.release(serial)

	if err := m.requireConnected(ctx, serial); err != nil {
		return "", err
	}

	// Step 1: replace the factory management key with a random protected TDES
	// key, authenticating with the factory default. After this the slot is
	// unusable without the PIN.
	cmd := exec.CommandContext(ctx, m.cfg.YkmanBinary,
		"--device", serial.String(),
		"piv", "access", "change-management-key",
		"--generate", "--protect",
		"--management-key", DefaultManagementKey)
	defaultPin, err := NewPin(DefaultPIVPin)
	if err != nil {
		return "", err
	}
	defer defaultPin.Close()
	if _, err := runUnderPTY(ctx, cmd, defaultPin); err != nil {
		return "", errors.Wrap(errors.ErrInitFailed, err.Error())
	}

	// Step 2: change the PIN from the factory default. The PUK is left
	// untouched.
	cmd = exec.CommandContext(ctx, m.cfg.YkmanBinary,
		"--device", serial.String(),
		"piv", "access", "change-pin",
		"--pin", DefaultPIVPin,
		"--new-pin", pin.Expose())
	if _, err := runUnderPTY(ctx, cmd, pin); err != nil {
		return "", errors.Wrap(errors.ErrInitFailed, err.Error())
	}

	code, err := util.GenRecoveryCode()
	if err != nil {
		return "", err
	}

	log.Info("yubikey hardware initialized", log.Serial("serial", serial.String()))
	return code, nil
}

// HashRecoveryCode computes the persisted form of a recovery code.
func HashRecoveryCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// InitializeDevice generates an age identity in the chosen retired slot via
// the identity plugin and registers the resulting entry. The recovery code
// hash must come from a prior InitializeDeviceHardware round.
func (m *Manager) InitializeDevice(ctx context.Context, serial Serial, pin *Pin, slot int, recoveryCodeHash, label string) (Device, Identity, string, error) {
	if serial.IsZero() {
		return Device{}, Identity{}, "", errors.ErrSerialRequired
	}
	if slot <= 0 {
		slot = DefaultSlot
	}
	if err := m.acquire(serial); err != nil {
		return Device{}, Identity{}, "", err
	}
	defer m.release(serial)

	if err := m.requireConnected(ctx, serial); err != nil {
		return Device{}, Identity{}, "", err
	}
	if _, err := m.registry.FindYubiKeyBySerial(serial.String()); err == nil {
		return Device{}, Identity{}, "", errors.Wrap(errors.ErrSlotInUse, "serial already registered")
	}

	dev, err := m.enum.DeviceInfo(ctx, serial)
	if err != nil {
		return Device{}, Identity{}, "", err
	}

	if label == "" {
		full := serial.String()
		label = fmt.Sprintf("YubiKey-%s", full[len(full)-4:])
	}

	cmd := exec.CommandContext(ctx, m.cfg.PluginBinary,
		"--generate",
		"--serial", serial.String(),
		"--slot", fmt.Sprintf("%d", slot),
		"--name", label,
		"--pin-policy", "once",
		"--touch-policy", "cached")
	out, err := runUnderPTY(ctx, cmd, pin)
	if err != nil {
		return Device{}, Identity{}, "", err
	}

	identity, err := ParseIdentityOutput(out)
	if err != nil {
		return Device{}, Identity{}, "", err
	}

	keyID := uuid.NewString()
	entry := &registry.YubiKeyEntry{
		KeyID:            keyID,
		Label:            label,
		Serial:           serial.String(),
		PIVSlot:          slot,
		Recipient:        identity.Recipient,
		IdentityTag:      identity.IdentityTag,
		FirmwareVersion:  dev.FirmwareVersion,
		RecoveryCodeHash: recoveryCodeHash,
		CreatedAt:        time.Now().UTC(),
		Lifecycle:        registry.Lifecycle{Status: registry.StatusActive},
	}
	if err := m.registry.AddYubiKey(entry); err != nil {
		return Device{}, Identity{}, "", err
	}

	log.Info("yubikey identity registered",
		log.Serial("serial", serial.String()),
		log.Int("slot", slot),
		log.Redacted("recipient", identity.Recipient))

	return dev, identity, keyID, nil
}

// VerifyPin checks the PIN against the device without changing anything.
func (m *Manager) VerifyPin(ctx context.Context, serial Serial, pin *Pin) (bool, error) {
	if serial.IsZero() {
		return false, errors.ErrSerialRequired
	}
	if err := m.acquire(serial); err != nil {
		return false, err
	}
	defer m.release(serial)

	if err := m.requireConnected(ctx, serial); err != nil {
		return false, err
	}

	cmd := exec.CommandContext(ctx, m.cfg.YkmanBinary,
		"--device", serial.String(),
		"piv", "access", "verify-pin")
	if _, err := runUnderPTY(ctx, cmd, pin); err != nil {
		var pinErr *errors.PinRequiredError
		if errors.As(err, &pinErr) || errors.Is(err, errors.ErrPtyOperation) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Decrypt unlocks a ciphertext with the identity registered for the serial.
// The interaction runs over a PTY so the age binary's PIN and touch prompts
// can be answered; all temp files are removed regardless of outcome.
func (m *Manager) Decrypt(ctx context.Context, serial Serial, ciphertext []byte, pin *Pin) ([]byte, error) {
	if serial.IsZero() {
		return nil, errors.ErrSerialRequired
	}
	entry, err := m.registry.FindYubiKeyBySerial(serial.String())
	if err != nil {
		return nil, errors.Wrap(errors.ErrWrongDevice, "no registered identity for this serial")
	}

	if err := m.acquire(serial); err != nil {
		return nil, err
	}
	defer m.release(serial)

	if err := m.requireConnected(ctx, serial); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "agevault-yk-*")
	if err != nil {
		return nil, errors.NewFileError("mkdtemp", "", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	encPath := filepath.Join(tmpDir, "input.age")
	identityPath := filepath.Join(tmpDir, "identity.txt")
	outPath := filepath.Join(tmpDir, "output.bin")

	if err := os.WriteFile(encPath, ciphertext, 0o600); err != nil {
		return nil, errors.NewFileError("write", encPath, err)
	}

	identity := Identity{Recipient: entry.Recipient, IdentityTag: entry.IdentityTag}
	content := IdentityFileContent(serial, entry.PIVSlot, identity)
	if err := os.WriteFile(identityPath, []byte(content), 0o600); err != nil {
		return nil, errors.NewFileError("write", identityPath, err)
	}

	cmd := exec.CommandContext(ctx, m.cfg.AgeBinary,
		"-d", "-i", identityPath, "-o", outPath, encPath)
	if _, err := runUnderPTY(ctx, cmd, pin); err != nil {
		return nil, err
	}

	plaintext, err := os.ReadFile(outPath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDecryptionFailed, "tool produced no output")
	}

	_ = m.registry.MarkUsed(entry.KeyID)
	log.Info("yubikey decryption completed",
		log.Serial("serial", serial.String()), log.Int("bytes", len(plaintext)))
	return plaintext, nil
}

// Shutdown drops every per-serial reservation so the host can stop cleanly.
// It does not wait for in-flight operations to finish; operations hold their
// serial only while running.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = make(map[string]bool)
}
