package yubikey

import (
	"context"
	"os/exec"
	"strings"

	"github.com/agevault/agevault/internal/errors"
)

// Device describes a connected YubiKey.
type Device struct {
	Serial          Serial `json:"serial"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	Model           string `json:"model,omitempty"`
}

// State classifies a device or registry entry:
//
//	New        device present, slot unprovisioned
//	Reused     device present with a provisioned slot not registered locally
//	Orphaned   registered locally but not currently connected
//	Registered registered locally and connected
type State string

const (
	StateNew        State = "new"
	StateReused     State = "reused"
	StateOrphaned   State = "orphaned"
	StateRegistered State = "registered"
)

// DeviceWithState pairs a device (or a registry-only ghost of one) with its
// classification.
type DeviceWithState struct {
	Device Device `json:"device"`
	State  State  `json:"state"`
	KeyID  string `json:"key_id,omitempty"` // set when registered
}

// enumerator lists connected devices. The single production implementation
// shells out to the bundled device manager; tests substitute recorded output.
type enumerator interface {
	ListSerials(ctx context.Context) ([]string, error)
	DeviceInfo(ctx context.Context, serial Serial) (Device, error)
	SlotProvisioned(ctx context.Context, serial Serial) (bool, error)
}

// ykmanEnumerator drives the ykman-equivalent binary.
type ykmanEnumerator struct {
	binary string
}

func (e *ykmanEnumerator) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, e.binary, args...).CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", errors.Wrap(errors.ErrPluginNotFound, e.binary)
		}
		return string(out), errors.Wrap(errors.ErrPluginExecution, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// ListSerials runs `list --serials` and returns one serial per line.
func (e *ykmanEnumerator) ListSerials(ctx context.Context) ([]string, error) {
	out, err := e.run(ctx, "list", "--serials")
	if err != nil {
		return nil, err
	}
	return ParseSerialList(out), nil
}

// DeviceInfo runs `--device <serial> info` and parses the summary lines.
func (e *ykmanEnumerator) DeviceInfo(ctx context.Context, serial Serial) (Device, error) {
	out, err := e.run(ctx, "--device", serial.String(), "info")
	if err != nil {
		return Device{}, err
	}
	return ParseDeviceInfo(serial, out), nil
}

// SlotProvisioned runs `--device <serial> piv info` and looks for a
// certificate in the retired slot range.
func (e *ykmanEnumerator) SlotProvisioned(ctx context.Context, serial Serial) (bool, error) {
	out, err := e.run(ctx, "--device", serial.String(), "piv", "info")
	if err != nil {
		return false, err
	}
	return ParseSlotProvisioned(out), nil
}

// ParseSerialList extracts serial numbers from `list --serials` output.
func ParseSerialList(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, err := NewSerial(line); err == nil {
			serials = append(serials, line)
		}
	}
	return serials
}

// ParseDeviceInfo extracts model and firmware from `info` output.
func ParseDeviceInfo(serial Serial, out string) Device {
	dev := Device{Serial: serial}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Device type:"):
			dev.Model = strings.TrimSpace(strings.TrimPrefix(line, "Device type:"))
		case strings.HasPrefix(line, "Firmware version:"):
			dev.FirmwareVersion = strings.TrimSpace(strings.TrimPrefix(line, "Firmware version:"))
		}
	}
	return dev
}

// ParseSlotProvisioned reports whether `piv info` output shows a key in a
// retired slot (82-95). The plugin prints these as "Slot 82" sections.
func ParseSlotProvisioned(out string) bool {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Slot ") {
			continue
		}
		rest := strings.TrimPrefix(line, "Slot ")
		if len(rest) >= 2 {
			hex := rest[:2]
			if hex >= "82" && hex <= "95" {
				return true
			}
		}
	}
	return false
}
