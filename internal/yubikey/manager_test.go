package yubikey

import (
	"context"
	"testing"
	"time"

	"github.com/agevault/agevault/internal/errors"
	"github.com/agevault/agevault/internal/paths"
	"github.com/agevault/agevault/internal/registry"
)

// fakeEnumerator serves recorded device state instead of shelling out.
type fakeEnumerator struct {
	serials     []string
	provisioned map[string]bool
	devices     map[string]Device
}

func (f *fakeEnumerator) ListSerials(context.Context) ([]string, error) {
	return f.serials, nil
}

func (f *fakeEnumerator) DeviceInfo(_ context.Context, serial Serial) (Device, error) {
	if d, ok := f.devices[serial.String()]; ok {
		return d, nil
	}
	return Device{Serial: serial}, nil
}

func (f *fakeEnumerator) SlotProvisioned(_ context.Context, serial Serial) (bool, error) {
	return f.provisioned[serial.String()], nil
}

func testManager(t *testing.T, enum enumerator) (*Manager, *registry.Store) {
	t.Helper()
	reg := registry.NewStore(paths.NewServiceAt(t.TempDir()))
	m := NewManager(DefaultConfig(), reg)
	m.enum = enum
	return m, reg
}

func registered(t *testing.T, reg *registry.Store, serial string) *registry.YubiKeyEntry {
	t.Helper()
	entry := &registry.YubiKeyEntry{
		KeyID:            "key-" + serial,
		Label:            "yk-" + serial,
		Serial:           serial,
		PIVSlot:          1,
		Recipient:        "age1yubikey1q" + serial,
		IdentityTag:      "AGE-PLUGIN-YUBIKEY-1Q" + serial,
		RecoveryCodeHash: HashRecoveryCode("AAAA-BBBB-CCCC"),
		CreatedAt:        time.Now().UTC(),
		Lifecycle:        registry.Lifecycle{Status: registry.StatusActive},
	}
	if err := reg.AddYubiKey(entry); err != nil {
		t.Fatal(err)
	}
	return entry
}

func TestListWithStateClassification(t *testing.T) {
	enum := &fakeEnumerator{
		serials: []string{"11111111", "22222222", "33333333"},
		provisioned: map[string]bool{
			"22222222": true, // provisioned but unregistered: Reused
		},
		devices: map[string]Device{},
	}
	m, reg := testManager(t, enum)

	registered(t, reg, "33333333") // connected + registered: Registered
	registered(t, reg, "44444444") // registered but unplugged: Orphaned

	list, err := m.ListWithState(context.Background())
	if err != nil {
		t.Fatalf("ListWithState: %v", err)
	}

	states := make(map[string]State)
	for _, d := range list {
		states[d.Device.Serial.String()] = d.State
	}

	want := map[string]State{
		"11111111": StateNew,
		"22222222": StateReused,
		"33333333": StateRegistered,
		"44444444": StateOrphaned,
	}
	for serial, state := range want {
		if states[serial] != state {
			t.Errorf("serial %s state = %s; want %s", serial, states[serial], state)
		}
	}
}

func TestIsDeviceConnected(t *testing.T) {
	enum := &fakeEnumerator{serials: []string{"11111111"}}
	m, _ := testManager(t, enum)

	serial, _ := NewSerial("11111111")
	ok, err := m.IsDeviceConnected(context.Background(), serial)
	if err != nil || !ok {
		t.Errorf("connected device = %v, %v; want true, nil", ok, err)
	}

	other, _ := NewSerial("99999999")
	ok, err = m.IsDeviceConnected(context.Background(), other)
	if err != nil || ok {
		t.Errorf("absent device = %v, %v; want false, nil", ok, err)
	}

	if _, err := m.IsDeviceConnected(context.Background(), Serial{}); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("zero serial = %v; want ErrSerialRequired", err)
	}
}

func TestSerialScopingRequired(t *testing.T) {
	m, _ := testManager(t, &fakeEnumerator{})
	ctx := context.Background()
	pin, _ := NewPin("123456")
	defer pin.Close()

	if _, err := m.InitializeDeviceHardware(ctx, Serial{}, pin); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("InitializeDeviceHardware without serial = %v; want ErrSerialRequired", err)
	}
	if _, _, _, err := m.InitializeDevice(ctx, Serial{}, pin, 1, "", ""); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("InitializeDevice without serial = %v; want ErrSerialRequired", err)
	}
	if _, err := m.VerifyPin(ctx, Serial{}, pin); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("VerifyPin without serial = %v; want ErrSerialRequired", err)
	}
	if _, err := m.Decrypt(ctx, Serial{}, []byte("x"), pin); !errors.Is(err, errors.ErrSerialRequired) {
		t.Errorf("Decrypt without serial = %v; want ErrSerialRequired", err)
	}
}

func TestPerSerialBusyLock(t *testing.T) {
	m, _ := testManager(t, &fakeEnumerator{serials: []string{"11111111"}})
	serial, _ := NewSerial("11111111")

	if err := m.acquire(serial); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.acquire(serial); !errors.Is(err, errors.ErrDeviceBusy) {
		t.Errorf("second acquire = %v; want ErrDeviceBusy", err)
	}

	// A different serial is independent.
	other, _ := NewSerial("22222222")
	if err := m.acquire(other); err != nil {
		t.Errorf("other serial acquire = %v; want nil", err)
	}

	m.release(serial)
	if err := m.acquire(serial); err != nil {
		t.Errorf("acquire after release = %v; want nil", err)
	}
}

func TestDecryptUnknownSerial(t *testing.T) {
	m, _ := testManager(t, &fakeEnumerator{serials: []string{"11111111"}})
	serial, _ := NewSerial("11111111")
	pin, _ := NewPin("123456")
	defer pin.Close()

	// No registry entry for this serial: the wrong device is inserted.
	if _, err := m.Decrypt(context.Background(), serial, []byte("ct"), pin); !errors.Is(err, errors.ErrWrongDevice) {
		t.Errorf("decrypt with unregistered serial = %v; want ErrWrongDevice", err)
	}
}

func TestDecryptDisconnectedDevice(t *testing.T) {
	m, reg := testManager(t, &fakeEnumerator{serials: nil})
	registered(t, reg, "55555555")
	serial, _ := NewSerial("55555555")
	pin, _ := NewPin("123456")
	defer pin.Close()

	if _, err := m.Decrypt(context.Background(), serial, []byte("ct"), pin); !errors.Is(err, errors.ErrDeviceNotFound) {
		t.Errorf("decrypt with unplugged device = %v; want ErrDeviceNotFound", err)
	}
}

func TestInitializeDeviceRefusesRegisteredSerial(t *testing.T) {
	m, reg := testManager(t, &fakeEnumerator{serials: []string{"66666666"}})
	registered(t, reg, "66666666")
	serial, _ := NewSerial("66666666")
	pin, _ := NewPin("123456")
	defer pin.Close()

	_, _, _, err := m.InitializeDevice(context.Background(), serial, pin, 1, "hash", "label")
	if !errors.Is(err, errors.ErrSlotInUse) {
		t.Errorf("re-init registered serial = %v; want ErrSlotInUse", err)
	}
}

func TestShutdownClearsBusy(t *testing.T) {
	m, _ := testManager(t, &fakeEnumerator{})
	serial, _ := NewSerial("11111111")
	_ = m.acquire(serial)

	m.Shutdown()
	if err := m.acquire(serial); err != nil {
		t.Errorf("acquire after shutdown = %v; want nil", err)
	}
}
