package nitrokeyapi

import (
	"errors"
	"testing"

	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

func TestDeviceIdentity(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))
	if d.Model() != ModelPro {
		t.Errorf("model: got %s, want Pro", d.Model())
	}
	if v := d.FirmwareVersion(); v != (FirmwareVersion{Major: 0, Minor: 8}) {
		t.Errorf("firmware: got %s, want v0.8", v)
	}
	if d.SerialNumber() != "00005e1f" {
		t.Errorf("serial: got %q, want 00005e1f", d.SerialNumber())
	}
}

// The Storage smart card reports zeros in the plain status command; the
// identity must come from the storage controller instead.
func TestStorageIdentity(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelStorage))
	if v := d.FirmwareVersion(); v != (FirmwareVersion{Major: 0, Minor: 54}) {
		t.Errorf("firmware: got %s, want v0.54", v)
	}
	if d.SerialNumber() != "00005e1f" {
		t.Errorf("serial: got %q, want 00005e1f", d.SerialNumber())
	}
	s, err := d.Status()
	if err != nil {
		t.Fatalf("Status: %s", err)
	}
	if s.Firmware != d.FirmwareVersion() || s.SerialNumber != d.SerialNumber() {
		t.Errorf("composite status disagrees with identity: %+v", s)
	}
}

func TestRetryCounts(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))
	rc, err := d.RetryCounts()
	if err != nil {
		t.Fatalf("RetryCounts: %s", err)
	}
	if rc.User != 3 || rc.Admin != 3 {
		t.Fatalf("fresh device: got %+v, want 3/3", rc)
	}
}

func TestChangeUserPin(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))

	if err := d.ChangeUserPin(DefaultUserPin, "654321"); err != nil {
		t.Fatalf("ChangeUserPin: %s", err)
	}
	if _, err := d.AuthenticateUser("654321"); err != nil {
		t.Fatalf("authenticate with new PIN: %s", err)
	}
	err := d.ChangeUserPin("999999", "111111")
	if !errors.Is(err, WrongPassword) {
		t.Fatalf("wrong current PIN: got %v, want WrongPassword", err)
	}
	if n, _ := d.UserRetryCount(); n != 2 {
		t.Errorf("retry count after wrong PIN: got %d, want 2", n)
	}
}

func TestChangePinPreflight(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))

	if err := d.ChangeUserPin(DefaultUserPin, "123"); !errors.Is(err, ErrPinTooShort) {
		t.Fatalf("short new user PIN: got %v, want ErrPinTooShort", err)
	}
	if err := d.ChangeAdminPin(DefaultAdminPin, "1234567"); !errors.Is(err, ErrPinTooShort) {
		t.Fatalf("short new admin PIN: got %v, want ErrPinTooShort", err)
	}
	if err := d.ChangeUserPin("12\x003456", "654321"); !errors.Is(err, ErrInvalidString) {
		t.Fatalf("NUL in PIN: got %v, want ErrInvalidString", err)
	}
	// none of these may reach the device
	if rc, _ := d.RetryCounts(); rc.User != 3 || rc.Admin != 3 {
		t.Errorf("retry counters depleted by preflight errors: %+v", rc)
	}
}

func TestUnlockUserPin(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))

	// block the user PIN
	for i := 0; i < 3; i++ {
		if _, err := d.AuthenticateUser("999999"); !errors.Is(err, WrongPassword) {
			t.Fatalf("attempt %d: got %v, want WrongPassword", i, err)
		}
	}
	if n, _ := d.UserRetryCount(); n != 0 {
		t.Fatalf("retry count: got %d, want 0", n)
	}
	if _, err := d.AuthenticateUser(DefaultUserPin); !errors.Is(err, WrongPassword) {
		t.Fatalf("authenticate with blocked PIN: got %v, want WrongPassword", err)
	}

	if err := d.UnlockUserPin(DefaultAdminPin, "654321"); err != nil {
		t.Fatalf("UnlockUserPin: %s", err)
	}
	if n, _ := d.UserRetryCount(); n != 3 {
		t.Errorf("retry count after unlock: got %d, want 3", n)
	}
	u, err := d.AuthenticateUser("654321")
	if err != nil {
		t.Fatalf("authenticate after unlock: %s", err)
	}
	u.Close()
}

func TestFactoryReset(t *testing.T) {
	if testing.Short() {
		t.Skip("factory reset waits for the firmware to settle")
	}
	st := newEmuState(ModelPro)
	d := newTestDevice(t, st)

	if err := d.ChangeAdminPin(DefaultAdminPin, "87654321"); err != nil {
		t.Fatalf("ChangeAdminPin: %s", err)
	}
	if err := d.FactoryReset("87654321"); err != nil {
		t.Fatalf("FactoryReset: %s", err)
	}

	// the card is back on the default PINs
	a, err := d.AuthenticateAdmin(DefaultAdminPin)
	if err != nil {
		t.Fatalf("authenticate after reset: %s", err)
	}
	a.Close()

	// the spurious WrongPassword right after a reset must be worked
	// around transparently
	if err := d.BuildAesKey(DefaultAdminPin); err != nil {
		t.Fatalf("BuildAesKey: %s", err)
	}
	if st.aesGlitchArmed {
		t.Error("AES key not rebuilt")
	}
}

func TestBuildAesKeyWrongPin(t *testing.T) {
	d := newTestDevice(t, newEmuState(ModelPro))
	if err := d.BuildAesKey("99999999"); !errors.Is(err, WrongPassword) {
		t.Fatalf("wrong PIN: got %v, want WrongPassword", err)
	}
}

// A WrongCrc status on an ordinary command is a real device error and
// must surface; only long-running storage operations acknowledge with
// WrongCrc (see FillSdCard).
func TestWrongCrcSurfaces(t *testing.T) {
	st := newEmuState(ModelPro)
	bus := &brokenCrcBus{emuBus{st: st}, protocol.CmdGetPasswordRetryCount}
	m, err := ForceTake(WithBus(bus))
	if err != nil {
		t.Fatalf("ForceTake: %s", err)
	}
	t.Cleanup(m.Close)
	d, err := m.ConnectAny()
	if err != nil {
		t.Fatalf("ConnectAny: %s", err)
	}
	t.Cleanup(func() { d.Close() })

	if _, err := d.AdminRetryCount(); !errors.Is(err, WrongCrc) {
		t.Fatalf("AdminRetryCount: got %v, want WrongCrc", err)
	}
	// other commands are unaffected
	if _, err := d.UserRetryCount(); err != nil {
		t.Fatalf("UserRetryCount: %s", err)
	}
}

func TestWink(t *testing.T) {
	st := newEmuState(ModelStorage)
	d := newTestDevice(t, st)
	if err := d.Wink(); err != nil {
		t.Fatalf("Wink: %s", err)
	}
	if st.winkCount != 1 {
		t.Errorf("wink count: got %d, want 1", st.winkCount)
	}

	pro := newTestDevice(t, newEmuState(ModelPro))
	if err := pro.Wink(); !errors.Is(err, ErrUnsupportedModel) {
		t.Fatalf("Wink on Pro: got %v, want ErrUnsupportedModel", err)
	}
}
