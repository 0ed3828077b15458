package nitrokeyapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// Default factory PINs of all supported devices.
const (
	DefaultAdminPin = "12345678"
	DefaultUserPin  = "123456"
)

// Host-side PIN length preflight. Rejecting short PINs before any I/O
// avoids depleting the device retry counter on trivial mistakes.
const (
	MinAdminPinLen          = 8
	MinUserPinLen           = 6
	MinHiddenVolumePassword = 6
)

// FirmwareVersion is the device firmware version, immutable per
// connection.
type FirmwareVersion struct {
	Major byte
	Minor byte
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}

// Status is the composite device status.
type Status struct {
	Firmware     FirmwareVersion
	SerialNumber string
	Config       Config
}

// RetryCounts are the remaining PIN attempts as last reported by the
// device. They are not cached across commands that may change them.
type RetryCounts struct {
	User  byte
	Admin byte
}

// Device is a single connected device. All commands on a Device are
// serialized; an authenticated sub-state or an open password safe borrows
// the Device until it is closed.
type Device struct {
	m       *Manager
	session string
	info    DeviceInfo
	model   Model

	firmware FirmwareVersion
	serial   string

	pwsOpen bool
}

func (m *Manager) connect(info DeviceInfo) (*Device, error) {
	session, err := m.c.Acquire(info.Path)
	if err != nil {
		return nil, err
	}
	d := &Device{
		m:       m,
		session: session,
		info:    info,
		model:   info.Model,
	}
	if err := d.readIdentity(); err != nil {
		_ = m.c.Release(session)
		return nil, err
	}
	return d, nil
}

// readIdentity caches firmware version and serial number. The Storage
// firmware returns zeros for both in the plain status command, so there
// the answer is composed with the storage status (firmware bug).
func (d *Device) readIdentity() error {
	status, err := d.rawStatus()
	if err != nil {
		return err
	}
	d.firmware = FirmwareVersion{Major: status.FirmwareMajor, Minor: status.FirmwareMinor}
	d.serial = formatSerial(status.CardSerial)
	if d.model == ModelStorage {
		ss, err := d.rawStorageStatus()
		if err != nil {
			return err
		}
		d.firmware = FirmwareVersion{Major: ss.FirmwareMajor, Minor: ss.FirmwareMinor}
		d.serial = formatSerial(ss.SerialNumberCard)
	}
	return nil
}

// call runs one command and maps the device's command status to an
// error.
func (d *Device) call(cmd protocol.CommandID, payload []byte) (*protocol.Response, error) {
	resp, err := d.m.c.Call(d.session, cmd, payload)
	if err != nil {
		return nil, err
	}
	if resp.CommandStatus == protocol.StatusWrongCRC && protocol.IsLongRunning(cmd) {
		// The storage controller acknowledges the start of a background
		// operation with a WrongCrc status (firmware bug).
		return resp, nil
	}
	if err := commandResult(resp.CommandStatus); err != nil {
		return nil, err
	}
	return resp, nil
}

// Model returns the device family.
func (d *Device) Model() Model {
	return d.model
}

// Path returns the enumeration path of the device.
func (d *Device) Path() string {
	return d.info.Path
}

// FirmwareVersion returns the cached firmware version.
func (d *Device) FirmwareVersion() FirmwareVersion {
	return d.firmware
}

// SerialNumber returns the cached serial number as lowercase hex.
func (d *Device) SerialNumber() string {
	return d.serial
}

func (d *Device) rawStatus() (protocol.Status, error) {
	resp, err := d.call(protocol.CmdGetStatus, nil)
	if err != nil {
		return protocol.Status{}, err
	}
	return protocol.ParseStatus(resp.Payload[:]), nil
}

// Status reads the device status. On Storage it composes the plain
// status with the storage status to fill in the fields the smart card
// leaves blank.
func (d *Device) Status() (Status, error) {
	raw, err := d.rawStatus()
	if err != nil {
		return Status{}, err
	}
	s := Status{
		Firmware:     FirmwareVersion{Major: raw.FirmwareMajor, Minor: raw.FirmwareMinor},
		SerialNumber: formatSerial(raw.CardSerial),
		Config:       configFromStatus(raw),
	}
	if d.model == ModelStorage {
		s.Firmware = d.firmware
		s.SerialNumber = d.serial
	}
	return s, nil
}

// RetryCounts reads both PIN retry counters from the device.
func (d *Device) RetryCounts() (RetryCounts, error) {
	admin, err := d.call(protocol.CmdGetPasswordRetryCount, nil)
	if err != nil {
		return RetryCounts{}, err
	}
	user, err := d.call(protocol.CmdGetUserPasswordRetryCount, nil)
	if err != nil {
		return RetryCounts{}, err
	}
	return RetryCounts{User: user.Payload[0], Admin: admin.Payload[0]}, nil
}

// UserRetryCount reads the remaining user PIN attempts.
func (d *Device) UserRetryCount() (byte, error) {
	resp, err := d.call(protocol.CmdGetUserPasswordRetryCount, nil)
	if err != nil {
		return 0, err
	}
	return resp.Payload[0], nil
}

// AdminRetryCount reads the remaining admin PIN attempts.
func (d *Device) AdminRetryCount() (byte, error) {
	resp, err := d.call(protocol.CmdGetPasswordRetryCount, nil)
	if err != nil {
		return 0, err
	}
	return resp.Payload[0], nil
}

// ChangeUserPin changes the user PIN.
func (d *Device) ChangeUserPin(current, new string) error {
	if err := checkPin(new, MinUserPinLen); err != nil {
		return err
	}
	if err := checkString(current); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdChangeUserPin,
		protocol.ChangePinPayload([]byte(current), []byte(new)))
	return err
}

// ChangeAdminPin changes the admin PIN.
func (d *Device) ChangeAdminPin(current, new string) error {
	if err := checkPin(new, MinAdminPinLen); err != nil {
		return err
	}
	if err := checkString(current); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdChangeAdminPin,
		protocol.ChangePinPayload([]byte(current), []byte(new)))
	return err
}

// UnlockUserPin resets the user PIN retry counter with the admin PIN and
// sets a new user PIN. This is the only way to recover a blocked user
// PIN.
func (d *Device) UnlockUserPin(adminPin, newUserPin string) error {
	if err := checkPin(newUserPin, MinUserPinLen); err != nil {
		return err
	}
	if err := checkString(adminPin); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdUnlockUserPassword,
		protocol.UnlockUserPasswordPayload([]byte(adminPin), []byte(newUserPin)))
	return err
}

// Lock locks the device: authentication state and the password safe are
// dropped, and on Storage the encrypted and hidden volumes are
// deactivated.
func (d *Device) Lock() error {
	d.pwsOpen = false
	_, err := d.call(protocol.CmdLockDevice, nil)
	return err
}

// Logout drops the host-side session state without issuing a command.
// The device keeps its state until the next Lock or power cycle.
func (d *Device) Logout() {
	d.pwsOpen = false
}

// factoryResetSettle is the delay the firmware needs after a factory
// reset before it accepts a BuildAesKey.
const factoryResetSettle = 3 * time.Second

// FactoryReset resets the smart card: keys, PINs and all slots. After
// the reset the device has the factory default PINs and no AES key; call
// BuildAesKey before using the password safe.
func (d *Device) FactoryReset(adminPin string) error {
	if err := checkString(adminPin); err != nil {
		return err
	}
	if _, err := d.call(protocol.CmdFactoryReset, protocol.ResetPayload([]byte(adminPin))); err != nil {
		return err
	}
	d.pwsOpen = false
	time.Sleep(factoryResetSettle)
	return nil
}

// BuildAesKey generates a new AES key on the card, destroying the
// password safe contents. After a factory reset the card expects the
// default admin PIN here, regardless of the PIN used for the reset.
func (d *Device) BuildAesKey(adminPin string) error {
	if err := checkString(adminPin); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdBuildAesKey, protocol.ResetPayload([]byte(adminPin)))
	if errors.Is(err, WrongPassword) {
		// Firmware glitch after a factory reset: a retry count read
		// clears a spurious WrongPassword on the first try.
		if _, rcErr := d.UserRetryCount(); rcErr != nil {
			return err
		}
		_, err = d.call(protocol.CmdBuildAesKey, protocol.ResetPayload([]byte(adminPin)))
	}
	return err
}

// Wink blinks the device LED (Storage only).
func (d *Device) Wink() error {
	if d.model != ModelStorage {
		return ErrUnsupportedModel
	}
	_, err := d.call(protocol.CmdWink, nil)
	return err
}

// Close releases the device session. Any authenticated state is dropped.
func (d *Device) Close() error {
	d.pwsOpen = false
	return d.m.c.Release(d.session)
}

func checkString(s string) error {
	if strings.ContainsRune(s, 0) {
		return ErrInvalidString
	}
	return nil
}

func checkPin(pin string, minLen int) error {
	if err := checkString(pin); err != nil {
		return err
	}
	if len(pin) < minLen {
		return ErrPinTooShort
	}
	if len(pin) > protocol.ResetPinFieldSize {
		return ErrStringTooLong
	}
	return nil
}

// formatSerial renders a card serial as lowercase hex, zero-padded to
// the fixed width the device reports.
func formatSerial(serial uint32) string {
	return fmt.Sprintf("%08x", serial)
}

// equalSerial compares serial numbers leniently: case-insensitive, with
// leading zeros and an optional 0x prefix ignored. hidapi and the status
// command report different paddings for the same card.
func equalSerial(a, b string) bool {
	return normalizeSerial(a) == normalizeSerial(b)
}

func normalizeSerial(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return "0"
	}
	return s
}
