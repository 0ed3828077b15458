package nitrokeyapi

import (
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// Config is the device configuration: the OTP slots bound to the
// numlock, capslock and scrolllock shortcuts, and whether OTP generation
// requires the user PIN.
//
// A binding is an OTP slot number 0..=2; nil means unbound. On the wire
// an absent binding is the sentinel value 255.
type Config struct {
	NumLock      *byte
	CapsLock     *byte
	ScrollLock   *byte
	UserPassword bool
}

const configUnset = 255

func bindingFromRaw(raw byte) *byte {
	if raw > 2 {
		return nil
	}
	b := raw
	return &b
}

func bindingToRaw(b *byte) (byte, error) {
	if b == nil {
		return configUnset, nil
	}
	if *b > 2 {
		return 0, ErrInvalidSlot
	}
	return *b, nil
}

func configFromStatus(s protocol.Status) Config {
	return Config{
		NumLock:      bindingFromRaw(s.NumLock),
		CapsLock:     bindingFromRaw(s.CapsLock),
		ScrollLock:   bindingFromRaw(s.ScrollLock),
		UserPassword: s.UserPassword,
	}
}

func (c Config) encode() ([]byte, error) {
	numLock, err := bindingToRaw(c.NumLock)
	if err != nil {
		return nil, err
	}
	capsLock, err := bindingToRaw(c.CapsLock)
	if err != nil {
		return nil, err
	}
	scrollLock, err := bindingToRaw(c.ScrollLock)
	if err != nil {
		return nil, err
	}
	return protocol.WriteConfigPayload(numLock, capsLock, scrollLock, c.UserPassword, false), nil
}

// Config reads the device configuration.
func (d *Device) Config() (Config, error) {
	raw, err := d.rawStatus()
	if err != nil {
		return Config{}, err
	}
	return configFromStatus(raw), nil
}
