package nitrokeyapi

import (
	"errors"
	"os"
)

// ErrPinUnavailable is returned by non-interactive PIN providers when no
// PIN is configured for the requested kind.
var ErrPinUnavailable = errors.New("no PIN available for this request")

// EnvPinProvider reads PINs from the process environment. The variables
// are NITROKEY_USER_PIN, NITROKEY_ADMIN_PIN and NITROKEY_PASSWORD for
// queries, with a NEW_ infix for choose/confirm modes
// (NITROKEY_NEW_ADMIN_PIN and so on). Missing variables yield
// ErrPinUnavailable; there is no retry, a wrong PIN from the
// environment stays wrong.
type EnvPinProvider struct{}

func envVarFor(kind PinKind, mode PinMode) string {
	name := "NITROKEY_"
	if mode != PinModeQuery {
		name += "NEW_"
	}
	switch kind {
	case UserPin:
		return name + "USER_PIN"
	case AdminPin:
		return name + "ADMIN_PIN"
	default:
		return name + "PASSWORD"
	}
}

func (EnvPinProvider) Inquire(kind PinKind, mode PinMode, prior error) (string, error) {
	if prior != nil {
		// The environment cannot supply a different PIN on retry.
		return "", prior
	}
	pin, ok := os.LookupEnv(envVarFor(kind, mode))
	if !ok {
		return "", ErrPinUnavailable
	}
	return pin, nil
}

func (EnvPinProvider) Clear(PinKind) {}

// StaticPinProvider serves fixed PINs, mainly for scripted use.
type StaticPinProvider struct {
	Pins map[PinKind]string
}

func (p *StaticPinProvider) Inquire(kind PinKind, mode PinMode, prior error) (string, error) {
	if prior != nil {
		return "", prior
	}
	pin, ok := p.Pins[kind]
	if !ok {
		return "", ErrPinUnavailable
	}
	return pin, nil
}

func (p *StaticPinProvider) Clear(kind PinKind) {
	delete(p.Pins, kind)
}

// AuthenticateUserWith authenticates with a PIN from provider, retrying
// on WrongPassword up to three attempts.
func (d *Device) AuthenticateUserWith(provider PinProvider) (*User, error) {
	var user *User
	err := withPin(provider, UserPin, func(pin string) error {
		u, err := d.AuthenticateUser(pin)
		user = u
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// AuthenticateAdminWith authenticates with a PIN from provider, retrying
// on WrongPassword up to three attempts.
func (d *Device) AuthenticateAdminWith(provider PinProvider) (*Admin, error) {
	var admin *Admin
	err := withPin(provider, AdminPin, func(pin string) error {
		a, err := d.AuthenticateAdmin(pin)
		admin = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return admin, nil
}
