package nitrokeyapi

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// On successful authentication the device stores a host-generated random
// temporary password and requires its echo on every privileged command
// until the device is locked. The password never leaves the process and
// is wiped when the authenticated state is closed.

func generateTempPassword() ([]byte, error) {
	buf := make([]byte, protocol.TempPasswordSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRngFailure, err)
	}
	// The firmware treats the password as a C string, so it must not
	// contain a NUL byte.
	for i, b := range buf {
		if b == 0 {
			buf[i] = 1
		}
	}
	return buf, nil
}

func wipe(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// User is a device with user authentication. Obtain it with
// Device.AuthenticateUser; call Close when done.
type User struct {
	*Device
	tempPassword []byte
}

// Admin is a device with admin authentication. Obtain it with
// Device.AuthenticateAdmin; call Close when done.
type Admin struct {
	*Device
	tempPassword []byte
}

// AuthenticateUser authenticates with the user PIN. On WrongPassword the
// device decrements the user retry counter; at zero the PIN is blocked
// and only UnlockUserPin can restore it.
func (d *Device) AuthenticateUser(pin string) (*User, error) {
	temp, err := d.authenticate(protocol.CmdUserAuthenticate, pin, MinUserPinLen)
	if err != nil {
		return nil, err
	}
	return &User{Device: d, tempPassword: temp}, nil
}

// AuthenticateAdmin authenticates with the admin PIN. On WrongPassword
// the device decrements the admin retry counter.
func (d *Device) AuthenticateAdmin(pin string) (*Admin, error) {
	temp, err := d.authenticate(protocol.CmdFirstAuthenticate, pin, MinAdminPinLen)
	if err != nil {
		return nil, err
	}
	return &Admin{Device: d, tempPassword: temp}, nil
}

func (d *Device) authenticate(cmd protocol.CommandID, pin string, minLen int) ([]byte, error) {
	if err := checkPin(pin, minLen); err != nil {
		return nil, err
	}
	temp, err := generateTempPassword()
	if err != nil {
		return nil, err
	}
	if _, err := d.call(cmd, protocol.AuthenticatePayload([]byte(pin), temp)); err != nil {
		wipe(temp)
		return nil, err
	}
	return temp, nil
}

// authorized runs a privileged smart card command: the firmware expects
// an Authorize (or UserAuthorize, per the command's auth class) carrying
// the CRC of the upcoming request together with the temporary password,
// then the request itself.
func (d *Device) authorized(tempPassword []byte, cmd protocol.CommandID, payload []byte) (*protocol.Response, error) {
	req, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	authCmd := protocol.CmdAuthorize
	if protocol.Lookup(cmd).Auth == protocol.AuthUser {
		authCmd = protocol.CmdUserAuthorize
	}
	if _, err := d.call(authCmd, protocol.AuthorizePayload(req.CRC, tempPassword)); err != nil {
		return nil, err
	}
	return d.call(cmd, payload)
}

// Close wipes the temporary password. It does not issue a command; use
// Lock to also drop the state on the device.
func (u *User) Close() {
	wipe(u.tempPassword)
	u.tempPassword = nil
}

// Lock locks the device and wipes the temporary password.
func (u *User) Lock() error {
	err := u.Device.Lock()
	u.Close()
	return err
}

// Close wipes the temporary password. It does not issue a command; use
// Lock to also drop the state on the device.
func (a *Admin) Close() {
	wipe(a.tempPassword)
	a.tempPassword = nil
}

// Lock locks the device and wipes the temporary password.
func (a *Admin) Lock() error {
	err := a.Device.Lock()
	a.Close()
	return err
}

// WriteConfig writes the device configuration (admin).
func (a *Admin) WriteConfig(config Config) error {
	raw, err := config.encode()
	if err != nil {
		return err
	}
	_, err = a.authorized(a.tempPassword, protocol.CmdWriteConfig, raw)
	return err
}

// PinKind names a PIN for the PinProvider boundary.
type PinKind int

const (
	UserPin PinKind = iota
	AdminPin
	HiddenVolumePassword
)

func (k PinKind) String() string {
	switch k {
	case UserPin:
		return "user PIN"
	case AdminPin:
		return "admin PIN"
	default:
		return "password"
	}
}

// PinMode distinguishes querying an existing secret from choosing and
// confirming a new one.
type PinMode int

const (
	PinModeQuery PinMode = iota
	PinModeChoose
	PinModeConfirm
)

// PinProvider supplies PINs on demand, typically by prompting the user.
// Inquire receives the error of the previous attempt, if any; Clear
// drops a cached entry after a wrong PIN.
type PinProvider interface {
	Inquire(kind PinKind, mode PinMode, prior error) (string, error)
	Clear(kind PinKind)
}

// maxPinAttempts bounds the retry-with-prompt loop. It matches the
// device's retry counter so that a stubborn typo cannot block the PIN
// without the user noticing.
const maxPinAttempts = 3

// withPin runs fn with PINs from provider, re-prompting on WrongPassword
// up to three attempts. Any other error aborts immediately.
func withPin(provider PinProvider, kind PinKind, fn func(pin string) error) error {
	var prior error
	for attempt := 0; attempt < maxPinAttempts; attempt++ {
		pin, err := provider.Inquire(kind, PinModeQuery, prior)
		if err != nil {
			return err
		}
		err = fn(pin)
		if err == nil {
			return nil
		}
		if !isWrongPassword(err) {
			return err
		}
		provider.Clear(kind)
		prior = err
	}
	return prior
}

func isWrongPassword(err error) bool {
	var ce CommandError
	return errors.As(err, &ce) && ce == WrongPassword
}
