// Package cache persists OTP slot listings per device, so that helper
// processes can offer slot name completion without waking the device.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Slot is one cached OTP slot.
type Slot struct {
	Number byte   `toml:"slot"`
	Name   string `toml:"name"`
}

// Slots is the cached slot listing of one device.
type Slots struct {
	Hotp []Slot `toml:"hotp"`
	Totp []Slot `toml:"totp"`
}

// Dir returns the default cache directory.
func Dir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "nitrod", "otp-slots"), nil
}

func fileFor(dir, serial string) string {
	return filepath.Join(dir, serial+".toml")
}

// Load reads the cached slots for the device with the given serial
// number. A missing cache file is not an error; ok reports whether an
// entry was found.
func Load(dir, serial string) (slots Slots, ok bool, err error) {
	_, err = toml.DecodeFile(fileFor(dir, serial), &slots)
	if errors.Is(err, os.ErrNotExist) {
		return Slots{}, false, nil
	}
	if err != nil {
		return Slots{}, false, fmt.Errorf("corrupt slot cache: %w", err)
	}
	return slots, true, nil
}

// Store writes the slot listing for the device with the given serial
// number, replacing a previous entry. The write goes through a temp
// file in the same directory so a crash cannot leave a torn cache.
func Store(dir, serial string, slots Slots) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, serial+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(slots); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fileFor(dir, serial))
}

// Invalidate removes the cache entry for the given serial number.
// Removing a missing entry succeeds.
func Invalidate(dir, serial string) error {
	err := os.Remove(fileFor(dir, serial))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
