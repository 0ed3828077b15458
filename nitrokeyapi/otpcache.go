package nitrokeyapi

import (
	"github.com/nitrokey-community/nitrod-go/internal/cache"
)

// CachedOtpSlots returns the programmed OTP slots, served from the
// per-serial cache in cacheDir when present. With refresh set the
// device is probed and the cache rewritten. A corrupt or missing cache
// falls back to probing.
func (d *Device) CachedOtpSlots(cacheDir string, refresh bool) ([]OtpSlot, error) {
	if !refresh {
		slots, ok, err := cache.Load(cacheDir, d.SerialNumber())
		if err == nil && ok {
			return fromCached(slots), nil
		}
	}
	listed, err := d.ListOtpSlots(false)
	if err != nil {
		return nil, err
	}
	if err := cache.Store(cacheDir, d.SerialNumber(), toCached(listed)); err != nil {
		return nil, err
	}
	return listed, nil
}

// InvalidateOtpSlotCache drops the cached slot listing, forcing the
// next CachedOtpSlots to probe the device. Call it after writing or
// erasing a slot.
func (d *Device) InvalidateOtpSlotCache(cacheDir string) error {
	return cache.Invalidate(cacheDir, d.SerialNumber())
}

func toCached(slots []OtpSlot) cache.Slots {
	var c cache.Slots
	for _, s := range slots {
		entry := cache.Slot{Number: s.Slot, Name: s.Name}
		if s.Kind == Hotp {
			c.Hotp = append(c.Hotp, entry)
		} else {
			c.Totp = append(c.Totp, entry)
		}
	}
	return c
}

func fromCached(c cache.Slots) []OtpSlot {
	var slots []OtpSlot
	for _, s := range c.Hotp {
		slots = append(slots, OtpSlot{Kind: Hotp, Slot: s.Number, Name: s.Name})
	}
	for _, s := range c.Totp {
		slots = append(slots, OtpSlot{Kind: Totp, Slot: s.Number, Name: s.Name})
	}
	return slots
}
