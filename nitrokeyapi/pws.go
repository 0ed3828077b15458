package nitrokeyapi

import (
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// PasswordSafe is an unlocked password safe. Unlocking decrypts the
// safe's AES key on the device; the slots stay readable until the
// device is locked, so a PasswordSafe must not outlive Lock or Close on
// its device.
type PasswordSafe struct {
	d *Device
}

// OpenPasswordSafe unlocks the password safe with the user PIN. Only
// one PasswordSafe per device may be open at a time.
func (d *Device) OpenPasswordSafe(userPin string) (*PasswordSafe, error) {
	if err := checkPin(userPin, MinUserPinLen); err != nil {
		return nil, err
	}
	if d.pwsOpen {
		return nil, ErrConcurrentAccess
	}
	_, err := d.call(protocol.CmdPasswordSafeEnable, protocol.PwsEnablePayload([]byte(userPin)))
	if err != nil {
		return nil, err
	}
	d.pwsOpen = true
	return &PasswordSafe{d: d}, nil
}

// Lock locks the whole device, which also discards the safe's decrypted
// AES key. The PasswordSafe must not be used afterwards.
func (p *PasswordSafe) Lock() error {
	return p.d.Lock()
}

// SlotCount is the number of password safe slots.
const SlotCount = protocol.PwsSlotCount

func checkPwsSlot(slot byte) error {
	if slot >= SlotCount {
		return ErrInvalidSlot
	}
	return nil
}

// SlotStatus reports which slots are programmed.
func (p *PasswordSafe) SlotStatus() ([SlotCount]bool, error) {
	var status [SlotCount]bool
	resp, err := p.d.call(protocol.CmdGetPasswordSafeSlotStatus, nil)
	if err != nil {
		return status, err
	}
	for i := range status {
		status[i] = resp.Payload[i] != 0
	}
	return status, nil
}

// GetSlotName returns the name of a programmed slot.
func (p *PasswordSafe) GetSlotName(slot byte) (string, error) {
	return p.slotField(protocol.CmdGetPasswordSafeSlotName, slot)
}

// GetSlotLogin returns the login of a programmed slot.
func (p *PasswordSafe) GetSlotLogin(slot byte) (string, error) {
	return p.slotField(protocol.CmdGetPasswordSafeSlotLogin, slot)
}

// GetSlotPassword returns the password of a programmed slot.
func (p *PasswordSafe) GetSlotPassword(slot byte) (string, error) {
	return p.slotField(protocol.CmdGetPasswordSafeSlotPassword, slot)
}

func (p *PasswordSafe) slotField(cmd protocol.CommandID, slot byte) (string, error) {
	if err := checkPwsSlot(slot); err != nil {
		return "", err
	}
	resp, err := p.d.call(cmd, protocol.SlotPayload(slot))
	if err != nil {
		return "", err
	}
	return payloadString(resp.Payload[:])
}

// WriteSlot programs a slot. The firmware stores name, login and
// password in two transfers; a failure in between can leave the slot
// half written, in which case rewriting it heals the slot.
func (p *PasswordSafe) WriteSlot(slot byte, name, login, password string) error {
	if err := checkPwsSlot(slot); err != nil {
		return err
	}
	for _, s := range []string{name, login, password} {
		if err := checkString(s); err != nil {
			return err
		}
	}
	if len(name) > protocol.PwsNameSize ||
		len(login) > protocol.PwsLoginSize ||
		len(password) > protocol.PwsPasswordSize {
		return ErrStringTooLong
	}
	_, err := p.d.call(protocol.CmdSetPasswordSafeSlotData1,
		protocol.PwsSetData1Payload(slot, []byte(name), []byte(password)))
	if err != nil {
		return err
	}
	_, err = p.d.call(protocol.CmdSetPasswordSafeSlotData2,
		protocol.PwsSetData2Payload(slot, []byte(login)))
	return err
}

// EraseSlot erases a slot. Erasing an unprogrammed slot succeeds.
func (p *PasswordSafe) EraseSlot(slot byte) error {
	if err := checkPwsSlot(slot); err != nil {
		return err
	}
	_, err := p.d.call(protocol.CmdPasswordSafeEraseSlot, protocol.SlotPayload(slot))
	return err
}
