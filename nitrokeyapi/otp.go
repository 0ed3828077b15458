package nitrokeyapi

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// OTP slot layout of the firmware: HOTP and TOTP slots have independent
// index spaces, multiplexed into a single slot byte on the wire.
const (
	hotpSlotBase = 0x10
	totpSlotBase = 0x20

	// Host-side write limits; reads probe the device instead (the count
	// varies across firmware revisions).
	hotpSlotCount = 3
	totpSlotCount = 15
)

// OtpKind distinguishes counter-based from time-based slots.
type OtpKind int

const (
	Hotp OtpKind = iota
	Totp
)

func (k OtpKind) String() string {
	if k == Hotp {
		return "HOTP"
	}
	return "TOTP"
}

// OtpMode is the number of digits of the generated codes.
type OtpMode int

const (
	SixDigits   OtpMode = 6
	EightDigits OtpMode = 8
)

// OtpSlotData describes an OTP slot to program. Secret is a hex string
// of even length; see PrepareSecret for converting other input formats.
type OtpSlotData struct {
	Number   byte
	Name     string
	Secret   string
	Mode     OtpMode
	UseEnter bool
	TokenID  string
}

func wireSlot(kind OtpKind, slot byte) (byte, error) {
	switch kind {
	case Hotp:
		if slot >= hotpSlotCount {
			return 0, ErrInvalidSlot
		}
		return hotpSlotBase + slot, nil
	default:
		if slot >= totpSlotCount {
			return 0, ErrInvalidSlot
		}
		return totpSlotBase + slot, nil
	}
}

func (data *OtpSlotData) encode(kind OtpKind, param uint64) ([]byte, error) {
	slot, err := wireSlot(kind, data.Number)
	if err != nil {
		return nil, err
	}
	if err := checkString(data.Name); err != nil {
		return nil, err
	}
	if err := checkString(data.TokenID); err != nil {
		return nil, err
	}
	if len(data.Name) > protocol.OtpSlotNameSize {
		return nil, ErrStringTooLong
	}
	if len(data.TokenID) > protocol.TokenIDSize {
		return nil, ErrStringTooLong
	}
	secret, err := hex.DecodeString(data.Secret)
	if err != nil {
		return nil, ErrInvalidHexString
	}
	if len(secret) > protocol.OtpSecretSize {
		return nil, ErrStringTooLong
	}
	var config byte
	if data.Mode == EightDigits {
		config |= protocol.SlotConfigDigits8
	}
	if data.UseEnter {
		config |= protocol.SlotConfigEnter
	}
	if data.TokenID != "" {
		config |= protocol.SlotConfigTokenID
	}
	return protocol.WriteOtpSlotPayload(slot, []byte(data.Name), secret,
		config, []byte(data.TokenID), param), nil
}

// WriteHotpSlot programs an HOTP slot with the given counter (admin).
func (a *Admin) WriteHotpSlot(data OtpSlotData, counter uint64) error {
	payload, err := data.encode(Hotp, counter)
	if err != nil {
		return err
	}
	_, err = a.authorized(a.tempPassword, protocol.CmdWriteToSlot, payload)
	return err
}

// WriteTotpSlot programs a TOTP slot with the given time window in
// seconds, 30 by default (admin).
func (a *Admin) WriteTotpSlot(data OtpSlotData, timeWindow uint16) error {
	if timeWindow == 0 {
		timeWindow = 30
	}
	payload, err := data.encode(Totp, uint64(timeWindow))
	if err != nil {
		return err
	}
	_, err = a.authorized(a.tempPassword, protocol.CmdWriteToSlot, payload)
	return err
}

// EraseHotpSlot erases an HOTP slot (admin).
func (a *Admin) EraseHotpSlot(slot byte) error {
	return a.eraseSlot(Hotp, slot)
}

// EraseTotpSlot erases a TOTP slot (admin).
func (a *Admin) EraseTotpSlot(slot byte) error {
	return a.eraseSlot(Totp, slot)
}

func (a *Admin) eraseSlot(kind OtpKind, slot byte) error {
	wire, err := wireSlot(kind, slot)
	if err != nil {
		return err
	}
	_, err = a.authorized(a.tempPassword,
		protocol.CmdEraseSlot, protocol.SlotPayload(wire))
	return err
}

// SetTime sets the device time used for TOTP generation. Unless force
// is set, the firmware rejects a time before its current one with
// TimestampWarning.
func (d *Device) SetTime(time uint64, force bool) error {
	_, err := d.call(protocol.CmdSetTime, protocol.SetTimePayload(time, force))
	return err
}

// GetHotpSlotName returns the name of an HOTP slot.
func (d *Device) GetHotpSlotName(slot byte) (string, error) {
	return d.slotName(Hotp, slot)
}

// GetTotpSlotName returns the name of a TOTP slot.
func (d *Device) GetTotpSlotName(slot byte) (string, error) {
	return d.slotName(Totp, slot)
}

func (d *Device) slotName(kind OtpKind, slot byte) (string, error) {
	var base byte = hotpSlotBase
	if kind == Totp {
		base = totpSlotBase
	}
	resp, err := d.call(protocol.CmdReadSlotName, protocol.SlotPayload(base+slot))
	if err != nil {
		return "", err
	}
	return payloadString(resp.Payload[:])
}

// GetHotpCode generates a code on an HOTP slot and advances the counter.
// If the device is configured to protect OTP generation with the user
// PIN, this fails with NotAuthorized; use User.GetHotpCode instead.
func (d *Device) GetHotpCode(slot byte) (string, error) {
	return d.getCode(Hotp, slot, nil)
}

// GetTotpCode generates a code on a TOTP slot from the device time; see
// SetTime.
func (d *Device) GetTotpCode(slot byte) (string, error) {
	return d.getCode(Totp, slot, nil)
}

// GetHotpCode generates an HOTP code, authorizing with the user
// temporary password when the device requires it.
func (u *User) GetHotpCode(slot byte) (string, error) {
	return u.getCode(Hotp, slot, u.tempPassword)
}

// GetTotpCode generates a TOTP code, authorizing with the user temporary
// password when the device requires it.
func (u *User) GetTotpCode(slot byte) (string, error) {
	return u.getCode(Totp, slot, u.tempPassword)
}

func (d *Device) getCode(kind OtpKind, slot byte, tempPassword []byte) (string, error) {
	var base byte = hotpSlotBase
	if kind == Totp {
		base = totpSlotBase
	}
	payload := protocol.GetCodePayload(base+slot, 0, 0, 0)

	var resp *protocol.Response
	var err error
	if tempPassword != nil {
		resp, err = d.authorized(tempPassword, protocol.CmdGetCode, payload)
	} else {
		resp, err = d.call(protocol.CmdGetCode, payload)
	}
	if err != nil {
		return "", err
	}
	code, config := protocol.ParseCode(resp.Payload[:])
	digits := 6
	if config&protocol.SlotConfigDigits8 != 0 {
		digits = 8
	}
	return formatCode(code, digits), nil
}

func formatCode(code uint32, digits int) string {
	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, code%mod)
}

// OtpSlot is one programmed OTP slot, as reported by slot iteration.
type OtpSlot struct {
	Kind OtpKind
	Slot byte
	Name string
}

// ListOtpSlots iterates all OTP slots, probing until the device reports
// an invalid slot (the slot count is firmware-defined). Unprogrammed
// slots are skipped unless includeEmpty is set, in which case they
// appear with an empty name.
func (d *Device) ListOtpSlots(includeEmpty bool) ([]OtpSlot, error) {
	var slots []OtpSlot
	for _, kind := range []OtpKind{Hotp, Totp} {
	probe:
		for slot := byte(0); ; slot++ {
			name, err := d.slotName(kind, slot)
			switch {
			case err == nil:
				slots = append(slots, OtpSlot{Kind: kind, Slot: slot, Name: name})
			case errors.Is(err, WrongSlot):
				break probe
			case errors.Is(err, SlotNotProgrammed):
				if includeEmpty {
					slots = append(slots, OtpSlot{Kind: kind, Slot: slot})
				}
			default:
				return nil, err
			}
		}
	}
	return slots, nil
}

// SecretFormat is the input format of an OTP secret.
type SecretFormat int

const (
	SecretAscii SecretFormat = iota
	SecretBase32
	SecretHex
)

// PrepareSecret converts an OTP secret into the even-length hex string
// the device expects. ASCII input is hex-encoded byte-wise; base32 input
// is decoded per RFC 4648 ignoring case and whitespace; hex input is
// validated and left-padded with a zero if its length is odd.
func PrepareSecret(secret string, format SecretFormat) (string, error) {
	switch format {
	case SecretAscii:
		return hex.EncodeToString([]byte(secret)), nil
	case SecretBase32:
		s := strings.ToUpper(strings.Join(strings.Fields(secret), ""))
		s = strings.TrimRight(s, "=")
		raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInvalidHexString, err)
		}
		return hex.EncodeToString(raw), nil
	default:
		s := secret
		if len(s)%2 != 0 {
			s = "0" + s
		}
		if _, err := hex.DecodeString(s); err != nil {
			return "", ErrInvalidHexString
		}
		return strings.ToLower(s), nil
	}
}

func payloadString(payload []byte) (string, error) {
	raw := protocol.ParseString(payload)
	if !utf8.Valid(raw) {
		return "", ErrInvalidString
	}
	return string(raw), nil
}
