package protocol

import (
	"encoding/binary"
)

// Payload builders and parsers for the individual commands. Field widths
// and offsets mirror the firmware's packed structs; all integers are
// little-endian.

// Fixed field widths, in bytes.
const (
	PinFieldSize        = 25
	ResetPinFieldSize   = 20
	TempPasswordSize    = 25
	OtpSlotNameSize     = 15
	OtpSecretSize       = 20
	TokenIDSize         = 13
	PwsSlotCount        = 16
	PwsNameSize         = 11
	PwsLoginSize        = 32
	PwsPasswordSize     = 20
	PwsPinFieldSize     = 30
	StoragePinFieldSize = 30
)

// Slot config bits of an OTP slot.
const (
	SlotConfigDigits8 = 1 << 0
	SlotConfigEnter   = 1 << 1
	SlotConfigTokenID = 1 << 2
)

func putPadded(dst []byte, src []byte) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, src)
}

// AuthenticatePayload encodes FirstAuthenticate and UserAuthenticate:
// the card PIN followed by the host-generated temporary password.
func AuthenticatePayload(pin, tempPassword []byte) []byte {
	buf := make([]byte, 2*PinFieldSize)
	putPadded(buf[:PinFieldSize], pin)
	putPadded(buf[PinFieldSize:], tempPassword)
	return buf
}

// AuthorizePayload encodes Authorize and UserAuthorize: the CRC of the
// privileged command that follows, authorized by the temporary password.
func AuthorizePayload(crc uint32, tempPassword []byte) []byte {
	buf := make([]byte, 4+TempPasswordSize)
	binary.LittleEndian.PutUint32(buf, crc)
	putPadded(buf[4:], tempPassword)
	return buf
}

// ChangePinPayload encodes ChangeUserPin and ChangeAdminPin.
func ChangePinPayload(current, new []byte) []byte {
	buf := make([]byte, 2*PinFieldSize)
	putPadded(buf[:PinFieldSize], current)
	putPadded(buf[PinFieldSize:], new)
	return buf
}

// UnlockUserPasswordPayload encodes UnlockUserPassword (admin).
func UnlockUserPasswordPayload(adminPin, newUserPin []byte) []byte {
	return ChangePinPayload(adminPin, newUserPin)
}

// ResetPayload encodes FactoryReset and BuildAesKey, which take the admin
// PIN in a short 20-byte field.
func ResetPayload(adminPin []byte) []byte {
	buf := make([]byte, ResetPinFieldSize)
	putPadded(buf, adminPin)
	return buf
}

// WriteOtpSlotPayload encodes WriteToSlot.
func WriteOtpSlotPayload(slot byte, name, secret []byte, config byte, tokenID []byte, counter uint64) []byte {
	buf := make([]byte, 1+OtpSlotNameSize+OtpSecretSize+1+TokenIDSize+8)
	buf[0] = slot
	putPadded(buf[1:1+OtpSlotNameSize], name)
	putPadded(buf[16:16+OtpSecretSize], secret)
	buf[36] = config
	putPadded(buf[37:37+TokenIDSize], tokenID)
	binary.LittleEndian.PutUint64(buf[50:], counter)
	return buf
}

// GetCodePayload encodes GetCode. challenge is the TOTP challenge
// (counter derived from the device time); zero for HOTP.
func GetCodePayload(slot byte, challenge, lastTotpTime uint64, lastInterval byte) []byte {
	buf := make([]byte, 18)
	buf[0] = slot
	binary.LittleEndian.PutUint64(buf[1:], challenge)
	binary.LittleEndian.PutUint64(buf[9:], lastTotpTime)
	buf[17] = lastInterval
	return buf
}

// ParseCode decodes a GetCode response into the numeric OTP value and its
// slot config byte.
func ParseCode(payload []byte) (code uint32, config byte) {
	return binary.LittleEndian.Uint32(payload), payload[4]
}

// SlotPayload encodes the single-byte slot argument used by ReadSlotName,
// ReadSlot, EraseSlot and the password-safe getters.
func SlotPayload(slot byte) []byte {
	return []byte{slot}
}

// SetTimePayload encodes SetTime. reset forces the device time to move
// backward.
func SetTimePayload(time uint64, reset bool) []byte {
	buf := make([]byte, 9)
	if reset {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint64(buf[1:], time)
	return buf
}

// WriteConfigPayload encodes WriteConfig. Absent bindings use the 255
// sentinel.
func WriteConfigPayload(numLock, capsLock, scrollLock byte, userPassword, deleteUserPassword bool) []byte {
	buf := make([]byte, 5)
	buf[0] = numLock
	buf[1] = capsLock
	buf[2] = scrollLock
	if userPassword {
		buf[3] = 1
	}
	if deleteUserPassword {
		buf[4] = 1
	}
	return buf
}

// Status is the GetStatus response of the smart card.
type Status struct {
	FirmwareMajor      byte
	FirmwareMinor      byte
	CardSerial         uint32
	NumLock            byte
	CapsLock           byte
	ScrollLock         byte
	UserPassword       bool
	DeleteUserPassword bool
}

// ParseStatus decodes a GetStatus response payload.
func ParseStatus(payload []byte) Status {
	return Status{
		FirmwareMajor:      payload[0],
		FirmwareMinor:      payload[1],
		CardSerial:         binary.LittleEndian.Uint32(payload[2:6]),
		NumLock:            payload[6],
		CapsLock:           payload[7],
		ScrollLock:         payload[8],
		UserPassword:       payload[9] != 0,
		DeleteUserPassword: payload[10] != 0,
	}
}

// StatusPayload is the emulator-side inverse of ParseStatus.
func StatusPayload(s Status) []byte {
	buf := make([]byte, 11)
	buf[0] = s.FirmwareMajor
	buf[1] = s.FirmwareMinor
	binary.LittleEndian.PutUint32(buf[2:6], s.CardSerial)
	buf[6] = s.NumLock
	buf[7] = s.CapsLock
	buf[8] = s.ScrollLock
	if s.UserPassword {
		buf[9] = 1
	}
	if s.DeleteUserPassword {
		buf[10] = 1
	}
	return buf
}

// PwsEnablePayload encodes PasswordSafeEnable with the user PIN.
func PwsEnablePayload(userPin []byte) []byte {
	buf := make([]byte, PwsPinFieldSize)
	putPadded(buf, userPin)
	return buf
}

// PwsSetData1Payload encodes the first half of a password-safe write:
// slot, name and password.
func PwsSetData1Payload(slot byte, name, password []byte) []byte {
	buf := make([]byte, 1+PwsNameSize+PwsPasswordSize)
	buf[0] = slot
	putPadded(buf[1:1+PwsNameSize], name)
	putPadded(buf[1+PwsNameSize:], password)
	return buf
}

// PwsSetData2Payload encodes the second half: slot and login.
func PwsSetData2Payload(slot byte, login []byte) []byte {
	buf := make([]byte, 1+PwsLoginSize)
	buf[0] = slot
	putPadded(buf[1:], login)
	return buf
}

// ChangeUpdatePinPayload encodes ChangeUpdatePin: old and new firmware
// update password in short 20-byte fields.
func ChangeUpdatePinPayload(current, new []byte) []byte {
	buf := make([]byte, 2*ResetPinFieldSize)
	putPadded(buf[:ResetPinFieldSize], current)
	putPadded(buf[ResetPinFieldSize:], new)
	return buf
}

// StoragePasswordPayload encodes the PIN field of the storage controller
// commands. The firmware expects a kind prefix before the password: 'P'
// for a regular PIN.
func StoragePasswordPayload(pin []byte) []byte {
	buf := make([]byte, StoragePinFieldSize)
	buf[0] = 'P'
	copy(buf[1:], pin)
	return buf
}

// HiddenVolumeSetupPayload encodes SetHiddenVolumeSetup: slot index, the
// volume extent as percentages of the encrypted volume, and the hidden
// volume password.
func HiddenVolumeSetupPayload(slot, startPercent, endPercent byte, password []byte) []byte {
	buf := make([]byte, 3+OtpSecretSize)
	buf[0] = slot
	buf[1] = startPercent
	buf[2] = endPercent
	putPadded(buf[3:], password)
	return buf
}

// StorageStatus is the GetDeviceStatus response of the storage controller.
type StorageStatus struct {
	UnencryptedActive   bool
	UnencryptedReadOnly bool
	EncryptedActive     bool
	EncryptedReadOnly   bool
	HiddenActive        bool
	HiddenReadOnly      bool
	FirmwareMajor       byte
	FirmwareMinor       byte
	FirmwareLocked      bool
	SerialNumberSdCard  uint32
	SerialNumberCard    uint32
	UserRetryCount      byte
	AdminRetryCount     byte
	NewSdCardFound      bool
	FilledWithRandom    bool
	StickInitialized    bool
	OperationProgress   byte // 0..100 while busy, ProgressIdle otherwise
}

// ProgressIdle in the OperationProgress field means no long-running
// operation is active.
const ProgressIdle = 0xFF

func b2y(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// StorageStatusPayload encodes a StorageStatus (emulator side).
func StorageStatusPayload(s StorageStatus) []byte {
	buf := make([]byte, 23)
	buf[0] = b2y(s.UnencryptedActive)
	buf[1] = b2y(s.UnencryptedReadOnly)
	buf[2] = b2y(s.EncryptedActive)
	buf[3] = b2y(s.EncryptedReadOnly)
	buf[4] = b2y(s.HiddenActive)
	buf[5] = b2y(s.HiddenReadOnly)
	buf[6] = s.FirmwareMajor
	buf[7] = s.FirmwareMinor
	buf[8] = b2y(s.FirmwareLocked)
	binary.LittleEndian.PutUint32(buf[9:13], s.SerialNumberSdCard)
	binary.LittleEndian.PutUint32(buf[13:17], s.SerialNumberCard)
	buf[17] = s.UserRetryCount
	buf[18] = s.AdminRetryCount
	buf[19] = b2y(s.NewSdCardFound)
	buf[20] = b2y(s.FilledWithRandom)
	buf[21] = b2y(s.StickInitialized)
	buf[22] = s.OperationProgress
	return buf
}

// ParseStorageStatus decodes a GetDeviceStatus response payload.
func ParseStorageStatus(payload []byte) StorageStatus {
	return StorageStatus{
		UnencryptedActive:   payload[0] != 0,
		UnencryptedReadOnly: payload[1] != 0,
		EncryptedActive:     payload[2] != 0,
		EncryptedReadOnly:   payload[3] != 0,
		HiddenActive:        payload[4] != 0,
		HiddenReadOnly:      payload[5] != 0,
		FirmwareMajor:       payload[6],
		FirmwareMinor:       payload[7],
		FirmwareLocked:      payload[8] != 0,
		SerialNumberSdCard:  binary.LittleEndian.Uint32(payload[9:13]),
		SerialNumberCard:    binary.LittleEndian.Uint32(payload[13:17]),
		UserRetryCount:      payload[17],
		AdminRetryCount:     payload[18],
		NewSdCardFound:      payload[19] != 0,
		FilledWithRandom:    payload[20] != 0,
		StickInitialized:    payload[21] != 0,
		OperationProgress:   payload[22],
	}
}

// ProductionInfo is the GetProductionInfo response of the storage
// controller.
type ProductionInfo struct {
	FirmwareMajor      byte
	FirmwareMinor      byte
	FirmwareInternal   byte
	SerialNumberCpu    uint32
	SdCardSerial       uint32
	SdCardSize         byte // GB
	SdCardManufacturer byte
	SdCardOem          byte
	SdCardYear         byte
	SdCardMonth        byte
}

// ProductionInfoPayload encodes a ProductionInfo (emulator side).
func ProductionInfoPayload(p ProductionInfo) []byte {
	buf := make([]byte, 16)
	buf[0] = p.FirmwareMajor
	buf[1] = p.FirmwareMinor
	buf[2] = p.FirmwareInternal
	binary.LittleEndian.PutUint32(buf[3:7], p.SerialNumberCpu)
	binary.LittleEndian.PutUint32(buf[7:11], p.SdCardSerial)
	buf[11] = p.SdCardSize
	buf[12] = p.SdCardManufacturer
	buf[13] = p.SdCardOem
	buf[14] = p.SdCardYear
	buf[15] = p.SdCardMonth
	return buf
}

// ParseProductionInfo decodes a GetProductionInfo response payload.
func ParseProductionInfo(payload []byte) ProductionInfo {
	return ProductionInfo{
		FirmwareMajor:      payload[0],
		FirmwareMinor:      payload[1],
		FirmwareInternal:   payload[2],
		SerialNumberCpu:    binary.LittleEndian.Uint32(payload[3:7]),
		SdCardSerial:       binary.LittleEndian.Uint32(payload[7:11]),
		SdCardSize:         payload[11],
		SdCardManufacturer: payload[12],
		SdCardOem:          payload[13],
		SdCardYear:         payload[14],
		SdCardMonth:        payload[15],
	}
}

// ParseString extracts a NUL-terminated string from a response payload.
func ParseString(payload []byte) []byte {
	for i, b := range payload {
		if b == 0 {
			return payload[:i]
		}
	}
	return payload
}
