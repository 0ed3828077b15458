package nitrokeyapi

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"

	"github.com/nitrokey-community/nitrod-go/internal/core"
	"github.com/nitrokey-community/nitrod-go/internal/hid"
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// An in-process device emulator implementing the firmware's command
// semantics, plugged in below the session layer via WithBus. The OTP
// algorithms are written against the RFC 4226 / RFC 6238 reference so
// the driver's output can be checked against the published vectors.

type emuOtpSlot struct {
	name     string
	secret   []byte
	config   byte
	counter  uint64
	interval uint64
}

type emuPwsSlot struct {
	name     string
	login    string
	password string
}

type emuHiddenVolume struct {
	start    byte
	end      byte
	password string
}

type emuState struct {
	model Model

	adminPin  string
	userPin   string
	updatePin string

	adminRetries byte
	userRetries  byte

	adminTemp []byte
	userTemp  []byte

	pendingAdminCRC *uint32
	pendingUserCRC  *uint32

	config [5]byte
	time   uint64

	hotp [3]*emuOtpSlot
	totp [15]*emuOtpSlot

	pwsUnlocked bool
	pws         [protocol.PwsSlotCount]*emuPwsSlot
	pwsStage    *emuPwsSlot
	pwsStageNum byte

	// storage controller
	encActive    bool
	encRO        bool
	unencRO      bool
	hiddenActive bool
	hidden       map[byte]emuHiddenVolume
	newSdCard    bool
	filled       bool
	initialized  bool
	fillProgress int // -1 when idle

	// after a factory reset the first BuildAesKey reports a wrong
	// password until the user retry counter has been queried
	aesGlitchArmed bool

	serial    uint32
	fwMajor   byte
	fwMinor   byte
	winkCount int

	closes int // device handle Close calls
}

func newEmuState(model Model) *emuState {
	st := &emuState{
		model:        model,
		adminPin:     DefaultAdminPin,
		userPin:      DefaultUserPin,
		updatePin:    "12345678",
		adminRetries: 3,
		userRetries:  3,
		hidden:       map[byte]emuHiddenVolume{},
		fillProgress: -1,
		initialized:  true,
		serial:       0x5E1F,
		fwMajor:      0,
		fwMinor:      8,
	}
	st.config = [5]byte{255, 255, 255, 0, 0}
	if model == ModelStorage {
		st.fwMinor = 54
	}
	return st
}

type emuDevice struct {
	st   *emuState
	resp []byte
}

func (d *emuDevice) SendFeature(packet []byte) error {
	cmd := protocol.CommandID(packet[0])
	payload := make([]byte, 59)
	copy(payload, packet[1:60])
	crc := binary.LittleEndian.Uint32(packet[60:])

	status, out := d.st.execute(cmd, payload, crc)

	resp := make([]byte, protocol.PacketSize)
	resp[0] = protocol.DeviceStatusOK
	resp[1] = byte(cmd)
	binary.LittleEndian.PutUint32(resp[2:6], crc)
	resp[6] = status
	copy(resp[7:60], out)
	binary.LittleEndian.PutUint32(resp[60:], protocol.CRC(resp[:60]))
	d.resp = resp
	return nil
}

func (d *emuDevice) RecvFeature(packet []byte) error {
	copy(packet, d.resp)
	return nil
}

func (d *emuDevice) Close() error {
	d.st.closes++
	return nil
}

type emuBus struct {
	st *emuState
}

func (b *emuBus) Enumerate() ([]core.Info, error) {
	info := core.Info{
		Path:         "emu/1",
		Manufacturer: "Nitrokey",
		SerialNumber: "emu",
	}
	switch b.st.model {
	case ModelStorage:
		info.VendorID = hid.VendorNitrokey
		info.ProductID = hid.ProductStorage
		info.Product = "Nitrokey Storage"
	case ModelLibrem:
		info.VendorID = hid.VendorPurism
		info.ProductID = hid.ProductLibremKey
		info.Product = "Librem Key"
	default:
		info.VendorID = hid.VendorNitrokey
		info.ProductID = hid.ProductPro
		info.Product = "Nitrokey Pro"
	}
	return []core.Info{info}, nil
}

func (b *emuBus) Connect(path string) (core.Device, error) {
	return &emuDevice{st: b.st}, nil
}

// brokenCrcBus rewrites the command status of responses to one command
// to WrongCrc, like a firmware that rejected the request checksum.
type brokenCrcBus struct {
	emuBus
	cmd protocol.CommandID
}

func (b *brokenCrcBus) Connect(path string) (core.Device, error) {
	return &brokenCrcDevice{emuDevice{st: b.st}, b.cmd}, nil
}

type brokenCrcDevice struct {
	emuDevice
	cmd protocol.CommandID
}

func (d *brokenCrcDevice) RecvFeature(packet []byte) error {
	if err := d.emuDevice.RecvFeature(packet); err != nil {
		return err
	}
	if protocol.CommandID(packet[1]) == d.cmd {
		packet[6] = protocol.StatusWrongCRC
		binary.LittleEndian.PutUint32(packet[60:], protocol.CRC(packet[:60]))
	}
	return nil
}

func cstr(field []byte) string {
	return string(protocol.ParseString(field))
}

func hotpCode(secret []byte, counter uint64) uint32 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	mac := hmac.New(sha1.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0F
	return binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
}

func (st *emuState) otpSlot(wire byte) (*emuOtpSlot, bool, byte) {
	switch {
	case wire >= 0x20 && wire < 0x20+15:
		return st.totp[wire-0x20], true, protocol.StatusOK
	case wire >= 0x10 && wire < 0x10+3:
		return st.hotp[wire-0x10], false, protocol.StatusOK
	default:
		return nil, false, protocol.StatusWrongSlot
	}
}

func (st *emuState) adminAuthorized(crc uint32) bool {
	if st.pendingAdminCRC == nil || *st.pendingAdminCRC != crc {
		return false
	}
	st.pendingAdminCRC = nil
	return true
}

func (st *emuState) userAuthorized(crc uint32) bool {
	if st.pendingUserCRC == nil || *st.pendingUserCRC != crc {
		return false
	}
	st.pendingUserCRC = nil
	return true
}

func (st *emuState) execute(cmd protocol.CommandID, payload []byte, crc uint32) (byte, []byte) {
	switch cmd {
	case protocol.CmdGetStatus:
		s := protocol.Status{
			FirmwareMajor:      st.fwMajor,
			FirmwareMinor:      st.fwMinor,
			CardSerial:         st.serial,
			NumLock:            st.config[0],
			CapsLock:           st.config[1],
			ScrollLock:         st.config[2],
			UserPassword:       st.config[3] != 0,
			DeleteUserPassword: st.config[4] != 0,
		}
		if st.model == ModelStorage {
			// the Storage firmware leaves version and serial zeroed here
			s.FirmwareMajor, s.FirmwareMinor, s.CardSerial = 0, 0, 0
		}
		return protocol.StatusOK, protocol.StatusPayload(s)

	case protocol.CmdGetPasswordRetryCount:
		return protocol.StatusOK, []byte{st.adminRetries}

	case protocol.CmdGetUserPasswordRetryCount:
		st.aesGlitchArmed = false
		return protocol.StatusOK, []byte{st.userRetries}

	case protocol.CmdFirstAuthenticate:
		pin := cstr(payload[:protocol.PinFieldSize])
		if st.adminRetries == 0 || pin != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.adminRetries = 3
		st.adminTemp = append([]byte(nil), payload[protocol.PinFieldSize:2*protocol.PinFieldSize]...)
		return protocol.StatusOK, nil

	case protocol.CmdUserAuthenticate:
		pin := cstr(payload[:protocol.PinFieldSize])
		if st.userRetries == 0 || pin != st.userPin {
			if st.userRetries > 0 {
				st.userRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.userRetries = 3
		st.userTemp = append([]byte(nil), payload[protocol.PinFieldSize:2*protocol.PinFieldSize]...)
		return protocol.StatusOK, nil

	case protocol.CmdAuthorize:
		temp := payload[4 : 4+protocol.TempPasswordSize]
		if st.adminTemp == nil || !hmac.Equal(temp, st.adminTemp) {
			return protocol.StatusWrongPassword, nil
		}
		c := binary.LittleEndian.Uint32(payload[:4])
		st.pendingAdminCRC = &c
		return protocol.StatusOK, nil

	case protocol.CmdUserAuthorize:
		temp := payload[4 : 4+protocol.TempPasswordSize]
		if st.userTemp == nil || !hmac.Equal(temp, st.userTemp) {
			return protocol.StatusWrongPassword, nil
		}
		c := binary.LittleEndian.Uint32(payload[:4])
		st.pendingUserCRC = &c
		return protocol.StatusOK, nil

	case protocol.CmdWriteToSlot:
		if !st.adminAuthorized(crc) {
			return protocol.StatusNotAuthorized, nil
		}
		slot := &emuOtpSlot{
			name:   cstr(payload[1:16]),
			secret: append([]byte(nil), payload[16:36]...),
			config: payload[36],
		}
		param := binary.LittleEndian.Uint64(payload[50:58])
		wire := payload[0]
		switch {
		case wire >= 0x20 && wire < 0x20+15:
			slot.interval = param
			st.totp[wire-0x20] = slot
		case wire >= 0x10 && wire < 0x10+3:
			slot.counter = param
			st.hotp[wire-0x10] = slot
		default:
			return protocol.StatusWrongSlot, nil
		}
		return protocol.StatusOK, nil

	case protocol.CmdEraseSlot:
		if !st.adminAuthorized(crc) {
			return protocol.StatusNotAuthorized, nil
		}
		wire := payload[0]
		switch {
		case wire >= 0x20 && wire < 0x20+15:
			st.totp[wire-0x20] = nil
		case wire >= 0x10 && wire < 0x10+3:
			st.hotp[wire-0x10] = nil
		default:
			return protocol.StatusWrongSlot, nil
		}
		return protocol.StatusOK, nil

	case protocol.CmdReadSlotName:
		slot, _, status := st.otpSlot(payload[0])
		if status != protocol.StatusOK {
			return status, nil
		}
		if slot == nil {
			return protocol.StatusSlotNotProgrammed, nil
		}
		return protocol.StatusOK, []byte(slot.name)

	case protocol.CmdGetCode:
		if st.config[3] != 0 && !st.userAuthorized(crc) {
			return protocol.StatusNotAuthorized, nil
		}
		slot, isTotp, status := st.otpSlot(payload[0])
		if status != protocol.StatusOK {
			return status, nil
		}
		if slot == nil {
			return protocol.StatusSlotNotProgrammed, nil
		}
		var counter uint64
		if isTotp {
			interval := slot.interval
			if interval == 0 {
				interval = 30
			}
			counter = st.time / interval
		} else {
			counter = slot.counter
			slot.counter++
		}
		out := make([]byte, 5)
		binary.LittleEndian.PutUint32(out, hotpCode(slot.secret, counter))
		out[4] = slot.config
		return protocol.StatusOK, out

	case protocol.CmdSetTime:
		newTime := binary.LittleEndian.Uint64(payload[1:9])
		if payload[0] == 0 && newTime < st.time {
			return protocol.StatusTimestampWarning, nil
		}
		st.time = newTime
		return protocol.StatusOK, nil

	case protocol.CmdWriteConfig:
		if !st.adminAuthorized(crc) {
			return protocol.StatusNotAuthorized, nil
		}
		copy(st.config[:], payload[:5])
		return protocol.StatusOK, nil

	case protocol.CmdChangeUserPin:
		current := cstr(payload[:protocol.PinFieldSize])
		if st.userRetries == 0 || current != st.userPin {
			if st.userRetries > 0 {
				st.userRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.userRetries = 3
		st.userPin = cstr(payload[protocol.PinFieldSize : 2*protocol.PinFieldSize])
		return protocol.StatusOK, nil

	case protocol.CmdChangeAdminPin:
		current := cstr(payload[:protocol.PinFieldSize])
		if st.adminRetries == 0 || current != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.adminRetries = 3
		st.adminPin = cstr(payload[protocol.PinFieldSize : 2*protocol.PinFieldSize])
		return protocol.StatusOK, nil

	case protocol.CmdUnlockUserPassword:
		admin := cstr(payload[:protocol.PinFieldSize])
		if admin != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.userPin = cstr(payload[protocol.PinFieldSize : 2*protocol.PinFieldSize])
		st.userRetries = 3
		return protocol.StatusOK, nil

	case protocol.CmdLockDevice:
		st.adminTemp, st.userTemp = nil, nil
		st.pendingAdminCRC, st.pendingUserCRC = nil, nil
		st.pwsUnlocked = false
		st.encActive, st.hiddenActive = false, false
		return protocol.StatusOK, nil

	case protocol.CmdFactoryReset:
		pin := cstr(payload[:protocol.ResetPinFieldSize])
		if pin != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.adminPin = DefaultAdminPin
		st.userPin = DefaultUserPin
		st.adminRetries, st.userRetries = 3, 3
		st.hotp = [3]*emuOtpSlot{}
		st.totp = [15]*emuOtpSlot{}
		st.pws = [protocol.PwsSlotCount]*emuPwsSlot{}
		st.pwsUnlocked = false
		st.aesGlitchArmed = true
		return protocol.StatusOK, nil

	case protocol.CmdBuildAesKey:
		if st.aesGlitchArmed {
			return protocol.StatusWrongPassword, nil
		}
		pin := cstr(payload[:protocol.ResetPinFieldSize])
		if pin != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		return protocol.StatusOK, nil

	case protocol.CmdPasswordSafeEnable:
		pin := cstr(payload[:protocol.PwsPinFieldSize])
		if pin != st.userPin {
			if st.userRetries > 0 {
				st.userRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.userRetries = 3
		st.pwsUnlocked = true
		return protocol.StatusOK, nil

	case protocol.CmdGetPasswordSafeSlotStatus:
		if !st.pwsUnlocked {
			return protocol.StatusNotAuthorized, nil
		}
		out := make([]byte, protocol.PwsSlotCount)
		for i, s := range st.pws {
			if s != nil {
				out[i] = 1
			}
		}
		return protocol.StatusOK, out

	case protocol.CmdGetPasswordSafeSlotName,
		protocol.CmdGetPasswordSafeSlotLogin,
		protocol.CmdGetPasswordSafeSlotPassword:
		if !st.pwsUnlocked {
			return protocol.StatusNotAuthorized, nil
		}
		if payload[0] >= protocol.PwsSlotCount {
			return protocol.StatusWrongSlot, nil
		}
		s := st.pws[payload[0]]
		if s == nil {
			return protocol.StatusSlotNotProgrammed, nil
		}
		switch cmd {
		case protocol.CmdGetPasswordSafeSlotName:
			return protocol.StatusOK, []byte(s.name)
		case protocol.CmdGetPasswordSafeSlotLogin:
			return protocol.StatusOK, []byte(s.login)
		default:
			return protocol.StatusOK, []byte(s.password)
		}

	case protocol.CmdSetPasswordSafeSlotData1:
		if !st.pwsUnlocked {
			return protocol.StatusNotAuthorized, nil
		}
		if payload[0] >= protocol.PwsSlotCount {
			return protocol.StatusWrongSlot, nil
		}
		st.pwsStageNum = payload[0]
		st.pwsStage = &emuPwsSlot{
			name:     cstr(payload[1 : 1+protocol.PwsNameSize]),
			password: cstr(payload[1+protocol.PwsNameSize : 1+protocol.PwsNameSize+protocol.PwsPasswordSize]),
		}
		return protocol.StatusOK, nil

	case protocol.CmdSetPasswordSafeSlotData2:
		if !st.pwsUnlocked {
			return protocol.StatusNotAuthorized, nil
		}
		if payload[0] >= protocol.PwsSlotCount || st.pwsStage == nil || st.pwsStageNum != payload[0] {
			return protocol.StatusWrongSlot, nil
		}
		st.pwsStage.login = cstr(payload[1 : 1+protocol.PwsLoginSize])
		st.pws[payload[0]] = st.pwsStage
		st.pwsStage = nil
		return protocol.StatusOK, nil

	case protocol.CmdPasswordSafeEraseSlot:
		if !st.pwsUnlocked {
			return protocol.StatusNotAuthorized, nil
		}
		if payload[0] >= protocol.PwsSlotCount {
			return protocol.StatusWrongSlot, nil
		}
		st.pws[payload[0]] = nil
		return protocol.StatusOK, nil
	}

	if st.model == ModelStorage {
		return st.executeStorage(cmd, payload)
	}
	return protocol.StatusUnknownCommand, nil
}

func (st *emuState) storagePin(payload []byte) string {
	// leading 'P' kind byte
	return cstr(payload[1:protocol.StoragePinFieldSize])
}

func (st *emuState) executeStorage(cmd protocol.CommandID, payload []byte) (byte, []byte) {
	switch cmd {
	case protocol.CmdGetDeviceStatus:
		progress := byte(protocol.ProgressIdle)
		if st.fillProgress >= 0 {
			progress = byte(st.fillProgress)
			st.fillProgress += 50
			if st.fillProgress > 100 {
				st.fillProgress = -1
				st.filled = true
			}
		}
		return protocol.StatusOK, protocol.StorageStatusPayload(protocol.StorageStatus{
			UnencryptedActive:   true,
			UnencryptedReadOnly: st.unencRO,
			EncryptedActive:     st.encActive,
			EncryptedReadOnly:   st.encRO,
			HiddenActive:        st.hiddenActive,
			FirmwareMajor:       st.fwMajor,
			FirmwareMinor:       st.fwMinor,
			SerialNumberSdCard:  0xDEAD5D01,
			SerialNumberCard:    st.serial,
			UserRetryCount:      st.userRetries,
			AdminRetryCount:     st.adminRetries,
			NewSdCardFound:      st.newSdCard,
			FilledWithRandom:    st.filled,
			StickInitialized:    st.initialized,
			OperationProgress:   progress,
		})

	case protocol.CmdEnableEncryptedVolume:
		if st.storagePin(payload) != st.userPin {
			if st.userRetries > 0 {
				st.userRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.userRetries = 3
		st.encActive = true
		return protocol.StatusOK, nil

	case protocol.CmdDisableEncryptedVolume:
		st.encActive = false
		st.hiddenActive = false
		return protocol.StatusOK, nil

	case protocol.CmdEnableHiddenVolume:
		if !st.encActive {
			return protocol.StatusWrongPassword, nil
		}
		password := st.storagePin(payload)
		for _, hv := range st.hidden {
			if hv.password == password {
				st.hiddenActive = true
				return protocol.StatusOK, nil
			}
		}
		return protocol.StatusWrongPassword, nil

	case protocol.CmdDisableHiddenVolume:
		st.hiddenActive = false
		return protocol.StatusOK, nil

	case protocol.CmdSetHiddenVolumeSetup:
		if !st.encActive {
			return protocol.StatusWrongPassword, nil
		}
		st.hidden[payload[0]] = emuHiddenVolume{
			start:    payload[1],
			end:      payload[2],
			password: cstr(payload[3 : 3+protocol.OtpSecretSize]),
		}
		return protocol.StatusOK, nil

	case protocol.CmdSetUnencryptedReadOnly, protocol.CmdSetUnencryptedReadWrit:
		if st.storagePin(payload) != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.unencRO = cmd == protocol.CmdSetUnencryptedReadOnly
		return protocol.StatusOK, nil

	case protocol.CmdSetEncryptedReadOnly, protocol.CmdSetEncryptedReadWrite:
		if st.storagePin(payload) != st.adminPin {
			if st.adminRetries > 0 {
				st.adminRetries--
			}
			return protocol.StatusWrongPassword, nil
		}
		st.encRO = cmd == protocol.CmdSetEncryptedReadOnly
		return protocol.StatusOK, nil

	case protocol.CmdGetProductionInfo:
		return protocol.StatusOK, protocol.ProductionInfoPayload(protocol.ProductionInfo{
			FirmwareMajor:      st.fwMajor,
			FirmwareMinor:      st.fwMinor,
			FirmwareInternal:   2,
			SerialNumberCpu:    0x00C0FFEE,
			SdCardSerial:       0xDEAD5D01,
			SdCardSize:         16,
			SdCardManufacturer: 0x27,
			SdCardOem:          0x48,
			SdCardYear:         18,
			SdCardMonth:        7,
		})

	case protocol.CmdGetSdCardOccupancy:
		return protocol.StatusOK, []byte{10, 60}

	case protocol.CmdClearNewSdCardFound:
		if st.storagePin(payload) != st.adminPin {
			return protocol.StatusWrongPassword, nil
		}
		st.newSdCard = false
		return protocol.StatusOK, nil

	case protocol.CmdFillSdCard:
		if st.storagePin(payload) != st.adminPin {
			return protocol.StatusWrongPassword, nil
		}
		st.fillProgress = 0
		// the real firmware acknowledges the start with WrongCrc
		return protocol.StatusWrongCRC, nil

	case protocol.CmdChangeUpdatePin:
		current := cstr(payload[:protocol.ResetPinFieldSize])
		if current != st.updatePin {
			return protocol.StatusWrongPassword, nil
		}
		st.updatePin = cstr(payload[protocol.ResetPinFieldSize : 2*protocol.ResetPinFieldSize])
		return protocol.StatusOK, nil

	case protocol.CmdEnableFirmwareUpdate:
		if st.storagePin(payload) != st.updatePin {
			return protocol.StatusWrongPassword, nil
		}
		return protocol.StatusOK, nil

	case protocol.CmdExportFirmware:
		if st.storagePin(payload) != st.adminPin {
			return protocol.StatusWrongPassword, nil
		}
		return protocol.StatusOK, nil

	case protocol.CmdWink:
		st.winkCount++
		return protocol.StatusOK, nil
	}
	return protocol.StatusUnknownCommand, nil
}
