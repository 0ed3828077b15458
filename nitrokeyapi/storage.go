package nitrokeyapi

import (
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// Storage-only operations. All of them fail with ErrUnsupportedModel
// before any I/O when the connected device is not a Nitrokey Storage.

// VolumeMode is the access mode of a volume.
type VolumeMode int

const (
	VolumeReadOnly VolumeMode = iota
	VolumeReadWrite
)

func (m VolumeMode) String() string {
	if m == VolumeReadOnly {
		return "read-only"
	}
	return "read-write"
}

// VolumeStatus is the state of one of the three volumes.
type VolumeStatus struct {
	Active   bool
	ReadOnly bool
}

// StorageStatus is the state of the storage controller.
type StorageStatus struct {
	Unencrypted VolumeStatus
	Encrypted   VolumeStatus
	Hidden      VolumeStatus

	Firmware       FirmwareVersion
	FirmwareLocked bool

	SerialNumberSdCard uint32

	UserRetryCount  byte
	AdminRetryCount byte

	NewSdCardFound   bool
	FilledWithRandom bool
	StickInitialized bool
}

// OperationStatus is the progress of a long-running storage operation,
// like filling the SD card with random data.
type OperationStatus struct {
	Ongoing  bool
	Progress byte // percent, only meaningful while Ongoing
}

func (v FirmwareVersion) less(major, minor byte) bool {
	return v.Major < major || (v.Major == major && v.Minor < minor)
}

func (d *Device) requireStorage() error {
	if d.model != ModelStorage {
		return ErrUnsupportedModel
	}
	return nil
}

func (d *Device) rawStorageStatus() (protocol.StorageStatus, error) {
	resp, err := d.call(protocol.CmdGetDeviceStatus, nil)
	if err != nil {
		return protocol.StorageStatus{}, err
	}
	return protocol.ParseStorageStatus(resp.Payload[:]), nil
}

// GetStorageStatus queries the state of the storage controller.
func (d *Device) GetStorageStatus() (StorageStatus, error) {
	if err := d.requireStorage(); err != nil {
		return StorageStatus{}, err
	}
	raw, err := d.rawStorageStatus()
	if err != nil {
		return StorageStatus{}, err
	}
	return StorageStatus{
		Unencrypted:        VolumeStatus{Active: raw.UnencryptedActive, ReadOnly: raw.UnencryptedReadOnly},
		Encrypted:          VolumeStatus{Active: raw.EncryptedActive, ReadOnly: raw.EncryptedReadOnly},
		Hidden:             VolumeStatus{Active: raw.HiddenActive, ReadOnly: raw.HiddenReadOnly},
		Firmware:           FirmwareVersion{Major: raw.FirmwareMajor, Minor: raw.FirmwareMinor},
		FirmwareLocked:     raw.FirmwareLocked,
		SerialNumberSdCard: raw.SerialNumberSdCard,
		UserRetryCount:     raw.UserRetryCount,
		AdminRetryCount:    raw.AdminRetryCount,
		NewSdCardFound:     raw.NewSdCardFound,
		FilledWithRandom:   raw.FilledWithRandom,
		StickInitialized:   raw.StickInitialized,
	}, nil
}

// GetOperationStatus reports the progress of a long-running storage
// operation. The firmware reports 0xFF while idle.
func (d *Device) GetOperationStatus() (OperationStatus, error) {
	if err := d.requireStorage(); err != nil {
		return OperationStatus{}, err
	}
	raw, err := d.rawStorageStatus()
	if err != nil {
		return OperationStatus{}, err
	}
	if raw.OperationProgress == protocol.ProgressIdle {
		return OperationStatus{}, nil
	}
	return OperationStatus{Ongoing: true, Progress: raw.OperationProgress}, nil
}

// EnableEncryptedVolume unlocks the encrypted volume with the user PIN.
func (d *Device) EnableEncryptedVolume(userPin string) error {
	return d.storagePassword(protocol.CmdEnableEncryptedVolume, userPin, MinUserPinLen)
}

// DisableEncryptedVolume locks the encrypted volume, and with it any
// active hidden volume.
func (d *Device) DisableEncryptedVolume() error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdDisableEncryptedVolume, nil)
	return err
}

// EnableHiddenVolume unlocks a hidden volume with its password. The
// encrypted volume must be unlocked first; the firmware tries the
// password against all hidden volume slots.
func (d *Device) EnableHiddenVolume(password string) error {
	return d.storagePassword(protocol.CmdEnableHiddenVolume, password, MinHiddenVolumePassword)
}

// DisableHiddenVolume locks the active hidden volume.
func (d *Device) DisableHiddenVolume() error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdDisableHiddenVolume, nil)
	return err
}

// HiddenVolumeSlotCount is the number of hidden volume slots.
const HiddenVolumeSlotCount = 4

// CreateHiddenVolume sets up a hidden volume inside the encrypted
// volume, spanning from start to end percent of its capacity. The
// encrypted volume must be unlocked.
func (d *Device) CreateHiddenVolume(slot, startPercent, endPercent byte, password string) error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	if slot >= HiddenVolumeSlotCount {
		return ErrInvalidSlot
	}
	if startPercent > 100 || endPercent > 100 || startPercent >= endPercent {
		return ErrInvalidSlot
	}
	if err := checkPin(password, MinHiddenVolumePassword); err != nil {
		return err
	}
	_, err := d.call(protocol.CmdSetHiddenVolumeSetup,
		protocol.HiddenVolumeSetupPayload(slot, startPercent, endPercent, []byte(password)))
	return err
}

// SetUnencryptedVolumeMode switches the unencrypted volume between
// read-only and read-write. Requires the admin PIN; older firmware
// accepted the user PIN, which revisions before v0.51 still do, but the
// host always sends the admin PIN.
func (d *Device) SetUnencryptedVolumeMode(adminPin string, mode VolumeMode) error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	if d.firmware.less(0, 49) {
		return ErrUnsupportedFirmware
	}
	cmd := protocol.CmdSetUnencryptedReadOnly
	if mode == VolumeReadWrite {
		cmd = protocol.CmdSetUnencryptedReadWrit
	}
	return d.storagePassword(cmd, adminPin, MinAdminPinLen)
}

// SetEncryptedVolumeMode switches the encrypted volume between
// read-only and read-write. Only firmware v0.49 and v0.50 implement
// this; v0.51 removed it again.
func (d *Device) SetEncryptedVolumeMode(adminPin string, mode VolumeMode) error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	if d.firmware.less(0, 49) || !d.firmware.less(0, 51) {
		return ErrUnsupportedFirmware
	}
	cmd := protocol.CmdSetEncryptedReadOnly
	if mode == VolumeReadWrite {
		cmd = protocol.CmdSetEncryptedReadWrite
	}
	return d.storagePassword(cmd, adminPin, MinAdminPinLen)
}

// ProductionInfo is static production data of a Nitrokey Storage and
// its SD card.
type ProductionInfo struct {
	Firmware         FirmwareVersion
	FirmwareInternal byte

	SerialNumberCpu uint32

	SdCard SdCardInfo
}

// SdCardInfo describes the built-in SD card.
type SdCardInfo struct {
	Serial       uint32
	SizeGB       byte
	Manufacturer byte
	Oem          byte
	Year         byte
	Month        byte
}

// GetProductionInfo queries static production data of the device and
// its SD card.
func (d *Device) GetProductionInfo() (ProductionInfo, error) {
	if err := d.requireStorage(); err != nil {
		return ProductionInfo{}, err
	}
	resp, err := d.call(protocol.CmdGetProductionInfo, nil)
	if err != nil {
		return ProductionInfo{}, err
	}
	raw := protocol.ParseProductionInfo(resp.Payload[:])
	return ProductionInfo{
		Firmware:         FirmwareVersion{Major: raw.FirmwareMajor, Minor: raw.FirmwareMinor},
		FirmwareInternal: raw.FirmwareInternal,
		SerialNumberCpu:  raw.SerialNumberCpu,
		SdCard: SdCardInfo{
			Serial:       raw.SdCardSerial,
			SizeGB:       raw.SdCardSize,
			Manufacturer: raw.SdCardManufacturer,
			Oem:          raw.SdCardOem,
			Year:         raw.SdCardYear,
			Month:        raw.SdCardMonth,
		},
	}, nil
}

// SdCardUsage returns the interval of the SD card, in percent, that has
// been written since production. Data outside of it has never been
// touched, which matters for plausible deniability of hidden volumes.
func (d *Device) SdCardUsage() (min, max byte, err error) {
	if err := d.requireStorage(); err != nil {
		return 0, 0, err
	}
	resp, err := d.call(protocol.CmdGetSdCardOccupancy, nil)
	if err != nil {
		return 0, 0, err
	}
	return resp.Payload[0], resp.Payload[1], nil
}

// ClearNewSdCardWarning clears the "new SD card" flag that is set when
// the firmware detects an SD card it has not seen before.
func (d *Device) ClearNewSdCardWarning(adminPin string) error {
	return d.storagePassword(protocol.CmdClearNewSdCardFound, adminPin, MinAdminPinLen)
}

// FillSdCard overwrites the whole SD card with random data, destroying
// all volumes. The command returns immediately; poll GetOperationStatus
// for progress. Filling takes about an hour per 16 GB.
func (d *Device) FillSdCard(adminPin string) error {
	return d.storagePassword(protocol.CmdFillSdCard, adminPin, MinAdminPinLen)
}

// ChangeUpdatePin changes the firmware update password.
func (d *Device) ChangeUpdatePin(current, new string) error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	for _, pin := range []string{current, new} {
		if err := checkPin(pin, MinUserPinLen); err != nil {
			return err
		}
	}
	_, err := d.call(protocol.CmdChangeUpdatePin,
		protocol.ChangeUpdatePinPayload([]byte(current), []byte(new)))
	return err
}

// EnableFirmwareUpdate puts the device into firmware update mode. The
// device detaches from USB and reappears as a DFU device; this session
// becomes unusable.
func (d *Device) EnableFirmwareUpdate(updatePin string) error {
	return d.storagePassword(protocol.CmdEnableFirmwareUpdate, updatePin, MinUserPinLen)
}

// ExportFirmware writes the running firmware image to the unencrypted
// volume as firmware.bin.
func (d *Device) ExportFirmware(adminPin string) error {
	return d.storagePassword(protocol.CmdExportFirmware, adminPin, MinAdminPinLen)
}

func (d *Device) storagePassword(cmd protocol.CommandID, password string, minLen int) error {
	if err := d.requireStorage(); err != nil {
		return err
	}
	if err := checkPin(password, minLen); err != nil {
		return err
	}
	_, err := d.call(cmd, protocol.StoragePasswordPayload([]byte(password)))
	return err
}
