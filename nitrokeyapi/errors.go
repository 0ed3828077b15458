package nitrokeyapi

import (
	"errors"
	"fmt"

	"github.com/nitrokey-community/nitrod-go/internal/core"
	"github.com/nitrokey-community/nitrod-go/internal/hid"
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// CommandError is an error reported by the device in the command status
// byte of a response packet.
type CommandError byte

const (
	WrongCrc            CommandError = protocol.StatusWrongCRC
	WrongSlot           CommandError = protocol.StatusWrongSlot
	SlotNotProgrammed   CommandError = protocol.StatusSlotNotProgrammed
	WrongPassword       CommandError = protocol.StatusWrongPassword
	NotAuthorized       CommandError = protocol.StatusNotAuthorized
	TimestampWarning    CommandError = protocol.StatusTimestampWarning
	NoName              CommandError = protocol.StatusNoNameError
	NotSupported        CommandError = protocol.StatusNotSupported
	UnknownCommand      CommandError = protocol.StatusUnknownCommand
	AesDecryptionFailed CommandError = protocol.StatusAesDecryptionFailed
)

func (e CommandError) Error() string {
	switch e {
	case WrongCrc:
		return "device could not verify the checksum of the request"
	case WrongSlot:
		return "the given slot does not exist"
	case SlotNotProgrammed:
		return "the given slot is not programmed"
	case WrongPassword:
		return "the entered PIN is wrong"
	case NotAuthorized:
		return "the command requires authentication"
	case TimestampWarning:
		return "the device time moved backward (use force to override)"
	case NoName:
		return "the slot has no name set"
	case NotSupported:
		return "the command is not supported by this device"
	case UnknownCommand:
		return "the device does not know this command"
	case AesDecryptionFailed:
		return "AES decryption failed (wrong PIN or uninitialized key)"
	default:
		return fmt.Sprintf("unexpected device status code %d", byte(e))
	}
}

// Communication errors. Checksum and echo mismatches are retried a few
// times at the framing layer before they surface here. ErrNotConnected
// wraps any transfer error on a device that is gone from the bus.
var (
	ErrNotConnected     = core.ErrNotConnected
	ErrSendingFailure   = hid.ErrSending
	ErrReceivingFailure = hid.ErrReceiving
	ErrInvalidCrc       = protocol.ErrInvalidCRC
	ErrWrongResponse    = core.ErrWrongResponse
)

// Host-side precondition errors.
var (
	ErrStringTooLong        = errors.New("the given string is too long for the device")
	ErrInvalidSlot          = errors.New("the given slot is invalid")
	ErrInvalidHexString     = errors.New("the given string is not a valid hex string")
	ErrTargetBufferTooSmall = errors.New("the target buffer is too small")
	ErrInvalidString        = errors.New("the string contains a NUL byte or is not valid UTF-8")
	ErrPinTooShort          = errors.New("the given PIN is too short")
)

var (
	// ErrUnsupportedModel is returned before any I/O when a command is
	// attempted on a model that does not implement it.
	ErrUnsupportedModel = errors.New("the connected device does not support this command")

	// ErrUnsupportedFirmware is returned before any I/O when the
	// connected firmware revision does not implement a command.
	ErrUnsupportedFirmware = errors.New("the device firmware does not support this command")

	// ErrConcurrentAccess is returned when a second manager or session
	// would be created while one is still live.
	ErrConcurrentAccess = errors.New("the device manager is already taken")

	// ErrRngFailure is returned when the temporary password cannot be
	// generated.
	ErrRngFailure = errors.New("could not generate a random temporary password")

	// ErrAmbiguousDevice is returned by connect filters matching more
	// than one attached device.
	ErrAmbiguousDevice = errors.New("the filter matches more than one device")

	ErrNoDevice = errors.New("no compatible device found")
)

// commandResult maps a response command status to an error, nil for OK.
func commandResult(status byte) error {
	if status == protocol.StatusOK {
		return nil
	}
	return CommandError(status)
}
