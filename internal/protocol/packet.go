package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire framing of command packets, shared by all supported models.
//
// Request:  [ cmd id (1) | payload (59) | crc32 over the first 60 bytes, LE (4) ]
// Response: [ device status (1) | cmd id echo (1) | request crc echo (4, LE) |
//             command status (1) | payload (53) | crc32 over the first 60 bytes (4) ]
//
// Responses are matched to requests by the (cmd id, request crc) echo; a
// response with a different echo belongs to an earlier request and is stale.

const (
	// PacketSize is the feature report size of all supported devices.
	PacketSize = 64

	// RequestPayloadSize is the room for command arguments in a request.
	RequestPayloadSize = PacketSize - 1 - 4

	// ResponsePayloadSize is the room for result data in a response.
	ResponsePayloadSize = PacketSize - 7 - 4
)

// Device status byte of a response.
const (
	DeviceStatusIdle         = 0
	DeviceStatusOK           = 1
	DeviceStatusBusy         = 2
	DeviceStatusError        = 3
	DeviceStatusBusyProgress = 4
)

// Command status byte of a response.
const (
	StatusOK                  = 0
	StatusWrongCRC            = 1
	StatusWrongSlot           = 2
	StatusSlotNotProgrammed   = 3
	StatusWrongPassword       = 4
	StatusNotAuthorized       = 5
	StatusTimestampWarning    = 6
	StatusNoNameError         = 7
	StatusNotSupported        = 8
	StatusUnknownCommand      = 9
	StatusAesDecryptionFailed = 10
)

var (
	ErrPayloadTooLarge = errors.New("command payload does not fit the packet")
	ErrInvalidCRC      = errors.New("received packet has an invalid crc")
	ErrStaleResponse   = errors.New("response does not match the request")
)

// Request is an encoded command packet, ready for the wire.
type Request struct {
	ID  CommandID
	CRC uint32
	raw [PacketSize]byte
}

// Bytes returns the encoded packet.
func (r *Request) Bytes() []byte {
	return r.raw[:]
}

// Encode builds a request packet for cmd with the given payload. The
// payload is zero-padded to the full packet width before the checksum is
// computed, as the firmware's word-wise CRC requires.
func Encode(cmd CommandID, payload []byte) (*Request, error) {
	if len(payload) > RequestPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	var r Request
	r.ID = cmd
	r.raw[0] = byte(cmd)
	copy(r.raw[1:], payload)
	r.CRC = CRC(r.raw[:PacketSize-4])
	binary.LittleEndian.PutUint32(r.raw[PacketSize-4:], r.CRC)
	return &r, nil
}

// Response is a decoded response packet.
type Response struct {
	DeviceStatus  byte
	CommandID     CommandID
	CommandCRC    uint32
	CommandStatus byte
	Payload       [ResponsePayloadSize]byte
}

// Decode parses and checksum-verifies a received packet.
func Decode(buf []byte) (*Response, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("response has %d bytes, expected %d", len(buf), PacketSize)
	}
	crc := binary.LittleEndian.Uint32(buf[PacketSize-4:])
	if crc != CRC(buf[:PacketSize-4]) {
		return nil, ErrInvalidCRC
	}
	resp := &Response{
		DeviceStatus:  buf[0],
		CommandID:     CommandID(buf[1]),
		CommandCRC:    binary.LittleEndian.Uint32(buf[2:6]),
		CommandStatus: buf[6],
	}
	copy(resp.Payload[:], buf[7:PacketSize-4])
	return resp, nil
}

// Matches reports whether resp answers req. The firmware echoes both the
// command id and the request checksum; anything else is a leftover from an
// earlier exchange.
func (resp *Response) Matches(req *Request) bool {
	return resp.CommandID == req.ID && resp.CommandCRC == req.CRC
}
