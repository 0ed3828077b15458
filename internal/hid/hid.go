// Package hid carries raw packets between the host and one attached
// device. It wraps the hidapi binding and knows nothing about framing or
// sessions; those live in internal/protocol and internal/core.
package hid

import (
	"errors"
	"fmt"

	"github.com/nitrokey-community/nitrod-go/internal/logs"
	lowlevel "github.com/sstallion/go-hid"
)

// Supported vendor/product id pairs.
const (
	VendorNitrokey   = 0x20a0
	ProductPro       = 0x4108
	ProductStorage   = 0x4109
	VendorPurism     = 0x316d
	ProductLibremKey = 0x4c4b
)

// PacketSize is the feature report width of all supported models. The
// report buffers carry one extra leading byte for the report id.
const PacketSize = 64

var (
	ErrNotFound  = errors.New("device not found")
	ErrSending   = errors.New("sending a packet failed")
	ErrReceiving = errors.New("receiving a packet failed")
)

// Info describes one enumerated device.
type Info struct {
	Path            string
	VendorID        uint16
	ProductID       uint16
	SerialNumber    string
	ReleaseNumber   uint16
	Manufacturer    string
	Product         string
	UsagePage       uint16
	Usage           uint16
	InterfaceNumber int
}

func match(d *lowlevel.DeviceInfo) bool {
	nitrokey := d.VendorID == VendorNitrokey &&
		(d.ProductID == ProductPro || d.ProductID == ProductStorage)
	librem := d.VendorID == VendorPurism && d.ProductID == ProductLibremKey
	return nitrokey || librem
}

// Enumerate lists all attached devices of the supported families. It has
// no side effects on the devices.
func Enumerate() ([]Info, error) {
	var infos []Info
	err := lowlevel.Enumerate(lowlevel.VendorIDAny, lowlevel.ProductIDAny,
		func(d *lowlevel.DeviceInfo) error {
			if !match(d) {
				return nil
			}
			infos = append(infos, Info{
				Path:            d.Path,
				VendorID:        d.VendorID,
				ProductID:       d.ProductID,
				SerialNumber:    d.SerialNbr,
				ReleaseNumber:   d.ReleaseNbr,
				Manufacturer:    d.MfrStr,
				Product:         d.ProductStr,
				UsagePage:       d.UsagePage,
				Usage:           d.Usage,
				InterfaceNumber: d.InterfaceNbr,
			})
			return nil
		})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Device is an open handle with exclusive access to one device.
type Device struct {
	dev *lowlevel.Device
	log *logs.Logger
}

// Open acquires the device at path. A stale path yields ErrNotFound.
func Open(path string, log *logs.Logger) (*Device, error) {
	dev, err := lowlevel.OpenPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, err)
	}
	return &Device{dev: dev, log: log}, nil
}

// SendFeature writes one packet as a feature report.
func (d *Device) SendFeature(packet []byte) error {
	if len(packet) != PacketSize {
		return fmt.Errorf("%w: packet has %d bytes", ErrSending, len(packet))
	}
	buf := make([]byte, PacketSize+1)
	copy(buf[1:], packet) // report id 0
	d.log.Log(fmt.Sprintf("send feature report, cmd 0x%02x", packet[0]))
	if _, err := d.dev.SendFeatureReport(buf); err != nil {
		return fmt.Errorf("%w: %s", ErrSending, err)
	}
	return nil
}

// RecvFeature reads one packet from the feature report path.
func (d *Device) RecvFeature(packet []byte) error {
	if len(packet) != PacketSize {
		return fmt.Errorf("%w: buffer has %d bytes", ErrReceiving, len(packet))
	}
	buf := make([]byte, PacketSize+1)
	if _, err := d.dev.GetFeatureReport(buf); err != nil {
		return fmt.Errorf("%w: %s", ErrReceiving, err)
	}
	copy(packet, buf[1:])
	return nil
}

// Close releases the handle.
func (d *Device) Close() error {
	return d.dev.Close()
}
