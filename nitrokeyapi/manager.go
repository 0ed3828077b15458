// Package nitrokeyapi is the driver for Nitrokey Pro, Nitrokey Storage
// and Librem Key USB tokens.
//
// The firmware supports a single host session at a time, so access goes
// through a process-wide manager: obtain it with Take, connect to a
// device, run commands, and close the manager when done. Privileged
// commands require authentication with the user or admin PIN; see
// Device.AuthenticateUser and Device.AuthenticateAdmin.
package nitrokeyapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nitrokey-community/nitrod-go/internal/core"
	"github.com/nitrokey-community/nitrod-go/internal/hid"
	"github.com/nitrokey-community/nitrod-go/internal/logs"
)

// Model is the device family of a connected token.
type Model int

const (
	ModelUnknown Model = iota
	ModelPro
	ModelStorage
	ModelLibrem
)

func (m Model) String() string {
	switch m {
	case ModelPro:
		return "Pro"
	case ModelStorage:
		return "Storage"
	case ModelLibrem:
		return "LibremKey"
	default:
		return "unknown"
	}
}

// ModelOf derives the device model from the USB ids of an enumeration
// entry.
func ModelOf(info core.Info) Model {
	switch {
	case info.VendorID == hid.VendorNitrokey && info.ProductID == hid.ProductPro:
		return ModelPro
	case info.VendorID == hid.VendorNitrokey && info.ProductID == hid.ProductStorage:
		return ModelStorage
	case info.VendorID == hid.VendorPurism && info.ProductID == hid.ProductLibremKey:
		return ModelLibrem
	default:
		return ModelUnknown
	}
}

// DeviceInfo describes one attached device. Produced by enumeration;
// read-only.
type DeviceInfo struct {
	Path            string
	VendorID        uint16
	ProductID       uint16
	Model           Model
	SerialNumber    string
	ReleaseNumber   uint16
	Manufacturer    string
	Product         string
	UsagePage       uint16
	Usage           uint16
	InterfaceNumber int
}

func makeDeviceInfo(info core.Info) DeviceInfo {
	return DeviceInfo{
		Path:            info.Path,
		VendorID:        info.VendorID,
		ProductID:       info.ProductID,
		Model:           ModelOf(info),
		SerialNumber:    info.SerialNumber,
		ReleaseNumber:   info.ReleaseNumber,
		Manufacturer:    info.Manufacturer,
		Product:         info.Product,
		UsagePage:       info.UsagePage,
		Usage:           info.Usage,
		InterfaceNumber: info.InterfaceNumber,
	}
}

// hidBus adapts internal/hid to the core.Bus interface.
type hidBus struct {
	log *logs.Logger
}

func (b *hidBus) Enumerate() ([]core.Info, error) {
	infos, err := hid.Enumerate()
	if err != nil {
		return nil, err
	}
	out := make([]core.Info, 0, len(infos))
	for _, i := range infos {
		out = append(out, core.Info(i))
	}
	return out, nil
}

func (b *hidBus) Connect(path string) (core.Device, error) {
	return hid.Open(path, b.log)
}

// Manager is the process-wide handle serializing access to the attached
// devices. At most one Manager is live at a time, and it hands out at
// most one Session per device.
type Manager struct {
	c      *core.Core
	logger *logs.Logger
	gen    uint64

	// init options
	writer io.Writer
	bus    core.Bus
}

var (
	takeMutex  sync.Mutex
	taken      bool
	generation uint64
)

// InitOption configures a Manager obtained from Take.
type InitOption func(*Manager)

// LogWriter sets up a writer for the driver's debug log. The default
// discards it.
func LogWriter(w io.Writer) InitOption {
	return func(m *Manager) {
		m.writer = w
	}
}

// WithBus replaces the HID transport, for bridging and tests.
func WithBus(bus core.Bus) InitOption {
	return func(m *Manager) {
		m.bus = bus
	}
}

// Take obtains the manager singleton. It fails fast with
// ErrConcurrentAccess while another Manager is live.
func Take(options ...InitOption) (*Manager, error) {
	takeMutex.Lock()
	defer takeMutex.Unlock()
	if taken {
		return nil, ErrConcurrentAccess
	}
	return take(options)
}

// TakeBlocking obtains the manager singleton, waiting for a live one to
// be closed. ctx bounds the wait.
func TakeBlocking(ctx context.Context, options ...InitOption) (*Manager, error) {
	for {
		m, err := Take(options...)
		if !errors.Is(err, ErrConcurrentAccess) {
			return m, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// ForceTake obtains the manager singleton, unconditionally invalidating
// any outstanding one. Meant for tests.
func ForceTake(options ...InitOption) (*Manager, error) {
	takeMutex.Lock()
	defer takeMutex.Unlock()
	return take(options)
}

func take(options []InitOption) (*Manager, error) {
	m := &Manager{
		writer: io.Discard,
		gen:    atomic.AddUint64(&generation, 1),
	}
	for _, option := range options {
		option(m)
	}
	m.logger = &logs.Logger{Writer: m.writer}
	if m.bus == nil {
		m.bus = &hidBus{log: m.logger}
	}
	m.c = core.New(m.bus, m.logger)
	taken = true
	return m, nil
}

// valid reports whether the manager guard is still the live one. A
// ForceTake elsewhere invalidates older guards.
func (m *Manager) valid() bool {
	return m.gen == atomic.LoadUint64(&generation)
}

// Close gives the singleton back. Outstanding sessions are released.
func (m *Manager) Close() {
	takeMutex.Lock()
	defer takeMutex.Unlock()
	if m.valid() {
		m.c.ReleaseAll()
		taken = false
	}
}

// ListDevices enumerates all attached supported devices.
func (m *Manager) ListDevices() ([]DeviceInfo, error) {
	if !m.valid() {
		return nil, ErrConcurrentAccess
	}
	infos, err := m.c.Enumerate()
	if err != nil {
		return nil, err
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, makeDeviceInfo(info))
	}
	return out, nil
}

// InUse reports whether the device at path is held by a live session.
func (m *Manager) InUse(path string) bool {
	return m.valid() && m.c.Acquired(path)
}

// ConnectFilter selects which attached device to connect to. The zero
// value matches any supported device.
type ConnectFilter struct {
	Model         Model
	SerialNumbers []string
	Path          string
}

func (f *ConnectFilter) matches(info DeviceInfo) bool {
	if f.Model != ModelUnknown && info.Model != f.Model {
		return false
	}
	if f.Path != "" && info.Path != f.Path {
		return false
	}
	if len(f.SerialNumbers) > 0 {
		found := false
		for _, s := range f.SerialNumbers {
			if equalSerial(s, info.SerialNumber) {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Connect connects to the only attached device matching filter. It fails
// with ErrNoDevice when nothing matches and ErrAmbiguousDevice when more
// than one device does.
func (m *Manager) Connect(filter ConnectFilter) (*Device, error) {
	if !m.valid() {
		return nil, ErrConcurrentAccess
	}
	devices, err := m.ListDevices()
	if err != nil {
		return nil, err
	}
	var matched []DeviceInfo
	for _, info := range devices {
		if filter.matches(info) {
			matched = append(matched, info)
		}
	}
	switch len(matched) {
	case 0:
		return nil, ErrNoDevice
	case 1:
		return m.connect(matched[0])
	default:
		return nil, fmt.Errorf("%w (%d matches)", ErrAmbiguousDevice, len(matched))
	}
}

// ConnectAny connects to the only attached supported device.
func (m *Manager) ConnectAny() (*Device, error) {
	return m.Connect(ConnectFilter{})
}

// ConnectModel connects to the only attached device of the given model.
func (m *Manager) ConnectModel(model Model) (*Device, error) {
	return m.Connect(ConnectFilter{Model: model})
}

// ConnectPath connects to the device at the given enumeration path.
func (m *Manager) ConnectPath(path string) (*Device, error) {
	return m.Connect(ConnectFilter{Path: path})
}
