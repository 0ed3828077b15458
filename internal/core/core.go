// Package core keeps the session bookkeeping for connected devices and
// runs the framed command round trips.
//
// The hid package is not imported here - it uses cgo through hidapi, so
// building this package against abstract interfaces keeps the build fast
// and lets the tests plug in an emulated device. The interfaces are
// implemented in internal/hid.
package core

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nitrokey-community/nitrod-go/internal/logs"
	"github.com/nitrokey-community/nitrod-go/internal/protocol"
)

// Info describes one enumerated device. Produced by Bus.Enumerate;
// read-only.
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

// Device is one open device handle. All supported models speak the
// protocol over feature reports only.
type Device interface {
	SendFeature(packet []byte) error
	RecvFeature(packet []byte) error
	Close() error
}

// Bus enumerates and connects devices.
type Bus interface {
	Enumerate() ([]Info, error)
	Connect(path string) (Device, error)
}

type session struct {
	path string
	id   string
	dev  Device
	call int32 // atomic
}

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrOtherCall       = errors.New("other call in progress")
	ErrDeviceInUse     = errors.New("device already acquired")
	ErrWrongResponse   = errors.New("response does not answer the request")
	ErrDeviceBusy      = errors.New("device stayed busy")
	ErrNotConnected    = errors.New("device disconnected")
)

const (
	// How often a round trip is retried on a checksum failure or a stale
	// response before giving up.
	framingRetries = 3

	// How long the device may report busy before a round trip fails.
	busyRetries = 50

	sendSettle = 20 * time.Millisecond
	pollDelay  = 50 * time.Millisecond
)

type Core struct {
	bus Bus

	sessions      map[string]*session
	sessionsMutex sync.Mutex // for atomic access to sessions

	callsInProgress int        // we cannot make calls and enumeration at the same time
	callMutex       sync.Mutex // for atomic access to callsInProgress, plus prevent enumeration
	lastInfos       []Info     // when call is in progress, use saved info for enumerating

	log *logs.Logger
}

func New(bus Bus, log *logs.Logger) *Core {
	return &Core{
		bus:      bus,
		sessions: make(map[string]*session),
		log:      log,
	}
}

func (c *Core) Log(s string) {
	c.log.Log("core - " + s)
}

// Enumerate lists attached devices and releases sessions whose device is
// gone.
func (c *Core) Enumerate() ([]Info, error) {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()

	// Lock for atomic access to callsInProgress. It needs to be over the
	// whole function, so that a call does not actually start while
	// enumerating.
	c.callMutex.Lock()
	defer c.callMutex.Unlock()

	// Use saved info if a call is in progress, otherwise enumerate.
	infos := c.lastInfos
	if c.callsInProgress == 0 {
		c.Log("enumerate bus")
		busInfos, err := c.bus.Enumerate()
		if err != nil {
			return nil, err
		}
		infos = busInfos
		c.lastInfos = infos
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	c.Log("enumerate release disconnected")
	c.releaseDisconnected(infos)
	return infos, nil
}

func (c *Core) releaseDisconnected(infos []Info) {
	for id, ss := range c.sessions {
		connected := false
		for _, info := range infos {
			if ss.path == info.Path {
				connected = true
			}
		}
		if !connected {
			c.Log(fmt.Sprintf("releasing disconnected device %s", id))
			if err := c.release(id); err != nil {
				// just log, the device is gone anyway
				c.Log(fmt.Sprintf("error on releasing disconnected device: %s", err))
			}
		}
	}
}

// Acquired reports whether a session holds the device at path.
func (c *Core) Acquired(path string) bool {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	for _, ss := range c.sessions {
		if ss.path == path {
			return true
		}
	}
	return false
}

// Acquire opens the device at path and registers a session for it. A
// device can be held by at most one session.
func (c *Core) Acquire(path string) (string, error) {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()

	for _, ss := range c.sessions {
		if ss.path == path {
			return "", ErrDeviceInUse
		}
	}

	c.Log("acquire - trying to connect")
	dev, err := c.tryConnect(path)
	if err != nil {
		return "", err
	}

	id := c.newSession()
	c.sessions[id] = &session{
		path: path,
		dev:  dev,
		id:   id,
	}

	c.Log(fmt.Sprintf("acquire - new session is %s", id))
	return id, nil
}

// Bad timing after plugging in can produce a transient open error.
// Try 3 times with a 100ms delay.
func (c *Core) tryConnect(path string) (Device, error) {
	tries := 0
	for {
		c.Log(fmt.Sprintf("tryConnect - try number %d", tries))
		dev, err := c.bus.Connect(path)
		if err == nil {
			return dev, nil
		}
		if tries >= 3 {
			return nil, err
		}
		tries++
		time.Sleep(100 * time.Millisecond)
	}
}

var latestSessionID int32

func (c *Core) newSession() string {
	return strconv.Itoa(int(atomic.AddInt32(&latestSessionID, 1)))
}

// Release closes the session's device handle and forgets the session.
func (c *Core) Release(id string) error {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	return c.release(id)
}

func (c *Core) release(id string) error {
	acquired := c.sessions[id]
	if acquired == nil {
		return ErrSessionNotFound
	}
	delete(c.sessions, id)
	return acquired.dev.Close()
}

// ReleaseAll releases every open session, closing the device handles.
func (c *Core) ReleaseAll() {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	for id := range c.sessions {
		if err := c.release(id); err != nil {
			c.Log(fmt.Sprintf("error releasing session %s: %s", id, err))
		}
	}
}

// SessionPath returns the device path a session is bound to.
func (c *Core) SessionPath(id string) (string, error) {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	acquired := c.sessions[id]
	if acquired == nil {
		return "", ErrSessionNotFound
	}
	return acquired.path, nil
}

// Call performs one command round trip on a session: encode, send the
// feature report, poll for the matching response, decode. A response is
// matched to the request by its command id and request checksum echo;
// stale or checksum-broken responses are retried a bounded number of
// times, a busy device a little longer.
func (c *Core) Call(id string, cmd protocol.CommandID, payload []byte) (*protocol.Response, error) {
	c.callMutex.Lock()
	c.callsInProgress++
	c.callMutex.Unlock()

	defer func() {
		c.callMutex.Lock()
		c.callsInProgress--
		c.callMutex.Unlock()
	}()

	c.sessionsMutex.Lock()
	acquired := c.sessions[id]
	c.sessionsMutex.Unlock()

	if acquired == nil {
		return nil, ErrSessionNotFound
	}

	freeToCall := atomic.CompareAndSwapInt32(&acquired.call, 0, 1)
	if !freeToCall {
		return nil, ErrOtherCall
	}
	defer atomic.StoreInt32(&acquired.call, 0)

	resp, err := c.roundTrip(acquired.dev, cmd, payload)
	if err != nil && c.gone(acquired.path) {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, err)
	}
	return resp, err
}

// gone reports whether the device at path has vanished from the bus.
// Transfer errors on a gone device are unplug symptoms, not protocol
// failures.
func (c *Core) gone(path string) bool {
	infos, err := c.bus.Enumerate()
	if err != nil {
		return false
	}
	for _, info := range infos {
		if info.Path == path {
			return false
		}
	}
	return true
}

func (c *Core) roundTrip(dev Device, cmd protocol.CommandID, payload []byte) (*protocol.Response, error) {
	req, err := protocol.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}

	c.Log(fmt.Sprintf("call - sending cmd 0x%02x", byte(cmd)))
	if err := dev.SendFeature(req.Bytes()); err != nil {
		return nil, err
	}
	time.Sleep(sendSettle)

	var buf [protocol.PacketSize]byte
	var framing, busyFor int
	lastErr := error(ErrWrongResponse)
	for framing < framingRetries && busyFor < busyRetries {
		if err := dev.RecvFeature(buf[:]); err != nil {
			return nil, err
		}
		resp, err := protocol.Decode(buf[:])
		if err != nil {
			c.Log(fmt.Sprintf("call - broken response (%s), retrying", err))
			framing++
			lastErr = err
			time.Sleep(pollDelay)
			continue
		}
		if !resp.Matches(req) {
			c.Log("call - stale response, retrying")
			framing++
			lastErr = fmt.Errorf("%w: got cmd 0x%02x", ErrWrongResponse, byte(resp.CommandID))
			time.Sleep(pollDelay)
			continue
		}
		if resp.DeviceStatus == protocol.DeviceStatusBusy {
			busyFor++
			lastErr = ErrDeviceBusy
			time.Sleep(pollDelay)
			continue
		}
		c.Log(fmt.Sprintf("call - cmd 0x%02x status %d", byte(cmd), resp.CommandStatus))
		return resp, nil
	}
	return nil, lastErr
}
