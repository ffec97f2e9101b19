package core

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/internal/message"
	"github.com/mbhd/hwclient-go/types"
)

// Package with the device session: finding the device, holding the
// single open transport and making one request/reply exchange at a time.
//
// Buses are abstract interfaces so that this package does not depend on
// the USB libraries; implementations live in internal/usb and simulator.

type USBBus interface {
	Enumerate() ([]types.DeviceInfo, error)
	Connect(path string) (USBDevice, error)
	Has(path string) bool
}

type USBDevice interface {
	io.ReadWriter
	Close(disconnected bool) error
}

// Publisher receives every event the session produces. Publish must not
// block.
type Publisher interface {
	Publish(ev types.MessageEvent)
}

var (
	ErrNotAttached    = errors.New("device not attached")
	ErrNotConnected   = errors.New("device not connected")
	ErrTimeout        = errors.New("device did not reply in time")
	ErrDeviceNotFound = errors.New("device not found")
)

const DefaultTimeout = 2 * time.Minute

type session struct {
	path string
	id   string
	dev  USBDevice
}

type Core struct {
	bus     USBBus
	pub     Publisher
	timeout time.Duration

	attached      *types.DeviceInfo
	sess          *session
	sessionsMutex sync.Mutex // for atomic access to attached and sess

	callSlot chan struct{} // one outstanding request per device

	log *logs.Logger
}

// New creates a session core. A timeout <= 0 disables the call timeout.
func New(bus USBBus, pub Publisher, timeout time.Duration, log *logs.Logger) *Core {
	return &Core{
		bus:      bus,
		pub:      pub,
		timeout:  timeout,
		callSlot: make(chan struct{}, 1),
		log:      log,
	}
}

func (c *Core) Log(s string) {
	c.log.Log("core - " + s)
}

// Enumerate lists the devices currently visible on the bus.
func (c *Core) Enumerate() ([]types.DeviceInfo, error) {
	return c.bus.Enumerate()
}

// Attach looks for a supported device on the bus. It does not talk to the
// device. DEVICE_ATTACHED is published when one is found.
func (c *Core) Attach() bool {
	c.Log("attach - enumerate")
	infos, err := c.bus.Enumerate()
	if err != nil {
		c.Log(fmt.Sprintf("attach - enumerate error %s", err))
		return false
	}
	if len(infos) == 0 {
		c.Log("attach - nothing found")
		return false
	}
	info := infos[0]

	c.sessionsMutex.Lock()
	c.attached = &info
	c.sessionsMutex.Unlock()

	c.Log(fmt.Sprintf("attach - found %s (%s)", info.Path, info.Type))
	c.pub.Publish(types.MessageEvent{Type: types.EventDeviceAttached})
	return true
}

// Attached returns the attached device, if any.
func (c *Core) Attached() (types.DeviceInfo, bool) {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	if c.attached == nil {
		return types.DeviceInfo{}, false
	}
	return *c.attached, true
}

// SessionID is empty when not connected.
func (c *Core) SessionID() string {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.id
}

// Connect opens the transport to the attached device. DEVICE_CONNECTED is
// published before Connect returns, so it precedes any reply event.
// An existing connection is released first.
func (c *Core) Connect() error {
	c.Log("connect - locking sessionsMutex")
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()

	if c.attached == nil {
		return ErrNotAttached
	}
	path := c.attached.Path
	if !c.bus.Has(path) {
		return ErrDeviceNotFound
	}

	if c.sess != nil {
		c.Log("connect - releasing previous")
		if err := c.sess.dev.Close(false); err != nil {
			c.Log(fmt.Sprintf("connect - error on release %s", err))
		}
		c.sess = nil
	}

	c.Log("connect - trying to connect")
	dev, err := c.tryConnect(path)
	if err != nil {
		return errors.Wrap(err, "connect")
	}
	c.sess = &session{
		path: path,
		id:   uuid.NewString(),
		dev:  dev,
	}
	c.Log(fmt.Sprintf("connect - new session is %s", c.sess.id))

	c.pub.Publish(types.MessageEvent{Type: types.EventDeviceConnected})
	return nil
}

// Devices can refuse an open right after enumeration.
// Try 3 times with a 100ms delay.
func (c *Core) tryConnect(path string) (USBDevice, error) {
	tries := 0
	for {
		c.Log(fmt.Sprintf("tryConnect - try number %d", tries))
		dev, err := c.bus.Connect(path)
		if err == nil {
			return dev, nil
		}
		if tries >= 3 {
			c.Log("tryConnect - too many times, exiting")
			return nil, err
		}
		c.Log("tryConnect - sleeping")
		tries++
		time.Sleep(100 * time.Millisecond)
	}
}

// Disconnect closes the transport and publishes DEVICE_DISCONNECTED.
func (c *Core) Disconnect() error {
	acquired := c.release()
	if acquired == nil {
		return ErrNotConnected
	}
	err := acquired.dev.Close(false)
	c.pub.Publish(types.MessageEvent{Type: types.EventDeviceDisconnected})
	return err
}

// release detaches the current session from the core. Only the caller
// that gets a non-nil session back closes the device.
func (c *Core) release() *session {
	c.sessionsMutex.Lock()
	defer c.sessionsMutex.Unlock()
	acquired := c.sess
	c.sess = nil
	return acquired
}

type callResult struct {
	reply types.Message
	err   error
}

// Call writes msg and reads exactly one reply, which is published as an
// event and returned. Calls are serialized; a waiting call gives up when
// ctx is done.
func (c *Core) Call(ctx context.Context, msg types.Message) (types.Message, error) {
	c.Log(fmt.Sprintf("call - start %s", msg.Type()))

	c.Log("call - waiting for call slot")
	select {
	case c.callSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() {
		<-c.callSlot
	}()

	c.sessionsMutex.Lock()
	acquired := c.sess
	c.sessionsMutex.Unlock()
	if acquired == nil {
		return nil, ErrNotConnected
	}

	raw, err := message.Encode(msg)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	// the goroutine may outlive the call when the device hangs; closing
	// the device unblocks it and the buffered channel lets it exit
	done := make(chan callResult, 1)
	go func() {
		reply, err := c.readWriteDev(raw, acquired.dev)
		done <- callResult{reply, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, c.failed(acquired, res.err)
		}
		c.Log(fmt.Sprintf("call - reply %s", res.reply.Type()))
		c.pub.Publish(types.NewMessageEvent(res.reply))
		return res.reply, nil

	case <-callCtx.Done():
		if ctx.Err() != nil {
			c.Log("call - detected request close, auto-release")
			c.abandoned(acquired, types.FailureActionCancelled, ctx.Err().Error())
			return nil, ctx.Err()
		}
		c.Log("call - timeout, auto-release")
		c.abandoned(acquired, types.FailureTimeout, ErrTimeout.Error())
		return nil, ErrTimeout
	}
}

// abandoned releases a session whose reply never came. The device may
// still answer later, so the transport cannot be reused; subscribers get
// a FAILURE followed by DEVICE_DISCONNECTED.
func (c *Core) abandoned(acquired *session, code types.FailureType, text string) {
	if !c.closeIfCurrent(acquired) {
		return
	}
	c.pub.Publish(types.NewMessageEvent(&types.Failure{
		Code:    code,
		Message: text,
	}))
	c.pub.Publish(types.MessageEvent{Type: types.EventDeviceDisconnected})
}

// failed handles a transport error: the device is released and reported
// as failed, unless it was disconnected by someone else meanwhile.
func (c *Core) failed(acquired *session, err error) error {
	c.Log(fmt.Sprintf("call - transport error %s", err))
	if !c.closeIfCurrent(acquired) {
		return errors.Wrap(ErrNotConnected, err.Error())
	}
	c.pub.Publish(types.MessageEvent{
		Type:    types.EventDeviceFailed,
		Message: &types.Failure{Code: types.FailureTransport, Message: err.Error()},
	})
	c.pub.Publish(types.MessageEvent{Type: types.EventDeviceDisconnected})
	return errors.Wrap(err, "call")
}

func (c *Core) closeIfCurrent(acquired *session) bool {
	c.sessionsMutex.Lock()
	current := c.sess == acquired
	if current {
		c.sess = nil
	}
	c.sessionsMutex.Unlock()
	if !current {
		return false
	}
	if err := acquired.dev.Close(true); err != nil {
		// just log, device is gone anyway
		c.Log(fmt.Sprintf("Error while releasing: %s", err))
	}
	return true
}

func (c *Core) readWriteDev(raw *types.RawMessage, dev io.ReadWriter) (types.Message, error) {
	c.Log("readWrite - writeTo")
	if _, err := message.WriteToDevice(raw, dev, c.log); err != nil {
		return nil, err
	}
	c.Log("readWrite - readFrom")
	reply, err := message.ReadFromDevice(dev, c.log)
	if err != nil {
		return nil, err
	}
	c.Log("readWrite - decode")
	return message.Decode(reply)
}
