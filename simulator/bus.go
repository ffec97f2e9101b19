package simulator

import (
	"bytes"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/internal/message"
	"github.com/mbhd/hwclient-go/types"
)

var (
	ErrUnplugged = errors.New("simulator unplugged")
	errClosed    = errors.New("closed device")
)

// Bus presents a single simulated device.
type Bus struct {
	dev *Device

	mu      sync.Mutex
	plugged bool
}

func NewBus(dev *Device) *Bus {
	return &Bus{dev: dev, plugged: true}
}

func (b *Bus) Device() *Device {
	return b.dev
}

// Unplug hides the device from enumeration and refuses connections.
func (b *Bus) Unplug() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugged = false
}

func (b *Bus) Plug() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugged = true
}

func (b *Bus) isPlugged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plugged
}

func (b *Bus) Enumerate() ([]types.DeviceInfo, error) {
	if !b.isPlugged() {
		return nil, nil
	}
	return []types.DeviceInfo{{
		Path:    Path,
		Vendor:  types.VendorT1,
		Product: types.ProductT1Firmware,
		Type:    types.TypeSimulator,
	}}, nil
}

func (b *Bus) Has(path string) bool {
	return path == Path
}

func (b *Bus) Connect(path string) (core.USBDevice, error) {
	if !b.isPlugged() {
		return nil, ErrUnplugged
	}
	return &conn{
		dev:    b.dev,
		out:    make(chan []byte, 256),
		closed: make(chan struct{}),
	}, nil
}

// conn carries 64 byte reports between the host and the device.
type conn struct {
	dev *Device

	mu     sync.Mutex
	in     bytes.Buffer
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *conn) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, errClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.in.Write(p)
	raw, err := message.ReadFromDevice(bytes.NewReader(c.in.Bytes()), nil)
	if err == message.ErrMalformedMessage {
		c.in.Reset()
		return len(p), nil
	}
	if err != nil {
		// request not complete yet
		return len(p), nil
	}
	c.in.Reset()

	req, err := message.Decode(raw)
	var reply types.Message
	if err != nil {
		reply = unexpected()
	} else {
		reply = c.dev.handle(req)
	}
	if reply == nil {
		return len(p), nil
	}
	encoded, err := message.Encode(reply)
	if err != nil {
		return 0, err
	}
	var wire bytes.Buffer
	if _, err := message.WriteToDevice(encoded, &wire, nil); err != nil {
		return 0, err
	}
	for wire.Len() > 0 {
		c.out <- append([]byte{}, wire.Next(64)...)
	}
	return len(p), nil
}

func (c *conn) Read(p []byte) (int, error) {
	select {
	case chunk := <-c.out:
		return copy(p, chunk), nil
	case <-c.closed:
		return 0, io.EOF
	}
}

func (c *conn) Close(disconnected bool) error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
