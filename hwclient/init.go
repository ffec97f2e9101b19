package hwclient

import (
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/events"
	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/internal/protocol"
	"github.com/mbhd/hwclient-go/internal/usb"
)

// Bus finds devices and opens transports to them.
type Bus = core.USBBus

type config struct {
	buses          []Bus
	ports          []int
	withUSB        bool
	timeout        time.Duration
	maxPinAttempts int
	eventBuffer    int
	writer         io.Writer
}

var defaultConfig = config{
	withUSB:        true,
	timeout:        core.DefaultTimeout,
	maxPinAttempts: protocol.DefaultMaxPinAttempts,
	eventBuffer:    events.DefaultBuffer,
	writer:         ioutil.Discard,
}

// InitOption is an option that could be given to New. Without options the
// client looks for devices on USB.
type InitOption func(*config)

// WithBus adds a custom bus, such as the simulator. USB is disabled unless
// WithUSB(true) is given after it.
func WithBus(b Bus) InitOption {
	return func(c *config) {
		c.buses = append(c.buses, b)
		c.withUSB = false
	}
}

// WithUSB enables or disables USB HID devices.
//
// It's sometimes necessary to disable USB, for example, when
// on CI or in Docker. (You should, however, enable UDP)
func WithUSB(b bool) InitOption {
	return func(c *config) {
		c.withUSB = b
	}
}

// AddUDPPort adds a UDP port for an emulator.
func AddUDPPort(port int) InitOption {
	return func(c *config) {
		c.ports = append(c.ports, port)
	}
}

// WithTimeout bounds every device call. Zero disables the bound.
func WithTimeout(d time.Duration) InitOption {
	return func(c *config) {
		c.timeout = d
	}
}

// MaxPinAttempts sets how many rejected PINs are sent to the device within
// one authentication. Zero sends them all.
func MaxPinAttempts(n int) InitOption {
	return func(c *config) {
		c.maxPinAttempts = n
	}
}

// EventBuffer sets the per subscriber event queue length.
func EventBuffer(n int) InitOption {
	return func(c *config) {
		c.eventBuffer = n
	}
}

// LogWriter sets up writer for writing detailed debug logs.
func LogWriter(w io.Writer) InitOption {
	return func(c *config) {
		c.writer = w
	}
}

// New creates a Client. See InitOption documentation.
func New(options ...InitOption) (*Client, error) {
	cfg := defaultConfig // copy struct
	for _, option := range options {
		option(&cfg)
	}
	logger := logs.New(cfg.writer)

	bus, err := initBus(&cfg, logger)
	if err != nil {
		return nil, err
	}

	ch := events.NewChannel(cfg.eventBuffer)
	logger.Log("Creating core")
	c := core.New(bus, ch, cfg.timeout, logger)
	client := &Client{
		core:   c,
		events: ch,
		proto:  protocol.New(c, ch, cfg.maxPinAttempts, logger),
		logger: logger,
	}
	client.mu.Lock()
	client.snapshot()
	client.mu.Unlock()
	return client, nil
}

func initBus(cfg *config, logger *logs.Logger) (Bus, error) {
	buses := append([]Bus{}, cfg.buses...)

	if cfg.withUSB {
		logger.Log("Initing HID")
		h, err := usb.InitHID(logger)
		if err != nil {
			return nil, errors.Wrap(err, "hid")
		}
		buses = append(buses, h)
	}

	logger.Log(fmt.Sprintf("UDP port count - %d", len(cfg.ports)))
	if len(cfg.ports) > 0 {
		u, err := usb.InitUDP(cfg.ports, logger)
		if err != nil {
			return nil, err
		}
		buses = append(buses, u)
	}

	if len(buses) == 0 {
		return nil, errors.New("no transports enabled")
	}
	return usb.Init(buses...), nil
}
