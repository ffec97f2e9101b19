package usb

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/types"
)

const (
	emulatorPrefix  = "emulator"
	emulatorNetwork = "udp"
	emulatorHost    = "127.0.0.1"
	pingTimeout     = 500 * time.Millisecond
)

var (
	emulatorPing = []byte("PINGPING")
	emulatorPong = []byte("PONGPONG")
)

// UDP finds Trezor emulators listening on local UDP ports.
type UDP struct {
	ports []int
	mw    *logs.Logger
}

func InitUDP(ports []int, mw *logs.Logger) (*UDP, error) {
	return &UDP{
		ports: ports,
		mw:    mw,
	}, nil
}

func (u *UDP) Enumerate() ([]types.DeviceInfo, error) {
	var infos []types.DeviceInfo
	for _, port := range u.ports {
		if u.ping(port) {
			infos = append(infos, types.DeviceInfo{
				Path: emulatorPrefix + strconv.Itoa(port),
				Type: types.TypeEmulator,
			})
		}
	}
	return infos, nil
}

func (u *UDP) Has(path string) bool {
	return strings.HasPrefix(path, emulatorPrefix)
}

func (u *UDP) Connect(path string) (core.USBDevice, error) {
	port, err := strconv.Atoi(strings.TrimPrefix(path, emulatorPrefix))
	if err != nil {
		return nil, ErrNotFound
	}
	conn, err := u.dial(port)
	if err != nil {
		return nil, err
	}
	return &udpDevice{conn: conn}, nil
}

func (u *UDP) dial(port int) (net.Conn, error) {
	return net.Dial(emulatorNetwork, net.JoinHostPort(emulatorHost, strconv.Itoa(port)))
}

// ping checks that an emulator answers on port.
func (u *UDP) ping(port int) bool {
	conn, err := u.dial(port)
	if err != nil {
		return false
	}
	defer conn.Close()

	if err = conn.SetDeadline(time.Now().Add(pingTimeout)); err != nil {
		return false
	}
	if _, err = conn.Write(emulatorPing); err != nil {
		return false
	}
	response := make([]byte, len(emulatorPong))
	if _, err = conn.Read(response); err != nil {
		u.mw.Log(fmt.Sprintf("no emulator on port %d", port))
		return false
	}
	return bytes.Equal(response, emulatorPong)
}

type udpDevice struct {
	conn   net.Conn
	closed int32 // atomic
}

func (d *udpDevice) Close(disconnected bool) error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	return d.conn.Close()
}

func (d *udpDevice) Write(buf []byte) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	return d.conn.Write(buf)
}

func (d *udpDevice) Read(buf []byte) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	return d.conn.Read(buf)
}
