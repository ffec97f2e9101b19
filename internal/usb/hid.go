package usb

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"

	"github.com/karalabe/usb"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/types"
)

const (
	hidPrefix    = "hid"
	hidIfaceNum  = 0
	hidUsagePage = 0xFF00
)

// HID finds Trezor devices through the platform HID stack.
type HID struct {
	mw *logs.Logger
}

func InitHID(mw *logs.Logger) (*HID, error) {
	if !usb.Supported() {
		return nil, errors.New("usb not supported on this platform")
	}
	return &HID{mw: mw}, nil
}

func (b *HID) Enumerate() ([]types.DeviceInfo, error) {
	b.mw.Log("enumerating")
	devs, err := usb.EnumerateHid(0, 0) // enumerate all devices
	if err != nil {
		return nil, err
	}
	var infos []types.DeviceInfo
	for _, dev := range devs {
		if t, ok := match(&dev); ok {
			infos = append(infos, types.DeviceInfo{
				Path:    identify(&dev),
				Vendor:  dev.VendorID,
				Product: dev.ProductID,
				Type:    t,
			})
		}
	}
	return infos, nil
}

func (b *HID) Has(path string) bool {
	return strings.HasPrefix(path, hidPrefix)
}

func (b *HID) Connect(path string) (core.USBDevice, error) {
	devs, err := usb.EnumerateHid(0, 0)
	if err != nil {
		return nil, err
	}
	for _, dev := range devs {
		if _, ok := match(&dev); !ok || identify(&dev) != path {
			continue
		}
		b.mw.Log("opening " + path)
		d, err := dev.Open()
		if err != nil {
			return nil, err
		}
		return &hidDevice{dev: d}, nil
	}
	return nil, ErrNotFound
}

func match(d *usb.DeviceInfo) (types.DeviceType, bool) {
	vid, pid := d.VendorID, d.ProductID
	iface := d.Interface == hidIfaceNum || d.UsagePage == hidUsagePage
	switch {
	case vid == types.VendorT1 && pid == types.ProductT1Firmware && iface:
		return types.TypeT1Hid, true
	case vid == types.VendorT2 && pid == types.ProductT2Firmware && iface:
		return types.TypeT2, true
	}
	return 0, false
}

// identify hashes the OS path so it is safe to hand out over HTTP.
func identify(dev *usb.DeviceInfo) string {
	digest := sha256.Sum256([]byte(dev.Path))
	return hidPrefix + hex.EncodeToString(digest[:])
}

type hidDevice struct {
	dev    usb.Device
	closed int32 // atomic
}

func (d *hidDevice) Close(disconnected bool) error {
	if !atomic.CompareAndSwapInt32(&d.closed, 0, 1) {
		return nil
	}
	return d.dev.Close()
}

func (d *hidDevice) Write(buf []byte) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	return d.dev.Write(buf)
}

func (d *hidDevice) Read(buf []byte) (int, error) {
	if atomic.LoadInt32(&d.closed) == 1 {
		return 0, errClosedDevice
	}
	return d.dev.Read(buf)
}
