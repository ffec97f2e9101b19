package usb

import (
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/internal/core"
	"github.com/mbhd/hwclient-go/types"
)

var (
	ErrNotFound = errors.New("device not found")

	errClosedDevice = errors.New("closed device")
)

// USB joins several buses into one; the first bus claiming a path
// connects it.
type USB struct {
	buses []core.USBBus
}

func Init(buses ...core.USBBus) *USB {
	return &USB{
		buses: buses,
	}
}

func (b *USB) Has(path string) bool {
	for _, b := range b.buses {
		if b.Has(path) {
			return true
		}
	}
	return false
}

func (b *USB) Enumerate() ([]types.DeviceInfo, error) {
	var infos []types.DeviceInfo

	for _, b := range b.buses {
		l, err := b.Enumerate()
		if err != nil {
			return nil, err
		}
		infos = append(infos, l...)
	}
	return infos, nil
}

func (b *USB) Connect(path string) (core.USBDevice, error) {
	for _, b := range b.buses {
		if b.Has(path) {
			return b.Connect(path)
		}
	}
	return nil, ErrNotFound
}
