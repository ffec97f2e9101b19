package types

type DeviceType int

const (
	TypeT1Hid     DeviceType = 0
	TypeT2        DeviceType = 3
	TypeEmulator  DeviceType = 5
	TypeSimulator DeviceType = 6
)

func (t DeviceType) String() string {
	switch t {
	case TypeT1Hid:
		return "T1 (HID)"
	case TypeT2:
		return "T2"
	case TypeEmulator:
		return "emulator"
	case TypeSimulator:
		return "simulator"
	default:
		return "unknown"
	}
}

const (
	VendorT1          = uint16(0x534c)
	ProductT1Firmware = uint16(0x0001)
	VendorT2          = uint16(0x1209)
	ProductT2Firmware = uint16(0x53C1)
)

// DeviceInfo describes a device found on a bus, before any connection
// is made to it.
type DeviceInfo struct {
	Path    string     `json:"path"`
	Vendor  uint16     `json:"vendor"`
	Product uint16     `json:"product"`
	Type    DeviceType `json:"-"` // used only in status page, not in JSON
}

// RawMessage is a message as it crosses the transport: the wire kind
// and the protobuf encoded body.
type RawMessage struct {
	Kind uint16
	Data []byte
}
