package message

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/types"
)

// A message travels as a run of fixed size reports. The first report opens
// with "?##", the kind and the body length; every following one opens with
// '?' alone. The last report is zero padded.
const (
	packetLen = 64
	headerLen = 9

	reportMarker = '?'
	headerMagic  = "?##"

	// MaxBodySize bounds the body length announced by a device.
	MaxBodySize = 1 << 20
)

var (
	ErrMalformedMessage = errors.New("malformed wire format")
	ErrBodyTooLarge     = errors.New("message body too large")
)

// Logger receives transport traces. *logs.Logger satisfies it.
type Logger interface {
	Logf(format string, args ...interface{})
}

// WriteToDevice frames m into reports and writes them to device one by
// one. It returns the number of body bytes sent.
func WriteToDevice(m *types.RawMessage, device io.Writer, logger Logger) (int64, error) {
	var rep [packetLen]byte
	copy(rep[:], headerMagic)
	binary.BigEndian.PutUint16(rep[3:], m.Kind)
	binary.BigEndian.PutUint32(rep[5:], uint32(len(m.Data)))

	body := m.Data
	n := copy(rep[headerLen:], body)
	sent := 0
	for reports := 1; ; reports++ {
		if _, err := device.Write(rep[:]); err != nil {
			return int64(sent), err
		}
		sent += n
		body = body[n:]
		if len(body) == 0 {
			if logger != nil {
				logger.Logf("wrote kind %d, %d bytes in %d reports", m.Kind, sent, reports)
			}
			return int64(sent), nil
		}

		rep = [packetLen]byte{reportMarker}
		n = copy(rep[1:], body)
	}
}

// ReadFromDevice reads reports from device until a whole message is
// assembled. Reports read before the first header are dropped, as they
// belong to an earlier exchange.
func ReadFromDevice(device io.Reader, logger Logger) (*types.RawMessage, error) {
	var rep [packetLen]byte

	skipped := 0
	for {
		if _, err := device.Read(rep[:]); err != nil {
			return nil, err
		}
		if string(rep[:len(headerMagic)]) == headerMagic {
			break
		}
		skipped++
	}
	if skipped > 0 && logger != nil {
		logger.Logf("skipped %d stale reports", skipped)
	}

	kind := binary.BigEndian.Uint16(rep[3:])
	size := binary.BigEndian.Uint32(rep[5:])
	if size > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	data := make([]byte, 0, int(size)+packetLen)
	data = append(data, rep[headerLen:]...)
	for uint32(len(data)) < size {
		if _, err := device.Read(rep[:]); err != nil {
			return nil, err
		}
		if rep[0] != reportMarker {
			return nil, ErrMalformedMessage
		}
		data = append(data, rep[1:]...)
	}
	if logger != nil {
		logger.Logf("read kind %d, %d bytes", kind, size)
	}

	return &types.RawMessage{
		Kind: kind,
		Data: data[:size],
	}, nil
}
