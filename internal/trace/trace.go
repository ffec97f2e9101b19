// Package trace records the device events of a session as a stream of
// CBOR records, so a protocol exchange can be inspected after the fact.
package trace

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/fxamacker/cbor/v2"

	"github.com/mbhd/hwclient-go/internal/message"
	"github.com/mbhd/hwclient-go/types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}
	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Record is one published event. Payload is the protobuf body of the
// event message, empty for lifecycle events.
type Record struct {
	Timestamp time.Time              `cbor:"1,keyasint"`
	Session   string                 `cbor:"2,keyasint,omitempty"`
	Event     types.MessageEventType `cbor:"3,keyasint"`
	Kind      uint16                 `cbor:"4,keyasint,omitempty"`
	Payload   []byte                 `cbor:"5,keyasint,omitempty"`
}

// Message decodes the payload; nil when the record has none.
func (r Record) Message() (types.Message, error) {
	if r.Payload == nil && r.Kind == 0 {
		return nil, nil
	}
	return message.Decode(&types.RawMessage{Kind: r.Kind, Data: r.Payload})
}

// Source publishes events.
type Source interface {
	Subscribe(ch chan<- types.MessageEvent) event.Subscription
}

// Recorder writes records to an underlying writer. It is safe for
// concurrent use.
type Recorder struct {
	session func() string
	closer  io.Closer

	mu      sync.Mutex
	encoder *cbor.Encoder
	closed  bool
}

// NewRecorder writes to w. session, if not nil, names the session of
// every record.
func NewRecorder(w io.Writer, session func() string) *Recorder {
	return &Recorder{
		session: session,
		encoder: encMode.NewEncoder(w),
	}
}

// Open appends to the trace file at path, creating it if needed.
func Open(path string, session func() string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	r := NewRecorder(f, session)
	r.closer = f
	return r, nil
}

func (r *Recorder) Record(ev types.MessageEvent) error {
	rec := Record{
		Timestamp: time.Now(),
		Event:     ev.Type,
	}
	if r.session != nil {
		rec.Session = r.session()
	}
	if ev.Message != nil {
		raw, err := message.Encode(ev.Message)
		if err != nil {
			return err
		}
		rec.Kind = raw.Kind
		rec.Payload = raw.Data
		if rec.Payload == nil {
			rec.Payload = []byte{}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	return r.encoder.Encode(rec)
}

// Follow records every event of src until the returned subscription is
// unsubscribed or src ends it.
func (r *Recorder) Follow(src Source) event.Subscription {
	ch := make(chan types.MessageEvent, 64)
	sub := src.Subscribe(ch)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-ch:
				// a broken trace must not stop the session
				_ = r.Record(ev)
			case err := <-sub.Err():
				for {
					select {
					case ev := <-ch:
						_ = r.Record(ev)
					default:
						return err
					}
				}
			case <-quit:
				return nil
			}
		}
	})
}

// Close stops recording. It is safe to call Close multiple times.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReadAll decodes every record of a trace.
func ReadAll(rd io.Reader) ([]Record, error) {
	dec := decMode.NewDecoder(rd)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
