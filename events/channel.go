// Package events fans device events out to subscribers.
//
// Every subscriber owns a bounded queue. Publishing never blocks: a
// subscriber whose queue is full is dropped and its subscription fails
// with ErrSubscriberOverflow, while the device session carries on.
package events

import (
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"

	"github.com/mbhd/hwclient-go/types"
)

const DefaultBuffer = 64

var (
	ErrSubscriberOverflow = errors.New("event subscriber fell behind")
	ErrChannelClosed      = errors.New("event channel closed")
)

type subscriber struct {
	queue  chan types.MessageEvent
	end    chan struct{}
	endErr error
	once   sync.Once
}

func (s *subscriber) stop(err error) {
	s.once.Do(func() {
		s.endErr = err
		close(s.end)
	})
}

// Channel is safe for concurrent use. The zero value is not usable, use
// NewChannel.
type Channel struct {
	buffer int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewChannel creates a channel whose subscribers buffer up to buffer
// events each. buffer < 1 means DefaultBuffer.
func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Channel{
		buffer: buffer,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Subscribe delivers every event published from now on to ch, in
// publication order.
func (c *Channel) Subscribe(ch chan<- types.MessageEvent) event.Subscription {
	s := &subscriber{
		queue: make(chan types.MessageEvent, c.buffer),
		end:   make(chan struct{}),
	}
	c.mu.Lock()
	if c.closed {
		s.stop(ErrChannelClosed)
	} else {
		c.subs[s] = struct{}{}
	}
	c.mu.Unlock()

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer c.remove(s)
		for {
			// queued events go out before the end is reported
			select {
			case ev := <-s.queue:
				select {
				case ch <- ev:
					continue
				case <-quit:
					return nil
				}
			default:
			}
			select {
			case ev := <-s.queue:
				select {
				case ch <- ev:
				case <-quit:
					return nil
				}
			case <-s.end:
				return s.endErr
			case <-quit:
				return nil
			}
		}
	})
}

// Publish enqueues ev for every subscriber without blocking.
func (c *Channel) Publish(ev types.MessageEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		select {
		case s.queue <- ev:
		default:
			delete(c.subs, s)
			s.stop(ErrSubscriberOverflow)
		}
	}
}

// Len returns the number of live subscribers.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close ends every subscription after its queued events are delivered.
// Later subscriptions fail with ErrChannelClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for s := range c.subs {
		delete(c.subs, s)
		s.stop(nil)
	}
}

func (c *Channel) remove(s *subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, s)
}
