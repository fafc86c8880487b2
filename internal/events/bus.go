package events

import (
	"sync"
	"time"
)

const defaultBuffer = 128

// Bus fans events out to subscribers. Publishing never blocks: when a
// subscriber's buffer is full its oldest event is dropped, so a slow consumer
// always sees the most recent state even if it misses intermediate updates.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	nextSeq uint64
	closed  bool
}

// Subscription is one subscriber's receive side.
type Subscription struct {
	C <-chan Event

	ch  chan Event
	bus *Bus
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. buffer <= 0 selects the default.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		close(s.ch)
	}
}

// Publish stamps the event with a sequence number and timestamp and delivers
// it to every subscriber.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.nextSeq++
	evt.Sequence = b.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Buffer full: drop the oldest event, then retry once.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
