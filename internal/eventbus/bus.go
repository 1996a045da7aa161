// Package eventbus carries in-process notifications about the ingestion
// pipeline. Nothing on the bus is durable.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeEventRecorded   = "event.recorded"
	TypeEventRepeated   = "event.repeated"
	TypeNotifySent      = "notify.sent"
	TypeNotifyFailed    = "notify.failed"
	TypeNotifySkipped   = "notify.skipped"
	TypeMappingDropped  = "telegram.mapping_dropped"
	TypeMappingUpserted = "telegram.mapping_upserted"
)

const defaultBuffer = 8

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event and the miss is counted.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

func New() Bus { return &memBus{} }

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type subscriber struct {
	ch     chan Event
	closed bool
}

type memBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s.ch, func() { b.remove(s) }
}

// remove takes the write lock, so no Publish is mid-send when ch closes.
func (b *memBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

func (nopBus) Dropped() uint64 { return 0 }
