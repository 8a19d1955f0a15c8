// Package eventbus is the in-process publish/subscribe channel between the scheduling
// components.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event wraps one Signal with its publish time.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers receive on buffered channels.
//   - A subscriber whose buffer is full misses the event; Dropped counts those misses.
type Event struct {
	Time   time.Time
	Signal Signal
}

type Bus interface {
	Publish(s Signal)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fan-out bus. It owns no goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}, now: time.Now}
}

// NewWithClock is New with a custom timestamp source.
func NewWithClock(now func() time.Time) *MemBus {
	b := New()
	if now != nil {
		b.now = now
	}
	return b
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
	now     func() time.Time
}

func (b *MemBus) Publish(s Signal) {
	if s == nil {
		return
	}
	e := Event{Time: b.now(), Signal: s}

	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch between the snapshot and the send.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Dropped is the number of deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers is the current subscriber count.
func (b *MemBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
