package events

import (
	"sync"
	"sync/atomic"
)

// Bus carries internal topics between background workers. Unlike Hub it is
// keyed by topic, not by user.
//
// Price ticks are latest-wins: a subscriber that falls behind loses its
// oldest queued tick, never the newest. Other topics drop the new message
// when the subscriber's buffer is full.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped map[Event]*atomic.Int64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Event][]chan any),
		dropped: map[Event]*atomic.Int64{
			EventPriceTick: new(atomic.Int64),
			EventRiskExit:  new(atomic.Int64),
		},
	}
}

// Subscribe registers a listener for a topic and returns the channel and an
// unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)
	if b.dropped[e] == nil {
		b.dropped[e] = new(atomic.Int64)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish hands payload to each subscriber of e.
func (b *Bus) Publish(e Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
			continue
		default:
		}
		b.dropped[e].Add(1)
		if e != EventPriceTick {
			continue
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- payload:
		default:
		}
	}
}

// Dropped returns how many messages on e were discarded for slow subscribers.
func (b *Bus) Dropped(e Event) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c := b.dropped[e]; c != nil {
		return c.Load()
	}
	return 0
}
