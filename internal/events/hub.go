package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message is one state change delivered to a user's subscribers.
type Message struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers state changes to a user's live subscriptions.
type Publisher interface {
	Publish(userID string, t MessageType, payload any)
}

// Hub is a per-user subscription registry. Delivery is best-effort: a full
// subscriber buffer drops the message, and nothing is replayed.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	dropped atomic.Int64
	now     func() time.Time
}

type subscription struct {
	ch chan Message
}

// NewHub creates an empty registry.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[*subscription]struct{}),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a listener for userID. The returned func unsubscribes
// and closes the channel; calling it more than once is safe.
func (h *Hub) Subscribe(userID string, buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscription{ch: make(chan Message, buffer)}

	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[userID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, userID)
				}
			}
			close(s.ch)
		})
	}
	return s.ch, unsub
}

// Publish fans payload out to every subscription of userID without blocking.
func (h *Hub) Publish(userID string, t MessageType, payload any) {
	msg := Message{Type: t, Data: payload, Timestamp: h.now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[userID] {
		select {
		case s.ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Dropped returns how many messages were discarded on full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
