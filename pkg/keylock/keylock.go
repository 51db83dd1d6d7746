// Package keylock serializes work per string key using a fixed set of
// striped mutexes.
package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Locker maps keys onto striped mutexes. Two keys may share a stripe, so a
// holder must never take a second key from the same Locker.
type Locker struct {
	stripes []sync.Mutex
}

// New returns a Locker with n stripes (64 when n <= 0).
func New(n int) *Locker {
	if n <= 0 {
		n = defaultStripes
	}
	return &Locker{stripes: make([]sync.Mutex, n)}
}

func (l *Locker) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.stripes[h.Sum32()%uint32(len(l.stripes))]
}

// Lock acquires the stripe for key and returns its release func.
func (l *Locker) Lock(key string) func() {
	m := l.stripe(key)
	m.Lock()
	return m.Unlock
}

// With runs fn while holding key.
func (l *Locker) With(key string, fn func() error) error {
	unlock := l.Lock(key)
	defer unlock()
	return fn()
}
