// Package keylock serializes work per key using a fixed set of striped mutexes.
package keylock

import (
	"hash/fnv"
	"sync"
)

// Striped maps each key onto one of n mutexes. Distinct keys may share a
// stripe; the same key always maps to the same stripe.
type Striped struct {
	stripes []sync.Mutex
}

func New(n int) *Striped {
	if n <= 0 {
		n = 64
	}
	return &Striped{stripes: make([]sync.Mutex, n)}
}

func (s *Striped) pick(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	mu := s.pick(key)
	mu.Lock()
	return mu.Unlock
}
