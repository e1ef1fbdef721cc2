// Package keylock provides a striped mutex keyed by string, used to
// serialize read-merge-write cycles for the same entity identity while
// letting distinct identities proceed in parallel.
// This package is internal and should not be imported by external projects.
package keylock

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex maps keys onto a fixed set of mutex stripes. Two different
// keys may share a stripe; that only costs parallelism, never correctness.
type KeyedMutex struct {
	stripes []sync.Mutex
}

// New creates a KeyedMutex with the given number of stripes. Counts below
// one fall back to a single stripe.
func New(stripes int) *KeyedMutex {
	if stripes < 1 {
		stripes = 1
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (k *KeyedMutex) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &k.stripes[h.Sum32()%uint32(len(k.stripes))]
}

// Lock acquires the stripe for key and returns the unlock function.
func (k *KeyedMutex) Lock(key string) func() {
	m := k.stripe(key)
	m.Lock()
	return m.Unlock
}
