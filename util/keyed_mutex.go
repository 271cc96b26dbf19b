package util

import (
	"sync"

	"github.com/spaolacci/murmur3"
)

const DEFAULT_LOCK_STRIPES = 256

// KeyedMutex serializes work per key over a fixed set of stripes. Two keys may
// share a stripe, so callers must never hold one key's lock while taking another.
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes <= 0 {
		stripes = DEFAULT_LOCK_STRIPES
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (km *KeyedMutex) stripe(key string) *sync.Mutex {
	h := murmur3.Sum32([]byte(key))
	return &km.stripes[h%uint32(len(km.stripes))]
}

func (km *KeyedMutex) Lock(key string) func() {
	mu := km.stripe(key)
	mu.Lock()
	return mu.Unlock
}
