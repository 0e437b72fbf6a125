package engine

import (
	"github.com/dgraph-io/ristretto/v2"
)

// Capacities of the process-wide bounded caches.
const (
	cursorCacheCapacity = 5000
	spopCacheCapacity   = 1000
)

// kvCache is a bounded string-keyed cache. Entries may be evicted or
// rejected under pressure; every user of these caches tolerates loss
// (a lost cursor restarts iteration, a lost counter restarts a heuristic).
type kvCache[V any] struct {
	c *ristretto.Cache[string, V]
}

func newKVCache[V any](capacity int64) *kvCache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
	})
	if err != nil {
		// Only reachable with a broken config literal.
		panic(err)
	}
	return &kvCache[V]{c: c}
}

func (k *kvCache[V]) Get(key string) (V, bool) {
	return k.c.Get(key)
}

// Set stores the entry and waits for the write buffer to drain so an
// immediately following Get observes it.
func (k *kvCache[V]) Set(key string, value V) {
	k.c.Set(key, value, 1)
	k.c.Wait()
}

func (k *kvCache[V]) Del(key string) {
	k.c.Del(key)
	k.c.Wait()
}

func (k *kvCache[V]) Close() {
	k.c.Close()
}
