// Package lockmgr serialises mutations per logical key. Locks are created
// on demand and reclaimed when the last holder releases, so idle keys cost
// nothing. Multi-key acquisition sorts keys by byte value first, which
// makes concurrent multi-key holders deadlock-free.
package lockmgr

import (
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type entry struct {
	mu   sync.Mutex
	refs int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// LockMgr is a sharded table of refcounted per-key mutexes.
type LockMgr struct {
	shards [shardCount]shard
}

// New creates an empty lock manager.
func New() *LockMgr {
	m := &LockMgr{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*entry)
	}
	return m
}

func (m *LockMgr) shardFor(key string) *shard {
	return &m.shards[xxhash.Sum64String(key)%shardCount]
}

// Lock acquires the mutex for key, blocking until it is available.
func (m *LockMgr) Lock(key string) {
	s := m.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the mutex for key and reclaims the entry if no other
// goroutine is waiting on it.
func (m *LockMgr) Unlock(key string) {
	s := m.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	e.mu.Unlock()
}

// LockMulti acquires the mutexes for all keys in canonical (sorted byte)
// order. Duplicate keys are acquired once.
func (m *LockMgr) LockMulti(keys []string) {
	for _, k := range sortedUnique(keys) {
		m.Lock(k)
	}
}

// UnlockMulti releases the mutexes taken by LockMulti. Release order is
// the reverse of acquisition.
func (m *LockMgr) UnlockMulti(keys []string) {
	su := sortedUnique(keys)
	for i := len(su) - 1; i >= 0; i-- {
		m.Unlock(su[i])
	}
}

func sortedUnique(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, k := range out {
		if i == 0 || k != out[i-1] {
			out[n] = k
			n++
		}
	}
	return out[:n]
}
