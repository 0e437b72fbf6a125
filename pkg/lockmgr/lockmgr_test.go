package lockmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerialisesSameKey(t *testing.T) {
	m := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Lock("key")
			counter++
			m.Unlock("key")
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, counter)
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	m := New()
	m.Lock("a")

	done := make(chan struct{})
	go func() {
		m.Lock("b")
		m.Unlock("b")
		close(done)
	}()
	<-done

	m.Unlock("a")
}

func TestLockMultiDeduplicates(t *testing.T) {
	m := New()
	// Duplicate keys must be acquired once; acquiring twice would
	// self-deadlock.
	m.LockMulti([]string{"x", "x", "y"})
	m.UnlockMulti([]string{"x", "x", "y"})

	// The keys are free again.
	m.Lock("x")
	m.Unlock("x")
	m.Lock("y")
	m.Unlock("y")
}

func TestLockMultiOpposingOrders(t *testing.T) {
	m := New()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys := []string{"a", "b", "c"}
			if i%2 == 0 {
				keys = []string{"c", "b", "a"}
			}
			m.LockMulti(keys)
			m.UnlockMulti(keys)
		}(i)
	}
	wg.Wait()
}

func TestEntriesReclaimed(t *testing.T) {
	m := New()
	m.Lock("gone")
	m.Unlock("gone")

	total := 0
	for i := range m.shards {
		m.shards[i].mu.Lock()
		total += len(m.shards[i].entries)
		m.shards[i].mu.Unlock()
	}
	assert.Zero(t, total)
}
