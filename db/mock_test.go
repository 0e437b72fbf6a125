package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStoreBasicOps(t *testing.T) {
	store := NewMockStore("extra")
	defer store.Close()

	require.NoError(t, store.Put(DefaultColumnFamily, []byte("k"), []byte("v")))
	got, err := store.Get(DefaultColumnFamily, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	ok, err := store.Has("extra", []byte("k"))
	require.NoError(t, err)
	assert.False(t, ok, "column families are disjoint")

	_, err = store.Get("missing-cf", []byte("k"))
	assert.ErrorIs(t, err, ErrColumnFamilyNotFound)

	require.NoError(t, store.Delete(DefaultColumnFamily, []byte("k")))
	_, err = store.Get(DefaultColumnFamily, []byte("k"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMockBatchAtomicity(t *testing.T) {
	store := NewMockStore("data")
	defer store.Close()

	batch := store.NewBatch()
	defer batch.Close()
	require.NoError(t, batch.Put(DefaultColumnFamily, []byte("meta"), []byte("m")))
	require.NoError(t, batch.Put("data", []byte("row"), []byte("r")))
	require.NoError(t, batch.Delete("data", []byte("nonexistent")))

	// Nothing lands before commit.
	_, err := store.Get(DefaultColumnFamily, []byte("meta"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, batch.Commit())
	_, err = store.Get(DefaultColumnFamily, []byte("meta"))
	assert.NoError(t, err)
	_, err = store.Get("data", []byte("row"))
	assert.NoError(t, err)
}

func TestMockSnapshotIsolation(t *testing.T) {
	store := NewMockStore()
	defer store.Close()

	require.NoError(t, store.Put(DefaultColumnFamily, []byte("k"), []byte("before")))

	snap, err := store.NewSnapshot()
	require.NoError(t, err)
	defer snap.Close()

	require.NoError(t, store.Put(DefaultColumnFamily, []byte("k"), []byte("after")))
	require.NoError(t, store.Put(DefaultColumnFamily, []byte("new"), []byte("x")))

	got, err := snap.Get(DefaultColumnFamily, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("before"), got)

	_, err = snap.Get(DefaultColumnFamily, []byte("new"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMockIteratorOrderAndSeek(t *testing.T) {
	store := NewMockStore()
	defer store.Close()

	for _, k := range []string{"b", "d", "a", "c"} {
		require.NoError(t, store.Put(DefaultColumnFamily, []byte(k), []byte(k)))
	}

	iter, err := store.NewIterator(DefaultColumnFamily)
	require.NoError(t, err)
	defer iter.Close()

	var keys []string
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)

	iter.Seek([]byte("bb"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("c"), iter.Key())

	iter.SeekForPrev([]byte("bb"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("b"), iter.Key())

	iter.SeekForPrev([]byte("c"))
	require.True(t, iter.Valid())
	assert.Equal(t, []byte("c"), iter.Key(), "SeekForPrev is inclusive")
}

func TestMockCompactRangeAppliesFilter(t *testing.T) {
	store := NewMockStore()
	defer store.Close()

	require.NoError(t, store.Put(DefaultColumnFamily, []byte("keep"), []byte("k")))
	require.NoError(t, store.Put(DefaultColumnFamily, []byte("drop"), []byte("d")))

	require.NoError(t, store.SetCompactionFilter(DefaultColumnFamily, func(key, value []byte) bool {
		return string(key) == "drop"
	}))
	require.NoError(t, store.CompactRange(DefaultColumnFamily, nil, nil))

	_, err := store.Get(DefaultColumnFamily, []byte("drop"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.Get(DefaultColumnFamily, []byte("keep"))
	assert.NoError(t, err)
}

func TestMockCompactRangeBounds(t *testing.T) {
	store := NewMockStore()
	defer store.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(DefaultColumnFamily, []byte(k), nil))
	}
	require.NoError(t, store.SetCompactionFilter(DefaultColumnFamily, func(key, value []byte) bool {
		return true
	}))
	// Only [a, c) is swept.
	require.NoError(t, store.CompactRange(DefaultColumnFamily, []byte("a"), []byte("c")))

	assert.Equal(t, 1, store.Len(DefaultColumnFamily))
	_, err := store.Get(DefaultColumnFamily, []byte("c"))
	assert.NoError(t, err)
}

func TestMockStoreClosed(t *testing.T) {
	store := NewMockStore()
	require.NoError(t, store.Close())

	_, err := store.Get(DefaultColumnFamily, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.Put(DefaultColumnFamily, []byte("k"), nil), ErrClosed)
	_, err = store.NewSnapshot()
	assert.ErrorIs(t, err, ErrClosed)
}
