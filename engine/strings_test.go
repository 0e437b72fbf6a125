package engine

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringsSetGet(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = e.Get([]byte("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStringsSetexAndExpiry(t *testing.T) {
	e, _, clk := newStringsForTest(t)

	require.NoError(t, e.Setex([]byte("k"), []byte("v"), 10))
	ttl, err := e.TTL([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), ttl)

	clk.t += 11
	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrStale)

	assert.ErrorIs(t, e.Setex([]byte("k"), []byte("v"), 0), ErrInvalidArgument)
}

func TestStringsSetnx(t *testing.T) {
	e, _, clk := newStringsForTest(t)

	n, err := e.Setnx([]byte("k"), []byte("v1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	n, err = e.Setnx([]byte("k"), []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, int32(0), n)

	// A stale value no longer blocks.
	require.NoError(t, e.Setex([]byte("k2"), []byte("v"), 1))
	clk.t += 2
	n, err = e.Setnx([]byte("k2"), []byte("v2"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)
}

func TestStringsGetSet(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	old, err := e.GetSet([]byte("k"), []byte("new"))
	require.NoError(t, err)
	assert.Nil(t, old)

	old, err = e.GetSet([]byte("k"), []byte("newer"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), old)
}

func TestStringsAppendStrlen(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	n, err := e.Append([]byte("k"), []byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)

	n, err = e.Append([]byte("k"), []byte("bar"))
	require.NoError(t, err)
	assert.Equal(t, int32(6), n)

	l, err := e.Strlen([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int32(6), l)
}

func TestStringsIncrDecr(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	v, err := e.Incrby([]byte("n"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = e.Decrby([]byte("n"), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	require.NoError(t, e.Set([]byte("s"), []byte("not-a-number")))
	_, err = e.Incrby([]byte("s"), 1)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestStringsDel(t *testing.T) {
	e, store, _ := newStringsForTest(t)

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	require.NoError(t, e.Del([]byte("k")))
	assert.ErrorIs(t, e.Del([]byte("k")), ErrNotFound)
	assert.Equal(t, 0, store.Len("default"))
}

func TestStringsPersistAndExpire(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	require.NoError(t, e.Set([]byte("k"), []byte("v")))
	assert.ErrorIs(t, e.Persist([]byte("k")), ErrNoTimeout)

	require.NoError(t, e.Expire([]byte("k"), 100))
	require.NoError(t, e.Persist([]byte("k")))
	ttl, err := e.TTL([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl)

	// Non-positive expiry deletes.
	require.NoError(t, e.Expire([]byte("k"), 0))
	_, err = e.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStringsScanSkipsStale(t *testing.T) {
	e, _, clk := newStringsForTest(t)

	require.NoError(t, e.Set([]byte("live"), []byte("v")))
	require.NoError(t, e.Setex([]byte("dying"), []byte("v"), 1))
	clk.t += 5

	keys, err := e.ScanKeys("*")
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, keys)

	info, err := e.ScanKeyNum()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Keys)
	assert.Equal(t, uint64(1), info.InvalidKeys)
}

func TestStringsPKScanRange(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, e.Set([]byte(k), []byte("v-"+k)))
	}

	kvs, next, err := e.PKScanRange(nil, nil, "*", 2)
	require.NoError(t, err)
	require.Len(t, kvs, 2)
	assert.Equal(t, "a", kvs[0].Key)
	assert.Equal(t, "v-a", kvs[0].Value)
	assert.Equal(t, "c", next)

	rkvs, _, err := e.PKRScanRange(nil, nil, "*", 10)
	require.NoError(t, err)
	require.Len(t, rkvs, 3)
	assert.Equal(t, "c", rkvs[0].Key)
}

func TestStringsPKPatternMatchDel(t *testing.T) {
	e, _, _ := newStringsForTest(t)

	for _, k := range []string{"tmp:1", "tmp:2", "keep"} {
		require.NoError(t, e.Set([]byte(k), []byte("v")))
	}

	n, err := e.PKPatternMatchDel("tmp:*", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, err := e.ScanKeys("*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"keep"}, keys)
}

func TestStringsCompactDropsStale(t *testing.T) {
	e, store, clk := newStringsForTest(t)

	require.NoError(t, e.Setex([]byte("k"), []byte("v"), 1))
	clk.t += 2
	require.NoError(t, e.CompactAll())
	assert.Equal(t, 0, store.Len("default"))
}
