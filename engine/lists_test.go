package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListPushPopOrder(t *testing.T) {
	e, _, _ := newListsForTest(t)

	n, err := e.RPush([]byte("l"), bmembers("b", "c"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	n, err = e.LPush([]byte("l"), bmembers("a"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	v, err := e.LPop([]byte("l"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), v)

	v, err = e.RPop([]byte("l"))
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v)

	l, err := e.LLen([]byte("l"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), l)
}

func TestListMultiValueLPushOrder(t *testing.T) {
	e, _, _ := newListsForTest(t)

	// LPush a b c leaves c at the head, matching sequential prepends.
	_, err := e.LPush([]byte("l"), bmembers("a", "b", "c"))
	require.NoError(t, err)

	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestListPushx(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.LPushx([]byte("l"), []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.RPushx([]byte("l"), []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.RPush([]byte("l"), bmembers("a"))
	require.NoError(t, err)

	n, err := e.LPushx([]byte("l"), []byte("head"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestLRangeNegativeIndices(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "b", "c", "d"))
	require.NoError(t, err)

	got, err := e.LRange([]byte("l"), -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, got)

	got, err = e.LRange([]byte("l"), 2, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLIndexLSet(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "b", "c"))
	require.NoError(t, err)

	v, err := e.LIndex([]byte("l"), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), v)

	v, err = e.LIndex([]byte("l"), -1)
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), v)

	_, err = e.LIndex([]byte("l"), 7)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.LSet([]byte("l"), 1, []byte("B")))
	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "B", "c"}, got)

	assert.ErrorIs(t, e.LSet([]byte("l"), 9, []byte("x")), ErrCorruption)
}

func TestLInsert(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "c"))
	require.NoError(t, err)

	n, err := e.LInsert([]byte("l"), Before, []byte("c"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	n, err = e.LInsert([]byte("l"), After, []byte("c"), []byte("d"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = e.LInsert([]byte("l"), Before, []byte("a"), []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err = e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b", "c", "d"}, got)

	n, err = e.LInsert([]byte("l"), Before, []byte("missing"), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n)
}

func TestLRem(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("x", "a", "x", "b", "x"))
	require.NoError(t, err)

	n, err := e.LRem([]byte("l"), 1, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, _ := e.LRange([]byte("l"), 0, -1)
	assert.Equal(t, []string{"a", "x", "b", "x"}, got)

	n, err = e.LRem([]byte("l"), -1, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, _ = e.LRange([]byte("l"), 0, -1)
	assert.Equal(t, []string{"a", "x", "b"}, got)

	n, err = e.LRem([]byte("l"), 0, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	got, _ = e.LRange([]byte("l"), 0, -1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLTrim(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	require.NoError(t, e.LTrim([]byte("l"), 1, 3))
	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, got)

	l, err := e.LLen([]byte("l"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), l)
}

func TestListRevival(t *testing.T) {
	e, _, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "b"))
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("l")))

	_, err = e.LLen([]byte("l"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.RPush([]byte("l"), bmembers("fresh"))
	require.NoError(t, err)

	got, err := e.LRange([]byte("l"), 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, got, "no element leaks across incarnations")
}

func TestListExpiry(t *testing.T) {
	e, _, clk := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a"))
	require.NoError(t, err)
	require.NoError(t, e.Expire([]byte("l"), 1))

	clk.t += 2
	_, err = e.LLen([]byte("l"))
	assert.ErrorIs(t, err, ErrStale)
	_, err = e.LPop([]byte("l"))
	assert.ErrorIs(t, err, ErrStale)
}

func TestListCompactionReclaimsOrphans(t *testing.T) {
	e, store, _ := newListsForTest(t)

	_, err := e.RPush([]byte("l"), bmembers("a", "b", "c"))
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("l")))
	_, err = e.RPush([]byte("l"), bmembers("z"))
	require.NoError(t, err)

	require.Equal(t, 4, store.Len(dataCF))
	require.NoError(t, e.CompactAll())
	assert.Equal(t, 1, store.Len(dataCF))
}
