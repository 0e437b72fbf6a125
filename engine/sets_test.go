package engine

import (
	"fmt"
	"sort"
	"testing"

	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSAddAndSMembers(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	n, err := e.SAdd([]byte("k"), bmembers("a", "b", "c", "b"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), n, "input duplicates count once")

	members, err := e.SMembers([]byte("k"))
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	card, err := e.SCard([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int32(len(members)), card)
}

func TestSAddExistingMembers(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b"))
	require.NoError(t, err)

	n, err := e.SAdd([]byte("k"), bmembers("b", "c"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n, "only c is new")

	card, err := e.SCard([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), card)
}

func TestSCardAbsentKey(t *testing.T) {
	e, _, _ := newSetsForTest(t)
	_, err := e.SCard([]byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSIsmember(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("x"))
	require.NoError(t, err)

	ok, err := e.SIsmember([]byte("k"), []byte("x"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.SIsmember([]byte("k"), []byte("y"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.SIsmember([]byte("absent"), []byte("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSRem(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b", "c"))
	require.NoError(t, err)

	n, err := e.SRem([]byte("k"), bmembers("a", "z"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	card, err := e.SCard([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), card)
}

// Revival: a deleted key starts a fresh incarnation that inherits no
// prior member.
func TestRevivalAfterDel(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b"))
	require.NoError(t, err)
	card, err := e.SCard([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, int32(2), card)

	require.NoError(t, e.Del([]byte("k")))

	_, err = e.SMembers([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.SCard([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.SIsmember([]byte("k"), []byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := e.SAdd([]byte("k"), bmembers("c"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	members, err := e.SMembers([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)

	card, err = e.SCard([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), card)
}

// TTL expiry: once the timestamp passes, reads fail Stale and TTL is -2.
func TestTTLExpiry(t *testing.T) {
	e, _, clk := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("x"))
	require.NoError(t, err)
	require.NoError(t, e.Expire([]byte("k"), 1))

	ttl, err := e.TTL([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), ttl)

	clk.t += 2

	_, err = e.SIsmember([]byte("k"), []byte("x"))
	assert.ErrorIs(t, err, ErrStale)
	assert.ErrorIs(t, err, ErrNotFound)

	ttl, err = e.TTL([]byte("k"))
	assert.Equal(t, int64(-2), ttl)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpireNonPositiveDeletes(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("x"))
	require.NoError(t, err)
	require.NoError(t, e.Expire([]byte("k"), -1))

	_, err = e.SMembers([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersist(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("x"))
	require.NoError(t, err)

	assert.ErrorIs(t, e.Persist([]byte("k")), ErrNoTimeout)

	require.NoError(t, e.Expire([]byte("k"), 100))
	require.NoError(t, e.Persist([]byte("k")))

	ttl, err := e.TTL([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), ttl)
}

func TestExpireat(t *testing.T) {
	e, _, clk := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("x"))
	require.NoError(t, err)
	require.NoError(t, e.Expireat([]byte("k"), clk.t+50))

	ttl, err := e.TTL([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, int64(50), ttl)

	require.NoError(t, e.Expireat([]byte("k"), 0))
	_, err = e.SCard([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSMove(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("s1"), bmembers("m"))
	require.NoError(t, err)

	n, err := e.SMove([]byte("s1"), []byte("s2"), []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	ok, err := e.SIsmember([]byte("s2"), []byte("m"))
	require.NoError(t, err)
	assert.True(t, ok)

	// Source became empty: membership reads NotFound.
	_, err = e.SIsmember([]byte("s1"), []byte("m"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSMoveSameKey(t *testing.T) {
	e, _, _ := newSetsForTest(t)
	n, err := e.SMove([]byte("s"), []byte("s"), []byte("m"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)
}

func TestSMoveMissingMember(t *testing.T) {
	e, _, _ := newSetsForTest(t)
	_, err := e.SAdd([]byte("s1"), bmembers("a"))
	require.NoError(t, err)

	_, err = e.SMove([]byte("s1"), []byte("s2"), []byte("zz"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSPop(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b", "c"))
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		member, _, err := e.SPop([]byte("k"))
		require.NoError(t, err)
		require.NotEmpty(t, member)
		assert.False(t, seen[member], "members pop at most once")
		seen[member] = true
	}

	_, _, err = e.SPop([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSPopCompactHeuristic(t *testing.T) {
	store := db.NewMockStore(memberCF)
	e, err := NewSetsEngine(store, logger.Nop(), EngineOptions{SpopCompactThresholdCount: 3})
	require.NoError(t, err)
	t.Cleanup(func() {
		e.Close()
		_ = store.Close()
	})
	e.now = (&fakeClock{t: testEpoch}).now

	_, err = e.SAdd([]byte("k"), bmembers("a", "b", "c", "d", "e"))
	require.NoError(t, err)

	var flagged bool
	for i := 0; i < 3; i++ {
		_, needCompact, err := e.SPop([]byte("k"))
		require.NoError(t, err)
		flagged = needCompact
	}
	assert.True(t, flagged, "third pop crosses the count threshold")

	// The counter was reset on the flag.
	_, needCompact, err := e.SPop([]byte("k"))
	require.NoError(t, err)
	assert.False(t, needCompact)
}

func TestSRandmember(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b", "c", "d"))
	require.NoError(t, err)

	members, err := e.SRandmember([]byte("k"), 2)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.NotEqual(t, members[0], members[1], "positive count gives distinct members")

	members, err = e.SRandmember([]byte("k"), 10)
	require.NoError(t, err)
	assert.Len(t, members, 4, "positive count caps at cardinality")

	members, err = e.SRandmember([]byte("k"), -7)
	require.NoError(t, err)
	assert.Len(t, members, 7, "negative count allows duplicates")

	members, err = e.SRandmember([]byte("k"), 0)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestSUnionInterDiff(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("a"), bmembers("1", "2", "3"))
	require.NoError(t, err)
	_, err = e.SAdd([]byte("b"), bmembers("2", "3", "4"))
	require.NoError(t, err)

	union, err := e.SUnion([]string{"a", "b"})
	require.NoError(t, err)
	sort.Strings(union)
	assert.Equal(t, []string{"1", "2", "3", "4"}, union)

	inter, err := e.SInter([]string{"a", "b"})
	require.NoError(t, err)
	sort.Strings(inter)
	assert.Equal(t, []string{"2", "3"}, inter)

	diff, err := e.SDiff([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, diff)
}

// SInter short-circuits to empty when any input is dead.
func TestSInterShortCircuit(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("a"), bmembers("x", "y"))
	require.NoError(t, err)
	_, err = e.SAdd([]byte("b"), bmembers("y"))
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("b")))

	inter, err := e.SInter([]string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, inter)
}

func TestSetOpsRejectEmptyKeys(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SUnion(nil)
	assert.ErrorIs(t, err, ErrCorruption)
	_, err = e.SInter(nil)
	assert.ErrorIs(t, err, ErrCorruption)
	_, err = e.SDiff(nil)
	assert.ErrorIs(t, err, ErrCorruption)
	_, err = e.SUnionstore([]byte("d"), nil)
	assert.ErrorIs(t, err, ErrCorruption)
}

func TestStoreVariantsReplaceDestination(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("a"), bmembers("1", "2"))
	require.NoError(t, err)
	_, err = e.SAdd([]byte("b"), bmembers("2", "3"))
	require.NoError(t, err)
	_, err = e.SAdd([]byte("dest"), bmembers("old-1", "old-2", "old-3"))
	require.NoError(t, err)

	n, err := e.SUnionstore([]byte("dest"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)

	members, err := e.SMembers([]byte("dest"))
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"1", "2", "3"}, members)

	n, err = e.SInterstore([]byte("dest"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	n, err = e.SDiffstore([]byte("dest"), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)
	members, err = e.SMembers([]byte("dest"))
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, members)
}

// Cursor resume stability: chunked SScan covers exactly SMembers.
func TestSScanResumeStability(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	var all []string
	for i := 0; i < 7; i++ {
		all = append(all, fmt.Sprintf("m%02d", i))
	}
	_, err := e.SAdd([]byte("k"), bmembers(all...))
	require.NoError(t, err)

	var scanned []string
	cursor := int64(0)
	for {
		members, next, err := e.SScan([]byte("k"), cursor, "*", 2)
		require.NoError(t, err)
		scanned = append(scanned, members...)
		if next == 0 {
			break
		}
		cursor = next
	}

	expected, err := e.SMembers([]byte("k"))
	require.NoError(t, err)
	sort.Strings(scanned)
	sort.Strings(expected)
	assert.Equal(t, expected, scanned)
}

func TestSScanTailWildcard(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("user:1", "user:2", "admin:1"))
	require.NoError(t, err)

	members, next, err := e.SScan([]byte("k"), 0, "user:*", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(0), next)
	sort.Strings(members)
	assert.Equal(t, []string{"user:1", "user:2"}, members)
}

// The length prefix keeps data rows of "ab" and "abc" disjoint.
func TestPrefixIsolationBetweenKeys(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("ab"), bmembers("m1"))
	require.NoError(t, err)
	_, err = e.SAdd([]byte("abc"), bmembers("m2", "m3"))
	require.NoError(t, err)

	members, err := e.SMembers([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, members)
}

// The compaction filter, run to convergence, removes every row whose
// version differs from the current meta version.
func TestCompactionFilterConvergence(t *testing.T) {
	e, store, _ := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a", "b"))
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("k")))
	_, err = e.SAdd([]byte("k"), bmembers("c"))
	require.NoError(t, err)

	// Orphans of the first incarnation are still physically present.
	require.Equal(t, 3, store.Len(memberCF))

	require.NoError(t, e.CompactAll())
	assert.Equal(t, 1, store.Len(memberCF), "version mismatch rows dropped")

	members, err := e.SMembers([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, members)

	// Deleting and compacting again reclaims everything, meta included.
	require.NoError(t, e.Del([]byte("k")))
	require.NoError(t, e.CompactAll())
	assert.Equal(t, 0, store.Len(db.DefaultColumnFamily))
	assert.Equal(t, 0, store.Len(memberCF))
}

func TestCompactionFilterDropsExpired(t *testing.T) {
	e, store, clk := newSetsForTest(t)

	_, err := e.SAdd([]byte("k"), bmembers("a"))
	require.NoError(t, err)
	require.NoError(t, e.Expire([]byte("k"), 1))
	clk.t += 5

	require.NoError(t, e.CompactAll())
	assert.Equal(t, 0, store.Len(memberCF), "stale data rows dropped")
}

func TestScanMetaKeys(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"k1", "k2", "k3", "dead"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}
	require.NoError(t, e.Del([]byte("dead")))

	count := int64(10)
	keys, next, finished, err := e.Scan("", "*", &count)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Empty(t, next)
	sort.Strings(keys)
	assert.Equal(t, []string{"k1", "k2", "k3"}, keys)
	assert.Equal(t, int64(7), count, "only live keys consume visits")
}

func TestScanResumes(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"a", "b", "c"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}

	count := int64(2)
	keys, next, finished, err := e.Scan("", "*", &count)
	require.NoError(t, err)
	assert.False(t, finished)
	assert.Equal(t, "c", next)
	assert.Equal(t, []string{"a", "b"}, keys)

	count = 2
	keys, _, finished, err = e.Scan(next, "*", &count)
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, []string{"c"}, keys)
}

func TestScanKeys(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"user:1", "user:2", "other"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}

	keys, err := e.ScanKeys("user:*")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"user:1", "user:2"}, keys)
}

func TestScanKeyNum(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"a", "b"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}
	require.NoError(t, e.Expire([]byte("b"), 100))
	_, err := e.SAdd([]byte("dead"), bmembers("m"))
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("dead")))

	info, err := e.ScanKeyNum()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.Keys)
	assert.Equal(t, uint64(1), info.Expires)
	assert.Equal(t, uint64(1), info.InvalidKeys)
	assert.Equal(t, uint64(100), info.AvgTTL)
}

func TestPKScanRange(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}

	keys, next, err := e.PKScanRange([]byte("a"), []byte("c"), "*", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
	assert.Equal(t, "c", next)

	keys, next, err = e.PKScanRange(nil, nil, "*", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, keys)
	assert.Empty(t, next)

	_, _, err = e.PKScanRange([]byte("z"), []byte("a"), "*", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPKRScanRange(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"a", "b", "c", "d"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}

	keys, next, err := e.PKRScanRange([]byte("d"), []byte("b"), "*", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c"}, keys)
	assert.Equal(t, "b", next)

	keys, _, err = e.PKRScanRange(nil, nil, "*", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, keys)

	_, _, err = e.PKRScanRange([]byte("a"), []byte("z"), "*", 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPKPatternMatchDel(t *testing.T) {
	e, _, _ := newSetsForTest(t)

	for _, k := range []string{"user:1", "user:2", "keep"} {
		_, err := e.SAdd([]byte(k), bmembers("m"))
		require.NoError(t, err)
	}

	n, err := e.PKPatternMatchDel("user:*", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = e.SCard([]byte("user:1"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.SCard([]byte("user:2"))
	assert.ErrorIs(t, err, ErrNotFound)
	card, err := e.SCard([]byte("keep"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), card)
}
