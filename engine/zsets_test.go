package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZAddZScoreZCard(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	n, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
		{Score: 3, Member: "a"}, // duplicate member: last score wins
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	score, err := e.ZScore([]byte("z"), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, float64(3), score)

	card, err := e.ZCard([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), card)

	// Updating a score adds no member.
	n, err = e.ZAdd([]byte("z"), []ScoreMember{{Score: 9, Member: "a"}})
	require.NoError(t, err)
	assert.Equal(t, int32(0), n)
	score, err = e.ZScore([]byte("z"), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, float64(9), score)
}

func TestZRangeOrdersByScore(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 3, Member: "c"},
		{Score: 1, Member: "a"},
		{Score: -2.5, Member: "neg"},
		{Score: 2, Member: "b"},
	})
	require.NoError(t, err)

	sms, err := e.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Len(t, sms, 4)
	assert.Equal(t, "neg", sms[0].Member)
	assert.Equal(t, "a", sms[1].Member)
	assert.Equal(t, "b", sms[2].Member)
	assert.Equal(t, "c", sms[3].Member)

	sms, err = e.ZRange([]byte("z"), 1, 2)
	require.NoError(t, err)
	require.Len(t, sms, 2)
	assert.Equal(t, "a", sms[0].Member)

	sms, err = e.ZRevrange([]byte("z"), 0, 1)
	require.NoError(t, err)
	require.Len(t, sms, 2)
	assert.Equal(t, "c", sms[0].Member)
	assert.Equal(t, "b", sms[1].Member)
}

func TestZRangebyscore(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
		{Score: 3, Member: "c"},
	})
	require.NoError(t, err)

	sms, err := e.ZRangebyscore([]byte("z"), 1, 3, false, false)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "b", sms[0].Member)

	sms, err = e.ZRangebyscore([]byte("z"), 1, 3, true, true)
	require.NoError(t, err)
	assert.Len(t, sms, 3)

	n, err := e.ZCount([]byte("z"), 2, 3, true, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)
}

func TestZIncrby(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	score, err := e.ZIncrby([]byte("z"), []byte("m"), 2.5)
	require.NoError(t, err)
	assert.Equal(t, 2.5, score)

	score, err = e.ZIncrby([]byte("z"), []byte("m"), -1)
	require.NoError(t, err)
	assert.Equal(t, 1.5, score)

	// The score index is updated atomically with the member row.
	sms, err := e.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, 1.5, sms[0].Score)
}

func TestZRankZRevrank(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
		{Score: 3, Member: "c"},
	})
	require.NoError(t, err)

	rank, err := e.ZRank([]byte("z"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), rank)

	rank, err = e.ZRevrank([]byte("z"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), rank)

	rank, err = e.ZRevrank([]byte("z"), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, int32(2), rank)

	_, err = e.ZRank([]byte("z"), []byte("zz"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZRem(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
	})
	require.NoError(t, err)

	n, err := e.ZRem([]byte("z"), bmembers("a", "zz"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	card, err := e.ZCard([]byte("z"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), card)

	sms, err := e.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "b", sms[0].Member)
}

func TestZPopMinMax(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
		{Score: 3, Member: "c"},
	})
	require.NoError(t, err)

	sms, err := e.ZPopMin([]byte("z"), 1)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "a", sms[0].Member)

	sms, err = e.ZPopMax([]byte("z"), 2)
	require.NoError(t, err)
	require.Len(t, sms, 2)
	assert.Equal(t, "c", sms[0].Member)
	assert.Equal(t, "b", sms[1].Member)

	_, err = e.ZCard([]byte("z"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestZUnionstore(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z1"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
	})
	require.NoError(t, err)
	_, err = e.ZAdd([]byte("z2"), []ScoreMember{
		{Score: 10, Member: "b"},
		{Score: 20, Member: "c"},
	})
	require.NoError(t, err)

	n, err := e.ZUnionstore([]byte("dest"), []string{"z1", "z2"}, nil, AggregateSum)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)

	score, err := e.ZScore([]byte("dest"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, float64(12), score)

	// Weights scale per input; MAX keeps the larger weighted score.
	n, err = e.ZUnionstore([]byte("dest"), []string{"z1", "z2"}, []float64{3, 1}, AggregateMax)
	require.NoError(t, err)
	assert.Equal(t, int32(3), n)
	score, err = e.ZScore([]byte("dest"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, float64(10), score, "max(3*2, 1*10)")
}

func TestZInterstore(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z1"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
	})
	require.NoError(t, err)
	_, err = e.ZAdd([]byte("z2"), []ScoreMember{
		{Score: 10, Member: "b"},
		{Score: 20, Member: "c"},
	})
	require.NoError(t, err)

	n, err := e.ZInterstore([]byte("dest"), []string{"z1", "z2"}, nil, AggregateMin)
	require.NoError(t, err)
	assert.Equal(t, int32(1), n)

	score, err := e.ZScore([]byte("dest"), []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, float64(2), score, "min(2, 10)")

	// One dead input empties the intersection.
	require.NoError(t, e.Del([]byte("z2")))
	n, err = e.ZInterstore([]byte("dest"), []string{"z1", "z2"}, nil, AggregateSum)
	require.NoError(t, err)
	assert.Equal(t, int32(0), n)
}

func TestZRangebylex(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 0, Member: "apple"},
		{Score: 0, Member: "banana"},
		{Score: 0, Member: "cherry"},
	})
	require.NoError(t, err)

	members, err := e.ZRangebylex([]byte("z"), "apple", "cherry", true, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "banana"}, members)

	members, err = e.ZRangebylex([]byte("z"), "", "", true, true)
	require.NoError(t, err)
	assert.Len(t, members, 3)
}

func TestZScan(t *testing.T) {
	e, _, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "m1"},
		{Score: 2, Member: "m2"},
		{Score: 3, Member: "m3"},
	})
	require.NoError(t, err)

	var got []ScoreMember
	cursor := int64(0)
	for {
		sms, next, err := e.ZScan([]byte("z"), cursor, "*", 2)
		require.NoError(t, err)
		got = append(got, sms...)
		if next == 0 {
			break
		}
		cursor = next
	}
	assert.Len(t, got, 3)
}

func TestZSetRevivalAndCompaction(t *testing.T) {
	e, store, _ := newZSetsForTest(t)

	_, err := e.ZAdd([]byte("z"), []ScoreMember{
		{Score: 1, Member: "a"},
		{Score: 2, Member: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, e.Del([]byte("z")))

	_, err = e.ZAdd([]byte("z"), []ScoreMember{{Score: 5, Member: "c"}})
	require.NoError(t, err)

	sms, err := e.ZRange([]byte("z"), 0, -1)
	require.NoError(t, err)
	require.Len(t, sms, 1)
	assert.Equal(t, "c", sms[0].Member)

	require.Equal(t, 3, store.Len(memberCF))
	require.Equal(t, 3, store.Len(scoreCF))
	require.NoError(t, e.CompactAll())
	assert.Equal(t, 1, store.Len(memberCF))
	assert.Equal(t, 1, store.Len(scoreCF))
}
