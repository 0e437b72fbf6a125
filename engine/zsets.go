package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/beyondbrewing/pebbledis/utils"
)

// ZSetsEngine implements the sorted-set type with two data column
// families: member_cf maps (key, version, member) to the encoded score,
// score_cf keys (key, version, score, member) with empty values so that
// rank and range queries ride the substrate's ordering.
type ZSetsEngine struct {
	collection
}

// NewZSetsEngine builds the sorted-set engine over store and registers
// its compaction filters on all three column families.
func NewZSetsEngine(store db.Store, log logger.Logger, opts EngineOptions) (*ZSetsEngine, error) {
	e := &ZSetsEngine{
		collection: collection{
			base:    newBase(ZSets, store, log, opts.StatisticsMaxSize),
			dataCFs: []string{memberCF, scoreCF},
		},
	}
	e.smallCompactionThreshold = opts.SmallCompactionThreshold
	e.notifyCompact = opts.NotifyCompact

	if err := store.SetCompactionFilter(db.DefaultColumnFamily, metaFilter()); err != nil {
		return nil, err
	}
	df := dataFilter(store, func() int64 { return e.now() })
	if err := store.SetCompactionFilter(memberCF, df); err != nil {
		return nil, err
	}
	if err := store.SetCompactionFilter(scoreCF, df); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the engine's caches.
func (e *ZSetsEngine) Close() {
	e.close()
}

// scoreKey builds the score_cf row key for one scored member.
func scoreKey(key []byte, version uint32, score float64, member []byte) []byte {
	suffix := append(codec.EncodeScore(score), member...)
	return codec.EncodeDataKey(key, version, suffix)
}

// splitScoreSuffix decodes the (score, member) tail of a score_cf key.
func splitScoreSuffix(suffix []byte) (float64, []byte, error) {
	score, err := codec.DecodeScore(suffix)
	if err != nil {
		return 0, nil, err
	}
	return score, suffix[8:], nil
}

// ZAdd inserts or updates scored members, creating or reviving the key
// as needed, and returns how many members were newly added. Duplicate
// input members keep the last score.
func (e *ZSetsEngine) ZAdd(key []byte, sms []ScoreMember) (int32, error) {
	if len(sms) == 0 {
		return 0, fmt.Errorf("%w: ZAdd invalid parameter, no members", ErrCorruption)
	}
	filtered := make([]ScoreMember, 0, len(sms))
	index := make(map[string]int, len(sms))
	for _, sm := range sms {
		if i, ok := index[sm.Member]; ok {
			filtered[i].Score = sm.Score
			continue
		}
		index[sm.Member] = len(filtered)
		filtered = append(filtered, sm)
	}

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	writeAll := func(version uint32) error {
		for _, sm := range filtered {
			member := []byte(sm.Member)
			if err := batch.Put(memberCF, codec.EncodeDataKey(key, version, member), codec.EncodeScore(sm.Score)); err != nil {
				return err
			}
			if err := batch.Put(scoreCF, scoreKey(key, version, sm.Score, member), nil); err != nil {
				return err
			}
		}
		return nil
	}

	var added int32
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	switch {
	case err == nil && (meta.IsStale(e.now()) || meta.IsEmpty()):
		version := meta.InitialMeta(e.now())
		meta.Count = uint32(len(filtered))
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
		if err := writeAll(version); err != nil {
			return 0, err
		}
		added = int32(len(filtered))

	case err == nil:
		version := meta.Version
		var cnt int32
		for _, sm := range filtered {
			member := []byte(sm.Member)
			memberKey := codec.EncodeDataKey(key, version, member)
			old, gerr := e.store.Get(memberCF, memberKey)
			switch {
			case gerr == nil:
				oldScore, derr := codec.DecodeScore(old)
				if derr != nil {
					return 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
				}
				if oldScore == sm.Score {
					continue
				}
				if err := batch.Delete(scoreCF, scoreKey(key, version, oldScore, member)); err != nil {
					return 0, err
				}
			case errors.Is(gerr, db.ErrKeyNotFound):
				cnt++
			default:
				return 0, gerr
			}
			if err := batch.Put(memberCF, memberKey, codec.EncodeScore(sm.Score)); err != nil {
				return 0, err
			}
			if err := batch.Put(scoreCF, scoreKey(key, version, sm.Score, member), nil); err != nil {
				return 0, err
			}
		}
		if cnt != 0 {
			meta.ModifyCount(cnt)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				return 0, err
			}
		}
		added = cnt

	case IsNotFound(err):
		fresh := codec.NewMeta(uint32(len(filtered)), e.now())
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return 0, err
		}
		if err := writeAll(fresh.Version); err != nil {
			return 0, err
		}
		added = int32(len(filtered))

	default:
		return 0, err
	}

	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

// ZCard returns the live member count.
func (e *ZSetsEngine) ZCard(key []byte) (int32, error) {
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}
	return int32(meta.Count), nil
}

// ZScore returns the member's score.
func (e *ZSetsEngine) ZScore(key, member []byte) (float64, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}

	raw, err := snap.Get(memberCF, codec.EncodeDataKey(key, meta.Version, member))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	score, derr := codec.DecodeScore(raw)
	if derr != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
	}
	return score, nil
}

// ZIncrby adds by to the member's score, creating member (and key) as
// needed, and returns the new score. Both data CFs update atomically.
func (e *ZSetsEngine) ZIncrby(key, member []byte, by float64) (float64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	score := by
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	alive := err == nil && !meta.IsStale(e.now()) && !meta.IsEmpty()
	if err != nil && !IsNotFound(err) {
		return 0, err
	}

	var version uint32
	switch {
	case alive:
		version = meta.Version
		memberKey := codec.EncodeDataKey(key, version, member)
		old, gerr := e.store.Get(memberCF, memberKey)
		switch {
		case gerr == nil:
			oldScore, derr := codec.DecodeScore(old)
			if derr != nil {
				return 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
			}
			score = oldScore + by
			if err := batch.Delete(scoreCF, scoreKey(key, version, oldScore, member)); err != nil {
				return 0, err
			}
		case errors.Is(gerr, db.ErrKeyNotFound):
			meta.ModifyCount(1)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				return 0, err
			}
		default:
			return 0, gerr
		}
	case err == nil:
		version = meta.InitialMeta(e.now())
		meta.Count = 1
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
	default:
		fresh := codec.NewMeta(1, e.now())
		version = fresh.Version
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return 0, err
		}
	}

	if err := batch.Put(memberCF, codec.EncodeDataKey(key, version, member), codec.EncodeScore(score)); err != nil {
		return 0, err
	}
	if err := batch.Put(scoreCF, scoreKey(key, version, score, member), nil); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return score, nil
}

// ZRem removes members and returns how many were present.
func (e *ZSetsEngine) ZRem(key []byte, members [][]byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	var cnt int32
	for _, member := range members {
		memberKey := codec.EncodeDataKey(key, meta.Version, member)
		old, gerr := e.store.Get(memberCF, memberKey)
		switch {
		case gerr == nil:
			oldScore, derr := codec.DecodeScore(old)
			if derr != nil {
				return 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
			}
			cnt++
			if err := batch.Delete(memberCF, memberKey); err != nil {
				return 0, err
			}
			if err := batch.Delete(scoreCF, scoreKey(key, meta.Version, oldScore, member)); err != nil {
				return 0, err
			}
		case errors.Is(gerr, db.ErrKeyNotFound):
		default:
			return 0, gerr
		}
	}

	meta.ModifyCount(-cnt)
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	e.updateKeyStatistics(string(key), uint64(cnt))
	return cnt, nil
}

// iterateScores walks the current incarnation's score CF in order.
func (e *ZSetsEngine) iterateScores(key []byte, visit func(score float64, member []byte) (stop bool, err error)) error {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(e.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	iter, err := snap.NewIterator(scoreCF)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.DataPrefix(key, meta.Version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, suffix, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		score, member, serr := splitScoreSuffix(suffix)
		if serr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, serr)
		}
		stop, verr := visit(score, member)
		if verr != nil {
			return verr
		}
		if stop {
			break
		}
	}
	return iter.Err()
}

// normalizeRange maps possibly negative start/stop onto [0, card).
func normalizeRange(start, stop, card int32) (int32, int32) {
	if start < 0 {
		start += card
	}
	if stop < 0 {
		stop += card
	}
	if start < 0 {
		start = 0
	}
	if stop >= card {
		stop = card - 1
	}
	return start, stop
}

// ZRange returns members ordered by score in positions [start, stop],
// with negative indices counted from the end.
func (e *ZSetsEngine) ZRange(key []byte, start, stop int32) ([]ScoreMember, error) {
	card, err := e.ZCard(key)
	if err != nil {
		return nil, err
	}
	start, stop = normalizeRange(start, stop, card)
	if start > stop {
		return nil, nil
	}

	var out []ScoreMember
	pos := int32(0)
	err = e.iterateScores(key, func(score float64, member []byte) (bool, error) {
		if pos > stop {
			return true, nil
		}
		if pos >= start {
			out = append(out, ScoreMember{Score: score, Member: string(member)})
		}
		pos++
		return false, nil
	})
	return out, err
}

// ZRevrange is ZRange from the high end.
func (e *ZSetsEngine) ZRevrange(key []byte, start, stop int32) ([]ScoreMember, error) {
	card, err := e.ZCard(key)
	if err != nil {
		return nil, err
	}
	// Positions counted from the tail map onto ZRange positions.
	fwd, werr := e.ZRange(key, 0, card-1)
	if werr != nil {
		return nil, werr
	}
	start, stop = normalizeRange(start, stop, card)
	if start > stop {
		return nil, nil
	}
	var out []ScoreMember
	for i := start; i <= stop && int(i) < len(fwd); i++ {
		out = append(out, fwd[len(fwd)-1-int(i)])
	}
	return out, nil
}

// ZRangebyscore returns members whose scores fall inside the given
// bounds.
func (e *ZSetsEngine) ZRangebyscore(key []byte, min, max float64, minInclusive, maxInclusive bool) ([]ScoreMember, error) {
	var out []ScoreMember
	err := e.iterateScores(key, func(score float64, member []byte) (bool, error) {
		if score > max || (score == max && !maxInclusive) {
			return true, nil
		}
		if score < min || (score == min && !minInclusive) {
			return false, nil
		}
		out = append(out, ScoreMember{Score: score, Member: string(member)})
		return false, nil
	})
	return out, err
}

// ZCount counts members whose scores fall inside the given bounds.
func (e *ZSetsEngine) ZCount(key []byte, min, max float64, minInclusive, maxInclusive bool) (int32, error) {
	sms, err := e.ZRangebyscore(key, min, max, minInclusive, maxInclusive)
	if err != nil {
		return 0, err
	}
	return int32(len(sms)), nil
}

// ZRank returns the member's ascending rank.
func (e *ZSetsEngine) ZRank(key, member []byte) (int32, error) {
	rank := int32(-1)
	pos := int32(0)
	err := e.iterateScores(key, func(_ float64, m []byte) (bool, error) {
		if bytes.Equal(m, member) {
			rank = pos
			return true, nil
		}
		pos++
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if rank < 0 {
		return 0, ErrNotFound
	}
	return rank, nil
}

// ZRevrank returns the member's descending rank.
func (e *ZSetsEngine) ZRevrank(key, member []byte) (int32, error) {
	card, err := e.ZCard(key)
	if err != nil {
		return 0, err
	}
	rank, err := e.ZRank(key, member)
	if err != nil {
		return 0, err
	}
	return card - 1 - rank, nil
}

// ZPopMin removes and returns up to count members from the low end.
func (e *ZSetsEngine) ZPopMin(key []byte, count int32) ([]ScoreMember, error) {
	return e.zpop(key, count, false)
}

// ZPopMax removes and returns up to count members from the high end.
func (e *ZSetsEngine) ZPopMax(key []byte, count int32) ([]ScoreMember, error) {
	return e.zpop(key, count, true)
}

func (e *ZSetsEngine) zpop(key []byte, count int32, fromMax bool) ([]ScoreMember, error) {
	if count <= 0 {
		return nil, nil
	}

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, err
	}
	if meta.IsStale(e.now()) {
		return nil, ErrStale
	}
	if meta.IsEmpty() {
		return nil, ErrNotFound
	}

	iter, err := e.store.NewIterator(scoreCF)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	batch := e.store.NewBatch()
	defer batch.Close()

	prefix := codec.DataPrefix(key, meta.Version)
	var out []ScoreMember

	advance := func() {
		if fromMax {
			iter.Prev()
		} else {
			iter.Next()
		}
	}
	if fromMax {
		// Last row of the prefix: one step back from the first key past it.
		upper := append(append([]byte(nil), prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		iter.SeekForPrev(upper)
	} else {
		iter.Seek(prefix)
	}

	for ; iter.Valid() && bytes.HasPrefix(iter.Key(), prefix) && int32(len(out)) < count; advance() {
		_, _, suffix, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		score, member, serr := splitScoreSuffix(suffix)
		if serr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, serr)
		}
		if err := batch.Delete(scoreCF, iter.Key()); err != nil {
			return nil, err
		}
		if err := batch.Delete(memberCF, codec.EncodeDataKey(key, meta.Version, member)); err != nil {
			return nil, err
		}
		out = append(out, ScoreMember{Score: score, Member: string(member)})
	}

	meta.ModifyCount(-int32(len(out)))
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	e.updateKeyStatistics(string(key), uint64(len(out)))
	return out, nil
}

// ZRangebylex returns members within the given lexicographic bounds;
// empty bounds are unbounded.
func (e *ZSetsEngine) ZRangebylex(key []byte, min, max string, minInclusive, maxInclusive bool) ([]string, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, err
	}
	if meta.IsStale(e.now()) {
		return nil, ErrStale
	}
	if meta.IsEmpty() {
		return nil, ErrNotFound
	}

	iter, err := snap.NewIterator(memberCF)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []string
	prefix := codec.DataPrefix(key, meta.Version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, member, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		m := string(member)
		if min != "" && (m < min || (m == min && !minInclusive)) {
			continue
		}
		if max != "" && (m > max || (m == max && !maxInclusive)) {
			break
		}
		out = append(out, m)
	}
	return out, iter.Err()
}

// collectWeighted gathers the weighted member scores of one input set at
// snapshot time.
func collectWeighted(snap db.Snapshot, kv keyVersion, weight float64) (map[string]float64, error) {
	iter, err := snap.NewIterator(memberCF)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[string]float64)
	prefix := codec.DataPrefix([]byte(kv.key), kv.version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, member, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		score, serr := codec.DecodeScore(iter.Value())
		if serr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, serr)
		}
		out[string(member)] = score * weight
	}
	return out, iter.Err()
}

func aggregate(agg Aggregate, a, b float64) float64 {
	switch agg {
	case AggregateMin:
		if b < a {
			return b
		}
		return a
	case AggregateMax:
		if b > a {
			return b
		}
		return a
	default:
		return a + b
	}
}

// ZUnionstore stores the weighted union of keys into destination and
// returns its cardinality. Missing weights default to 1.
func (e *ZSetsEngine) ZUnionstore(destination []byte, keys []string, weights []float64, agg Aggregate) (int32, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: ZUnionstore invalid parameter, no keys", ErrCorruption)
	}

	e.locks.Lock(string(destination))
	defer e.locks.Unlock(string(destination))

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	valid, _, err := validSets(snap, keys, 0, e.now(), false)
	if err != nil {
		return 0, err
	}

	weightOf := func(i int) float64 {
		if i < len(weights) {
			return weights[i]
		}
		return 1
	}
	// Map each pinned set back to its input position for its weight.
	position := make(map[string]int, len(keys))
	for i, k := range keys {
		if _, ok := position[k]; !ok {
			position[k] = i
		}
	}

	union := make(map[string]float64)
	for _, kv := range valid {
		scores, cerr := collectWeighted(snap, kv, weightOf(position[kv.key]))
		if cerr != nil {
			return 0, cerr
		}
		for member, score := range scores {
			if cur, ok := union[member]; ok {
				union[member] = aggregate(agg, cur, score)
			} else {
				union[member] = score
			}
		}
	}
	return e.storeScoreMembers(snap, destination, union)
}

// ZInterstore stores the weighted intersection of keys into destination.
func (e *ZSetsEngine) ZInterstore(destination []byte, keys []string, weights []float64, agg Aggregate) (int32, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: ZInterstore invalid parameter, no keys", ErrCorruption)
	}

	e.locks.Lock(string(destination))
	defer e.locks.Unlock(string(destination))

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	valid, invalid, err := validSets(snap, keys, 0, e.now(), true)
	if err != nil {
		return 0, err
	}
	if invalid || len(valid) != len(keys) {
		return e.storeScoreMembers(snap, destination, nil)
	}

	weightOf := func(i int) float64 {
		if i < len(weights) {
			return weights[i]
		}
		return 1
	}

	inter, err := collectWeighted(snap, valid[0], weightOf(0))
	if err != nil {
		return 0, err
	}
	for i, kv := range valid[1:] {
		scores, cerr := collectWeighted(snap, kv, weightOf(i+1))
		if cerr != nil {
			return 0, cerr
		}
		for member, cur := range inter {
			score, ok := scores[member]
			if !ok {
				delete(inter, member)
				continue
			}
			inter[member] = aggregate(agg, cur, score)
		}
	}
	return e.storeScoreMembers(snap, destination, inter)
}

// storeScoreMembers rewrites destination as a fresh incarnation holding
// the given scored members; the destination lock is already held.
func (e *ZSetsEngine) storeScoreMembers(snap db.Snapshot, destination []byte, scores map[string]float64) (int32, error) {
	batch := e.store.NewBatch()
	defer batch.Close()

	var statistic uint64
	var version uint32
	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, destination) })
	switch {
	case err == nil:
		statistic = uint64(meta.Count)
		version = meta.InitialMeta(e.now())
		meta.Count = uint32(len(scores))
		if err := batch.Put(db.DefaultColumnFamily, destination, meta.Encode()); err != nil {
			return 0, err
		}
	case IsNotFound(err):
		fresh := codec.NewMeta(uint32(len(scores)), e.now())
		version = fresh.Version
		if err := batch.Put(db.DefaultColumnFamily, destination, fresh.Encode()); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	for member, score := range scores {
		m := []byte(member)
		if err := batch.Put(memberCF, codec.EncodeDataKey(destination, version, m), codec.EncodeScore(score)); err != nil {
			return 0, err
		}
		if err := batch.Put(scoreCF, scoreKey(destination, version, score, m), nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	e.updateKeyStatistics(string(destination), statistic)
	return int32(len(scores)), nil
}

// ZScan resumes cursor iteration over members; see SScan for the cursor
// contract.
func (e *ZSetsEngine) ZScan(key []byte, cursor int64, pattern string, count int64) (sms []ScoreMember, nextCursor int64, err error) {
	if cursor < 0 {
		return nil, 0, nil
	}
	if count <= 0 {
		count = 10
	}

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, 0, err
	}
	defer snap.Close()

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, 0, err
	}
	if meta.IsStale(e.now()) || meta.IsEmpty() {
		return nil, 0, ErrNotFound
	}

	startPoint, ok := e.getScanStartPoint(key, pattern, cursor)
	if !ok {
		cursor = 0
		startPoint = utils.TailWildcardPrefix(pattern)
	}
	subMember := utils.TailWildcardPrefix(pattern)

	prefix := codec.EncodeDataKey(key, meta.Version, []byte(subMember))
	seekKey := codec.EncodeDataKey(key, meta.Version, []byte(startPoint))

	iter, err := snap.NewIterator(memberCF)
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	rest := count
	for iter.Seek(seekKey); iter.Valid() && rest > 0 && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, member, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		if utils.StringMatch(pattern, string(member)) {
			score, serr := codec.DecodeScore(iter.Value())
			if serr != nil {
				return nil, 0, fmt.Errorf("%w: %v", ErrCorruption, serr)
			}
			sms = append(sms, ScoreMember{Score: score, Member: string(member)})
		}
		rest--
	}

	if iter.Valid() && bytes.HasPrefix(iter.Key(), prefix) {
		nextCursor = cursor + count
		_, _, next, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		e.storeScanNextPoint(key, pattern, nextCursor, string(next))
	}
	return sms, nextCursor, iter.Err()
}
