package engine

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/beyondbrewing/pebbledis/utils"
)

// spopWindow bounds how far into the member prefix SPop samples.
const spopWindow = 50

// SetsEngine implements the set type. Members are data rows with empty
// values; the row key embeds the meta row's current version, which is the
// sole mechanism isolating live members from tombstoned incarnations.
type SetsEngine struct {
	collection

	spopCounts          *kvCache[uint64]
	spopCompactCount    uint64
	spopCompactDuration time.Duration
}

// NewSetsEngine builds the set engine over store and registers its
// compaction filters.
func NewSetsEngine(store db.Store, log logger.Logger, opts EngineOptions) (*SetsEngine, error) {
	e := &SetsEngine{
		collection: collection{
			base:    newBase(Sets, store, log, opts.StatisticsMaxSize),
			dataCFs: []string{memberCF},
		},
		spopCounts:          newKVCache[uint64](spopCacheCapacity),
		spopCompactCount:    opts.SpopCompactThresholdCount,
		spopCompactDuration: opts.SpopCompactThresholdDuration,
	}
	e.smallCompactionThreshold = opts.SmallCompactionThreshold
	e.notifyCompact = opts.NotifyCompact

	if err := store.SetCompactionFilter(db.DefaultColumnFamily, metaFilter()); err != nil {
		return nil, err
	}
	if err := store.SetCompactionFilter(memberCF, dataFilter(store, func() int64 { return e.now() })); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the engine's caches. The store is owned by the caller.
func (e *SetsEngine) Close() {
	e.spopCounts.Close()
	e.close()
}

// SAdd inserts members, creating or reviving the key as needed, and
// returns how many were newly added. Input duplicates count once.
func (e *SetsEngine) SAdd(key []byte, members [][]byte) (int32, error) {
	filtered := dedupMembers(members)

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	var added int32
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	switch {
	case err == nil && (meta.IsStale(e.now()) || meta.IsEmpty()):
		// Dead incarnation: bump the version and rebuild from scratch.
		// The orphaned rows of the old incarnation are left for GC.
		version := meta.InitialMeta(e.now())
		meta.Count = uint32(len(filtered))
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
		for _, member := range filtered {
			if err := batch.Put(memberCF, codec.EncodeDataKey(key, version, member), nil); err != nil {
				return 0, err
			}
		}
		added = int32(len(filtered))

	case err == nil:
		// Alive: probe each member and write only the new ones.
		var cnt int32
		for _, member := range filtered {
			memberKey := codec.EncodeDataKey(key, meta.Version, member)
			_, gerr := e.store.Get(memberCF, memberKey)
			switch {
			case gerr == nil:
			case errors.Is(gerr, db.ErrKeyNotFound):
				cnt++
				if err := batch.Put(memberCF, memberKey, nil); err != nil {
					return 0, err
				}
			default:
				return 0, gerr
			}
		}
		if cnt == 0 {
			return 0, nil
		}
		meta.ModifyCount(cnt)
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
		added = cnt

	case IsNotFound(err):
		fresh := codec.NewMeta(uint32(len(filtered)), e.now())
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return 0, err
		}
		for _, member := range filtered {
			if err := batch.Put(memberCF, codec.EncodeDataKey(key, fresh.Version, member), nil); err != nil {
				return 0, err
			}
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

// SCard returns the live member count.
func (e *SetsEngine) SCard(key []byte) (int32, error) {
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

// SIsmember reports membership under a snapshot.
func (e *SetsEngine) SIsmember(key, member []byte) (bool, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return false, err
	}
	defer snap.Close()

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return false, err
	}
	if meta.IsStale(e.now()) {
		return false, ErrStale
	}
	if meta.IsEmpty() {
		return false, ErrNotFound
	}

	_, err = snap.Get(memberCF, codec.EncodeDataKey(key, meta.Version, member))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, db.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// SMembers returns every member of the current incarnation.
func (e *SetsEngine) SMembers(key []byte) ([]string, error) {
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

	var members []string
	prefix := codec.DataPrefix(key, meta.Version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, member, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		members = append(members, string(member))
	}
	return members, iter.Err()
}

// SRem deletes the given members and returns how many were present.
func (e *SetsEngine) SRem(key []byte, members [][]byte) (int32, error) {
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
		_, gerr := e.store.Get(memberCF, memberKey)
		switch {
		case gerr == nil:
			cnt++
			if err := batch.Delete(memberCF, memberKey); err != nil {
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

// SPop removes and returns a pseudo-random member sampled from the first
// min(count, 50) rows of the current version. needCompact asks the
// dispatcher to schedule a targeted compaction: repeated pops otherwise
// degrade to O(tombstones) as deleted rows pile up ahead of the prefix.
func (e *SetsEngine) SPop(key []byte) (member string, needCompact bool, err error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	start := time.Now()

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return "", false, err
	}
	if meta.IsStale(e.now()) {
		return "", false, ErrStale
	}
	if meta.IsEmpty() {
		return "", false, ErrNotFound
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	size := int32(meta.Count)
	window := size
	if window > spopWindow {
		window = spopWindow
	}
	target := rand.Int32N(window)

	iter, err := e.store.NewIterator(memberCF)
	if err != nil {
		return "", false, err
	}

	prefix := codec.DataPrefix(key, meta.Version)
	cur := int32(0)
	for iter.Seek(prefix); iter.Valid() && cur < size; iter.Next() {
		if cur == target {
			if err := batch.Delete(memberCF, iter.Key()); err != nil {
				iter.Close()
				return "", false, err
			}
			_, _, m, derr := codec.DecodeDataKey(iter.Key())
			if derr != nil {
				iter.Close()
				return "", false, fmt.Errorf("%w: %v", ErrCorruption, derr)
			}
			member = string(m)
			meta.ModifyCount(-1)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				iter.Close()
				return "", false, err
			}
			break
		}
		cur++
	}
	iter.Close()

	count := e.addAndGetSpopCount(string(key))
	if (e.spopCompactDuration > 0 && time.Since(start) >= e.spopCompactDuration) ||
		(e.spopCompactCount > 0 && count >= e.spopCompactCount) {
		needCompact = true
		e.spopCounts.Del(string(key))
	}

	if err := batch.Commit(); err != nil {
		return "", false, err
	}
	return member, needCompact, nil
}

func (e *SetsEngine) addAndGetSpopCount(key string) uint64 {
	old, _ := e.spopCounts.Get(key)
	e.spopCounts.Set(key, old+1)
	return old + 1
}

// SRandmember returns count distinct random members (positive count) or
// |count| members with possible duplicates (negative count). Positions
// are sampled, sorted, collected in one prefix walk, then shuffled.
func (e *SetsEngine) SRandmember(key []byte, count int32) ([]string, error) {
	if count == 0 {
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

	size := int32(meta.Count)
	var targets []int32
	if count > 0 {
		if count > size {
			count = size
		}
		unique := make(map[int32]struct{}, count)
		for int32(len(targets)) < count {
			pos := rand.Int32N(size)
			if _, ok := unique[pos]; !ok {
				unique[pos] = struct{}{}
				targets = append(targets, pos)
			}
		}
	} else {
		count = -count
		for int32(len(targets)) < count {
			targets = append(targets, rand.Int32N(size))
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	iter, err := e.store.NewIterator(memberCF)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var members []string
	prefix := codec.DataPrefix(key, meta.Version)
	cur, idx := int32(0), 0
	for iter.Seek(prefix); iter.Valid() && cur < size && idx < len(targets); iter.Next() {
		_, _, m, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		for idx < len(targets) && cur == targets[idx] {
			idx++
			members = append(members, string(m))
		}
		cur++
	}
	rand.Shuffle(len(members), func(i, j int) {
		members[i], members[j] = members[j], members[i]
	})
	return members, iter.Err()
}

// SMove atomically moves member from source to destination. Both record
// locks are taken in canonical order; both mutations share one batch.
func (e *SetsEngine) SMove(source, destination, member []byte) (int32, error) {
	keys := []string{string(source), string(destination)}
	e.locks.LockMulti(keys)
	defer e.locks.UnlockMulti(keys)

	if bytes.Equal(source, destination) {
		return 1, nil
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	srcMeta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, source) })
	if err != nil {
		return 0, err
	}
	if srcMeta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if srcMeta.IsEmpty() {
		return 0, ErrNotFound
	}

	srcMemberKey := codec.EncodeDataKey(source, srcMeta.Version, member)
	if _, err := e.store.Get(memberCF, srcMemberKey); err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	srcMeta.ModifyCount(-1)
	if err := batch.Put(db.DefaultColumnFamily, source, srcMeta.Encode()); err != nil {
		return 0, err
	}
	if err := batch.Delete(memberCF, srcMemberKey); err != nil {
		return 0, err
	}

	dstMeta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, destination) })
	switch {
	case err == nil && (dstMeta.IsStale(e.now()) || dstMeta.IsEmpty()):
		version := dstMeta.InitialMeta(e.now())
		dstMeta.Count = 1
		if err := batch.Put(db.DefaultColumnFamily, destination, dstMeta.Encode()); err != nil {
			return 0, err
		}
		if err := batch.Put(memberCF, codec.EncodeDataKey(destination, version, member), nil); err != nil {
			return 0, err
		}

	case err == nil:
		dstMemberKey := codec.EncodeDataKey(destination, dstMeta.Version, member)
		_, gerr := e.store.Get(memberCF, dstMemberKey)
		switch {
		case errors.Is(gerr, db.ErrKeyNotFound):
			dstMeta.ModifyCount(1)
			if err := batch.Put(db.DefaultColumnFamily, destination, dstMeta.Encode()); err != nil {
				return 0, err
			}
			if err := batch.Put(memberCF, dstMemberKey, nil); err != nil {
				return 0, err
			}
		case gerr != nil:
			return 0, gerr
		}

	case IsNotFound(err):
		fresh := codec.NewMeta(1, e.now())
		if err := batch.Put(db.DefaultColumnFamily, destination, fresh.Encode()); err != nil {
			return 0, err
		}
		if err := batch.Put(memberCF, codec.EncodeDataKey(destination, fresh.Version, member), nil); err != nil {
			return 0, err
		}

	default:
		return 0, err
	}

	if err := batch.Commit(); err != nil {
		return 0, err
	}
	e.updateKeyStatistics(string(source), 1)
	return 1, nil
}

// keyVersion pins one input set to the incarnation seen at snapshot time.
type keyVersion struct {
	key     string
	version uint32
}

// validSets resolves the live inputs among keys[from:]. When requireAll
// is set (SInter), one dead or absent key short-circuits.
func validSets(snap db.Snapshot, keys []string, from int, now int64, requireAll bool) ([]keyVersion, bool, error) {
	var valid []keyVersion
	for _, k := range keys[from:] {
		meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, []byte(k)) })
		switch {
		case err == nil && !meta.IsStale(now) && !meta.IsEmpty():
			valid = append(valid, keyVersion{key: k, version: meta.Version})
		case err == nil || IsNotFound(err):
			if requireAll {
				return nil, true, nil
			}
		default:
			return nil, false, err
		}
	}
	return valid, false, nil
}

// iterateMembers walks one set's member prefix under the snapshot.
func iterateMembers(snap db.Snapshot, kv keyVersion, visit func(member []byte) error) error {
	iter, err := snap.NewIterator(memberCF)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.DataPrefix([]byte(kv.key), kv.version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, member, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		if err := visit(member); err != nil {
			return err
		}
	}
	return iter.Err()
}

// memberIn point-reads membership of one pinned set under the snapshot.
func memberIn(snap db.Snapshot, kv keyVersion, member []byte) (bool, error) {
	_, err := snap.Get(memberCF, codec.EncodeDataKey([]byte(kv.key), kv.version, member))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, db.ErrKeyNotFound) {
		return false, nil
	}
	return false, err
}

// SDiff returns members of keys[0] present in none of keys[1:].
func (e *SetsEngine) SDiff(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: SDiff invalid parameter, no keys", ErrCorruption)
	}

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	return e.diffMembers(snap, keys)
}

func (e *SetsEngine) diffMembers(snap db.Snapshot, keys []string) ([]string, error) {
	now := e.now()
	valid, _, err := validSets(snap, keys, 1, now, false)
	if err != nil {
		return nil, err
	}

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, []byte(keys[0])) })
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if meta.IsStale(now) || meta.IsEmpty() {
		return nil, nil
	}

	var members []string
	first := keyVersion{key: keys[0], version: meta.Version}
	err = iterateMembers(snap, first, func(member []byte) error {
		for _, kv := range valid {
			found, ferr := memberIn(snap, kv, member)
			if ferr != nil {
				return ferr
			}
			if found {
				return nil
			}
		}
		members = append(members, string(member))
		return nil
	})
	return members, err
}

// SDiffstore materialises SDiff into destination, replacing any prior
// incarnation with a version bump.
func (e *SetsEngine) SDiffstore(destination []byte, keys []string) (int32, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: SDiffstore invalid parameter, no keys", ErrCorruption)
	}

	e.locks.Lock(string(destination))
	defer e.locks.Unlock(string(destination))

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	members, err := e.diffMembers(snap, keys)
	if err != nil {
		return 0, err
	}
	return e.storeMembers(snap, destination, members)
}

// SInter returns the intersection of all keys; one absent or dead input
// short-circuits to empty.
func (e *SetsEngine) SInter(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: SInter invalid parameter, no keys", ErrCorruption)
	}

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	return e.interMembers(snap, keys)
}

func (e *SetsEngine) interMembers(snap db.Snapshot, keys []string) ([]string, error) {
	now := e.now()
	valid, invalid, err := validSets(snap, keys, 1, now, true)
	if err != nil {
		return nil, err
	}
	if invalid {
		return nil, nil
	}

	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, []byte(keys[0])) })
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if meta.IsStale(now) || meta.IsEmpty() {
		return nil, nil
	}

	var members []string
	first := keyVersion{key: keys[0], version: meta.Version}
	err = iterateMembers(snap, first, func(member []byte) error {
		for _, kv := range valid {
			found, ferr := memberIn(snap, kv, member)
			if ferr != nil {
				return ferr
			}
			if !found {
				return nil
			}
		}
		members = append(members, string(member))
		return nil
	})
	return members, err
}

// SInterstore materialises SInter into destination.
func (e *SetsEngine) SInterstore(destination []byte, keys []string) (int32, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: SInterstore invalid parameter, no keys", ErrCorruption)
	}

	e.locks.Lock(string(destination))
	defer e.locks.Unlock(string(destination))

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	members, err := e.interMembers(snap, keys)
	if err != nil {
		return 0, err
	}
	return e.storeMembers(snap, destination, members)
}

// SUnion returns the deduplicated union of all keys; absent inputs are
// skipped.
func (e *SetsEngine) SUnion(keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: SUnion invalid parameter, no keys", ErrCorruption)
	}

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	return e.unionMembers(snap, keys)
}

func (e *SetsEngine) unionMembers(snap db.Snapshot, keys []string) ([]string, error) {
	valid, _, err := validSets(snap, keys, 0, e.now(), false)
	if err != nil {
		return nil, err
	}

	var members []string
	seen := make(map[string]struct{})
	for _, kv := range valid {
		err := iterateMembers(snap, kv, func(member []byte) error {
			m := string(member)
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				members = append(members, m)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return members, nil
}

// SUnionstore materialises SUnion into destination.
func (e *SetsEngine) SUnionstore(destination []byte, keys []string) (int32, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: SUnionstore invalid parameter, no keys", ErrCorruption)
	}

	e.locks.Lock(string(destination))
	defer e.locks.Unlock(string(destination))

	snap, err := e.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	members, err := e.unionMembers(snap, keys)
	if err != nil {
		return 0, err
	}
	return e.storeMembers(snap, destination, members)
}

// storeMembers rewrites destination as a fresh incarnation holding
// members; the destination lock is already held. The size of any prior
// incarnation seeds the compaction statistics.
func (e *SetsEngine) storeMembers(snap db.Snapshot, destination []byte, members []string) (int32, error) {
	batch := e.store.NewBatch()
	defer batch.Close()

	var statistic uint64
	var version uint32
	meta, err := getMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, destination) })
	switch {
	case err == nil:
		statistic = uint64(meta.Count)
		version = meta.InitialMeta(e.now())
		meta.Count = uint32(len(members))
		if err := batch.Put(db.DefaultColumnFamily, destination, meta.Encode()); err != nil {
			return 0, err
		}
	case IsNotFound(err):
		fresh := codec.NewMeta(uint32(len(members)), e.now())
		version = fresh.Version
		if err := batch.Put(db.DefaultColumnFamily, destination, fresh.Encode()); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	for _, member := range members {
		if err := batch.Put(memberCF, codec.EncodeDataKey(destination, version, []byte(member)), nil); err != nil {
			return 0, err
		}
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	e.updateKeyStatistics(string(destination), statistic)
	return int32(len(members)), nil
}

// SScan resumes cursor iteration over members. Cursor 0 starts fresh;
// later cursors look up the stored continuation point. At most count
// entries are visited per call; pattern matching uses full glob syntax.
func (e *SetsEngine) SScan(key []byte, cursor int64, pattern string, count int64) (members []string, nextCursor int64, err error) {
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
			members = append(members, string(member))
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
	return members, nextCursor, iter.Err()
}

// dedupMembers drops input duplicates, preserving first-seen order.
func dedupMembers(members [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(members))
	out := make([][]byte, 0, len(members))
	for _, m := range members {
		if _, ok := seen[string(m)]; !ok {
			seen[string(m)] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}
