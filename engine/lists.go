package engine

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
)

// ListsEngine implements the list type. Element rows are keyed by a
// signed 64-bit index encoded so byte order matches numeric order; the
// meta row carries exclusive head/tail anchors. Pushes only move an
// anchor, and indices are never reused within an incarnation — LInsert
// allocates a midpoint between its neighbours instead of shifting.
type ListsEngine struct {
	collection
}

// NewListsEngine builds the list engine over store and registers its
// compaction filters.
func NewListsEngine(store db.Store, log logger.Logger, opts EngineOptions) (*ListsEngine, error) {
	e := &ListsEngine{
		collection: collection{
			base:    newBase(Lists, store, log, opts.StatisticsMaxSize),
			dataCFs: []string{dataCF},
		},
	}
	e.smallCompactionThreshold = opts.SmallCompactionThreshold
	e.notifyCompact = opts.NotifyCompact

	if err := store.SetCompactionFilter(db.DefaultColumnFamily, metaFilter()); err != nil {
		return nil, err
	}
	if err := store.SetCompactionFilter(dataCF, dataFilter(store, func() int64 { return e.now() })); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the engine's caches.
func (e *ListsEngine) Close() {
	e.close()
}

// getListsMeta reads and decodes a lists meta row.
func (e *ListsEngine) getListsMeta(get func() ([]byte, error)) (*codec.ListsMeta, error) {
	raw, err := get()
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta, err := codec.DecodeListsMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return meta, nil
}

func listElementKey(key []byte, version uint32, index int64) []byte {
	return codec.EncodeDataKey(key, version, codec.EncodeListIndex(index))
}

// push appends values on one end; see LPush/RPush.
func (e *ListsEngine) push(key []byte, values [][]byte, left, requireAlive bool) (uint64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	switch {
	case err == nil && (meta.IsStale(e.now()) || meta.IsEmpty()):
		if requireAlive {
			return 0, ErrNotFound
		}
		meta.InitialListsMeta(e.now())
	case err == nil:
	case IsNotFound(err):
		if requireAlive {
			return 0, err
		}
		meta = codec.NewListsMeta(e.now())
	default:
		return 0, err
	}

	for _, value := range values {
		var idx int64
		if left {
			idx = meta.Left
			meta.Left -= codec.ListIndexStep
		} else {
			idx = meta.Right
			meta.Right += codec.ListIndexStep
		}
		if err := batch.Put(dataCF, listElementKey(key, meta.Version, idx), value); err != nil {
			return 0, err
		}
	}
	meta.ModifyCount(int32(len(values)))
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return uint64(meta.Count), nil
}

// LPush prepends values, creating or reviving the key as needed, and
// returns the new length.
func (e *ListsEngine) LPush(key []byte, values [][]byte) (uint64, error) {
	return e.push(key, values, true, false)
}

// RPush appends values and returns the new length.
func (e *ListsEngine) RPush(key []byte, values [][]byte) (uint64, error) {
	return e.push(key, values, false, false)
}

// LPushx prepends only when the key is alive.
func (e *ListsEngine) LPushx(key, value []byte) (uint64, error) {
	return e.push(key, [][]byte{value}, true, true)
}

// RPushx appends only when the key is alive.
func (e *ListsEngine) RPushx(key, value []byte) (uint64, error) {
	return e.push(key, [][]byte{value}, false, true)
}

// LLen returns the live element count.
func (e *ListsEngine) LLen(key []byte) (uint64, error) {
	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}
	return uint64(meta.Count), nil
}

// pop removes one element from an end; see LPop/RPop.
func (e *ListsEngine) pop(key []byte, left bool) ([]byte, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, err
	}
	if meta.IsStale(e.now()) {
		return nil, ErrStale
	}
	if meta.IsEmpty() {
		return nil, ErrNotFound
	}

	iter, err := e.store.NewIterator(dataCF)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	prefix := codec.DataPrefix(key, meta.Version)
	if left {
		iter.Seek(prefix)
	} else {
		iter.SeekForPrev(listElementKey(key, meta.Version, meta.Right))
	}
	if !iter.Valid() || !bytes.HasPrefix(iter.Key(), prefix) {
		return nil, ErrNotFound
	}

	value := iter.Value()
	batch := e.store.NewBatch()
	defer batch.Close()

	if err := batch.Delete(dataCF, iter.Key()); err != nil {
		return nil, err
	}
	meta.ModifyCount(-1)
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return nil, err
	}
	if err := batch.Commit(); err != nil {
		return nil, err
	}
	e.updateKeyStatistics(string(key), 1)
	return value, nil
}

// LPop removes and returns the leftmost element.
func (e *ListsEngine) LPop(key []byte) ([]byte, error) {
	return e.pop(key, true)
}

// RPop removes and returns the rightmost element.
func (e *ListsEngine) RPop(key []byte) ([]byte, error) {
	return e.pop(key, false)
}

// iterateElements walks the current incarnation's rows in index order.
func (e *ListsEngine) iterateElements(key []byte, visit func(pos int64, index int64, value []byte) (stop bool, err error)) error {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	meta, err := e.getListsMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(e.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	iter, err := snap.NewIterator(dataCF)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.DataPrefix(key, meta.Version)
	pos := int64(0)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, suffix, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		index, ierr := codec.DecodeListIndex(suffix)
		if ierr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, ierr)
		}
		stop, verr := visit(pos, index, iter.Value())
		if verr != nil {
			return verr
		}
		if stop {
			break
		}
		pos++
	}
	return iter.Err()
}

// normalizeListRange maps possibly negative positions onto [0, count).
func normalizeListRange(start, stop, count int64) (int64, int64) {
	if start < 0 {
		start += count
	}
	if stop < 0 {
		stop += count
	}
	if start < 0 {
		start = 0
	}
	if stop >= count {
		stop = count - 1
	}
	return start, stop
}

// LRange returns elements in positions [start, stop]; negative positions
// count from the tail.
func (e *ListsEngine) LRange(key []byte, start, stop int64) ([]string, error) {
	count, err := e.LLen(key)
	if err != nil {
		return nil, err
	}
	start, stop = normalizeListRange(start, stop, int64(count))
	if start > stop {
		return nil, nil
	}

	var out []string
	err = e.iterateElements(key, func(pos, _ int64, value []byte) (bool, error) {
		if pos > stop {
			return true, nil
		}
		if pos >= start {
			out = append(out, string(value))
		}
		return false, nil
	})
	return out, err
}

// LIndex returns the element at position index (negative counts from the
// tail).
func (e *ListsEngine) LIndex(key []byte, index int64) ([]byte, error) {
	count, err := e.LLen(key)
	if err != nil {
		return nil, err
	}
	if index < 0 {
		index += int64(count)
	}
	if index < 0 || index >= int64(count) {
		return nil, ErrNotFound
	}

	var out []byte
	found := false
	err = e.iterateElements(key, func(pos, _ int64, value []byte) (bool, error) {
		if pos == index {
			out = append([]byte(nil), value...)
			found = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return out, nil
}

// LSet overwrites the element at position index.
func (e *ListsEngine) LSet(key []byte, index int64, value []byte) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(e.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	count := int64(meta.Count)
	if index < 0 {
		index += count
	}
	if index < 0 || index >= count {
		return fmt.Errorf("%w: index out of range", ErrCorruption)
	}

	var rowKey []byte
	err = e.iterateElements(key, func(pos, idx int64, _ []byte) (bool, error) {
		if pos == index {
			rowKey = listElementKey(key, meta.Version, idx)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if rowKey == nil {
		return ErrNotFound
	}
	return e.store.Put(dataCF, rowKey, value)
}

// LInsert places value before or after the first occurrence of pivot and
// returns the new length, or -1 when pivot is absent. The new element's
// index is allocated between its neighbours; adjacent neighbours with no
// remaining gap refuse the insert.
func (e *ListsEngine) LInsert(key []byte, where BeforeOrAfter, pivot, value []byte) (int64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}

	// Locate the pivot and the neighbour on the insert side.
	pivotIdx := int64(0)
	prevIdx, nextIdx := meta.Left, meta.Right
	foundPivot := false
	err = e.iterateElements(key, func(_, idx int64, v []byte) (bool, error) {
		if foundPivot {
			nextIdx = idx
			return true, nil
		}
		if bytes.Equal(v, pivot) {
			foundPivot = true
			pivotIdx = idx
			return where == Before, nil
		}
		prevIdx = idx
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if !foundPivot {
		return -1, nil
	}

	var lo, hi int64
	if where == Before {
		lo, hi = prevIdx, pivotIdx
	} else {
		lo, hi = pivotIdx, nextIdx
	}

	var newIdx int64
	switch {
	case where == Before && lo == meta.Left:
		// Inserting at the head: take the anchor slot like LPush.
		newIdx = meta.Left
		meta.Left -= codec.ListIndexStep
	case where == After && hi == meta.Right:
		newIdx = meta.Right
		meta.Right += codec.ListIndexStep
	default:
		if hi-lo < 2 {
			return 0, fmt.Errorf("%w: no index space between neighbours", ErrIncomplete)
		}
		newIdx = lo + (hi-lo)/2
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	if err := batch.Put(dataCF, listElementKey(key, meta.Version, newIdx), value); err != nil {
		return 0, err
	}
	meta.ModifyCount(1)
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return int64(meta.Count), nil
}

// LRem removes up to count occurrences of value (count > 0 from the
// head, count < 0 from the tail, 0 removes all) and returns how many
// were deleted.
func (e *ListsEngine) LRem(key []byte, count int64, value []byte) (int64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	if meta.IsStale(e.now()) {
		return 0, ErrStale
	}
	if meta.IsEmpty() {
		return 0, ErrNotFound
	}

	// Collect matching indices in order.
	var matches []int64
	err = e.iterateElements(key, func(_, idx int64, v []byte) (bool, error) {
		if bytes.Equal(v, value) {
			matches = append(matches, idx)
		}
		return false, nil
	})
	if err != nil {
		return 0, err
	}

	limit := count
	if limit < 0 {
		limit = -limit
	}
	if limit == 0 || limit > int64(len(matches)) {
		limit = int64(len(matches))
	}

	victims := matches[:limit]
	if count < 0 {
		victims = matches[int64(len(matches))-limit:]
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	for _, idx := range victims {
		if err := batch.Delete(dataCF, listElementKey(key, meta.Version, idx)); err != nil {
			return 0, err
		}
	}
	meta.ModifyCount(-int32(len(victims)))
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	e.updateKeyStatistics(string(key), uint64(len(victims)))
	return int64(len(victims)), nil
}

// LTrim deletes every element outside positions [start, stop].
func (e *ListsEngine) LTrim(key []byte, start, stop int64) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := e.getListsMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(e.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	count := int64(meta.Count)
	start, stop = normalizeListRange(start, stop, count)

	batch := e.store.NewBatch()
	defer batch.Close()

	deleted := int64(0)
	err = e.iterateElements(key, func(pos, idx int64, _ []byte) (bool, error) {
		if pos >= start && pos <= stop {
			return false, nil
		}
		deleted++
		return false, batch.Delete(dataCF, listElementKey(key, meta.Version, idx))
	})
	if err != nil {
		return err
	}

	meta.ModifyCount(-int32(deleted))
	if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return err
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	e.updateKeyStatistics(string(key), uint64(deleted))
	return nil
}
