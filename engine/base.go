package engine

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/lockmgr"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
)

// base carries the plumbing shared by every type engine: the substrate
// handle, the record lock manager, the per-key statistics cache feeding
// targeted compactions, and the per-engine scan continuation cache.
type base struct {
	typ   DataType
	store db.Store
	locks *lockmgr.LockMgr
	log   logger.Logger

	// now returns seconds since epoch; swappable in tests.
	now func() int64

	// stats counts modifications per key; crossing the threshold
	// schedules a CompactKey task through notifyCompact.
	stats                    *kvCache[uint64]
	smallCompactionThreshold uint64
	notifyCompact            func(typ DataType, key string)

	// scanCursors maps (key, pattern, cursor) to the element resume point
	// of an in-flight SScan/HScan/ZScan.
	scanCursors *kvCache[string]
}

func newBase(typ DataType, store db.Store, log logger.Logger, statisticsMaxSize int64) *base {
	if log == nil {
		log = logger.Default()
	}
	return &base{
		typ:         typ,
		store:       store,
		locks:       lockmgr.New(),
		log:         log.With("engine", typ.String()),
		now:         func() int64 { return time.Now().Unix() },
		stats:       newKVCache[uint64](statisticsMaxSize),
		scanCursors: newKVCache[string](cursorCacheCapacity),
	}
}

func (b *base) close() {
	b.stats.Close()
	b.scanCursors.Close()
}

// updateKeyStatistics accumulates modification counts for key and fires a
// targeted compaction once the configured threshold is crossed.
func (b *base) updateKeyStatistics(key string, delta uint64) {
	if delta == 0 || b.smallCompactionThreshold == 0 || b.notifyCompact == nil {
		return
	}
	total, _ := b.stats.Get(key)
	total += delta
	if total >= b.smallCompactionThreshold {
		b.stats.Del(key)
		b.notifyCompact(b.typ, key)
		return
	}
	b.stats.Set(key, total)
}

// scanCursorKey namespaces a continuation entry.
func scanCursorKey(key []byte, pattern string, cursor int64) string {
	return string(key) + "_" + pattern + "_" + strconv.FormatInt(cursor, 10)
}

// getScanStartPoint looks up the stored continuation for a cursor.
func (b *base) getScanStartPoint(key []byte, pattern string, cursor int64) (string, bool) {
	return b.scanCursors.Get(scanCursorKey(key, pattern, cursor))
}

// storeScanNextPoint remembers where the next cursor call should resume.
func (b *base) storeScanNextPoint(key []byte, pattern string, cursor int64, next string) {
	b.scanCursors.Set(scanCursorKey(key, pattern, cursor), next)
}

// getMeta reads and decodes a meta row through the given reader.
// Substrate misses surface as ErrNotFound; decode failures as
// ErrCorruption; anything else propagates unchanged.
func getMeta(get func() ([]byte, error)) (*codec.Meta, error) {
	raw, err := get()
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m, err := codec.DecodeMeta(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return m, nil
}
