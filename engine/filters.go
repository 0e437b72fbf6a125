package engine

import (
	"errors"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
)

// Compaction is where tombstoned rows actually leave disk: logical
// deletes only rewrite the meta row, and these predicates reclaim
// everything the new incarnation orphaned. Correctness rests on the
// version check — a data row survives only while the current meta row
// carries its exact version.

// metaFilter drops explicitly initialised dead incarnations: count == 0
// with no pending expiry reference. Undecodable rows are retained.
func metaFilter() db.CompactionFilter {
	return func(key, value []byte) bool {
		meta, err := codec.DecodeMeta(value)
		if err != nil {
			return false
		}
		return meta.IsEmpty() && meta.Timestamp == 0
	}
}

// dataFilter drops a data row when its owning meta row is absent, stale,
// or carries a different version. The read handle is the engine's own
// store; a transient read failure retains the row for the next pass.
func dataFilter(store db.Store, now func() int64) db.CompactionFilter {
	return func(key, value []byte) bool {
		userKey, version, _, err := codec.DecodeDataKey(key)
		if err != nil {
			return false
		}

		raw, err := store.Get(db.DefaultColumnFamily, userKey)
		if err != nil {
			// Absent meta orphans the row; any other failure is
			// transient and the row is kept for the next pass.
			return errors.Is(err, db.ErrKeyNotFound)
		}
		meta, err := codec.DecodeMeta(raw)
		if err != nil {
			return false
		}
		if meta.IsStale(now()) {
			return true
		}
		return meta.Version != version
	}
}

// stringsFilter drops expired string rows. Strings have no data CF, so
// this is the whole of their garbage collection.
func stringsFilter(now func() int64) db.CompactionFilter {
	return func(key, value []byte) bool {
		v, err := codec.DecodeStringsValue(value)
		if err != nil {
			return false
		}
		return v.IsStale(now())
	}
}
