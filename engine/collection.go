package engine

import (
	"bytes"
	"fmt"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/utils"
)

// collection implements the key-level operations shared by every
// composite type (hashes, sets, sorted sets, lists): expiry, logical
// delete, and the meta-CF scans. Meta rows all share the fixed header;
// type-specific trailing bytes ride along untouched.
type collection struct {
	*base

	// dataCFs lists the data column families owned by the type (two for
	// sorted sets).
	dataCFs []string
}

// Expire sets a relative expiry on the key; non-positive ttl logically
// deletes it by starting a fresh dead incarnation.
func (c *collection) Expire(key []byte, ttl int64) error {
	c.locks.Lock(string(key))
	defer c.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return c.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(c.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	if ttl > 0 {
		meta.SetRelativeTimestamp(ttl, c.now())
	} else {
		meta.InitialMeta(c.now())
	}
	return c.store.Put(db.DefaultColumnFamily, key, meta.Encode())
}

// Expireat sets an absolute expiry; non-positive timestamps delete.
func (c *collection) Expireat(key []byte, timestamp int64) error {
	c.locks.Lock(string(key))
	defer c.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return c.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(c.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	if timestamp > 0 {
		meta.Timestamp = int32(timestamp)
	} else {
		meta.InitialMeta(c.now())
	}
	return c.store.Put(db.DefaultColumnFamily, key, meta.Encode())
}

// Persist removes the key's expiry.
func (c *collection) Persist(key []byte) error {
	c.locks.Lock(string(key))
	defer c.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return c.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(c.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}
	if meta.Timestamp == 0 {
		return ErrNoTimeout
	}

	meta.Timestamp = 0
	return c.store.Put(db.DefaultColumnFamily, key, meta.Encode())
}

// TTL returns the remaining lifetime in seconds: -1 when no expiry is
// set, -2 (with ErrNotFound) when the key is absent or dead.
func (c *collection) TTL(key []byte) (int64, error) {
	meta, err := getMeta(func() ([]byte, error) { return c.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		if IsNotFound(err) {
			return -2, err
		}
		return 0, err
	}
	if meta.IsStale(c.now()) {
		return -2, ErrStale
	}
	if meta.IsEmpty() {
		return -2, ErrNotFound
	}
	if meta.Timestamp == 0 {
		return -1, nil
	}
	remaining := int64(meta.Timestamp) - c.now()
	if remaining < 0 {
		return -2, nil
	}
	return remaining, nil
}

// Del logically deletes the key: the meta row is rewritten with a bumped
// version and zero count. Physical reclamation of the orphaned data rows
// is the compaction filter's job, so Del is O(1) regardless of size.
func (c *collection) Del(key []byte) error {
	c.locks.Lock(string(key))
	defer c.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return c.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}
	if meta.IsStale(c.now()) {
		return ErrStale
	}
	if meta.IsEmpty() {
		return ErrNotFound
	}

	statistic := uint64(meta.Count)
	meta.InitialMeta(c.now())
	if err := c.store.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
		return err
	}
	c.updateKeyStatistics(string(key), statistic)
	return nil
}

// Scan walks live meta keys from startKey, emitting pattern matches and
// decrementing *count per live key visited. It reports whether iteration
// exhausted the keyspace and, if not, the key to resume from.
func (c *collection) Scan(startKey, pattern string, count *int64) (keys []string, nextKey string, finished bool, err error) {
	snap, err := c.store.NewSnapshot()
	if err != nil {
		return nil, "", false, err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, "", false, err
	}
	defer iter.Close()

	now := c.now()
	for iter.Seek([]byte(startKey)); iter.Valid() && *count > 0; iter.Next() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		k := string(iter.Key())
		if utils.StringMatch(pattern, k) {
			keys = append(keys, k)
		}
		*count--
	}

	prefix := utils.TailWildcardPrefix(pattern)
	if iter.Valid() && (bytes.Compare(iter.Key(), []byte(prefix)) <= 0 || bytes.HasPrefix(iter.Key(), []byte(prefix))) {
		return keys, string(iter.Key()), false, iter.Err()
	}
	return keys, "", true, iter.Err()
}

// ScanKeys returns every live key matching the pattern.
func (c *collection) ScanKeys(pattern string) ([]string, error) {
	snap, err := c.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys []string
	now := c.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, iter.Err()
}

// ScanKeyNum tallies live, expiring, and invalid keys across the meta CF.
func (c *collection) ScanKeyNum() (*KeyInfo, error) {
	snap, err := c.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	info := &KeyInfo{}
	var ttlSum uint64
	now := c.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			info.InvalidKeys++
			continue
		}
		info.Keys++
		if meta.Timestamp != 0 {
			info.Expires++
			ttlSum += uint64(int64(meta.Timestamp) - now)
		}
	}
	if info.Expires != 0 {
		info.AvgTTL = ttlSum / info.Expires
	}
	return info, iter.Err()
}

// PKScanRange walks live meta keys forward within [keyStart, keyEnd]
// (empty bounds are unbounded), emitting up to limit pattern matches and
// the key to resume from.
func (c *collection) PKScanRange(keyStart, keyEnd []byte, pattern string, limit int32) (keys []string, nextKey string, err error) {
	startNoLimit := len(keyStart) == 0
	endNoLimit := len(keyEnd) == 0
	if !startNoLimit && !endNoLimit && bytes.Compare(keyStart, keyEnd) > 0 {
		return nil, "", fmt.Errorf("%w: error in given range", ErrInvalidArgument)
	}

	snap, err := c.store.NewSnapshot()
	if err != nil {
		return nil, "", err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	if startNoLimit {
		iter.SeekToFirst()
	} else {
		iter.Seek(keyStart)
	}

	now := c.now()
	remain := limit
	for ; iter.Valid() && remain > 0 && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) <= 0); iter.Next() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			keys = append(keys, k)
		}
		remain--
	}

	for ; iter.Valid() && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) <= 0); iter.Next() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		nextKey = string(iter.Key())
		break
	}
	return keys, nextKey, iter.Err()
}

// PKRScanRange is PKScanRange in reverse: keyStart is the high bound.
func (c *collection) PKRScanRange(keyStart, keyEnd []byte, pattern string, limit int32) (keys []string, nextKey string, err error) {
	startNoLimit := len(keyStart) == 0
	endNoLimit := len(keyEnd) == 0
	if !startNoLimit && !endNoLimit && bytes.Compare(keyStart, keyEnd) < 0 {
		return nil, "", fmt.Errorf("%w: error in given range", ErrInvalidArgument)
	}

	snap, err := c.store.NewSnapshot()
	if err != nil {
		return nil, "", err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, "", err
	}
	defer iter.Close()

	if startNoLimit {
		iter.SeekToLast()
	} else {
		iter.SeekForPrev(keyStart)
	}

	now := c.now()
	remain := limit
	for ; iter.Valid() && remain > 0 && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) >= 0); iter.Prev() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			keys = append(keys, k)
		}
		remain--
	}

	for ; iter.Valid() && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) >= 0); iter.Prev() {
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() {
			continue
		}
		nextKey = string(iter.Key())
		break
	}
	return keys, nextKey, iter.Err()
}

// PKPatternMatchDel rewrites every live, pattern-matching key to a dead
// incarnation, flushing batches of batchLimit rows to cap memory. The
// iterator keeps reading the entry snapshot across flushes; the meta CF
// is not reordered by the rewrites.
func (c *collection) PKPatternMatchDel(pattern string, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1000
	}

	snap, err := c.store.NewSnapshot()
	if err != nil {
		return 0, err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	totalDelete := 0
	batch := c.store.NewBatch()
	defer func() { batch.Close() }()

	now := c.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := iter.Key()
		meta, derr := codec.DecodeMeta(iter.Value())
		if derr != nil || meta.IsStale(now) || meta.IsEmpty() || !utils.StringMatch(pattern, string(key)) {
			continue
		}
		meta.InitialMeta(now)
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return totalDelete, err
		}
		if batch.Count() >= batchLimit {
			count := batch.Count()
			if err := batch.Commit(); err != nil {
				return totalDelete, err
			}
			totalDelete += count
			batch.Close()
			batch = c.store.NewBatch()
		}
	}
	if batch.Count() > 0 {
		count := batch.Count()
		if err := batch.Commit(); err != nil {
			return totalDelete, err
		}
		totalDelete += count
	}
	return totalDelete, iter.Err()
}

// CompactRange runs the compaction filters over [start, end) of the meta
// CF and every data CF; nil bounds mean the full keyspace.
func (c *collection) CompactRange(start, end []byte) error {
	if err := c.store.CompactRange(db.DefaultColumnFamily, start, end); err != nil {
		return err
	}
	for _, cf := range c.dataCFs {
		if err := c.store.CompactRange(cf, start, end); err != nil {
			return err
		}
	}
	return nil
}

// CompactAll runs the compaction filters over the whole meta and data
// keyspace of this type.
func (c *collection) CompactAll() error {
	if err := c.store.CompactRange(db.DefaultColumnFamily, nil, nil); err != nil {
		return err
	}
	for _, cf := range c.dataCFs {
		if err := c.store.CompactRange(cf, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// CompactKey compacts the meta row and every incarnation's data rows of
// one logical key.
func (c *collection) CompactKey(key []byte) error {
	metaStart, metaEnd := codec.MetaRange(key)
	if err := c.store.CompactRange(db.DefaultColumnFamily, metaStart, metaEnd); err != nil {
		return err
	}
	dataStart, dataEnd := codec.DataRange(key)
	for _, cf := range c.dataCFs {
		if err := c.store.CompactRange(cf, dataStart, dataEnd); err != nil {
			return err
		}
	}
	return nil
}

// GetProperty returns the substrate's metrics dump for this type.
func (c *collection) GetProperty() string {
	return c.store.Metrics()
}
