package engine

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/beyondbrewing/pebbledis/codec"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/beyondbrewing/pebbledis/utils"
)

// StringsEngine implements the string type. A string is a single meta-CF
// row whose value is the expiry header followed by the raw bytes; there
// is no data CF and no version, so deletes are physical.
type StringsEngine struct {
	*base
}

// NewStringsEngine builds the strings engine over store and registers
// its compaction filter.
func NewStringsEngine(store db.Store, log logger.Logger, opts EngineOptions) (*StringsEngine, error) {
	e := &StringsEngine{
		base: newBase(Strings, store, log, opts.StatisticsMaxSize),
	}
	if err := store.SetCompactionFilter(db.DefaultColumnFamily, stringsFilter(func() int64 { return e.now() })); err != nil {
		return nil, err
	}
	return e, nil
}

// Close releases the engine's caches.
func (e *StringsEngine) Close() {
	e.close()
}

// getValue reads and decodes a live strings row; stale rows read as
// ErrStale.
func (e *StringsEngine) getValue(key []byte) (*codec.StringsValue, error) {
	raw, err := e.store.Get(db.DefaultColumnFamily, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	v, err := codec.DecodeStringsValue(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if v.IsStale(e.now()) {
		return nil, ErrStale
	}
	return v, nil
}

// Set stores value under key, clearing any expiry.
func (e *StringsEngine) Set(key, value []byte) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v := &codec.StringsValue{Value: value}
	return e.store.Put(db.DefaultColumnFamily, key, v.Encode())
}

// Setex stores value with a relative expiry; non-positive ttl is refused.
func (e *StringsEngine) Setex(key, value []byte, ttl int64) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: invalid expire time", ErrInvalidArgument)
	}

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v := &codec.StringsValue{Timestamp: int32(e.now() + ttl), Value: value}
	return e.store.Put(db.DefaultColumnFamily, key, v.Encode())
}

// Setnx stores value only when the key is absent or stale. Returns 1 on
// write, 0 otherwise.
func (e *StringsEngine) Setnx(key, value []byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	_, err := e.getValue(key)
	switch {
	case err == nil:
		return 0, nil
	case IsNotFound(err):
		v := &codec.StringsValue{Value: value}
		if err := e.store.Put(db.DefaultColumnFamily, key, v.Encode()); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		return 0, err
	}
}

// Get returns the live value.
func (e *StringsEngine) Get(key []byte) ([]byte, error) {
	v, err := e.getValue(key)
	if err != nil {
		return nil, err
	}
	return v.Value, nil
}

// GetSet atomically replaces the value and returns the previous one
// (nil when the key was absent or stale).
func (e *StringsEngine) GetSet(key, value []byte) ([]byte, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	var old []byte
	v, err := e.getValue(key)
	switch {
	case err == nil:
		old = v.Value
	case IsNotFound(err):
	default:
		return nil, err
	}

	nv := &codec.StringsValue{Value: value}
	if err := e.store.Put(db.DefaultColumnFamily, key, nv.Encode()); err != nil {
		return nil, err
	}
	return old, nil
}

// Append concatenates value onto the key, preserving any expiry, and
// returns the new length.
func (e *StringsEngine) Append(key, value []byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v, err := e.getValue(key)
	switch {
	case err == nil:
		v.Value = append(v.Value, value...)
	case IsNotFound(err):
		v = &codec.StringsValue{Value: value}
	default:
		return 0, err
	}
	if err := e.store.Put(db.DefaultColumnFamily, key, v.Encode()); err != nil {
		return 0, err
	}
	return int32(len(v.Value)), nil
}

// Strlen returns the live value's length.
func (e *StringsEngine) Strlen(key []byte) (int32, error) {
	v, err := e.getValue(key)
	if err != nil {
		return 0, err
	}
	return int32(len(v.Value)), nil
}

// Incrby adds delta to the integer stored at key, creating it at delta.
func (e *StringsEngine) Incrby(key []byte, delta int64) (int64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	var cur int64
	var timestamp int32
	v, err := e.getValue(key)
	switch {
	case err == nil:
		cur, err = strconv.ParseInt(string(v.Value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: value is not a integer", ErrCorruption)
		}
		timestamp = v.Timestamp
	case IsNotFound(err):
	default:
		return 0, err
	}

	cur += delta
	nv := &codec.StringsValue{Timestamp: timestamp, Value: []byte(strconv.FormatInt(cur, 10))}
	if err := e.store.Put(db.DefaultColumnFamily, key, nv.Encode()); err != nil {
		return 0, err
	}
	return cur, nil
}

// Decrby subtracts delta from the integer stored at key.
func (e *StringsEngine) Decrby(key []byte, delta int64) (int64, error) {
	return e.Incrby(key, -delta)
}

// Del physically removes the key. Strings carry no version, so there is
// nothing to orphan.
func (e *StringsEngine) Del(key []byte) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	if _, err := e.getValue(key); err != nil {
		return err
	}
	return e.store.Delete(db.DefaultColumnFamily, key)
}

// Expire sets a relative expiry; non-positive ttl deletes the key.
func (e *StringsEngine) Expire(key []byte, ttl int64) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v, err := e.getValue(key)
	if err != nil {
		return err
	}

	if ttl > 0 {
		v.Timestamp = int32(e.now() + ttl)
		return e.store.Put(db.DefaultColumnFamily, key, v.Encode())
	}
	return e.store.Delete(db.DefaultColumnFamily, key)
}

// Expireat sets an absolute expiry; non-positive timestamps delete.
func (e *StringsEngine) Expireat(key []byte, timestamp int64) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v, err := e.getValue(key)
	if err != nil {
		return err
	}

	if timestamp > 0 {
		v.Timestamp = int32(timestamp)
		return e.store.Put(db.DefaultColumnFamily, key, v.Encode())
	}
	return e.store.Delete(db.DefaultColumnFamily, key)
}

// Persist removes the key's expiry.
func (e *StringsEngine) Persist(key []byte) error {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	v, err := e.getValue(key)
	if err != nil {
		return err
	}
	if v.Timestamp == 0 {
		return ErrNoTimeout
	}
	v.Timestamp = 0
	return e.store.Put(db.DefaultColumnFamily, key, v.Encode())
}

// TTL returns the remaining lifetime in seconds (-1 without expiry, -2
// with ErrNotFound when absent or stale).
func (e *StringsEngine) TTL(key []byte) (int64, error) {
	v, err := e.getValue(key)
	if err != nil {
		if IsNotFound(err) {
			return -2, err
		}
		return 0, err
	}
	if v.Timestamp == 0 {
		return -1, nil
	}
	remaining := int64(v.Timestamp) - e.now()
	if remaining < 0 {
		return -2, nil
	}
	return remaining, nil
}

// Scan walks live string keys; see collection.Scan for the contract.
func (e *StringsEngine) Scan(startKey, pattern string, count *int64) (keys []string, nextKey string, finished bool, err error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, "", false, err
	}
	defer snap.Close()

	iter, err := snap.NewIterator(db.DefaultColumnFamily)
	if err != nil {
		return nil, "", false, err
	}
	defer iter.Close()

	now := e.now()
	for iter.Seek([]byte(startKey)); iter.Valid() && *count > 0; iter.Next() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
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
func (e *StringsEngine) ScanKeys(pattern string) ([]string, error) {
	snap, err := e.store.NewSnapshot()
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
	now := e.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, iter.Err()
}

// ScanKeyNum tallies live and expired string keys.
func (e *StringsEngine) ScanKeyNum() (*KeyInfo, error) {
	snap, err := e.store.NewSnapshot()
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
	now := e.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			info.InvalidKeys++
			continue
		}
		info.Keys++
		if v.Timestamp != 0 {
			info.Expires++
			ttlSum += uint64(int64(v.Timestamp) - now)
		}
	}
	if info.Expires != 0 {
		info.AvgTTL = ttlSum / info.Expires
	}
	return info, iter.Err()
}

// PKScanRange walks live keys forward within [keyStart, keyEnd],
// returning key-value pairs.
func (e *StringsEngine) PKScanRange(keyStart, keyEnd []byte, pattern string, limit int32) (kvs []KeyValue, nextKey string, err error) {
	startNoLimit := len(keyStart) == 0
	endNoLimit := len(keyEnd) == 0
	if !startNoLimit && !endNoLimit && bytes.Compare(keyStart, keyEnd) > 0 {
		return nil, "", fmt.Errorf("%w: error in given range", ErrInvalidArgument)
	}

	snap, err := e.store.NewSnapshot()
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

	now := e.now()
	remain := limit
	for ; iter.Valid() && remain > 0 && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) <= 0); iter.Next() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			kvs = append(kvs, KeyValue{Key: k, Value: string(v.Value)})
		}
		remain--
	}

	for ; iter.Valid() && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) <= 0); iter.Next() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			continue
		}
		nextKey = string(iter.Key())
		break
	}
	return kvs, nextKey, iter.Err()
}

// PKRScanRange is PKScanRange in reverse.
func (e *StringsEngine) PKRScanRange(keyStart, keyEnd []byte, pattern string, limit int32) (kvs []KeyValue, nextKey string, err error) {
	startNoLimit := len(keyStart) == 0
	endNoLimit := len(keyEnd) == 0
	if !startNoLimit && !endNoLimit && bytes.Compare(keyStart, keyEnd) < 0 {
		return nil, "", fmt.Errorf("%w: error in given range", ErrInvalidArgument)
	}

	snap, err := e.store.NewSnapshot()
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

	now := e.now()
	remain := limit
	for ; iter.Valid() && remain > 0 && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) >= 0); iter.Prev() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			continue
		}
		if k := string(iter.Key()); utils.StringMatch(pattern, k) {
			kvs = append(kvs, KeyValue{Key: k, Value: string(v.Value)})
		}
		remain--
	}

	for ; iter.Valid() && (endNoLimit || bytes.Compare(iter.Key(), keyEnd) >= 0); iter.Prev() {
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) {
			continue
		}
		nextKey = string(iter.Key())
		break
	}
	return kvs, nextKey, iter.Err()
}

// PKPatternMatchDel physically deletes every live key matching the
// pattern, flushing bounded batches.
func (e *StringsEngine) PKPatternMatchDel(pattern string, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1000
	}

	snap, err := e.store.NewSnapshot()
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
	batch := e.store.NewBatch()
	defer func() { batch.Close() }()

	now := e.now()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := iter.Key()
		v, derr := codec.DecodeStringsValue(iter.Value())
		if derr != nil || v.IsStale(now) || !utils.StringMatch(pattern, string(key)) {
			continue
		}
		if err := batch.Delete(db.DefaultColumnFamily, key); err != nil {
			return totalDelete, err
		}
		if batch.Count() >= batchLimit {
			count := batch.Count()
			if err := batch.Commit(); err != nil {
				return totalDelete, err
			}
			totalDelete += count
			batch.Close()
			batch = e.store.NewBatch()
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

// CompactRange runs the strings filter over [start, end); nil bounds
// mean the full keyspace.
func (e *StringsEngine) CompactRange(start, end []byte) error {
	return e.store.CompactRange(db.DefaultColumnFamily, start, end)
}

// CompactAll runs the strings filter over the whole keyspace.
func (e *StringsEngine) CompactAll() error {
	return e.store.CompactRange(db.DefaultColumnFamily, nil, nil)
}

// CompactKey compacts the single row of one key.
func (e *StringsEngine) CompactKey(key []byte) error {
	start, end := codec.MetaRange(key)
	return e.store.CompactRange(db.DefaultColumnFamily, start, end)
}

// GetProperty returns the substrate's metrics dump.
func (e *StringsEngine) GetProperty() string {
	return e.store.Metrics()
}
