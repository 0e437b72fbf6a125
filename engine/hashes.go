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

// HashesEngine implements the hash type. Each field is a data row keyed
// by (key, version, field) whose value is the stored field value.
type HashesEngine struct {
	collection
}

// NewHashesEngine builds the hash engine over store and registers its
// compaction filters.
func NewHashesEngine(store db.Store, log logger.Logger, opts EngineOptions) (*HashesEngine, error) {
	e := &HashesEngine{
		collection: collection{
			base:    newBase(Hashes, store, log, opts.StatisticsMaxSize),
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
func (e *HashesEngine) Close() {
	e.close()
}

// HSet stores field=value, creating or reviving the key as needed.
// Returns 1 when the field is new, 0 when it was updated.
func (e *HashesEngine) HSet(key, field, value []byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	var res int32
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	switch {
	case err == nil && (meta.IsStale(e.now()) || meta.IsEmpty()):
		version := meta.InitialMeta(e.now())
		meta.Count = 1
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
		if err := batch.Put(dataCF, codec.EncodeDataKey(key, version, field), value); err != nil {
			return 0, err
		}
		res = 1

	case err == nil:
		fieldKey := codec.EncodeDataKey(key, meta.Version, field)
		old, gerr := e.store.Get(dataCF, fieldKey)
		switch {
		case gerr == nil:
			if bytes.Equal(old, value) {
				return 0, nil
			}
			if err := batch.Put(dataCF, fieldKey, value); err != nil {
				return 0, err
			}
		case errors.Is(gerr, db.ErrKeyNotFound):
			meta.ModifyCount(1)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				return 0, err
			}
			if err := batch.Put(dataCF, fieldKey, value); err != nil {
				return 0, err
			}
			res = 1
		default:
			return 0, gerr
		}

	case IsNotFound(err):
		fresh := codec.NewMeta(1, e.now())
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return 0, err
		}
		if err := batch.Put(dataCF, codec.EncodeDataKey(key, fresh.Version, field), value); err != nil {
			return 0, err
		}
		res = 1

	default:
		return 0, err
	}

	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return res, nil
}

// HSetnx stores field=value only when the field is absent. Returns 1 on
// write, 0 otherwise.
func (e *HashesEngine) HSetnx(key, field, value []byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err == nil && !meta.IsStale(e.now()) && !meta.IsEmpty() {
		fieldKey := codec.EncodeDataKey(key, meta.Version, field)
		_, gerr := e.store.Get(dataCF, fieldKey)
		if gerr == nil {
			return 0, nil
		}
		if !errors.Is(gerr, db.ErrKeyNotFound) {
			return 0, gerr
		}

		batch := e.store.NewBatch()
		defer batch.Close()
		meta.ModifyCount(1)
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
		if err := batch.Put(dataCF, fieldKey, value); err != nil {
			return 0, err
		}
		return 1, batch.Commit()
	}
	if err != nil && !IsNotFound(err) {
		return 0, err
	}

	// Absent or dead: build a fresh incarnation holding just this field.
	batch := e.store.NewBatch()
	defer batch.Close()
	var version uint32
	if err == nil {
		version = meta.InitialMeta(e.now())
		meta.Count = 1
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return 0, err
		}
	} else {
		fresh := codec.NewMeta(1, e.now())
		version = fresh.Version
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return 0, err
		}
	}
	if err := batch.Put(dataCF, codec.EncodeDataKey(key, version, field), value); err != nil {
		return 0, err
	}
	return 1, batch.Commit()
}

// readMeta reads a live meta row via the given getter, mapping stale and
// empty to their NotFound flavours.
func (e *HashesEngine) readMeta(get func() ([]byte, error)) (*codec.Meta, error) {
	meta, err := getMeta(get)
	if err != nil {
		return nil, err
	}
	if meta.IsStale(e.now()) {
		return nil, ErrStale
	}
	if meta.IsEmpty() {
		return nil, ErrNotFound
	}
	return meta, nil
}

// HGet returns the value of one field.
func (e *HashesEngine) HGet(key, field []byte) ([]byte, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	meta, err := e.readMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, err
	}

	value, err := snap.Get(dataCF, codec.EncodeDataKey(key, meta.Version, field))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// HMSet stores several fields in one atomic batch; input duplicates keep
// the last value.
func (e *HashesEngine) HMSet(key []byte, fvs []FieldValue) error {
	filtered := make([]FieldValue, 0, len(fvs))
	index := make(map[string]int, len(fvs))
	for _, fv := range fvs {
		if i, ok := index[fv.Field]; ok {
			filtered[i].Value = fv.Value
			continue
		}
		index[fv.Field] = len(filtered)
		filtered = append(filtered, fv)
	}

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	batch := e.store.NewBatch()
	defer batch.Close()

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	switch {
	case err == nil && (meta.IsStale(e.now()) || meta.IsEmpty()):
		version := meta.InitialMeta(e.now())
		meta.Count = uint32(len(filtered))
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return err
		}
		for _, fv := range filtered {
			if err := batch.Put(dataCF, codec.EncodeDataKey(key, version, []byte(fv.Field)), []byte(fv.Value)); err != nil {
				return err
			}
		}

	case err == nil:
		var added int32
		for _, fv := range filtered {
			fieldKey := codec.EncodeDataKey(key, meta.Version, []byte(fv.Field))
			_, gerr := e.store.Get(dataCF, fieldKey)
			switch {
			case gerr == nil:
			case errors.Is(gerr, db.ErrKeyNotFound):
				added++
			default:
				return gerr
			}
			if err := batch.Put(dataCF, fieldKey, []byte(fv.Value)); err != nil {
				return err
			}
		}
		if added > 0 {
			meta.ModifyCount(added)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				return err
			}
		}

	case IsNotFound(err):
		fresh := codec.NewMeta(uint32(len(filtered)), e.now())
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return err
		}
		for _, fv := range filtered {
			if err := batch.Put(dataCF, codec.EncodeDataKey(key, fresh.Version, []byte(fv.Field)), []byte(fv.Value)); err != nil {
				return err
			}
		}

	default:
		return err
	}
	return batch.Commit()
}

// HMGet returns one ValueStatus per requested field, in order.
func (e *HashesEngine) HMGet(key []byte, fields []string) ([]ValueStatus, error) {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Close()

	meta, err := e.readMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return nil, err
	}

	out := make([]ValueStatus, 0, len(fields))
	for _, field := range fields {
		value, gerr := snap.Get(dataCF, codec.EncodeDataKey(key, meta.Version, []byte(field)))
		switch {
		case gerr == nil:
			out = append(out, ValueStatus{Value: string(value)})
		case errors.Is(gerr, db.ErrKeyNotFound):
			out = append(out, ValueStatus{Err: ErrNotFound})
		default:
			return nil, gerr
		}
	}
	return out, nil
}

// iterateFields walks the current incarnation's field rows.
func (e *HashesEngine) iterateFields(key []byte, visit func(field, value []byte) error) error {
	snap, err := e.store.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()

	meta, err := e.readMeta(func() ([]byte, error) { return snap.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return err
	}

	iter, err := snap.NewIterator(dataCF)
	if err != nil {
		return err
	}
	defer iter.Close()

	prefix := codec.DataPrefix(key, meta.Version)
	for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, field, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		if err := visit(field, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Err()
}

// HGetall returns every field and value.
func (e *HashesEngine) HGetall(key []byte) ([]FieldValue, error) {
	var fvs []FieldValue
	err := e.iterateFields(key, func(field, value []byte) error {
		fvs = append(fvs, FieldValue{Field: string(field), Value: string(value)})
		return nil
	})
	return fvs, err
}

// HKeys returns every field name.
func (e *HashesEngine) HKeys(key []byte) ([]string, error) {
	var fields []string
	err := e.iterateFields(key, func(field, _ []byte) error {
		fields = append(fields, string(field))
		return nil
	})
	return fields, err
}

// HVals returns every field value.
func (e *HashesEngine) HVals(key []byte) ([]string, error) {
	var values []string
	err := e.iterateFields(key, func(_, value []byte) error {
		values = append(values, string(value))
		return nil
	})
	return values, err
}

// HLen returns the live field count.
func (e *HashesEngine) HLen(key []byte) (int32, error) {
	meta, err := e.readMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		return 0, err
	}
	return int32(meta.Count), nil
}

// HStrlen returns the length of one field's value.
func (e *HashesEngine) HStrlen(key, field []byte) (int32, error) {
	value, err := e.HGet(key, field)
	if err != nil {
		return 0, err
	}
	return int32(len(value)), nil
}

// HExists reports whether the field is present.
func (e *HashesEngine) HExists(key, field []byte) error {
	_, err := e.HGet(key, field)
	return err
}

// HDel removes the given fields, returning how many existed.
func (e *HashesEngine) HDel(key []byte, fields [][]byte) (int32, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if meta.IsStale(e.now()) || meta.IsEmpty() {
		return 0, nil
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	var cnt int32
	for _, field := range fields {
		fieldKey := codec.EncodeDataKey(key, meta.Version, field)
		_, gerr := e.store.Get(dataCF, fieldKey)
		switch {
		case gerr == nil:
			cnt++
			if err := batch.Delete(dataCF, fieldKey); err != nil {
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

// HIncrby adds delta to the integer stored in field, creating it at
// delta.
func (e *HashesEngine) HIncrby(key, field []byte, delta int64) (int64, error) {
	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	cur := int64(0)
	meta, err := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	alive := err == nil && !meta.IsStale(e.now()) && !meta.IsEmpty()
	if err != nil && !IsNotFound(err) {
		return 0, err
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	var version uint32
	switch {
	case alive:
		version = meta.Version
		fieldKey := codec.EncodeDataKey(key, version, field)
		old, gerr := e.store.Get(dataCF, fieldKey)
		switch {
		case gerr == nil:
			parsed, perr := strconv.ParseInt(string(old), 10, 64)
			if perr != nil {
				return 0, fmt.Errorf("%w: hash value is not an integer", ErrCorruption)
			}
			cur = parsed
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

	cur += delta
	if err := batch.Put(dataCF, codec.EncodeDataKey(key, version, field), []byte(strconv.FormatInt(cur, 10))); err != nil {
		return 0, err
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return cur, nil
}

// HIncrbyfloat adds a decimal delta to field, storing a human-readable
// decimal representation that is re-parsed on every update.
func (e *HashesEngine) HIncrbyfloat(key, field []byte, by string) (string, error) {
	delta, err := strconv.ParseFloat(by, 64)
	if err != nil {
		return "", fmt.Errorf("%w: value is not a valid float", ErrCorruption)
	}

	e.locks.Lock(string(key))
	defer e.locks.Unlock(string(key))

	cur := float64(0)
	meta, merr := getMeta(func() ([]byte, error) { return e.store.Get(db.DefaultColumnFamily, key) })
	alive := merr == nil && !meta.IsStale(e.now()) && !meta.IsEmpty()
	if merr != nil && !IsNotFound(merr) {
		return "", merr
	}

	batch := e.store.NewBatch()
	defer batch.Close()

	var version uint32
	switch {
	case alive:
		version = meta.Version
		fieldKey := codec.EncodeDataKey(key, version, field)
		old, gerr := e.store.Get(dataCF, fieldKey)
		switch {
		case gerr == nil:
			parsed, perr := strconv.ParseFloat(string(old), 64)
			if perr != nil {
				return "", fmt.Errorf("%w: hash value is not a float", ErrCorruption)
			}
			cur = parsed
		case errors.Is(gerr, db.ErrKeyNotFound):
			meta.ModifyCount(1)
			if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
				return "", err
			}
		default:
			return "", gerr
		}
	case merr == nil:
		version = meta.InitialMeta(e.now())
		meta.Count = 1
		if err := batch.Put(db.DefaultColumnFamily, key, meta.Encode()); err != nil {
			return "", err
		}
	default:
		fresh := codec.NewMeta(1, e.now())
		version = fresh.Version
		if err := batch.Put(db.DefaultColumnFamily, key, fresh.Encode()); err != nil {
			return "", err
		}
	}

	out := strconv.FormatFloat(cur+delta, 'f', -1, 64)
	if err := batch.Put(dataCF, codec.EncodeDataKey(key, version, field), []byte(out)); err != nil {
		return "", err
	}
	if err := batch.Commit(); err != nil {
		return "", err
	}
	return out, nil
}

// HScan resumes cursor iteration over fields; see SScan for the cursor
// contract.
func (e *HashesEngine) HScan(key []byte, cursor int64, pattern string, count int64) (fvs []FieldValue, nextCursor int64, err error) {
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
	subField := utils.TailWildcardPrefix(pattern)

	prefix := codec.EncodeDataKey(key, meta.Version, []byte(subField))
	seekKey := codec.EncodeDataKey(key, meta.Version, []byte(startPoint))

	iter, err := snap.NewIterator(dataCF)
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	rest := count
	for iter.Seek(seekKey); iter.Valid() && rest > 0 && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
		_, _, field, derr := codec.DecodeDataKey(iter.Key())
		if derr != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrCorruption, derr)
		}
		if utils.StringMatch(pattern, string(field)) {
			fvs = append(fvs, FieldValue{Field: string(field), Value: string(iter.Value())})
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
	return fvs, nextCursor, iter.Err()
}
