package engine

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/beyondbrewing/pebbledis/config"
	"github.com/beyondbrewing/pebbledis/db"
	"github.com/beyondbrewing/pebbledis/pkg/logger"
	"github.com/cockroachdb/pebble"
	"golang.org/x/sync/errgroup"
)

// typeOrder is the fixed iteration order of the cross-type operations
// (forEachType, Scan, DoCompact and the per-type maps); Keys and GetKeyNum
// walk the types in their own orders.
var typeOrder = []DataType{Strings, Hashes, Sets, Lists, ZSets}

// DB is the dispatcher: it owns the five per-type engines (each over its
// own substrate instance), the cross-type cursor cache, and the
// background compaction worker.
type DB struct {
	strings *StringsEngine
	hashes  *HashesEngine
	sets    *SetsEngine
	lists   *ListsEngine
	zsets   *ZSetsEngine

	// stores are closed concurrently when the DB closes.
	stores []db.Store

	// sharedCache is unreferenced on Close when share_block_cache is on.
	sharedCache *pebble.Cache

	cursors *kvCache[string]
	log     logger.Logger

	maxHyperLogLogKeys int
	batchDeleteLimit   int

	scanKeyNumExit atomic.Bool
	currentTask    atomic.Value // string

	bgMu         sync.Mutex
	bgCond       *sync.Cond
	bgQueue      []bgTask
	bgShouldExit bool
	bgDone       chan struct{}
}

// Stores carries the five substrate instances a DB runs on. Used
// directly in tests with mock stores; Open builds Pebble-backed ones.
type Stores struct {
	Strings db.Store
	Hashes  db.Store
	Sets    db.Store
	Lists   db.Store
	ZSets   db.Store
}

// New assembles a DB over existing stores. The DB takes ownership of the
// stores and closes them with Close.
func New(st Stores, cfg *config.Options, log logger.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Default()
	}

	d := &DB{
		stores:             []db.Store{st.Strings, st.Hashes, st.Sets, st.Lists, st.ZSets},
		cursors:            newKVCache[string](cursorCacheCapacity),
		log:                log.With("component", "engine"),
		maxHyperLogLogKeys: cfg.MaxHyperLogLogKeys,
		batchDeleteLimit:   cfg.BatchDeleteLimit,
		bgDone:             make(chan struct{}),
	}
	d.bgCond = sync.NewCond(&d.bgMu)
	d.currentTask.Store("No")

	opts := engineOptionsFrom(cfg, d.notifyCompact)
	var err error
	if d.strings, err = NewStringsEngine(st.Strings, log, opts); err != nil {
		return nil, err
	}
	if d.hashes, err = NewHashesEngine(st.Hashes, log, opts); err != nil {
		return nil, err
	}
	if d.sets, err = NewSetsEngine(st.Sets, log, opts); err != nil {
		return nil, err
	}
	if d.lists, err = NewListsEngine(st.Lists, log, opts); err != nil {
		return nil, err
	}
	if d.zsets, err = NewZSetsEngine(st.ZSets, log, opts); err != nil {
		return nil, err
	}

	go d.runBGTask()
	return d, nil
}

// Open creates or opens the five per-type databases under cfg.DBPath
// (strings/, hashes/, sets/, lists/, zsets/) and assembles the DB.
func Open(cfg *config.Options, log logger.Logger) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.Default()
	}

	common := []db.Option{
		db.WithLogger(log),
		db.WithBloomBitsPerKey(cfg.BloomBitsPerKey),
		db.WithSyncWrites(cfg.SyncWrites),
	}
	var sharedCache *pebble.Cache
	if cfg.ShareBlockCache {
		sharedCache = pebble.NewCache(cfg.BlockCacheSize)
		common = append(common, db.WithSharedCache(sharedCache))
	} else if cfg.BlockCacheSize > 0 {
		common = append(common, db.WithCacheSize(cfg.BlockCacheSize))
	}

	type opener struct {
		sub string
		cfs []string
		dst *db.Store
	}
	var st Stores
	openers := []opener{
		{sub: "strings", dst: &st.Strings},
		{sub: "hashes", cfs: []string{dataCF}, dst: &st.Hashes},
		{sub: "sets", cfs: []string{memberCF}, dst: &st.Sets},
		{sub: "lists", cfs: []string{dataCF}, dst: &st.Lists},
		{sub: "zsets", cfs: []string{memberCF, scoreCF}, dst: &st.ZSets},
	}

	closeOpened := func() {
		for _, o := range openers {
			if *o.dst != nil {
				_ = (*o.dst).Close()
			}
		}
		if sharedCache != nil {
			sharedCache.Unref()
		}
	}

	var g errgroup.Group
	for _, o := range openers {
		g.Go(func() error {
			opts := append(append([]db.Option(nil), common...), db.WithColumnFamilies(o.cfs...))
			store, err := db.Open(filepath.Join(cfg.DBPath, o.sub), opts...)
			if err != nil {
				return err
			}
			*o.dst = store
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeOpened()
		return nil, err
	}

	d, err := New(st, cfg, log)
	if err != nil {
		closeOpened()
		return nil, err
	}
	d.sharedCache = sharedCache
	return d, nil
}

// Close stops the background worker, closes every engine in turn, then
// closes the stores concurrently.
func (d *DB) Close() error {
	d.bgMu.Lock()
	d.bgShouldExit = true
	d.bgCond.Signal()
	d.bgMu.Unlock()
	<-d.bgDone

	d.strings.Close()
	d.hashes.Close()
	d.sets.Close()
	d.lists.Close()
	d.zsets.Close()
	d.cursors.Close()

	var g errgroup.Group
	for _, store := range d.stores {
		g.Go(store.Close)
	}
	err := g.Wait()

	if d.sharedCache != nil {
		d.sharedCache.Unref()
	}
	return err
}

// Per-type engine accessors for direct type commands.

func (d *DB) Strings() *StringsEngine { return d.strings }
func (d *DB) Hashes() *HashesEngine   { return d.hashes }
func (d *DB) Sets() *SetsEngine       { return d.sets }
func (d *DB) Lists() *ListsEngine     { return d.lists }
func (d *DB) ZSets() *ZSetsEngine     { return d.zsets }

// SPop delegates to the set engine and schedules the targeted compaction
// its heuristic asks for.
func (d *DB) SPop(key []byte) (string, error) {
	member, needCompact, err := d.sets.SPop(key)
	if needCompact {
		d.addBGTask(bgTask{typ: Sets, op: opCompactKey, arg: string(key)})
	}
	return member, err
}

// forEachType runs op over the engines in the fixed iteration order,
// folding NotFound away and recording other errors per type. The
// aggregate count becomes -1 when any type failed hard.
func (d *DB) forEachType(op func(typ DataType) error, typeStatus map[DataType]error) int64 {
	var count int64
	corrupted := false
	for _, typ := range typeOrder {
		err := op(typ)
		switch {
		case err == nil:
			count++
		case IsNotFound(err):
		default:
			corrupted = true
			if typeStatus != nil {
				typeStatus[typ] = err
			}
		}
	}
	if corrupted {
		return -1
	}
	return count
}

// delOne routes a single-type delete.
func (d *DB) delOne(typ DataType, key string) error {
	switch typ {
	case Strings:
		return d.strings.Del([]byte(key))
	case Hashes:
		return d.hashes.Del([]byte(key))
	case Sets:
		return d.sets.Del([]byte(key))
	case Lists:
		return d.lists.Del([]byte(key))
	case ZSets:
		return d.zsets.Del([]byte(key))
	}
	return fmt.Errorf("%w: unsupported data type", ErrCorruption)
}

// Del deletes keys across every type. Returns the number of deletions,
// or -1 with per-type errors recorded in typeStatus.
func (d *DB) Del(keys []string, typeStatus map[DataType]error) int64 {
	var total int64
	for _, key := range keys {
		n := d.forEachType(func(typ DataType) error {
			return d.delOne(typ, key)
		}, typeStatus)
		if n < 0 {
			return -1
		}
		total += n
	}
	return total
}

// DelByType deletes keys in a single type's engine.
func (d *DB) DelByType(keys []string, typ DataType) int64 {
	if typ == All {
		return -1
	}
	var count int64
	for _, key := range keys {
		err := d.delOne(typ, key)
		switch {
		case err == nil:
			count++
		case IsNotFound(err):
		default:
			return -1
		}
	}
	return count
}

// Expire applies a relative expiry across every type.
func (d *DB) Expire(key string, ttl int64, typeStatus map[DataType]error) int64 {
	return d.forEachType(func(typ DataType) error {
		switch typ {
		case Strings:
			return d.strings.Expire([]byte(key), ttl)
		case Hashes:
			return d.hashes.Expire([]byte(key), ttl)
		case Sets:
			return d.sets.Expire([]byte(key), ttl)
		case Lists:
			return d.lists.Expire([]byte(key), ttl)
		default:
			return d.zsets.Expire([]byte(key), ttl)
		}
	}, typeStatus)
}

// Expireat applies an absolute expiry across every type.
func (d *DB) Expireat(key string, timestamp int64, typeStatus map[DataType]error) int64 {
	return d.forEachType(func(typ DataType) error {
		switch typ {
		case Strings:
			return d.strings.Expireat([]byte(key), timestamp)
		case Hashes:
			return d.hashes.Expireat([]byte(key), timestamp)
		case Sets:
			return d.sets.Expireat([]byte(key), timestamp)
		case Lists:
			return d.lists.Expireat([]byte(key), timestamp)
		default:
			return d.zsets.Expireat([]byte(key), timestamp)
		}
	}, typeStatus)
}

// Persist clears expiries across every type.
func (d *DB) Persist(key string, typeStatus map[DataType]error) int64 {
	return d.forEachType(func(typ DataType) error {
		switch typ {
		case Strings:
			return d.strings.Persist([]byte(key))
		case Hashes:
			return d.hashes.Persist([]byte(key))
		case Sets:
			return d.sets.Persist([]byte(key))
		case Lists:
			return d.lists.Persist([]byte(key))
		default:
			return d.zsets.Persist([]byte(key))
		}
	}, typeStatus)
}

// TTL reports every type's remaining lifetime for the key; hard errors
// mark the type with -3 and record the error.
func (d *DB) TTL(key string, typeStatus map[DataType]error) map[DataType]int64 {
	out := make(map[DataType]int64, len(typeOrder))
	for _, typ := range typeOrder {
		var ttl int64
		var err error
		switch typ {
		case Strings:
			ttl, err = d.strings.TTL([]byte(key))
		case Hashes:
			ttl, err = d.hashes.TTL([]byte(key))
		case Sets:
			ttl, err = d.sets.TTL([]byte(key))
		case Lists:
			ttl, err = d.lists.TTL([]byte(key))
		default:
			ttl, err = d.zsets.TTL([]byte(key))
		}
		if err == nil || IsNotFound(err) {
			out[typ] = ttl
			continue
		}
		out[typ] = -3
		if typeStatus != nil {
			typeStatus[typ] = err
		}
	}
	return out
}

// Exists counts how many types hold the key live.
func (d *DB) Exists(keys []string, typeStatus map[DataType]error) int64 {
	var total int64
	for _, key := range keys {
		n := d.forEachType(func(typ DataType) error {
			switch typ {
			case Strings:
				_, err := d.strings.Get([]byte(key))
				return err
			case Hashes:
				_, err := d.hashes.HLen([]byte(key))
				return err
			case Sets:
				_, err := d.sets.SCard([]byte(key))
				return err
			case Lists:
				_, err := d.lists.LLen([]byte(key))
				return err
			default:
				_, err := d.zsets.ZCard([]byte(key))
				return err
			}
		}, typeStatus)
		if n < 0 {
			return -1
		}
		total += n
	}
	return total
}

// Type probes in the fixed order strings, hash, list, zset, set and
// returns the first live match, or "none". A key existing in several
// types is not an error; the first hit wins.
func (d *DB) Type(key string) (string, error) {
	if _, err := d.strings.Get([]byte(key)); err == nil {
		return "string", nil
	} else if !IsNotFound(err) {
		return "", err
	}

	if n, err := d.hashes.HLen([]byte(key)); err == nil && n != 0 {
		return "hash", nil
	} else if err != nil && !IsNotFound(err) {
		return "", err
	}

	if n, err := d.lists.LLen([]byte(key)); err == nil && n != 0 {
		return "list", nil
	} else if err != nil && !IsNotFound(err) {
		return "", err
	}

	if n, err := d.zsets.ZCard([]byte(key)); err == nil && n != 0 {
		return "zset", nil
	} else if err != nil && !IsNotFound(err) {
		return "", err
	}

	if n, err := d.sets.SCard([]byte(key)); err == nil && n != 0 {
		return "set", nil
	} else if err != nil && !IsNotFound(err) {
		return "", err
	}

	return "none", nil
}

// Keys returns every live key of the given type (or all types) matching
// the pattern.
func (d *DB) Keys(typ DataType, pattern string) ([]string, error) {
	scan := func(t DataType) ([]string, error) {
		switch t {
		case Strings:
			return d.strings.ScanKeys(pattern)
		case Hashes:
			return d.hashes.ScanKeys(pattern)
		case Sets:
			return d.sets.ScanKeys(pattern)
		case Lists:
			return d.lists.ScanKeys(pattern)
		default:
			return d.zsets.ScanKeys(pattern)
		}
	}

	if typ != All {
		return scan(typ)
	}
	var out []string
	for _, t := range []DataType{Strings, Hashes, ZSets, Sets, Lists} {
		keys, err := scan(t)
		if err != nil {
			return out, err
		}
		out = append(out, keys...)
	}
	return out, nil
}

// PKScanRangeByType routes a forward range scan to one type's engine.
// Strings results arrive as key-value pairs, the rest as keys.
func (d *DB) PKScanRangeByType(typ DataType, keyStart, keyEnd []byte, pattern string, limit int32) (keys []string, kvs []KeyValue, nextKey string, err error) {
	switch typ {
	case Strings:
		kvs, nextKey, err = d.strings.PKScanRange(keyStart, keyEnd, pattern, limit)
	case Hashes:
		keys, nextKey, err = d.hashes.PKScanRange(keyStart, keyEnd, pattern, limit)
	case Lists:
		keys, nextKey, err = d.lists.PKScanRange(keyStart, keyEnd, pattern, limit)
	case ZSets:
		keys, nextKey, err = d.zsets.PKScanRange(keyStart, keyEnd, pattern, limit)
	case Sets:
		keys, nextKey, err = d.sets.PKScanRange(keyStart, keyEnd, pattern, limit)
	default:
		err = fmt.Errorf("%w: unsupported data types", ErrCorruption)
	}
	return keys, kvs, nextKey, err
}

// PKRScanRangeByType routes a reverse range scan to one type's engine.
func (d *DB) PKRScanRangeByType(typ DataType, keyStart, keyEnd []byte, pattern string, limit int32) (keys []string, kvs []KeyValue, nextKey string, err error) {
	switch typ {
	case Strings:
		kvs, nextKey, err = d.strings.PKRScanRange(keyStart, keyEnd, pattern, limit)
	case Hashes:
		keys, nextKey, err = d.hashes.PKRScanRange(keyStart, keyEnd, pattern, limit)
	case Lists:
		keys, nextKey, err = d.lists.PKRScanRange(keyStart, keyEnd, pattern, limit)
	case ZSets:
		keys, nextKey, err = d.zsets.PKRScanRange(keyStart, keyEnd, pattern, limit)
	case Sets:
		keys, nextKey, err = d.sets.PKRScanRange(keyStart, keyEnd, pattern, limit)
	default:
		err = fmt.Errorf("%w: unsupported data types", ErrCorruption)
	}
	return keys, kvs, nextKey, err
}

// PKPatternMatchDel routes a pattern delete to one type's engine.
func (d *DB) PKPatternMatchDel(typ DataType, pattern string) (int, error) {
	switch typ {
	case Strings:
		return d.strings.PKPatternMatchDel(pattern, d.batchDeleteLimit)
	case Hashes:
		return d.hashes.PKPatternMatchDel(pattern, d.batchDeleteLimit)
	case Lists:
		return d.lists.PKPatternMatchDel(pattern, d.batchDeleteLimit)
	case ZSets:
		return d.zsets.PKPatternMatchDel(pattern, d.batchDeleteLimit)
	case Sets:
		return d.sets.PKPatternMatchDel(pattern, d.batchDeleteLimit)
	}
	return 0, fmt.Errorf("%w: unsupported data type", ErrCorruption)
}

// Compact compacts one type (or all) synchronously, or queues it on the
// background worker.
func (d *DB) Compact(typ DataType, sync bool) error {
	if sync {
		return d.DoCompact(typ)
	}
	d.addBGTask(bgTask{typ: typ, op: opCleanAll})
	return nil
}

// DoCompact runs the per-type compaction now.
func (d *DB) DoCompact(typ DataType) error {
	compact := func(t DataType) error {
		d.currentTask.Store("Clean" + t.String())
		defer d.currentTask.Store("No")
		switch t {
		case Strings:
			return d.strings.CompactAll()
		case Hashes:
			return d.hashes.CompactAll()
		case Sets:
			return d.sets.CompactAll()
		case Lists:
			return d.lists.CompactAll()
		default:
			return d.zsets.CompactAll()
		}
	}

	switch typ {
	case Strings, Hashes, Sets, Lists, ZSets:
		return compact(typ)
	case All:
		d.currentTask.Store("CleanAll")
		defer d.currentTask.Store("No")
		var err error
		for _, t := range typeOrder {
			if cerr := compact(t); cerr != nil {
				err = cerr
			}
		}
		return err
	}
	return fmt.Errorf("%w: unsupported data type", ErrInvalidArgument)
}

// CompactKey compacts the meta row and data rows of one logical key.
func (d *DB) CompactKey(typ DataType, key string) error {
	switch typ {
	case Strings:
		return d.strings.CompactKey([]byte(key))
	case Hashes:
		return d.hashes.CompactKey([]byte(key))
	case Sets:
		return d.sets.CompactKey([]byte(key))
	case Lists:
		return d.lists.CompactKey([]byte(key))
	case ZSets:
		return d.zsets.CompactKey([]byte(key))
	}
	return fmt.Errorf("%w: unsupported data type", ErrInvalidArgument)
}

// GetCurrentTaskType names the background compaction currently running.
func (d *DB) GetCurrentTaskType() string {
	return d.currentTask.Load().(string)
}

// GetKeyNum summarises every type's keyspace in the fixed order strings,
// hashes, lists, zsets, sets; StopScanKeyNum aborts between types.
func (d *DB) GetKeyNum() ([]KeyInfo, error) {
	out := make([]KeyInfo, 0, 5)
	for _, typ := range []DataType{Strings, Hashes, Lists, ZSets, Sets} {
		if d.scanKeyNumExit.Load() {
			d.scanKeyNumExit.Store(false)
			return out, fmt.Errorf("%w: exit", ErrIncomplete)
		}
		var info *KeyInfo
		var err error
		switch typ {
		case Strings:
			info, err = d.strings.ScanKeyNum()
		case Hashes:
			info, err = d.hashes.ScanKeyNum()
		case Lists:
			info, err = d.lists.ScanKeyNum()
		case ZSets:
			info, err = d.zsets.ScanKeyNum()
		default:
			info, err = d.sets.ScanKeyNum()
		}
		if err != nil {
			return out, err
		}
		out = append(out, *info)
	}
	return out, nil
}

// StopScanKeyNum cooperatively cancels an in-flight GetKeyNum.
func (d *DB) StopScanKeyNum() {
	d.scanKeyNumExit.Store(true)
}

// GetUsage returns each type's substrate metrics dump keyed by type
// name, so partial views stay observable when one instance misbehaves.
func (d *DB) GetUsage() map[string]string {
	out := make(map[string]string, len(typeOrder))
	for _, t := range typeOrder {
		out[t.String()] = d.GetProperty(t)
	}
	return out
}

// GetProperty returns the concatenated substrate metrics of the selected
// type, or of every type for All.
func (d *DB) GetProperty(typ DataType) string {
	property := func(t DataType) string {
		switch t {
		case Strings:
			return d.strings.GetProperty()
		case Hashes:
			return d.hashes.GetProperty()
		case Sets:
			return d.sets.GetProperty()
		case Lists:
			return d.lists.GetProperty()
		default:
			return d.zsets.GetProperty()
		}
	}
	if typ != All {
		return property(typ)
	}
	var out string
	for _, t := range typeOrder {
		out += property(t)
	}
	return out
}
