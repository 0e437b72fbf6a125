// Package engine implements Redis-style strings, hashes, sets, sorted
// sets, lists, and HyperLogLog on top of the db substrate. Each data type
// owns its own database instance split into a meta column family (one row
// per logical key) and one or two data column families (one row per
// element). Logical deletion is a version bump on the meta row; orphaned
// data rows are reclaimed by compaction filters.
package engine

// DataType identifies one of the five per-type databases.
type DataType int

const (
	Strings DataType = iota
	Hashes
	Sets
	Lists
	ZSets
	All
)

// typeTag is the one-character cursor tag of each type, also used as the
// cursor-cache namespace.
var typeTag = map[DataType]byte{
	Strings: 'k',
	Hashes:  'h',
	Sets:    's',
	Lists:   'l',
	ZSets:   'z',
	All:     'a',
}

func (t DataType) String() string {
	switch t {
	case Strings:
		return "strings"
	case Hashes:
		return "hashes"
	case Sets:
		return "sets"
	case Lists:
		return "lists"
	case ZSets:
		return "zsets"
	case All:
		return "all"
	}
	return "unknown"
}

// Column family names within a per-type database. Meta rows always live
// in the substrate's default CF.
const (
	memberCF = "member_cf"
	dataCF   = "data_cf"
	scoreCF  = "score_cf"
)

// KeyInfo summarises one type's keyspace for ScanKeyNum.
type KeyInfo struct {
	Keys        uint64
	Expires     uint64
	AvgTTL      uint64
	InvalidKeys uint64
}

// KeyValue pairs a key with its value for strings range scans.
type KeyValue struct {
	Key   string
	Value string
}

// FieldValue pairs a hash field with its value.
type FieldValue struct {
	Field string
	Value string
}

// ValueStatus carries one HMGet result: the value when Err is nil, or
// the per-field lookup error (typically ErrNotFound).
type ValueStatus struct {
	Value string
	Err   error
}

// ScoreMember pairs a sorted-set member with its score.
type ScoreMember struct {
	Score  float64
	Member string
}

// Aggregate selects how ZUnionstore/ZInterstore combine scores.
type Aggregate int

const (
	AggregateSum Aggregate = iota
	AggregateMin
	AggregateMax
)

// BeforeOrAfter selects the LInsert pivot side.
type BeforeOrAfter int

const (
	Before BeforeOrAfter = iota
	After
)
