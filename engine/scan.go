package engine

import (
	"fmt"
	"strconv"

	"github.com/beyondbrewing/pebbledis/utils"
)

// Cross-type Scan presents one monotonic cursor over up to five
// keyspaces. The stored continuation is tagged with a one-character type
// prefix (k/h/s/l/z); when one type's keyspace is exhausted mid-scan the
// cursor hands off to the next type at the same pattern prefix. Losing a
// continuation entry merely restarts iteration from the front.

func cursorKey(typ DataType, cursor int64) string {
	return string(typeTag[typ]) + strconv.FormatInt(cursor, 10)
}

func (d *DB) getStartKey(typ DataType, cursor int64) (string, bool) {
	return d.cursors.Get(cursorKey(typ, cursor))
}

func (d *DB) storeCursorStartKey(typ DataType, cursor int64, startKey string) {
	d.cursors.Set(cursorKey(typ, cursor), startKey)
}

// scanOne routes a bounded meta scan to one type's engine.
func (d *DB) scanOne(typ DataType, startKey, pattern string, count *int64) ([]string, string, bool, error) {
	switch typ {
	case Strings:
		return d.strings.Scan(startKey, pattern, count)
	case Hashes:
		return d.hashes.Scan(startKey, pattern, count)
	case Sets:
		return d.sets.Scan(startKey, pattern, count)
	case Lists:
		return d.lists.Scan(startKey, pattern, count)
	case ZSets:
		return d.zsets.Scan(startKey, pattern, count)
	}
	return nil, "", false, fmt.Errorf("%w: unsupported data types", ErrCorruption)
}

// Scan visits up to count live keys of typ (or of every type for All)
// and returns the cursor for the next call; 0 means exhaustion.
func (d *DB) Scan(typ DataType, cursor int64, pattern string, count int64) (int64, []string, error) {
	if cursor < 0 {
		return 0, nil, nil
	}
	if count <= 0 {
		count = 10
	}

	prefix := utils.TailWildcardPrefix(pattern)
	leftover := count
	step := count

	startKey, ok := d.getStartKey(typ, cursor)
	if !ok {
		// A scan over every type starts with the strings keyspace.
		base := typ
		if typ == All {
			base = Strings
		}
		startKey = string(typeTag[base]) + prefix
		cursor = 0
	}
	if len(startKey) == 0 {
		return 0, nil, fmt.Errorf("%w: empty scan cursor", ErrCorruption)
	}

	tag := startKey[0]
	start := startKey[1:]

	idx := -1
	for i, t := range typeOrder {
		if typeTag[t] == tag {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, nil, fmt.Errorf("%w: invalid scan cursor tag", ErrCorruption)
	}

	var keys []string
	for i := idx; i < len(typeOrder); i++ {
		t := typeOrder[i]
		found, nextKey, finished, err := d.scanOne(t, start, pattern, &leftover)
		if err != nil {
			return 0, keys, err
		}
		keys = append(keys, found...)

		if leftover == 0 && !finished {
			next := cursor + step
			d.storeCursorStartKey(typ, next, string(typeTag[t])+nextKey)
			return next, keys, nil
		}
		if finished {
			if typ == t || i == len(typeOrder)-1 {
				return 0, keys, nil
			}
			if leftover == 0 {
				next := cursor + step
				d.storeCursorStartKey(typ, next, string(typeTag[typeOrder[i+1]])+prefix)
				return next, keys, nil
			}
		}
		start = prefix
	}
	return 0, keys, nil
}

// Scanx is the resumable-by-key variant: it starts at startKey within one
// type and returns the next resume key instead of a cursor.
func (d *DB) Scanx(typ DataType, startKey, pattern string, count int64) ([]string, string, error) {
	if count <= 0 {
		count = 10
	}
	keys, nextKey, _, err := d.scanOne(typ, startKey, pattern, &count)
	return keys, nextKey, err
}
