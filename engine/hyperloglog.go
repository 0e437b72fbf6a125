package engine

import (
	"fmt"

	"github.com/axiomhq/hyperloglog"
)

// HyperLogLog rides on the strings engine: each sketch is a precision-14
// register set (16384 registers) stored marshalled as a plain string
// value, so key-level ops (Del, Expire, Type) treat it as any string.

// loadSketch decodes the sketch stored at key; absent or stale keys give
// an empty sketch with created=true.
func (d *DB) loadSketch(key string) (sk *hyperloglog.Sketch, created bool, err error) {
	raw, err := d.strings.Get([]byte(key))
	switch {
	case err == nil:
		sk = hyperloglog.New14()
		if uerr := sk.UnmarshalBinary(raw); uerr != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCorruption, uerr)
		}
		return sk, false, nil
	case IsNotFound(err):
		return hyperloglog.New14(), true, nil
	default:
		return nil, false, err
	}
}

// PfAdd inserts values into the sketch at key. The update flag reports
// whether the estimated cardinality changed or an empty key was created.
func (d *DB) PfAdd(key string, values []string) (updated bool, err error) {
	if len(values) >= d.maxHyperLogLogKeys {
		return false, fmt.Errorf("%w: invalid the number of key", ErrInvalidArgument)
	}

	sk, created, err := d.loadSketch(key)
	if err != nil {
		return false, err
	}

	previous := sk.Estimate()
	for _, v := range values {
		sk.Insert([]byte(v))
	}
	now := sk.Estimate()

	raw, err := sk.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if err := d.strings.Set([]byte(key), raw); err != nil {
		return false, err
	}
	return previous != now || (created && len(values) == 0), nil
}

// PfCount estimates the cardinality of the union of the given keys.
func (d *DB) PfCount(keys []string) (int64, error) {
	if len(keys) == 0 || len(keys) >= d.maxHyperLogLogKeys {
		return 0, fmt.Errorf("%w: invalid the number of key", ErrInvalidArgument)
	}

	first, _, err := d.loadSketch(keys[0])
	if err != nil {
		return 0, err
	}
	for _, key := range keys[1:] {
		sk, created, err := d.loadSketch(key)
		if err != nil {
			return 0, err
		}
		if created {
			continue
		}
		if err := first.Merge(sk); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCorruption, err)
		}
	}
	return int64(first.Estimate()), nil
}

// PfMerge folds the union of all keys back into the first key.
func (d *DB) PfMerge(keys []string) error {
	if len(keys) == 0 || len(keys) >= d.maxHyperLogLogKeys {
		return fmt.Errorf("%w: invalid the number of key", ErrInvalidArgument)
	}

	first, _, err := d.loadSketch(keys[0])
	if err != nil {
		return err
	}
	for _, key := range keys[1:] {
		sk, created, err := d.loadSketch(key)
		if err != nil {
			return err
		}
		if created {
			continue
		}
		if err := first.Merge(sk); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
	}

	raw, err := first.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return d.strings.Set([]byte(keys[0]), raw)
}
