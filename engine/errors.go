package engine

import (
	"errors"
	"fmt"
)

// Result taxonomy. NotFound folds expected point-read misses into
// operation semantics; substrate I/O errors always propagate unchanged.
var (
	// ErrNotFound reports a key that is absent or logically dead.
	ErrNotFound = errors.New("engine: not found")

	// ErrStale is a NotFound whose key exists physically but has expired.
	ErrStale = fmt.Errorf("%w: stale", ErrNotFound)

	// ErrNoTimeout is returned by Persist when no expiry is set.
	ErrNoTimeout = fmt.Errorf("%w: not have an associated timeout", ErrNotFound)

	// ErrInvalidArgument reports caller input the engine refuses outright.
	ErrInvalidArgument = errors.New("engine: invalid argument")

	// ErrCorruption reports malformed input or undecodable stored state.
	ErrCorruption = errors.New("engine: corruption")

	// ErrIncomplete reports an operation cut short (e.g. stopped scans).
	ErrIncomplete = errors.New("engine: incomplete")
)

// IsNotFound reports whether err is any flavour of NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
