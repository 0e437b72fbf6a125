// Package codec owns the binary layouts shared by every type engine:
// meta values, data keys, order-preserving score and list-index encodings.
//
// Meta fields are little-endian; data-key components that must sort are
// big-endian. Encoders are stable across releases. Decoders validate
// length but tolerate trailing bytes so that type-specific extensions can
// ride after the fixed header.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Sentinel errors returned by decoders.
var (
	ErrShortMeta    = errors.New("codec: meta value too short")
	ErrShortDataKey = errors.New("codec: data key too short")
)

// metaHeaderSize is count(4) + version(4) + timestamp(4).
const metaHeaderSize = 12

// Meta is the decoded form of a meta row value: one row per logical key.
//
// A meta row with Count == 0, or with Timestamp != 0 and Timestamp <= now,
// is stale: its data rows are logically absent regardless of physical
// presence.
type Meta struct {
	Count     uint32
	Version   uint32
	Timestamp int32

	// Extra carries type-specific trailing bytes (e.g. list anchors).
	Extra []byte
}

// NewMeta builds a meta value for a freshly created key. The version is
// derived from the wall clock so that it stays monotonic across reopens.
func NewMeta(count uint32, now int64) *Meta {
	return &Meta{Count: count, Version: uint32(now)}
}

// DecodeMeta parses a meta row value. Trailing bytes beyond the fixed
// header are preserved in Extra.
func DecodeMeta(b []byte) (*Meta, error) {
	if len(b) < metaHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMeta, len(b))
	}
	m := &Meta{
		Count:     binary.LittleEndian.Uint32(b[0:4]),
		Version:   binary.LittleEndian.Uint32(b[4:8]),
		Timestamp: int32(binary.LittleEndian.Uint32(b[8:12])),
	}
	if len(b) > metaHeaderSize {
		m.Extra = append([]byte(nil), b[metaHeaderSize:]...)
	}
	return m, nil
}

// Encode serialises the meta value, fixed header first, Extra verbatim.
func (m *Meta) Encode() []byte {
	b := make([]byte, metaHeaderSize+len(m.Extra))
	binary.LittleEndian.PutUint32(b[0:4], m.Count)
	binary.LittleEndian.PutUint32(b[4:8], m.Version)
	binary.LittleEndian.PutUint32(b[8:12], uint32(m.Timestamp))
	copy(b[metaHeaderSize:], m.Extra)
	return b
}

// IsStale reports whether the key's expiry has passed.
func (m *Meta) IsStale(now int64) bool {
	return m.Timestamp != 0 && int64(m.Timestamp) <= now
}

// IsEmpty reports whether the current incarnation holds no elements.
func (m *Meta) IsEmpty() bool { return m.Count == 0 }

// InitialMeta starts a new incarnation: the version is bumped (never
// below the previous one), the count and timestamp are cleared. The data
// rows of the prior incarnation become orphans for the compaction filter.
// Returns the new version.
func (m *Meta) InitialMeta(now int64) uint32 {
	if uint32(now) > m.Version {
		m.Version = uint32(now)
	} else {
		m.Version++
	}
	m.Count = 0
	m.Timestamp = 0
	return m.Version
}

// ModifyCount adjusts the live-element count in place.
func (m *Meta) ModifyCount(delta int32) {
	m.Count = uint32(int32(m.Count) + delta)
}

// SetRelativeTimestamp sets an absolute expiry ttl seconds from now.
func (m *Meta) SetRelativeTimestamp(ttl, now int64) {
	m.Timestamp = int32(now + ttl)
}

// ---------------------------------------------------------------------------
// Data keys
// ---------------------------------------------------------------------------

// EncodeDataKey builds a data row key:
//
//	user_key_len(4B BE) || user_key || version(4B BE) || suffix
//
// The length prefix keeps prefix scans on "ab" from bleeding into "abc".
func EncodeDataKey(userKey []byte, version uint32, suffix []byte) []byte {
	b := make([]byte, 4+len(userKey)+4+len(suffix))
	binary.BigEndian.PutUint32(b[0:4], uint32(len(userKey)))
	n := 4 + copy(b[4:], userKey)
	binary.BigEndian.PutUint32(b[n:n+4], version)
	copy(b[n+4:], suffix)
	return b
}

// DataPrefix is the common prefix of every data row of one incarnation.
func DataPrefix(userKey []byte, version uint32) []byte {
	return EncodeDataKey(userKey, version, nil)
}

// DecodeDataKey splits a data row key into its components. The returned
// slices alias b.
func DecodeDataKey(b []byte) (userKey []byte, version uint32, suffix []byte, err error) {
	if len(b) < 8 {
		return nil, 0, nil, fmt.Errorf("%w: %d bytes", ErrShortDataKey, len(b))
	}
	kl := int(binary.BigEndian.Uint32(b[0:4]))
	if len(b) < 4+kl+4 {
		return nil, 0, nil, fmt.Errorf("%w: key length %d exceeds %d bytes", ErrShortDataKey, kl, len(b))
	}
	userKey = b[4 : 4+kl]
	version = binary.BigEndian.Uint32(b[4+kl : 8+kl])
	suffix = b[8+kl:]
	return userKey, version, suffix, nil
}

// MetaRange returns the [start, end) meta-CF key range covering exactly
// one logical key, for targeted compaction.
func MetaRange(userKey []byte) (start, end []byte) {
	start = append([]byte(nil), userKey...)
	end = append(append([]byte(nil), userKey...), 0x00)
	return start, end
}

// DataRange returns the [start, end) data-CF key range covering every
// incarnation of one logical key.
func DataRange(userKey []byte) (start, end []byte) {
	start = make([]byte, 4+len(userKey))
	binary.BigEndian.PutUint32(start[0:4], uint32(len(userKey)))
	copy(start[4:], userKey)
	end = append(append([]byte(nil), start...), 0xff, 0xff, 0xff, 0xff, 0xff)
	return start, end
}

// ---------------------------------------------------------------------------
// Strings values
// ---------------------------------------------------------------------------

// StringsValue is the value layout of the strings engine: the header holds
// only the expiry; the user value follows raw. Strings have no data CF.
type StringsValue struct {
	Timestamp int32
	Value     []byte
}

// DecodeStringsValue parses a strings row value.
func DecodeStringsValue(b []byte) (*StringsValue, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortMeta, len(b))
	}
	return &StringsValue{
		Timestamp: int32(binary.LittleEndian.Uint32(b[0:4])),
		Value:     append([]byte(nil), b[4:]...),
	}, nil
}

// Encode serialises the strings value.
func (v *StringsValue) Encode() []byte {
	b := make([]byte, 4+len(v.Value))
	binary.LittleEndian.PutUint32(b[0:4], uint32(v.Timestamp))
	copy(b[4:], v.Value)
	return b
}

// IsStale reports whether the string's expiry has passed.
func (v *StringsValue) IsStale(now int64) bool {
	return v.Timestamp != 0 && int64(v.Timestamp) <= now
}

// ---------------------------------------------------------------------------
// Sorted-set score encoding
// ---------------------------------------------------------------------------

// EncodeScore maps a float64 onto 8 bytes whose lexicographic order equals
// numeric order: the sign bit is inverted for non-negative doubles, every
// bit for negative ones.
func EncodeScore(score float64) []byte {
	bits := math.Float64bits(score)
	if bits&(1<<63) == 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, bits)
	return b
}

// DecodeScore inverts EncodeScore.
func DecodeScore(b []byte) (float64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: score needs 8 bytes, got %d", ErrShortDataKey, len(b))
	}
	bits := binary.BigEndian.Uint64(b[:8])
	if bits&(1<<63) != 0 {
		bits ^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

// ---------------------------------------------------------------------------
// List index encoding
// ---------------------------------------------------------------------------

// EncodeListIndex maps a signed 64-bit list index onto 8 big-endian bytes
// whose byte order matches numeric order (sign bit flipped).
func EncodeListIndex(idx int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(idx)^(1<<63))
	return b
}

// DecodeListIndex inverts EncodeListIndex.
func DecodeListIndex(b []byte) (int64, error) {
	if len(b) < 8 {
		return 0, fmt.Errorf("%w: list index needs 8 bytes, got %d", ErrShortDataKey, len(b))
	}
	return int64(binary.BigEndian.Uint64(b[:8]) ^ (1 << 63)), nil
}

// ---------------------------------------------------------------------------
// Lists meta
// ---------------------------------------------------------------------------

// listsExtraSize is left_anchor(8) + right_anchor(8).
const listsExtraSize = 16

// ListsMeta is the meta layout of the lists engine: the common header plus
// exclusive head/tail index anchors. Element indices live strictly between
// the anchors; pushes move only an anchor, and indices are never reused
// within an incarnation.
type ListsMeta struct {
	Meta
	Left  int64
	Right int64
}

// ListIndexStep is the gap left between neighbouring indices on push, so
// LInsert can allocate midpoints without shifting elements.
const ListIndexStep int64 = 1 << 32

// NewListsMeta builds the meta value for a freshly created list.
func NewListsMeta(now int64) *ListsMeta {
	m := &ListsMeta{Meta: Meta{Version: uint32(now)}}
	m.ResetAnchors()
	return m
}

// ResetAnchors re-centres the anchors for an empty incarnation.
func (m *ListsMeta) ResetAnchors() {
	m.Left = 0
	m.Right = ListIndexStep
}

// DecodeListsMeta parses a lists meta row value.
func DecodeListsMeta(b []byte) (*ListsMeta, error) {
	base, err := DecodeMeta(b)
	if err != nil {
		return nil, err
	}
	if len(base.Extra) < listsExtraSize {
		return nil, fmt.Errorf("%w: lists extra %d bytes", ErrShortMeta, len(base.Extra))
	}
	return &ListsMeta{
		Meta:  Meta{Count: base.Count, Version: base.Version, Timestamp: base.Timestamp},
		Left:  int64(binary.LittleEndian.Uint64(base.Extra[0:8])),
		Right: int64(binary.LittleEndian.Uint64(base.Extra[8:16])),
	}, nil
}

// Encode serialises the lists meta value.
func (m *ListsMeta) Encode() []byte {
	extra := make([]byte, listsExtraSize)
	binary.LittleEndian.PutUint64(extra[0:8], uint64(m.Left))
	binary.LittleEndian.PutUint64(extra[8:16], uint64(m.Right))
	m.Extra = extra
	return m.Meta.Encode()
}

// InitialListsMeta starts a new incarnation and re-centres the anchors.
func (m *ListsMeta) InitialListsMeta(now int64) uint32 {
	v := m.InitialMeta(now)
	m.ResetAnchors()
	return v
}
