// Package syncmodel defines the data types shared across the synchronization
// engine: events, conflict records, replication cursors, integrity checks,
// and the per-entity-type configuration that governs them.
package syncmodel

import (
	"fmt"
	"time"
)

// UpdatedAtField and CreatedAtField name the payload fields conflict
// detection and resolution read timestamps from. Either may be stored as
// a numeric epoch-millisecond Value or an RFC3339 string Value.
const (
	UpdatedAtField = "updated-at"
	CreatedAtField = "created-at"
)

// ValueKind tags the concrete shape held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

// Value is a tagged variant for scalars, maps, and lists. Payloads use Value
// instead of a bare interface{} so merge and comparison operate on a known
// shape instead of reflection over arbitrary Go types.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Map  map[string]Value
	List []Value
}

func Null() Value                { return Value{Kind: KindNull} }
func String(s string) Value      { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value     { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value          { return Value{Kind: KindBool, Bool: b} }
func Map(m map[string]Value) Value { return Value{Kind: KindMap, Map: m} }
func List(l []Value) Value       { return Value{Kind: KindList, List: l} }

// Equal reports whether two values are structurally identical, recursing
// into maps and lists.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == other.Str
	case KindNumber:
		return v.Num == other.Num
	case KindBool:
		return v.Bool == other.Bool
	case KindMap:
		if len(v.Map) != len(other.Map) {
			return false
		}
		for k, val := range v.Map {
			ov, ok := other.Map[k]
			if !ok || !val.Equal(ov) {
				return false
			}
		}
		return true
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Payload is an entity's opaque key→value map, keyed by field name.
type Payload map[string]Value

// Clone returns a copy of the field map so callers can set or delete
// top-level fields without aliasing the original event's payload. Nested
// Map and List values are not copied and stay shared with the original.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Keys returns the field-name set, used by schema-mismatch detection.
func (p Payload) Keys() map[string]struct{} {
	out := make(map[string]struct{}, len(p))
	for k := range p {
		out[k] = struct{}{}
	}
	return out
}

// Diff returns the field names whose values differ between p and other,
// including fields present in only one side.
func (p Payload) Diff(other Payload) []string {
	seen := make(map[string]struct{}, len(p)+len(other))
	var diffs []string
	for k, v := range p {
		seen[k] = struct{}{}
		ov, ok := other[k]
		if !ok || !v.Equal(ov) {
			diffs = append(diffs, k)
		}
	}
	for k := range other {
		if _, ok := seen[k]; ok {
			continue
		}
		diffs = append(diffs, k)
	}
	return diffs
}

// StringField reads a top-level string field, used for updated-at/created-at
// style timestamp lookups that the conflict resolver needs as plain values.
func (p Payload) StringField(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}

// TimeField reads a top-level updated-at/created-at style field, accepting
// either a numeric epoch-millisecond Value or an RFC3339 string Value.
func (p Payload) TimeField(name string) (time.Time, bool) {
	v, ok := p[name]
	if !ok {
		return time.Time{}, false
	}
	switch v.Kind {
	case KindNumber:
		return time.UnixMilli(int64(v.Num)).UTC(), true
	case KindString:
		t, err := time.Parse(time.RFC3339Nano, v.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

func (p Payload) String() string {
	return fmt.Sprintf("Payload(%d fields)", len(p))
}
