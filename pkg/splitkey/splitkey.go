// Package splitkey defines the comparable key values used to bound a
// table split and to identify a changed row for duplicate suppression.
package splitkey

import (
	"bytes"
	"fmt"
	"time"

	"github.com/pingcap/errors"
)

// Kind enumerates the primary-key column types this connector knows
// how to order. Anything outside this set is rejected at planning
// time rather than silently compared as a string, which would produce
// chunk boundaries that don't actually partition the table.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt64
	KindUint64
	KindString
	KindBytes
	KindTime
)

// ErrUnsupportedKeyType is returned by New when a column value's Go
// type has no defined ordering in this package.
var ErrUnsupportedKeyType = errors.New("splitkey: unsupported key type")

// Key is a single ordered value from a split's key column. Only
// single-column keys are supported.
type Key struct {
	kind Kind
	i64  int64
	u64  uint64
	str  string
	by   []byte
	t    time.Time
}

// New builds a Key from a Go value pulled out of a database/sql scan.
// It accepts the kinds produced by the MySQL driver for integer,
// string, binary, and temporal column types.
func New(v any) (Key, error) {
	switch x := v.(type) {
	case int64:
		return Key{kind: KindInt64, i64: x}, nil
	case int:
		return Key{kind: KindInt64, i64: int64(x)}, nil
	case uint64:
		return Key{kind: KindUint64, u64: x}, nil
	case string:
		return Key{kind: KindString, str: x}, nil
	case []byte:
		// copy, since the driver may reuse the backing array
		cp := make([]byte, len(x))
		copy(cp, x)
		return Key{kind: KindBytes, by: cp}, nil
	case time.Time:
		return Key{kind: KindTime, t: x}, nil
	default:
		return Key{}, errors.Annotatef(ErrUnsupportedKeyType, "got %T", v)
	}
}

// Kind reports the key's value kind.
func (k Key) Kind() Kind {
	return k.kind
}

// Int64 returns the key's value as an int64. It panics if Kind is not
// KindInt64; callers check Kind first, the same convention Compare
// uses for mismatched kinds.
func (k Key) Int64() int64 {
	if k.kind != KindInt64 {
		panic("splitkey: not an int64 key")
	}
	return k.i64
}

// Uint64 returns the key's value as a uint64. It panics if Kind is not
// KindUint64.
func (k Key) Uint64() uint64 {
	if k.kind != KindUint64 {
		panic("splitkey: not a uint64 key")
	}
	return k.u64
}

// Compare returns -1, 0, 1 as k is less than, equal to, or greater
// than other. Comparing keys of different kinds panics: the assigner
// never constructs a split with mismatched key kinds, and a mismatch
// here indicates a bug in the caller, not bad input data.
func (k Key) Compare(other Key) int {
	if k.kind != other.kind {
		panic(fmt.Sprintf("splitkey: cannot compare %v with %v", k.kind, other.kind))
	}
	switch k.kind {
	case KindInt64:
		switch {
		case k.i64 < other.i64:
			return -1
		case k.i64 > other.i64:
			return 1
		default:
			return 0
		}
	case KindUint64:
		switch {
		case k.u64 < other.u64:
			return -1
		case k.u64 > other.u64:
			return 1
		default:
			return 0
		}
	case KindString:
		switch {
		case k.str < other.str:
			return -1
		case k.str > other.str:
			return 1
		default:
			return 0
		}
	case KindBytes:
		return bytes.Compare(k.by, other.by)
	case KindTime:
		switch {
		case k.t.Before(other.t):
			return -1
		case k.t.After(other.t):
			return 1
		default:
			return 0
		}
	default:
		panic("splitkey: comparing invalid key")
	}
}

func (k Key) String() string {
	switch k.kind {
	case KindInt64:
		return fmt.Sprintf("%d", k.i64)
	case KindUint64:
		return fmt.Sprintf("%d", k.u64)
	case KindString:
		return k.str
	case KindBytes:
		return fmt.Sprintf("%x", k.by)
	case KindTime:
		return k.t.Format(time.RFC3339Nano)
	default:
		return "<invalid>"
	}
}

// Range is an inclusive-lower, exclusive-upper key range used to bound
// a snapshot split's SELECT. A nil Lower/Upper bound means unbounded
// (first/last chunk of the table).
type Range struct {
	Lower *Key
	Upper *Key
}

// Contains reports whether k falls within [Lower, Upper).
func (r Range) Contains(k Key) bool {
	if r.Lower != nil && k.Compare(*r.Lower) < 0 {
		return false
	}
	if r.Upper != nil && k.Compare(*r.Upper) >= 0 {
		return false
	}
	return true
}
