// Package offset defines the position type used to describe a reader's
// place in a MySQL binary log stream, and the stop condition a binlog
// split reader runs until.
package offset

import (
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
)

// Offset is a point in the binary log stream. It wraps mysql.Position
// (file name + byte offset) rather than inventing a new wire format,
// since that's what the replication client already hands back from
// every event.
type Offset struct {
	pos mysql.Position
}

// Initial is the zero value: before any binlog file has been opened.
// It compares less than every real offset.
var Initial = Offset{}

// New constructs an Offset from a binlog file name and byte position.
func New(name string, pos uint32) Offset {
	return Offset{pos: mysql.Position{Name: name, Pos: pos}}
}

// FromPosition adapts a mysql.Position as returned by canal.Canal.
func FromPosition(p mysql.Position) Offset {
	return Offset{pos: p}
}

// Position returns the underlying mysql.Position, for handing to canal.
func (o Offset) Position() mysql.Position {
	return o.pos
}

// IsInitial reports whether this offset is the zero value.
func (o Offset) IsInitial() bool {
	return o.pos.Name == "" && o.pos.Pos == 0
}

// Compare returns -1, 0 or 1 as o is before, equal to, or after other.
// Binlog file names carry a monotonically increasing numeric suffix
// (mysql-bin.000001, ...000002, ...), so string comparison after
// comparing file names for equality is sufficient; only ties fall
// through to the byte offset.
func (o Offset) Compare(other Offset) int {
	return o.pos.Compare(other.pos)
}

// Before reports whether o strictly precedes other.
func (o Offset) Before(other Offset) bool {
	return o.Compare(other) < 0
}

// NotAfter reports whether o is less than or equal to other, i.e.
// "o has not advanced past other". This replaces an inverted
// isAtOrBefore helper from an earlier design: the name now says
// exactly what the method returns.
func (o Offset) NotAfter(other Offset) bool {
	return o.Compare(other) <= 0
}

// Min returns the earlier of two offsets. Used when computing a safe
// binlog-split resume point across multiple finished chunks: resuming
// from the minimum high watermark guarantees no chunk's tail events
// are skipped.
func Min(a, b Offset) Offset {
	if b.Before(a) {
		return b
	}
	return a
}

func (o Offset) String() string {
	if o.IsInitial() {
		return "initial"
	}
	return fmt.Sprintf("%s:%d", o.pos.Name, o.pos.Pos)
}

// Stop is a binlog split's termination condition. It is a distinguished
// type rather than a sentinel Offset value (some prior designs tried to
// encode "never stop" as an out-of-band offset, which collides with any
// real position that happens to sort the same way). A Stop is either
// Never, or bound to a specific Offset the reader must reach or pass.
type Stop struct {
	never bool
	at    Offset
}

// NeverStop returns a Stop condition that is never satisfied; the
// binlog split reader tails the log indefinitely.
func NeverStop() Stop {
	return Stop{never: true}
}

// StopAt returns a Stop condition satisfied once the reader's current
// offset is not before the given offset.
func StopAt(at Offset) Stop {
	return Stop{at: at}
}

// IsNever reports whether this Stop never triggers.
func (s Stop) IsNever() bool {
	return s.never
}

// At returns the bound offset and whether one is set.
func (s Stop) At() (Offset, bool) {
	if s.never {
		return Offset{}, false
	}
	return s.at, true
}

// ShouldStopAt reports whether a reader positioned at current should
// stop, short-circuiting on Never before any comparison happens.
func (s Stop) ShouldStopAt(current Offset) bool {
	if s.never {
		return false
	}
	return !current.Before(s.at)
}

func (s Stop) String() string {
	if s.never {
		return "never"
	}
	return "at(" + s.at.String() + ")"
}
