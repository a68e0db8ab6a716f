// Package cdcevent defines the row-change and watermark events that
// flow out of the snapshot-split reader, the binlog-split reader, and
// the record normalizer.
package cdcevent

import (
	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/offset"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

// Op is the kind of change a DataChangeEvent carries.
type Op int

const (
	OpRead Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "READ"
	case OpCreate:
		return "CREATE"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Event is implemented by DataChangeEvent and the three watermark
// marker events. The marker method keeps the set closed so every
// switch over Event kinds can end in a panic default instead of a
// silently-ignored case.
type Event interface {
	Table() cdcsplit.TableID
	isEvent()
}

// DataChangeEvent is a single row change: a snapshot READ row, or a
// CREATE/UPDATE/DELETE pulled from the binary log.
type DataChangeEvent struct {
	Op       Op
	TableID  cdcsplit.TableID
	Key      splitkey.Key
	Position offset.Offset // zero value (offset.Initial) for READ events
	Columns  map[string]any
}

func (e *DataChangeEvent) Table() cdcsplit.TableID { return e.TableID }
func (e *DataChangeEvent) isEvent()                {}

// WatermarkKind distinguishes the three synthetic markers that frame a
// snapshot chunk's capture window. The snapshot-split reader in this
// module does not emit them: it records the low and high watermarks on
// the SnapshotSplit instead.
type WatermarkKind int

const (
	LowWatermark WatermarkKind = iota
	HighWatermark
	EndWatermark
)

func (k WatermarkKind) String() string {
	switch k {
	case LowWatermark:
		return "LOW_WATERMARK"
	case HighWatermark:
		return "HIGH_WATERMARK"
	case EndWatermark:
		return "END_WATERMARK"
	default:
		return "UNKNOWN_WATERMARK"
	}
}

// WatermarkEvent marks the boundary of a snapshot chunk's binlog
// capture window, or the end of the chunk's output stream entirely.
type WatermarkEvent struct {
	Kind    WatermarkKind
	TableID cdcsplit.TableID
	SplitID string
	Offset  offset.Offset
}

func (e *WatermarkEvent) Table() cdcsplit.TableID { return e.TableID }
func (e *WatermarkEvent) isEvent()                {}
