// Package cdcsplit holds the two kinds of work unit a split assigner
// hands to a worker: a bounded snapshot chunk of a table, and the
// single binlog-tailing split that follows once all chunks finish.
package cdcsplit

import (
	"fmt"

	"github.com/block/mysql-cdc/pkg/offset"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

// TableID names a table this connector is reading.
type TableID struct {
	Schema string
	Table  string
}

func (t TableID) String() string {
	return fmt.Sprintf("%s.%s", t.Schema, t.Table)
}

// Split is implemented by SnapshotSplit and BinlogSplit. The marker
// method is unexported so no other package can add a third variant
// and silently bypass the type switch in cmd/mysqlcdc's worker loop.
type Split interface {
	SplitID() string
	isSplit()
}

// SnapshotSplit is one bounded chunk of a single table: a key range to
// SELECT, plus (once the reader finishes it) the watermarks framing
// which concurrent binlog events belong to it.
type SnapshotSplit struct {
	ID       string
	Table    TableID
	KeyRange splitkey.Range
	// ChunkIndex is the split's position in the table's chunk
	// sequence. It is informational: no code in this module branches
	// on it.
	ChunkIndex int

	// LowWatermark and HighWatermark are set by the snapshot-split
	// reader once it opens and closes the binlog capture window for
	// this chunk; zero value (offset.Initial) until then.
	LowWatermark  offset.Offset
	HighWatermark offset.Offset
}

func (s *SnapshotSplit) SplitID() string { return s.ID }
func (s *SnapshotSplit) isSplit()        {}

// IsFinished reports whether the reader has recorded both watermarks.
func (s *SnapshotSplit) IsFinished() bool {
	return !s.LowWatermark.IsInitial() && !s.HighWatermark.IsInitial()
}

// FinishedChunkInfo is the durable record of a completed snapshot
// chunk kept by the assigner (and later consulted by the binlog-split
// reader) once the chunk's own events no longer need replaying from
// the snapshot, only suppressing from the tail.
type FinishedChunkInfo struct {
	Table         TableID
	KeyRange      splitkey.Range
	HighWatermark offset.Offset
}

// BinlogSplit is the single split that tails the log from the lowest
// high watermark across all finished chunks (the safe resume point)
// through to an optional Stop condition.
type BinlogSplit struct {
	ID              string
	StartOffset     offset.Offset
	Stop            offset.Stop
	FinishedChunks  []FinishedChunkInfo
	TotalFinishedCt int
}

func (b *BinlogSplit) SplitID() string { return b.ID }
func (b *BinlogSplit) isSplit()        {}

// CoversKey reports whether a row's key, at the given binlog position,
// falls inside a chunk this split already captured in its snapshot,
// and so must be dropped rather than replayed from the log. This
// generalizes a single-chunk "key above high watermark" check to
// however many chunks this binlog split was built from.
func (b *BinlogSplit) CoversKey(table TableID, key splitkey.Key, pos offset.Offset) bool {
	for _, fc := range b.FinishedChunks {
		if fc.Table != table {
			continue
		}
		if !fc.KeyRange.Contains(key) {
			continue
		}
		// The row's key fell in this chunk's range. The chunk's
		// snapshot already captured it as of HighWatermark, so any
		// log event at or before that position is a duplicate.
		if pos.NotAfter(fc.HighWatermark) {
			return true
		}
	}
	return false
}
