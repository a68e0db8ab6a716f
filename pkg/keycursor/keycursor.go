// Package keycursor abstracts the queries a split planner issues
// against a table's primary key column, so the planner itself can be
// tested against a canned key sequence instead of a live database.
package keycursor

import (
	"context"

	"github.com/block/mysql-cdc/pkg/splitkey"
)

// Cursor answers the two questions a chunk planner needs about a
// table's key column: its extent, and where the next chunk boundary
// falls after skipping a given number of rows. A SQL-backed Cursor
// issues MIN()/MAX()/COUNT() and a LIMIT/OFFSET probe for these; a
// fake Cursor used in tests replays a canned sequence.
type Cursor interface {
	// MinMaxCount returns the minimum and maximum key values present
	// and the total row count. Count decides whether a table is small
	// enough to read in a single chunk, and whether the key space is
	// dense enough for the integer fast path.
	MinMaxCount(ctx context.Context) (min, max splitkey.Key, count int64, err error)

	// NextBoundary returns the key value "skip" rows after "after"
	// (exclusive), or ok=false if fewer than skip rows remain. This is
	// the generic fallback planning strategy (spec calls it the
	// key-skip query); a dense-integer fast path avoids calling this
	// at all when the key space is evenly distributed.
	NextBoundary(ctx context.Context, after splitkey.Key, skip int64) (boundary splitkey.Key, ok bool, err error)
}
