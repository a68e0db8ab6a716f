package assigner

import (
	"context"
	"strconv"

	"github.com/pingcap/errors"

	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/keycursor"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

// denseKeyTolerance bounds how far the key space's cardinality
// (max-min+1) may exceed the row count before the planner gives up on
// the dense-integer fast path and falls back to the generic key-skip
// query. A sparse auto-increment column (rows deleted over time) still
// has roughly evenly spaced gaps, so a modest multiplier still
// produces chunks close to chunkSize without ever touching the table.
const denseKeyTolerance = 1.5

// planChunks splits [min, max] into chunkSize-row pieces. It picks the
// analytical dense-key strategy when the key is an evenly distributed
// integer column (arithmetic midpoints, no extra queries), and falls
// back to the generic key-skip query otherwise.
func planChunks(ctx context.Context, cur keycursor.Cursor, table cdcsplit.TableID, chunkSize int64) ([]*cdcsplit.SnapshotSplit, error) {
	min, max, count, err := cur.MinMaxCount(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if count == 0 {
		return nil, nil
	}
	if count <= chunkSize {
		return []*cdcsplit.SnapshotSplit{singleChunk(table, 0, splitkey.Range{})}, nil
	}

	if isDenseInteger(min, max, count) {
		return planDenseInteger(table, min, max, chunkSize)
	}
	return planGeneric(ctx, cur, table, chunkSize)
}

func isDenseInteger(min, max splitkey.Key, count int64) bool {
	if min.Kind() != splitkey.KindInt64 && min.Kind() != splitkey.KindUint64 {
		return false
	}
	span := keySpan(min, max)
	if span <= 0 {
		return false
	}
	return float64(span) <= float64(count)*denseKeyTolerance
}

func keySpan(min, max splitkey.Key) int64 {
	switch min.Kind() {
	case splitkey.KindInt64:
		return max.Int64() - min.Int64() + 1
	case splitkey.KindUint64:
		return int64(max.Uint64()-min.Uint64()) + 1
	default:
		return 0
	}
}

// asInt64 reinterprets a dense int64/uint64 key as a plain int64 for
// arithmetic chunk-boundary computation. isDenseInteger already bounds
// the key's cardinality to roughly the table's row count, so values
// wide enough to overflow this conversion never reach this path.
func asInt64(k splitkey.Key) int64 {
	if k.Kind() == splitkey.KindUint64 {
		return int64(k.Uint64())
	}
	return k.Int64()
}

func newKey(kind splitkey.Kind, v int64) (splitkey.Key, error) {
	if kind == splitkey.KindUint64 {
		return splitkey.New(uint64(v))
	}
	return splitkey.New(v)
}

func planDenseInteger(table cdcsplit.TableID, min, max splitkey.Key, chunkSize int64) ([]*cdcsplit.SnapshotSplit, error) {
	span := keySpan(min, max)
	numChunks := (span + chunkSize - 1) / chunkSize
	if numChunks < 1 {
		numChunks = 1
	}
	step := (span + numChunks - 1) / numChunks
	if step < 1 {
		step = 1
	}

	kind := min.Kind()
	var splits []*cdcsplit.SnapshotSplit
	lowerInt := asInt64(min)
	maxInt := asInt64(max)
	idx := 0
	for lowerInt <= maxInt {
		upperInt := lowerInt + step
		var lo, hi *splitkey.Key
		if idx > 0 {
			k, err := newKey(kind, lowerInt)
			if err != nil {
				return nil, errors.Trace(err)
			}
			lo = &k
		}
		if upperInt <= maxInt {
			k, err := newKey(kind, upperInt)
			if err != nil {
				return nil, errors.Trace(err)
			}
			hi = &k
		}
		splits = append(splits, singleChunk(table, idx, splitkey.Range{Lower: lo, Upper: hi}))
		if upperInt > maxInt {
			break
		}
		lowerInt = upperInt
		idx++
	}
	return splits, nil
}

func planGeneric(ctx context.Context, cur keycursor.Cursor, table cdcsplit.TableID, chunkSize int64) ([]*cdcsplit.SnapshotSplit, error) {
	var splits []*cdcsplit.SnapshotSplit
	var lower *splitkey.Key
	idx := 0
	for {
		var after splitkey.Key
		if lower != nil {
			after = *lower
		}
		boundary, ok, err := cur.NextBoundary(ctx, after, chunkSize)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if !ok {
			splits = append(splits, singleChunk(table, idx, splitkey.Range{Lower: lower}))
			break
		}
		b := boundary
		splits = append(splits, singleChunk(table, idx, splitkey.Range{Lower: lower, Upper: &b}))
		lower = &b
		idx++
	}
	return splits, nil
}

func singleChunk(table cdcsplit.TableID, idx int, r splitkey.Range) *cdcsplit.SnapshotSplit {
	return &cdcsplit.SnapshotSplit{
		ID:         table.String() + "#" + strconv.Itoa(idx),
		Table:      table,
		KeyRange:   r,
		ChunkIndex: idx,
	}
}
