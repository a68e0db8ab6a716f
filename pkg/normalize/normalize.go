// Package normalize merges a snapshot chunk's buffered READ rows with
// the CREATE/UPDATE/DELETE events captured concurrently on the binlog
// between the chunk's low and high watermarks, producing the final,
// deduplicated record stream for that chunk.
package normalize

import (
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/siddontang/loggers"

	"github.com/block/mysql-cdc/pkg/cdcevent"
	"github.com/block/mysql-cdc/pkg/metrics"
	"github.com/block/mysql-cdc/pkg/offset"
)

// ErrDeleteOfUnknownKey is returned when a buffered DELETE event's key
// was never seen in the chunk's snapshot rows and isn't explainable by
// a CREATE earlier in the same replay — a sign the chunk's key range
// or watermark bookkeeping is wrong, not something to paper over.
var ErrDeleteOfUnknownKey = errors.New("normalize: delete of key not present in snapshot or prior log replay")

// ErrUnexpectedReadInStream is returned if a READ event shows up among
// the buffered log events; READ rows come only from the chunk's table
// scan, never from the binary log.
var ErrUnexpectedReadInStream = errors.New("normalize: unexpected READ event after low watermark")

// Normalize replays buffered log events (already filtered to the
// chunk's key range and to the window between low and high watermark)
// against the snapshot's READ rows, producing the final per-key output
// in the order: every surviving key from the log replay that wasn't a
// terminal DELETE, followed by the snapshot rows that were never
// touched by the log at all. Order among those two groups is not
// significant to the host runtime, which indexes by key on ingest.
//
// A surviving key keeps its CREATE tag and is emitted as an INSERT
// when the log replay is the only reason it exists in this chunk's
// output at all — the snapshot scan never saw it, so reporting it as a
// READ would misrepresent a brand-new row as one observed at High.
// Every other surviving key (a pre-existing snapshot row, touched or
// not by an UPDATE during the capture window) is emitted as a READ,
// since the row is reported as if observed at High regardless of how
// many times it changed in between.
func Normalize(logger loggers.Advanced, reads []*cdcevent.DataChangeEvent, buffered []*cdcevent.DataChangeEvent) ([]*cdcevent.DataChangeEvent, error) {
	table := "unknown"
	switch {
	case len(reads) > 0:
		table = reads[0].TableID.String()
	case len(buffered) > 0:
		table = buffered[0].TableID.String()
	}
	timer := prometheus.NewTimer(metrics.NormalizeDuration.WithLabelValues(table))
	defer timer.ObserveDuration()

	byKey := make(map[string]*cdcevent.DataChangeEvent, len(reads))
	for _, r := range reads {
		byKey[r.Key.String()] = r
	}

	touched := make(map[string]bool, len(buffered))
	created := make(map[string]bool, len(buffered))
	for _, ev := range buffered {
		k := ev.Key.String()
		touched[k] = true
		switch ev.Op {
		case cdcevent.OpRead:
			return nil, errors.Trace(ErrUnexpectedReadInStream)
		case cdcevent.OpCreate:
			byKey[k] = ev
			created[k] = true
		case cdcevent.OpUpdate:
			byKey[k] = ev
		case cdcevent.OpDelete:
			if _, ok := byKey[k]; !ok {
				return nil, errors.Annotatef(ErrDeleteOfUnknownKey, "key=%s table=%s", k, ev.TableID)
			}
			delete(byKey, k)
			delete(created, k)
		default:
			panic("normalize: unhandled cdcevent op")
		}
	}

	out := make([]*cdcevent.DataChangeEvent, 0, len(byKey))
	// surviving log-touched keys first, in buffered order, then
	// untouched snapshot rows — matches the emission order a
	// watermark-framed merge is specified to produce.
	seen := make(map[string]bool, len(byKey))
	for _, ev := range buffered {
		k := ev.Key.String()
		if seen[k] {
			continue
		}
		if cur, ok := byKey[k]; ok {
			if created[k] {
				ins := *cur
				ins.Op = cdcevent.OpCreate
				out = append(out, &ins)
			} else {
				out = append(out, normalizeAsRead(cur))
			}
			seen[k] = true
		}
	}
	for _, r := range reads {
		k := r.Key.String()
		if touched[k] || seen[k] {
			continue
		}
		out = append(out, normalizeAsRead(r))
		seen[k] = true
	}

	if logger != nil {
		logger.Infof("normalize: %d snapshot rows, %d log events, %d final rows", len(reads), len(buffered), len(out))
	}
	return out, nil
}

// normalizeAsRead re-tags the final merged record as a READ, the same
// way a completed chunk's output is presented to the host runtime
// regardless of whether a given row came from the table scan or was
// overwritten by a concurrent UPDATE during the capture window.
func normalizeAsRead(ev *cdcevent.DataChangeEvent) *cdcevent.DataChangeEvent {
	out := *ev
	out.Op = cdcevent.OpRead
	return &out
}

// InRange reports whether a log event's position falls between low
// and high (exclusive of low, inclusive of high), the
// window whose events are eligible to be merged into a chunk's output
// at all. Events outside this window belong to a different chunk or
// to the post-snapshot binlog-split stream and must be filtered out
// before calling Normalize.
func InRange(pos offset.Offset, low, high offset.Offset) bool {
	return low.Before(pos) && pos.NotAfter(high)
}
