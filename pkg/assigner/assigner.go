// Package assigner tracks which snapshot chunks remain to be read,
// which are currently checked out by a worker, and which have
// finished — and emits the single binlog split once every chunk's
// completion has been acknowledged by the host runtime's checkpoint.
//
// This generalizes a single-table, single-threaded chunker/copier loop
// (where planning and assignment happen inline, one goroutine at a
// time) into a standalone planner a multi-worker enumerator can drive.
package assigner

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"

	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/keycursor"
	"github.com/block/mysql-cdc/pkg/metrics"
	"github.com/block/mysql-cdc/pkg/offset"
)

// StartupMode decides whether the assigner plans snapshot chunks at
// all, or jumps straight to a binlog-only split.
type StartupMode int

const (
	StartupInitial StartupMode = iota
	StartupLatestOffset
	StartupEarliestOffset
	StartupSpecificOffset
	StartupTimestamp
)

// ErrNoSplitAvailable is returned by Next when there is currently
// nothing to hand a worker, which is not an error condition by
// itself — the enumerator treats it as "ask again after housekeeping".
var ErrNoSplitAvailable = errors.New("assigner: no split available")

// Assigner is the split assigner described by the system: it owns
// the remaining/assigned/finished bookkeeping for every snapshot chunk
// of every table, plus the single binlog split that becomes available
// once all chunks are both finished and acknowledged.
type Assigner struct {
	mu sync.Mutex

	chunkSize int64
	startup   StartupMode
	stop      offset.Stop

	remaining []*cdcsplit.SnapshotSplit
	assigned  map[string]assignment
	finished  map[string]*cdcsplit.SnapshotSplit
	acked     map[string]bool

	ackedFinishedCount int // how many finished chunks the checkpoint has durably recorded

	binlogSplitEmitted bool
	startOffset        offset.Offset // only meaningful for non-initial startup modes
}

type assignment struct {
	split    *cdcsplit.SnapshotSplit
	workerID int
}

// New constructs an assigner for a set of pre-planned splits. Use
// PlanTable to build that slice from a live KeyCursor.
func New(logger loggers.Advanced, startup StartupMode, startOffset offset.Offset, stop offset.Stop, chunkSize int64, splits []*cdcsplit.SnapshotSplit) *Assigner {
	a := &Assigner{
		chunkSize:   chunkSize,
		startup:     startup,
		stop:        stop,
		assigned:    make(map[string]assignment),
		finished:    make(map[string]*cdcsplit.SnapshotSplit),
		acked:       make(map[string]bool),
		startOffset: startOffset,
	}
	if startup == StartupInitial || startup == StartupSpecificOffset || startup == StartupTimestamp {
		a.remaining = append(a.remaining, splits...)
	}
	// latest-offset and earliest-offset skip snapshotting entirely:
	// remaining stays empty, so Next immediately reports the binlog
	// split is the only thing left once all (zero) chunks are acked.
	if logger != nil {
		logger.Infof("assigner initialized: mode=%v chunks=%d", startup, len(a.remaining))
	}
	return a
}

// PlanTable runs the chunk planner against a live cursor and returns
// the resulting snapshot splits, unassigned and unfinished.
func PlanTable(ctx context.Context, cur keycursor.Cursor, table cdcsplit.TableID, chunkSize int64) ([]*cdcsplit.SnapshotSplit, error) {
	return planChunks(ctx, cur, table, chunkSize)
}

// Next hands the next remaining split to workerID, preferring a split
// already assigned to that worker should it re-request (worker restart
// after a transient failure), then falling through to the remaining
// queue, then to the binlog split once every chunk has been
// acknowledged.
func (a *Assigner) Next(workerID int) (cdcsplit.Split, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, asg := range a.assigned {
		if asg.workerID == workerID {
			return a.assigned[id].split, nil
		}
	}

	if len(a.remaining) > 0 {
		s := a.remaining[0]
		a.remaining = a.remaining[1:]
		a.assigned[s.ID] = assignment{split: s, workerID: workerID}
		metrics.ChunksAssigned.WithLabelValues(s.Table.String()).Inc()
		return s, nil
	}

	if a.readyForBinlogSplit() {
		return a.buildBinlogSplit(), nil
	}
	return nil, ErrNoSplitAvailable
}

// readyForBinlogSplit reports whether every chunk is finished,
// acknowledged, and the binlog split hasn't already been handed out.
// Must be called with mu held.
func (a *Assigner) readyForBinlogSplit() bool {
	if a.binlogSplitEmitted {
		return false
	}
	if len(a.remaining) > 0 || len(a.assigned) > 0 {
		return false
	}
	return a.ackedFinishedCount >= len(a.finished)
}

// WaitingForFinishedSplits reports whether the assigner has chunks
// sitting in "finished but not yet acknowledged" — the condition that
// holds back the binlog split.
func (a *Assigner) WaitingForFinishedSplits() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.finished) > a.ackedFinishedCount
}

// OnSplitFinished records that a worker completed a snapshot chunk,
// moving it from assigned to finished. The chunk is not eligible for
// the binlog split's FinishedChunks list until Ack is called for it —
// acknowledgement is the host runtime's durable checkpoint write, and
// handing out a binlog split built from unacknowledged chunks would
// make a crash right after lose a chunk's suppression coverage.
//
// Calling OnSplitFinished again for a split already in finished is a
// no-op: a worker resending its FinishReport after a FinishSolicit (a
// retry for a report that may have been lost the first time) should
// not be rejected just because the first attempt actually arrived.
func (a *Assigner) OnSplitFinished(splitID string, low, high offset.Offset) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.finished[splitID]; ok {
		return nil
	}
	asg, ok := a.assigned[splitID]
	if !ok {
		return errors.Annotatef(errors.New("assigner: unknown split"), "id=%s", splitID)
	}
	asg.split.LowWatermark = low
	asg.split.HighWatermark = high
	delete(a.assigned, splitID)
	a.finished[splitID] = asg.split
	metrics.ChunksFinished.WithLabelValues(asg.split.Table.String()).Inc()
	return nil
}

// AssignedSplits returns the workerID -> splitID mapping for every
// snapshot chunk currently checked out and not yet finished, used by
// the enumerator's housekeeping tick to re-solicit a FinishReport from
// whichever worker holds each one.
func (a *Assigner) AssignedSplits() map[int]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[int]string, len(a.assigned))
	for id, asg := range a.assigned {
		out[asg.workerID] = id
	}
	return out
}

// Ack records that the host runtime has durably checkpointed a
// finished chunk. Calling Ack twice for the same split is a no-op:
// checkpoint replay after a crash may re-deliver the same
// acknowledgement, and idempotent handling here is what makes that
// replay safe.
func (a *Assigner) Ack(splitID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.finished[splitID]
	if !ok {
		return errors.Annotatef(errors.New("assigner: unknown split"), "id=%s", splitID)
	}
	if a.acked[splitID] {
		return nil
	}
	a.acked[splitID] = true
	a.ackedFinishedCount++
	metrics.ChunksAcked.WithLabelValues(s.Table.String()).Inc()
	return nil
}

// Requeue puts an assigned split back into the remaining queue,
// called by the enumerator when a worker is presumed lost.
func (a *Assigner) Requeue(splitID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	asg, ok := a.assigned[splitID]
	if !ok {
		return errors.Annotatef(errors.New("assigner: unknown split"), "id=%s", splitID)
	}
	delete(a.assigned, splitID)
	a.remaining = append([]*cdcsplit.SnapshotSplit{asg.split}, a.remaining...)
	return nil
}

// buildBinlogSplit assembles the binlog-only split from every
// acknowledged finished chunk. Resuming from the minimum high
// watermark across all chunks is the safe-resume rule: any event
// before that point is guaranteed already covered by some chunk's
// snapshot or log replay.
func (a *Assigner) buildBinlogSplit() *cdcsplit.BinlogSplit {
	a.binlogSplitEmitted = true

	start := a.startOffset
	infos := make([]cdcsplit.FinishedChunkInfo, 0, len(a.finished))
	first := true
	for _, s := range a.finished {
		infos = append(infos, cdcsplit.FinishedChunkInfo{
			Table:         s.Table,
			KeyRange:      s.KeyRange,
			HighWatermark: s.HighWatermark,
		})
		if first {
			start = s.HighWatermark
			first = false
		} else {
			start = offset.Min(start, s.HighWatermark)
		}
	}

	return &cdcsplit.BinlogSplit{
		ID:              "binlog-split",
		StartOffset:     start,
		Stop:            a.stop,
		FinishedChunks:  infos,
		TotalFinishedCt: len(infos),
	}
}

// Snapshot returns a deep-enough copy of assigner state for the host
// runtime's checkpoint writer. It is not safe to mutate the result.
//
// A split checked out to a worker at snapshot time is recorded as
// remaining, not assigned: the in-memory fact of which worker held it
// does not survive a crash, and NewFromState hands it out fresh to
// whichever worker asks first on restore.
func (a *Assigner) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := State{
		BinlogSplitEmitted: a.binlogSplitEmitted,
	}
	for _, s := range a.remaining {
		st.Remaining = append(st.Remaining, s)
	}
	for _, asg := range a.assigned {
		st.Remaining = append(st.Remaining, asg.split)
	}
	for _, s := range a.finished {
		st.Finished = append(st.Finished, s)
	}
	for id := range a.acked {
		st.AckedSplitIDs = append(st.AckedSplitIDs, id)
	}
	return st
}

// State is the checkpointable snapshot of an Assigner's bookkeeping.
type State struct {
	Remaining          []*cdcsplit.SnapshotSplit
	Finished           []*cdcsplit.SnapshotSplit
	BinlogSplitEmitted bool
	AckedSplitIDs      []string
}

// NewFromState rebuilds an Assigner from a previously-persisted
// checkpoint, the restore counterpart to Snapshot. Restoring from any
// checkpoint and replaying from the resulting assigner's binlog split
// must produce a prefix-equivalent downstream stream to one that never
// crashed: every chunk state records exactly (a) what is still owed
// (remaining), (b) what a worker already finished but the checkpoint
// had not yet recorded as acked (finished, unacked — re-handed-out
// below so it gets picked up again rather than silently dropped), and
// (c) what is durably acked and must never be replayed.
func NewFromState(logger loggers.Advanced, startup StartupMode, startOffset offset.Offset, stop offset.Stop, chunkSize int64, state State) *Assigner {
	a := &Assigner{
		chunkSize:          chunkSize,
		startup:            startup,
		stop:               stop,
		assigned:           make(map[string]assignment),
		finished:           make(map[string]*cdcsplit.SnapshotSplit),
		acked:              make(map[string]bool),
		startOffset:        startOffset,
		binlogSplitEmitted: state.BinlogSplitEmitted,
	}
	for _, id := range state.AckedSplitIDs {
		a.acked[id] = true
	}
	for _, s := range state.Finished {
		a.finished[s.ID] = s
		if a.acked[s.ID] {
			a.ackedFinishedCount++
		} else {
			// finished by some worker but never acked before the crash:
			// treat it as still outstanding so it gets re-planned and
			// re-read rather than silently lost.
			a.remaining = append(a.remaining, s)
			delete(a.finished, s.ID)
		}
	}
	a.remaining = append(a.remaining, state.Remaining...)
	if logger != nil {
		logger.Infof("assigner restored from checkpoint: mode=%v remaining=%d finished=%d acked=%d", startup, len(a.remaining), len(a.finished), a.ackedFinishedCount)
	}
	return a
}
