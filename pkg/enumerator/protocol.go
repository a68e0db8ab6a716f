// Package enumerator implements the single-threaded split-request
// arbitration loop: workers ask for work, report completion, and the
// enumerator decides what happens next. Everything here runs on one
// goroutine: all state transitions happen behind a single event loop,
// and every other caller only ever sends a message and waits for a
// reply rather than touching shared state directly.
package enumerator

import (
	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/offset"
)

// Message is the closed set of events the enumerator's loop consumes.
// Messages travel only in process, over Go channels. They are not
// gob-encodable as they stand: Reply fields are channels, Split and
// Err are interface values, and offset.Offset and splitkey.Key carry
// no exported fields.
type Message interface {
	isMessage()
}

// SplitRequest is sent by a worker when it has no current assignment.
type SplitRequest struct {
	WorkerID int
	Reply    chan<- SplitResponse
}

func (SplitRequest) isMessage() {}

// SplitResponse answers a SplitRequest. The enumerator sends one only
// when it has a split to hand out, so Split is always set; while
// nothing is available the request stays queued instead. The
// enumerator never sets Done.
type SplitResponse struct {
	Split cdcsplit.Split
	Done  bool
}

// FinishReport is sent by a worker when it completes a snapshot split.
type FinishReport struct {
	WorkerID      int
	SplitID       string
	LowWatermark  offset.Offset
	HighWatermark offset.Offset
	Err           error
	Reply         chan<- error
}

func (FinishReport) isMessage() {}

// Ack is sent by the host runtime once it has durably checkpointed a
// finished split, making it eligible to contribute to the eventual
// binlog split.
type Ack struct {
	SplitID string
	Reply   chan<- error
}

func (Ack) isMessage() {}

// FinishSolicit is pushed to a worker's subscribed notification channel
// by the enumerator's housekeeping tick when the assigner still shows
// a split checked out to that worker with no FinishReport received.
// This is the retry path for a FinishReport that was sent but never
// arrived: the worker is expected to resend it for the named split.
type FinishSolicit struct {
	SplitID string
}

func (FinishSolicit) isMessage() {}

// subscribeRequest registers workerID's notification channel with the
// enumerator so housekeeping can push a FinishSolicit to it later. It
// is internal: callers use Subscribe, not this type, directly.
type subscribeRequest struct {
	workerID int
	ch       chan<- FinishSolicit
	done     chan<- struct{}
}

func (subscribeRequest) isMessage() {}

// WorkerLost is sent by the host runtime's liveness monitor when a
// worker is presumed dead; SplitID (which the runtime already tracks
// per worker) is requeued for another worker to pick up. A zero-value
// SplitID means the worker had no outstanding assignment, which is a
// no-op rather than an error.
type WorkerLost struct {
	WorkerID int
	SplitID  string
	Reply    chan<- error
}

func (WorkerLost) isMessage() {}

// cancelRequest is an internal message a canceled RequestSplit call
// sends so the enumerator stops holding its place in the waiting
// queue; otherwise an abandoned request could still be handed a split
// nobody will ever pick up again (fatal for the one-shot binlog split).
type cancelRequest struct {
	reply chan<- SplitResponse
}

func (cancelRequest) isMessage() {}

// housekeepingTick is an internal message, never sent by a caller: Run
// passes it to handle on each tick of the 30s ticker, so the re-solicit
// logic runs on the same single goroutine as everything else.
type housekeepingTick struct{}

func (housekeepingTick) isMessage() {}
