package enumerator

import (
	"context"
	"time"

	"github.com/siddontang/loggers"

	"github.com/block/mysql-cdc/pkg/assigner"
)

// HousekeepingInterval is the period on which the enumerator pushes a
// FinishSolicit to every subscribed worker still holding an assigned
// split, then retries handing out splits to the workers waiting on one.
var HousekeepingInterval = 30 * time.Second

// Enumerator runs the single-threaded planner loop. All of its state
// (the waiting-workers queue, the underlying assigner) is only ever
// touched from the Run goroutine; every other method just posts a
// message onto inbox and waits for a reply.
type Enumerator struct {
	inbox    chan Message
	assigner *assigner.Assigner
	logger   loggers.Advanced

	waiting []SplitRequest               // workers currently blocked awaiting a split, lowest worker ID first
	notify  map[int]chan<- FinishSolicit // workerID -> its subscribed solicit channel
}

// New constructs an Enumerator. Call Run in its own goroutine to start
// the event loop; every other method is safe to call concurrently from
// any number of worker goroutines.
func New(a *assigner.Assigner, logger loggers.Advanced) *Enumerator {
	return &Enumerator{
		inbox:    make(chan Message, 64),
		assigner: a,
		logger:   logger,
		notify:   make(map[int]chan<- FinishSolicit),
	}
}

// Subscribe registers workerID's notification channel and returns the
// receiving end. A worker holding an assigned split should subscribe
// once and watch for FinishSolicit, resending its FinishReport for the
// named split if one arrives — the enumerator's signal that it still
// thinks that split is outstanding.
func (e *Enumerator) Subscribe(ctx context.Context, workerID int) (<-chan FinishSolicit, error) {
	ch := make(chan FinishSolicit, 1)
	done := make(chan struct{})
	select {
	case e.inbox <- subscribeRequest{workerID: workerID, ch: ch, done: done}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case <-done:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run is the event loop. It returns when ctx is cancelled.
func (e *Enumerator) Run(ctx context.Context) {
	ticker := time.NewTicker(HousekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.handle(housekeepingTick{})
		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

// RequestSplit asks for the next split for workerID, blocking until
// one is available or ctx is cancelled. Once the binlog split has been
// handed out, later requests block until ctx is cancelled.
func (e *Enumerator) RequestSplit(ctx context.Context, workerID int) (SplitResponse, error) {
	reply := make(chan SplitResponse, 1)
	select {
	case e.inbox <- SplitRequest{WorkerID: workerID, Reply: reply}:
	case <-ctx.Done():
		return SplitResponse{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		select {
		case e.inbox <- cancelRequest{reply: reply}:
		default:
		}
		return SplitResponse{}, ctx.Err()
	}
}

// ReportFinished tells the enumerator a worker completed a snapshot
// split.
func (e *Enumerator) ReportFinished(ctx context.Context, r FinishReport) error {
	reply := make(chan error, 1)
	r.Reply = reply
	select {
	case e.inbox <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AckFinished tells the enumerator the host runtime has durably
// checkpointed a finished split.
func (e *Enumerator) AckFinished(ctx context.Context, splitID string) error {
	reply := make(chan error, 1)
	select {
	case e.inbox <- Ack{SplitID: splitID, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportWorkerLost tells the enumerator to requeue workerID's split.
// splitID is the split the caller's own bookkeeping had assigned to
// that worker; pass "" if the worker had no outstanding assignment.
func (e *Enumerator) ReportWorkerLost(ctx context.Context, workerID int, splitID string) error {
	reply := make(chan error, 1)
	select {
	case e.inbox <- WorkerLost{WorkerID: workerID, SplitID: splitID, Reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handle runs entirely on the Run goroutine.
func (e *Enumerator) handle(msg Message) {
	switch m := msg.(type) {
	case SplitRequest:
		i := len(e.waiting)
		for i > 0 && e.waiting[i-1].WorkerID > m.WorkerID {
			i--
		}
		e.waiting = append(e.waiting, SplitRequest{})
		copy(e.waiting[i+1:], e.waiting[i:])
		e.waiting[i] = m
		e.drainWaiting()
	case FinishReport:
		var err error
		if m.Err == nil {
			err = e.assigner.OnSplitFinished(m.SplitID, m.LowWatermark, m.HighWatermark)
		} else {
			err = e.assigner.Requeue(m.SplitID)
		}
		m.Reply <- err
	case Ack:
		err := e.assigner.Ack(m.SplitID)
		m.Reply <- err
		e.drainWaiting()
	case WorkerLost:
		var err error
		if m.SplitID != "" {
			err = e.assigner.Requeue(m.SplitID)
		}
		m.Reply <- err
		e.drainWaiting()
	case cancelRequest:
		for i, req := range e.waiting {
			if req.Reply == m.reply {
				e.waiting = append(e.waiting[:i], e.waiting[i+1:]...)
				break
			}
		}
	case subscribeRequest:
		e.notify[m.workerID] = m.ch
		close(m.done)
	case housekeepingTick:
		assigned := e.assigner.AssignedSplits()
		if len(assigned) > 0 {
			e.logger.Infof("enumerator housekeeping: soliciting %d outstanding split(s)", len(assigned))
		}
		for workerID, splitID := range assigned {
			ch, ok := e.notify[workerID]
			if !ok {
				continue
			}
			select {
			case ch <- FinishSolicit{SplitID: splitID}:
			default:
				// worker already has an unconsumed solicit queued; it
				// will retry on the existing one.
			}
		}
		e.drainWaiting()
	}
}

// drainWaiting hands out whatever is currently available to as many
// waiting workers as possible, lowest worker ID first.
func (e *Enumerator) drainWaiting() {
	remaining := e.waiting[:0]
	for _, req := range e.waiting {
		split, err := e.assigner.Next(req.WorkerID)
		if err == assigner.ErrNoSplitAvailable {
			remaining = append(remaining, req)
			continue
		}
		req.Reply <- SplitResponse{Split: split}
	}
	e.waiting = remaining
}
