package enumerator

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/block/mysql-cdc/pkg/assigner"
	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/keycursor"
	"github.com/block/mysql-cdc/pkg/offset"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testTable = cdcsplit.TableID{Schema: "db", Table: "events"}

func intKeys(n int) []splitkey.Key {
	keys := make([]splitkey.Key, n)
	for i := range keys {
		k, _ := splitkey.New(int64(i + 1))
		keys[i] = k
	}
	return keys
}

func newTestEnumerator(t *testing.T, numKeys int, chunkSize int64) (*Enumerator, context.CancelFunc) {
	t.Helper()
	cur := &keycursor.Fake{Keys: intKeys(numKeys)}
	splits, err := assigner.PlanTable(context.Background(), cur, testTable, chunkSize)
	require.NoError(t, err)
	a := assigner.New(logrus.New(), assigner.StartupInitial, offset.Initial, offset.NeverStop(), chunkSize, splits)
	e := New(a, logrus.New())
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	return e, cancel
}

func TestEnumeratorAssignsAllChunksThenBinlogSplit(t *testing.T) {
	HousekeepingInterval = time.Hour // keep the test deterministic
	e, cancel := newTestEnumerator(t, 250, 100)
	defer cancel()

	ctx := context.Background()
	seen := map[string]bool{}
	for {
		resp, err := e.RequestSplit(ctx, 1)
		require.NoError(t, err)
		if bs, ok := resp.Split.(*cdcsplit.BinlogSplit); ok {
			assert.Len(t, bs.FinishedChunks, len(seen))
			break
		}
		ss, ok := resp.Split.(*cdcsplit.SnapshotSplit)
		require.True(t, ok)
		require.False(t, seen[ss.ID])
		seen[ss.ID] = true

		require.NoError(t, e.ReportFinished(ctx, FinishReport{
			WorkerID:      1,
			SplitID:       ss.ID,
			LowWatermark:  offset.New("f", uint32(ss.ChunkIndex*2)),
			HighWatermark: offset.New("f", uint32(ss.ChunkIndex*2+1)),
		}))
		require.NoError(t, e.AckFinished(ctx, ss.ID))
	}
	assert.Equal(t, 3, len(seen)) // 250 rows / 100 chunk size -> 3 chunks
}

func TestEnumeratorBlocksUntilAcked(t *testing.T) {
	e, cancel := newTestEnumerator(t, 10, 100)
	defer cancel()
	ctx := context.Background()

	resp, err := e.RequestSplit(ctx, 1)
	require.NoError(t, err)
	ss := resp.Split.(*cdcsplit.SnapshotSplit)

	require.NoError(t, e.ReportFinished(ctx, FinishReport{
		WorkerID: 1, SplitID: ss.ID,
		LowWatermark: offset.New("f", 1), HighWatermark: offset.New("f", 2),
	}))

	reqCtx, reqCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer reqCancel()
	_, err = e.RequestSplit(reqCtx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "should block with nothing available until ack")

	require.NoError(t, e.AckFinished(ctx, ss.ID))
	resp, err = e.RequestSplit(ctx, 1)
	require.NoError(t, err)
	_, ok := resp.Split.(*cdcsplit.BinlogSplit)
	assert.True(t, ok)
}

func TestEnumeratorSolicitsOutstandingFinishReport(t *testing.T) {
	HousekeepingInterval = 20 * time.Millisecond
	defer func() { HousekeepingInterval = 30 * time.Second }()
	e, cancel := newTestEnumerator(t, 10, 100)
	defer cancel()
	ctx := context.Background()

	solicit, err := e.Subscribe(ctx, 1)
	require.NoError(t, err)

	resp, err := e.RequestSplit(ctx, 1)
	require.NoError(t, err)
	ss := resp.Split.(*cdcsplit.SnapshotSplit)

	// Never report finished: housekeeping should see the split still
	// checked out to worker 1 and push a solicit for it.
	select {
	case sol := <-solicit:
		assert.Equal(t, ss.ID, sol.SplitID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for FinishSolicit")
	}

	// Resending FinishReport after the solicit, then again, must both
	// succeed: OnSplitFinished is idempotent for an already-finished split.
	report := FinishReport{
		WorkerID: 1, SplitID: ss.ID,
		LowWatermark: offset.New("f", 1), HighWatermark: offset.New("f", 2),
	}
	require.NoError(t, e.ReportFinished(ctx, report))
	require.NoError(t, e.ReportFinished(ctx, report))
	require.NoError(t, e.AckFinished(ctx, ss.ID))
}

func TestEnumeratorRequeueOnWorkerLost(t *testing.T) {
	e, cancel := newTestEnumerator(t, 300, 100)
	defer cancel()
	ctx := context.Background()

	resp, err := e.RequestSplit(ctx, 1)
	require.NoError(t, err)
	ss := resp.Split.(*cdcsplit.SnapshotSplit)

	require.NoError(t, e.ReportWorkerLost(ctx, 1, ss.ID))

	resp2, err := e.RequestSplit(ctx, 2)
	require.NoError(t, err)
	ss2 := resp2.Split.(*cdcsplit.SnapshotSplit)
	assert.Equal(t, ss.ID, ss2.ID)
}
