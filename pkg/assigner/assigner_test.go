package assigner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/keycursor"
	"github.com/block/mysql-cdc/pkg/offset"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

var testTable = cdcsplit.TableID{Schema: "db", Table: "orders"}

func intKeys(n int) []splitkey.Key {
	keys := make([]splitkey.Key, n)
	for i := range keys {
		k, _ := splitkey.New(int64(i + 1))
		keys[i] = k
	}
	return keys
}

func TestPlanChunksDenseInteger(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(1000)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(splits), 9)
	assert.LessOrEqual(t, len(splits), 11)
	assert.Nil(t, splits[0].KeyRange.Lower)
	assert.NotNil(t, splits[len(splits)-1].KeyRange.Lower)
	assert.Nil(t, splits[len(splits)-1].KeyRange.Upper)
}

func TestPlanChunksSingleChunkWhenSmall(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(10)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	require.Len(t, splits, 1)
	assert.Nil(t, splits[0].KeyRange.Lower)
	assert.Nil(t, splits[0].KeyRange.Upper)
}

func TestAssignerCoverage(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(1000)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)

	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)

	seen := map[string]bool{}
	for len(seen) < len(splits) {
		s, err := a.Next(1)
		if err == ErrNoSplitAvailable {
			break
		}
		require.NoError(t, err)
		ss, ok := s.(*cdcsplit.SnapshotSplit)
		require.True(t, ok, "expected snapshot splits before chunks finish")
		require.False(t, seen[ss.ID], "split handed out twice without finishing")
		seen[ss.ID] = true
		require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("mysql-bin.000001", uint32(ss.ChunkIndex*10)), offset.New("mysql-bin.000001", uint32(ss.ChunkIndex*10+5))))
		require.NoError(t, a.Ack(ss.ID))
	}
	assert.Equal(t, len(splits), len(seen))

	// Now the binlog split should be available.
	next, err := a.Next(1)
	require.NoError(t, err)
	bs, ok := next.(*cdcsplit.BinlogSplit)
	require.True(t, ok)
	assert.Len(t, bs.FinishedChunks, len(splits))
}

func TestAssignerWithholdsBinlogSplitUntilAcked(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(10)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	require.Len(t, splits, 1)

	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)
	s, err := a.Next(1)
	require.NoError(t, err)
	ss := s.(*cdcsplit.SnapshotSplit)

	require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("f", 1), offset.New("f", 2)))

	assert.True(t, a.WaitingForFinishedSplits())
	_, err = a.Next(1)
	assert.ErrorIs(t, err, ErrNoSplitAvailable)

	require.NoError(t, a.Ack(ss.ID))
	assert.False(t, a.WaitingForFinishedSplits())

	next, err := a.Next(1)
	require.NoError(t, err)
	_, ok := next.(*cdcsplit.BinlogSplit)
	assert.True(t, ok)
}

func TestAckIsIdempotent(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(5)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)
	s, err := a.Next(1)
	require.NoError(t, err)
	ss := s.(*cdcsplit.SnapshotSplit)
	require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("f", 1), offset.New("f", 2)))
	require.NoError(t, a.Ack(ss.ID))
	require.NoError(t, a.Ack(ss.ID)) // repeated ack after checkpoint replay
	next, err := a.Next(1)
	require.NoError(t, err)
	_, ok := next.(*cdcsplit.BinlogSplit)
	assert.True(t, ok)
}

func TestOnSplitFinishedIsIdempotent(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(5)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)
	s, err := a.Next(1)
	require.NoError(t, err)
	ss := s.(*cdcsplit.SnapshotSplit)

	require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("f", 1), offset.New("f", 2)))
	// a resent FinishReport for the same split, e.g. after a FinishSolicit,
	// must succeed rather than being rejected as unknown.
	require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("f", 1), offset.New("f", 2)))
}

func TestAssignedSplits(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(200)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)

	s, err := a.Next(1)
	require.NoError(t, err)
	ss := s.(*cdcsplit.SnapshotSplit)

	assert.Equal(t, map[int]string{1: ss.ID}, a.AssignedSplits())

	require.NoError(t, a.OnSplitFinished(ss.ID, offset.New("f", 1), offset.New("f", 2)))
	assert.Empty(t, a.AssignedSplits())
}

func TestRestoreFromStateResumesUnackedAndUnfinishedChunks(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(300)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)

	s1, err := a.Next(1)
	require.NoError(t, err)
	ss1 := s1.(*cdcsplit.SnapshotSplit)
	require.NoError(t, a.OnSplitFinished(ss1.ID, offset.New("f", 1), offset.New("f", 2)))
	require.NoError(t, a.Ack(ss1.ID)) // durably checkpointed before the crash

	s2, err := a.Next(2)
	require.NoError(t, err)
	ss2 := s2.(*cdcsplit.SnapshotSplit)
	require.NoError(t, a.OnSplitFinished(ss2.ID, offset.New("f", 3), offset.New("f", 4)))
	// no Ack for ss2: the crash happens before the checkpoint write lands.

	// ss3 is still outstanding, never even reported finished.
	_, err = a.Next(3)
	require.NoError(t, err)

	state := a.Snapshot()
	restored := NewFromState(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, state)

	// ss1 is durably acked: it must never come back around.
	seen := map[string]bool{}
	for {
		next, err := restored.Next(1)
		require.NoError(t, err)
		ss, ok := next.(*cdcsplit.SnapshotSplit)
		if !ok {
			break
		}
		require.NotEqual(t, ss1.ID, ss.ID, "acked chunk must not be replanned")
		require.False(t, seen[ss.ID])
		seen[ss.ID] = true
		require.NoError(t, restored.OnSplitFinished(ss.ID, offset.New("f", 5), offset.New("f", 6)))
		require.NoError(t, restored.Ack(ss.ID))
	}
	assert.Len(t, seen, 2) // ss2 (finished-but-unacked) and ss3 (never finished)
}

func TestRequeueOnWorkerLoss(t *testing.T) {
	cur := &keycursor.Fake{Keys: intKeys(200)}
	splits, err := PlanTable(context.Background(), cur, testTable, 100)
	require.NoError(t, err)
	a := New(nil, StartupInitial, offset.Initial, offset.NeverStop(), 100, splits)

	s, err := a.Next(1)
	require.NoError(t, err)
	ss := s.(*cdcsplit.SnapshotSplit)

	require.NoError(t, a.Requeue(ss.ID))

	// worker 2 should now be able to pick it up.
	s2, err := a.Next(2)
	require.NoError(t, err)
	require.Equal(t, ss.ID, s2.SplitID())
}

func TestStartupLatestOffsetSkipsSnapshot(t *testing.T) {
	a := New(nil, StartupLatestOffset, offset.New("mysql-bin.000009", 4), offset.NeverStop(), 100, nil)
	next, err := a.Next(1)
	require.NoError(t, err)
	bs, ok := next.(*cdcsplit.BinlogSplit)
	require.True(t, ok)
	assert.Empty(t, bs.FinishedChunks)
	assert.Equal(t, offset.New("mysql-bin.000009", 4), bs.StartOffset)
}
