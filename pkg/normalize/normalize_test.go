package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/block/mysql-cdc/pkg/cdcevent"
	"github.com/block/mysql-cdc/pkg/cdcsplit"
	"github.com/block/mysql-cdc/pkg/offset"
	"github.com/block/mysql-cdc/pkg/splitkey"
)

var table = cdcsplit.TableID{Schema: "db", Table: "t"}

func readEvent(key int64) *cdcevent.DataChangeEvent {
	k, _ := splitkey.New(key)
	return &cdcevent.DataChangeEvent{Op: cdcevent.OpRead, TableID: table, Key: k, Columns: map[string]any{"v": "snapshot"}}
}

func logEvent(op cdcevent.Op, key int64, pos offset.Offset) *cdcevent.DataChangeEvent {
	k, _ := splitkey.New(key)
	return &cdcevent.DataChangeEvent{Op: op, TableID: table, Key: k, Position: pos, Columns: map[string]any{"v": "log"}}
}

func TestNormalizeNoLogEvents(t *testing.T) {
	reads := []*cdcevent.DataChangeEvent{readEvent(1), readEvent(2)}
	out, err := Normalize(nil, reads, nil)
	require.NoError(t, err)
	assert.Len(t, out, 2)
	for _, ev := range out {
		assert.Equal(t, cdcevent.OpRead, ev.Op)
	}
}

func TestNormalizeUpdateOverwritesSnapshotRow(t *testing.T) {
	reads := []*cdcevent.DataChangeEvent{readEvent(1)}
	buffered := []*cdcevent.DataChangeEvent{logEvent(cdcevent.OpUpdate, 1, offset.New("f", 10))}
	out, err := Normalize(nil, reads, buffered)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "log", out[0].Columns["v"])
}

func TestNormalizeCreateSurvivorTaggedAsInsert(t *testing.T) {
	buffered := []*cdcevent.DataChangeEvent{logEvent(cdcevent.OpCreate, 7, offset.New("f", 1))}
	out, err := Normalize(nil, nil, buffered)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, cdcevent.OpCreate, out[0].Op)
}

func TestNormalizeCreateThenUpdateStillTaggedAsInsert(t *testing.T) {
	buffered := []*cdcevent.DataChangeEvent{
		logEvent(cdcevent.OpCreate, 7, offset.New("f", 1)),
		logEvent(cdcevent.OpUpdate, 7, offset.New("f", 2)),
	}
	out, err := Normalize(nil, nil, buffered)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, cdcevent.OpCreate, out[0].Op)
}

func TestNormalizeCreateThenDeleteDropsRow(t *testing.T) {
	buffered := []*cdcevent.DataChangeEvent{
		logEvent(cdcevent.OpCreate, 5, offset.New("f", 1)),
		logEvent(cdcevent.OpDelete, 5, offset.New("f", 2)),
	}
	out, err := Normalize(nil, nil, buffered)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNormalizeDeleteOfUnknownKeyFails(t *testing.T) {
	buffered := []*cdcevent.DataChangeEvent{logEvent(cdcevent.OpDelete, 99, offset.New("f", 1))}
	_, err := Normalize(nil, nil, buffered)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeleteOfUnknownKey)
}

func TestNormalizeReadInStreamFails(t *testing.T) {
	buffered := []*cdcevent.DataChangeEvent{readEvent(1)}
	_, err := Normalize(nil, nil, buffered)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedReadInStream)
}

func TestNormalizeUntouchedSnapshotRowsSurvive(t *testing.T) {
	reads := []*cdcevent.DataChangeEvent{readEvent(1), readEvent(2)}
	buffered := []*cdcevent.DataChangeEvent{logEvent(cdcevent.OpUpdate, 1, offset.New("f", 1))}
	out, err := Normalize(nil, reads, buffered)
	require.NoError(t, err)
	require.Len(t, out, 2)
	keys := map[string]bool{}
	for _, ev := range out {
		keys[ev.Key.String()] = true
	}
	assert.True(t, keys["1"])
	assert.True(t, keys["2"])
}

func TestInRange(t *testing.T) {
	low := offset.New("f", 10)
	high := offset.New("f", 20)
	assert.False(t, InRange(offset.New("f", 10), low, high))
	assert.True(t, InRange(offset.New("f", 15), low, high))
	assert.True(t, InRange(offset.New("f", 20), low, high))
	assert.False(t, InRange(offset.New("f", 21), low, high))
}
