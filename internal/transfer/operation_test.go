package transfer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/transfer"
)

func drain(ch <-chan transfer.Event) []transfer.Event {
	var out []transfer.Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestOperationLifecycleCompleted(t *testing.T) {
	op := transfer.NewOperation("movie.mkv", 10, transfer.StrategyChunk)
	events := op.Subscribe(16)

	require.NoError(t, op.Start())
	op.Progress(4)
	op.Progress(6)
	require.NoError(t, op.Complete())

	got := drain(events)
	require.Len(t, got, 4)
	assert.Equal(t, transfer.StateStarted, got[0].State)
	assert.Equal(t, transfer.StateInProgress, got[1].State)
	assert.Equal(t, int64(4), got[1].BytesTransferred)
	assert.Equal(t, int64(10), got[2].BytesTransferred)
	assert.Equal(t, transfer.StateCompleted, got[3].State)
	for _, ev := range got {
		assert.Equal(t, op.ID, ev.OperationID)
		assert.Equal(t, int64(10), ev.TotalBytes)
	}
}

func TestOperationFailureIsTerminal(t *testing.T) {
	op := transfer.NewOperation("movie.mkv", 10, transfer.StrategyBlock)
	events := op.Subscribe(16)
	boom := errors.New("boom")

	require.NoError(t, op.Start())
	op.Fail(boom)
	op.Progress(5)
	op.Fail(errors.New("again"))
	assert.ErrorIs(t, op.Complete(), transfer.ErrInvalidTransition)
	assert.ErrorIs(t, op.Start(), transfer.ErrInvalidTransition)

	got := drain(events)
	require.Len(t, got, 2)
	assert.Equal(t, transfer.StateFailed, got[1].State)
	assert.ErrorIs(t, got[1].Err, boom)
	assert.Equal(t, transfer.StateFailed, op.State())

	late := op.Subscribe(1)
	_, open := <-late
	assert.False(t, open, "subscribing after the end yields a closed channel")
}

func TestOperationFailRequiresInProgress(t *testing.T) {
	op := transfer.NewOperation("a.txt", 1, transfer.StrategyStream)
	op.Fail(errors.New("too early"))
	assert.Equal(t, transfer.StatePending, op.State())
}

func TestOperationCompleteChecksSize(t *testing.T) {
	op := transfer.NewOperation("a.txt", 10, transfer.StrategyStream)
	require.NoError(t, op.Start())
	op.Progress(9)
	assert.ErrorIs(t, op.Complete(), transfer.ErrSizeMismatch)
	assert.Equal(t, transfer.StateInProgress, op.State())
}

func TestOperationTarget(t *testing.T) {
	op := transfer.NewOperation("/home/me/backup.tar", 1, transfer.StrategyBlock)
	assert.Equal(t, op.ID.String()+".tar", op.Target())

	op = transfer.NewOperation("weird.name.$$$", 1, transfer.StrategyBlock)
	assert.Equal(t, op.ID.String(), op.Target())
}

func TestParseStrategy(t *testing.T) {
	s, err := transfer.ParseStrategy("block")
	require.NoError(t, err)
	assert.Equal(t, transfer.StrategyBlock, s)
	_, err = transfer.ParseStrategy("carrier-pigeon")
	assert.Error(t, err)
}
