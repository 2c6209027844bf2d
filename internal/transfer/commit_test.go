package transfer_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/transfer"
)

type rejectingCommitter struct {
	calls int
	err   error
}

func (c *rejectingCommitter) CommitBlocks(context.Context, string, transfer.Manifest) error {
	c.calls++
	return c.err
}

func TestCommitRejectsIncompleteManifest(t *testing.T) {
	c := &rejectingCommitter{}
	err := transfer.Commit(context.Background(), c, "t.bin", transfer.Manifest{transfer.NewBlockID(0)}, 2)

	var ce *transfer.CommitError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "t.bin", ce.Target)
	assert.ErrorIs(t, err, transfer.ErrInvalidManifest)
	assert.Zero(t, c.calls)
}

func TestCommitWrapsSinkRejection(t *testing.T) {
	unknown := errors.New("unknown block")
	c := &rejectingCommitter{err: unknown}
	m := transfer.Manifest{transfer.NewBlockID(0), transfer.NewBlockID(1)}

	err := transfer.Commit(context.Background(), c, "t.bin", m, 2)
	var ce *transfer.CommitError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, unknown)
	assert.Equal(t, 1, c.calls)
}
