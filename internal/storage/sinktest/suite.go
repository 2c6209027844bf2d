// Package sinktest is a conformance suite shared by sink backends.
package sinktest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/storage"
)

// BlockAdapter is a staged-block backend plus inspection hooks for assertions.
type BlockAdapter interface {
	storage.StagedBlockSink
	storage.StalePurger
	Get(target string) ([]byte, bool)
	StagedCount(target string) int
}

// Adapter is a backend supporting both capability sets.
type Adapter interface {
	BlockAdapter
	storage.AppendSink
}

func TestAdapter(t *testing.T, factory func(t *testing.T) Adapter) {
	t.Run("append", func(t *testing.T) { testAppend(t, factory(t)) })
	t.Run("append_missing_target", func(t *testing.T) { testAppendMissingTarget(t, factory(t)) })
	t.Run("ensure_exists_keeps_content", func(t *testing.T) { testEnsureExistsKeepsContent(t, factory(t)) })
	t.Run("invalid_append_target", func(t *testing.T) { testInvalidAppendTarget(t, factory(t)) })
	TestBlockAdapter(t, func(t *testing.T) BlockAdapter { return factory(t) })
}

// TestBlockAdapter covers the staged-block capability set and stale purging.
func TestBlockAdapter(t *testing.T, factory func(t *testing.T) BlockAdapter) {
	t.Run("invalid_block_target", func(t *testing.T) { testInvalidBlockTarget(t, factory(t)) })
	t.Run("stage_and_commit", func(t *testing.T) { testStageAndCommit(t, factory(t)) })
	t.Run("concurrent_stage", func(t *testing.T) { testConcurrentStage(t, factory(t)) })
	t.Run("commit_unstaged_block", func(t *testing.T) { testCommitUnstaged(t, factory(t)) })
	t.Run("commit_unknown_target", func(t *testing.T) { testCommitUnknownTarget(t, factory(t)) })
	t.Run("commit_duplicate_ids", func(t *testing.T) { testCommitDuplicate(t, factory(t)) })
	t.Run("commit_empty_manifest", func(t *testing.T) { testCommitEmpty(t, factory(t)) })
	t.Run("purge_stale", func(t *testing.T) { testPurgeStale(t, factory(t)) })
}

func testAppend(t *testing.T, a Adapter) {
	ctx := context.Background()
	require.NoError(t, a.EnsureExists(ctx, "op.bin"))
	for _, part := range []string{"hello ", "large ", "world"} {
		require.NoError(t, a.Append(ctx, "op.bin", []byte(part)))
	}
	got, ok := a.Get("op.bin")
	require.True(t, ok)
	assert.Equal(t, "hello large world", string(got))
}

func testAppendMissingTarget(t *testing.T, a Adapter) {
	err := a.Append(context.Background(), "missing.bin", []byte("x"))
	assert.ErrorIs(t, err, storage.ErrTargetNotFound)
}

func testEnsureExistsKeepsContent(t *testing.T, a Adapter) {
	ctx := context.Background()
	require.NoError(t, a.EnsureExists(ctx, "chunked.bin"))
	require.NoError(t, a.Append(ctx, "chunked.bin", []byte("first")))
	require.NoError(t, a.EnsureExists(ctx, "chunked.bin"))
	require.NoError(t, a.Append(ctx, "chunked.bin", []byte("second")))
	got, ok := a.Get("chunked.bin")
	require.True(t, ok)
	assert.Equal(t, "firstsecond", string(got))
}

var invalidTargets = []string{"", "../escape", "a/b", ".hidden"}

func testInvalidAppendTarget(t *testing.T, a Adapter) {
	ctx := context.Background()
	for _, target := range invalidTargets {
		assert.ErrorIs(t, a.EnsureExists(ctx, target), storage.ErrInvalidTarget, "target %q", target)
		assert.ErrorIs(t, a.Append(ctx, target, []byte("x")), storage.ErrInvalidTarget, "target %q", target)
	}
}

func testInvalidBlockTarget(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	for _, target := range invalidTargets {
		assert.ErrorIs(t, a.StageBlock(ctx, target, "id", []byte("x")), storage.ErrInvalidTarget, "target %q", target)
		assert.ErrorIs(t, a.Commit(ctx, target, nil), storage.ErrInvalidTarget, "target %q", target)
	}
}

func testStageAndCommit(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	require.NoError(t, a.StageBlock(ctx, "blocks.bin", "c", []byte("333")))
	require.NoError(t, a.StageBlock(ctx, "blocks.bin", "a", []byte("1")))
	require.NoError(t, a.StageBlock(ctx, "blocks.bin", "b", []byte("22")))

	require.NoError(t, a.Commit(ctx, "blocks.bin", []string{"a", "b", "c"}))
	got, ok := a.Get("blocks.bin")
	require.True(t, ok)
	assert.Equal(t, "122333", string(got))
	assert.Zero(t, a.StagedCount("blocks.bin"))
}

func testConcurrentStage(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	const blocks = 32
	ids := make([]string, blocks)
	var want bytes.Buffer
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
		want.WriteString(fmt.Sprintf("<%d>", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, blocks)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- a.StageBlock(ctx, "parallel.bin", ids[i], []byte(fmt.Sprintf("<%d>", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, a.Commit(ctx, "parallel.bin", ids))
	got, ok := a.Get("parallel.bin")
	require.True(t, ok)
	assert.Equal(t, want.String(), string(got))
}

func testCommitUnstaged(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	require.NoError(t, a.StageBlock(ctx, "partial.bin", "a", []byte("1")))
	err := a.Commit(ctx, "partial.bin", []string{"a", "never-staged"})
	assert.ErrorIs(t, err, storage.ErrBlockNotStaged)
	_, ok := a.Get("partial.bin")
	assert.False(t, ok, "a rejected commit must not materialize the target")
}

func testCommitUnknownTarget(t *testing.T, a BlockAdapter) {
	err := a.Commit(context.Background(), "nothing-staged.bin", []string{"a"})
	assert.ErrorIs(t, err, storage.ErrTargetNotFound)
}

func testCommitDuplicate(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	require.NoError(t, a.StageBlock(ctx, "dup.bin", "a", []byte("1")))
	err := a.Commit(ctx, "dup.bin", []string{"a", "a"})
	assert.ErrorIs(t, err, storage.ErrDuplicateBlock)
}

func testCommitEmpty(t *testing.T, a BlockAdapter) {
	require.NoError(t, a.Commit(context.Background(), "empty.bin", nil))
	got, ok := a.Get("empty.bin")
	require.True(t, ok)
	assert.Empty(t, got)
}

func testPurgeStale(t *testing.T, a BlockAdapter) {
	ctx := context.Background()
	require.NoError(t, a.StageBlock(ctx, "orphan.bin", "a", []byte("1")))
	require.NoError(t, a.StageBlock(ctx, "orphan.bin", "b", []byte("2")))

	n, err := a.PurgeStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, a.StagedCount("orphan.bin"))

	n, err = a.PurgeStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, a.StagedCount("orphan.bin"))
}
