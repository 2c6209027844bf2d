package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/storage"
	"github.com/stefando/largeFileUpload/internal/storage/mem"
	"github.com/stefando/largeFileUpload/internal/transfer"
)

func newTestService(opts ...Option) (*Service, *mem.Adapter) {
	a := mem.New()
	return NewService(a, a, opts...), a
}

func TestAppendStream(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(WithAppendBufferBytes(4))
	payload := []byte("0123456789abcdef-tail")

	n, err := svc.AppendStream(ctx, "op.bin", bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	got, ok := store.Get("op.bin")
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestAppendStream_StopsAtDeclaredLength(t *testing.T) {
	svc, store := newTestService()
	n, err := svc.AppendStream(context.Background(), "op.bin", strings.NewReader("abcdefgh"), 3)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	got, _ := store.Get("op.bin")
	assert.Equal(t, "abc", string(got))
}

func TestAppendStream_ShortBody(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.AppendStream(context.Background(), "op.bin", strings.NewReader("abc"), 10)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "3 of 10")
}

func TestAppendStream_ChunksAccumulate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	target := ChunkTarget(uuid.New(), "movie.mp4")
	for _, chunk := range []string{"one-", "two-", "three"} {
		_, err := svc.AppendStream(ctx, target, strings.NewReader(chunk), int64(len(chunk)))
		require.NoError(t, err)
	}
	got, ok := store.Get(target)
	require.True(t, ok)
	assert.Equal(t, "one-two-three", string(got))
	assert.True(t, strings.HasSuffix(target, ".mp4"))
}

// signalReader closes started on its first Read and then blocks on the wrapped reader.
type signalReader struct {
	r       io.Reader
	started chan struct{}
	once    bool
}

func (s *signalReader) Read(p []byte) (int, error) {
	if !s.once {
		s.once = true
		close(s.started)
	}
	return s.r.Read(p)
}

func TestAppendStream_RejectsConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	pr, pw := io.Pipe()
	first := &signalReader{r: pr, started: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := svc.AppendStream(ctx, "busy.bin", first, 5)
		done <- err
	}()
	<-first.started

	_, err := svc.AppendStream(ctx, "busy.bin", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, ErrAppendInProgress)

	// a different target is not affected
	_, err = svc.AppendStream(ctx, "other.bin", strings.NewReader("x"), 1)
	require.NoError(t, err)

	_, err = pw.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	got, _ := store.Get("busy.bin")
	assert.Equal(t, "hello", string(got))

	// released after completion
	_, err = svc.AppendStream(ctx, "busy.bin", strings.NewReader("!"), 1)
	require.NoError(t, err)
}

func TestAppendStream_NoAppendSink(t *testing.T) {
	svc := NewService(nil, mem.New())
	_, err := svc.AppendStream(context.Background(), "op.bin", strings.NewReader("x"), 1)
	require.ErrorIs(t, err, storage.ErrNotSupported)
}

func TestStageBlock_Validation(t *testing.T) {
	valid := transfer.NewBlockID(0).String()
	tests := []struct {
		name   string
		target string
		id     string
		body   string
		length int64
		reason string
	}{
		{name: "missing_file_name", id: valid, body: "x", length: 1, reason: "missing fileName"},
		{name: "missing_block_id", target: "f.bin", body: "x", length: 1, reason: "missing blockId"},
		{name: "foreign_block_id", target: "f.bin", id: "not-a-block", body: "x", length: 1, reason: "invalid blockId"},
		{name: "bad_target", target: "../f.bin", id: valid, body: "x", length: 1, reason: "invalid fileName"},
		{name: "too_large", target: "f.bin", id: valid, body: "0123456789", length: 10, reason: "outside"},
		{name: "short_body", target: "f.bin", id: valid, body: "abc", length: 5, reason: "3 of 5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(WithMaxBlockBytes(8))
			err := svc.StageBlock(context.Background(), tt.target, tt.id, strings.NewReader(tt.body), tt.length)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Reason, tt.reason)
			assert.Zero(t, store.StagedCount(tt.target))
		})
	}
}

func TestStageAndCommitBlocks(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()
	parts := []string{"alpha-", "beta-", "gamma"}
	ids := make([]string, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		ids[i] = transfer.NewBlockID(i).String()
		require.NoError(t, svc.StageBlock(ctx, "blob.bin", ids[i], strings.NewReader(parts[i]), int64(len(parts[i]))))
	}
	assert.Equal(t, 3, store.StagedCount("blob.bin"))

	require.NoError(t, svc.CommitBlocks(ctx, "blob.bin", ids))
	got, ok := store.Get("blob.bin")
	require.True(t, ok)
	assert.Equal(t, "alpha-beta-gamma", string(got))
}

func TestCommitBlocks_Errors(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	id0 := transfer.NewBlockID(0).String()

	err := svc.CommitBlocks(ctx, "missing.bin", []string{id0})
	var cerr *transfer.CommitError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, storage.ErrTargetNotFound)

	require.NoError(t, svc.StageBlock(ctx, "partial.bin", id0, strings.NewReader("x"), 1))
	err = svc.CommitBlocks(ctx, "partial.bin", []string{id0, transfer.NewBlockID(1).String()})
	assert.ErrorIs(t, err, storage.ErrBlockNotStaged)

	var verr *ValidationError
	require.ErrorAs(t, svc.CommitBlocks(ctx, "", nil), &verr)
	require.ErrorAs(t, svc.CommitBlocks(ctx, "partial.bin", []string{"bogus"}), &verr)
}

func TestParseOperationID(t *testing.T) {
	id := uuid.New()
	got, err := ParseOperationID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, s := range []string{"", "not-a-uuid"} {
		_, err := ParseOperationID(s)
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr), "input %q", s)
	}
}

func TestNewStreamTarget(t *testing.T) {
	a, b := NewStreamTarget("report.pdf"), NewStreamTarget("report.pdf")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, ".pdf"))
	assert.NoError(t, storage.ValidateTarget(NewStreamTarget("../../etc/passwd.$$$")))
}

func TestJanitorRunOnce(t *testing.T) {
	ctx := context.Background()
	store := mem.New()
	require.NoError(t, store.StageBlock(ctx, "orphan.bin", "a", []byte("1")))

	j := NewJanitor(store, time.Hour, time.Minute)
	n, err := j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = j.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, store.StagedCount("orphan.bin"))
}
