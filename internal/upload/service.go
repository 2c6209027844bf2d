package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage"
	"github.com/stefando/largeFileUpload/internal/transfer"
)

const (
	DefaultAppendBufferBytes = 1 << 20
	DefaultMaxBlockBytes     = 100 << 20
)

var ErrAppendInProgress = errors.New("append already in progress for target")

var ingestedBytes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "upload_ingested_bytes_total",
		Help: "Bytes accepted by the ingestion endpoints",
	},
	[]string{"strategy"},
)

// ValidationError describes a malformed or incomplete request. The reason is safe to show to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Service routes incoming upload payloads to the configured storage sinks
type Service struct {
	appendSink        storage.AppendSink
	blockSink         storage.StagedBlockSink
	appendBufferBytes int
	maxBlockBytes     int64
	appends           *targetGuard
}

// Option customizes a Service
type Option func(*Service)

// WithAppendBufferBytes sets how many bytes are buffered per Append call
func WithAppendBufferBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.appendBufferBytes = n
		}
	}
}

// WithMaxBlockBytes caps the size of a single staged block
func WithMaxBlockBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBlockBytes = n
		}
	}
}

// NewService creates an ingestion service. Either sink may be nil when the backend lacks that capability;
// the matching operations then fail with storage.ErrNotSupported.
func NewService(appendSink storage.AppendSink, blockSink storage.StagedBlockSink, opts ...Option) *Service {
	s := &Service{
		appendSink:        appendSink,
		blockSink:         blockSink,
		appendBufferBytes: DefaultAppendBufferBytes,
		maxBlockBytes:     DefaultMaxBlockBytes,
		appends:           newTargetGuard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBlockBytes returns the largest block StageBlock accepts
func (s *Service) MaxBlockBytes() int64 {
	return s.maxBlockBytes
}

// NewStreamTarget generates a fresh target name keeping only a safe extension of fileName
func NewStreamTarget(fileName string) string {
	return uuid.New().String() + transfer.SafeExtension(fileName)
}

// ChunkTarget names the append target shared by all chunks of one operation
func ChunkTarget(operationID uuid.UUID, fileName string) string {
	return operationID.String() + transfer.SafeExtension(fileName)
}

// ParseOperationID validates an operation id received from a client
func ParseOperationID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, NewValidationError("missing operationId")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, NewValidationError("invalid operationId")
	}
	return id, nil
}

// AppendStream copies exactly length bytes from r onto the end of target, creating it when missing.
// Only one AppendStream may run per target at a time; a second caller gets ErrAppendInProgress.
func (s *Service) AppendStream(ctx context.Context, target string, r io.Reader, length int64) (int64, error) {
	if s.appendSink == nil {
		return 0, storage.NewError("append", target, storage.ErrNotSupported)
	}
	if length < 0 {
		return 0, NewValidationError("invalid Content-Length %d", length)
	}
	release, ok := s.appends.tryAcquire(target)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAppendInProgress, target)
	}
	defer release()

	log := logging.FromContext(ctx).WithField(logging.TargetFieldKey, target)
	if err := s.appendSink.EnsureExists(ctx, target); err != nil {
		return 0, err
	}

	// one buffer per stream; the sink must not retain data after Append returns
	buf := make([]byte, min(int64(s.appendBufferBytes), max(length, 1)))
	src := io.LimitReader(r, length)
	var written int64
	for written < length {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if appendErr := s.appendSink.Append(ctx, target, buf[:n]); appendErr != nil {
				return written, appendErr
			}
			written += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read body: %w", err)
		}
	}
	if written < length {
		return written, NewValidationError("file section ended after %d of %d declared bytes", written, length)
	}
	log.WithField("bytes", written).Debug("append stream complete")
	return written, nil
}

// StageBlock buffers exactly length bytes from r and stages them as block id of target
func (s *Service) StageBlock(ctx context.Context, target, id string, r io.Reader, length int64) error {
	if s.blockSink == nil {
		return storage.NewError("stage_block", target, storage.ErrNotSupported)
	}
	if target == "" {
		return NewValidationError("missing fileName")
	}
	if id == "" {
		return NewValidationError("missing blockId")
	}
	if _, err := transfer.BlockID(id).Index(); err != nil {
		return NewValidationError("invalid blockId")
	}
	if err := storage.ValidateTarget(target); err != nil {
		return NewValidationError("invalid fileName")
	}
	if length < 0 || length > s.maxBlockBytes {
		return NewValidationError("block length %d outside [0, %d]", length, s.maxBlockBytes)
	}

	// parallel blocks are staged whole
	data := make([]byte, length)
	n, err := io.ReadFull(r, data)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return NewValidationError("file section ended after %d of %d declared bytes", n, length)
	}
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := s.blockSink.StageBlock(ctx, target, id, data); err != nil {
		return err
	}
	ingestedBytes.WithLabelValues(string(transfer.StrategyBlock)).Add(float64(length))
	logging.FromContext(ctx).WithFields(logging.Fields{
		logging.TargetFieldKey:  target,
		logging.BlockIDFieldKey: id,
		"bytes":                 length,
	}).Debug("block staged")
	return nil
}

// CommitBlocks materializes target from its staged blocks in the given order
func (s *Service) CommitBlocks(ctx context.Context, target string, ids []string) error {
	if s.blockSink == nil {
		return storage.NewError("commit", target, storage.ErrNotSupported)
	}
	if target == "" {
		return NewValidationError("missing blobName")
	}
	if err := storage.ValidateTarget(target); err != nil {
		return NewValidationError("invalid blobName")
	}
	for _, id := range ids {
		if _, err := transfer.BlockID(id).Index(); err != nil {
			return NewValidationError("invalid block id %q", id)
		}
	}
	if err := s.blockSink.Commit(ctx, target, ids); err != nil {
		return &transfer.CommitError{Target: target, Err: err}
	}
	logging.FromContext(ctx).WithFields(logging.Fields{
		logging.TargetFieldKey: target,
		"blocks":               len(ids),
	}).Info("blocks committed")
	return nil
}

// RecordIngested counts bytes accepted through an append strategy
func RecordIngested(strategy transfer.Strategy, n int64) {
	ingestedBytes.WithLabelValues(string(strategy)).Add(float64(n))
}

// targetGuard is a keyed try-lock: at most one holder per target
type targetGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newTargetGuard() *targetGuard {
	return &targetGuard{active: make(map[string]struct{})}
}

func (g *targetGuard) tryAcquire(target string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[target]; busy {
		return nil, false
	}
	g.active[target] = struct{}{}
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.active, target)
	}, true
}
