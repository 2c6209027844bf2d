// Package storage defines the two sink capability sets uploads are written to.
//
// An append target tolerates one writer at a time, while staged blocks for one target may be written
// concurrently since each id addresses disjoint storage. A backend implements whichever sets it can support.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	BlockstoreTypeMem   = "mem"
	BlockstoreTypeLocal = "local"
	BlockstoreTypeAzure = "azure"
	BlockstoreTypeS3    = "s3"
	BlockstoreTypeMinIO = "minio"
)

var (
	ErrTargetNotFound = errors.New("target not found")
	ErrBlockNotStaged = errors.New("block not staged")
	ErrInvalidTarget  = errors.New("invalid target name")
	ErrNotSupported   = errors.New("operation not supported by blockstore")
	ErrDuplicateBlock = errors.New("duplicate block id")
)

// AppendSink writes a target strictly in order. Callers must serialize appends per target.
type AppendSink interface {
	// EnsureExists creates an empty target unless it already exists.
	EnsureExists(ctx context.Context, target string) error
	// Append durably adds data to the end of target.
	Append(ctx context.Context, target string, data []byte) error
}

// StagedBlockSink stages blocks independently and materializes a target from an ordered id list.
// StageBlock is safe to call concurrently for distinct ids of the same target.
type StagedBlockSink interface {
	StageBlock(ctx context.Context, target, id string, data []byte) error
	// Commit replaces target with the concatenation of the staged blocks, in order. It fails with
	// ErrTargetNotFound when nothing was staged for target and ErrBlockNotStaged when any id is unknown.
	// An empty id list materializes an empty target.
	Commit(ctx context.Context, target string, ids []string) error
}

// StalePurger removes blocks staged before olderThan that were never committed.
type StalePurger interface {
	PurgeStale(ctx context.Context, olderThan time.Time) (int, error)
}

// Error carries the failing operation and target around a backend error.
type Error struct {
	Op     string
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s %s: %s", e.Op, e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Target: target, Err: err}
}

const maxTargetLength = 255

// ValidateTarget rejects names that could escape a flat namespace.
func ValidateTarget(target string) error {
	switch {
	case target == "", len(target) > maxTargetLength:
		return fmt.Errorf("%w: length", ErrInvalidTarget)
	case strings.ContainsAny(target, `/\`), strings.Contains(target, ".."), strings.HasPrefix(target, "."):
		return fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return nil
}

// ValidateCommitIDs rejects an id list that references the same block twice.
func ValidateCommitIDs(ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrBlockNotStaged)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateBlock, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
