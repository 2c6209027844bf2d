package transfer

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUnitSize    = errors.New("unit size must be greater than zero")
	ErrInvalidConcurrency = errors.New("concurrency must be at least one")
	ErrSizeMismatch       = errors.New("source size does not match declared size")
	ErrInvalidBlockID     = errors.New("invalid block id")
	ErrInvalidManifest    = errors.New("invalid commit manifest")
	ErrInvalidTransition  = errors.New("invalid operation state transition")
)

// ReadError reports a failure of the underlying source while producing the unit at Index.
type ReadError struct {
	Index int
	Err   error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read unit %d: %s", e.Index, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// TransferError reports the failure of a single unit's transfer.
type TransferError struct {
	Index int
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer unit %d: %s", e.Index, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CommitError reports that the storage side rejected a manifest for Target.
type CommitError struct {
	Target string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit %s: %s", e.Target, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
