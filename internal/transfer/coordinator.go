package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TransferFunc moves one unit to the remote side and returns the identifier it was stored under.
type TransferFunc func(ctx context.Context, u Unit) (BlockID, error)

// Coordinator transfers units with at most concurrency of them in flight.
type Coordinator struct {
	concurrency int
}

func NewCoordinator(concurrency int) (*Coordinator, error) {
	if concurrency < 1 {
		return nil, ErrInvalidConcurrency
	}
	return &Coordinator{concurrency: concurrency}, nil
}

// Run pulls units from p, transferring each with fn once a concurrency slot is free, and returns the
// manifest of identifiers in unit order. units is the count the source is declared to produce.
//
// done, when set, is called after each successful unit. On the first failure no further unit is
// dispatched, in-flight units are allowed to finish, and the first error is returned without a manifest.
func (c *Coordinator) Run(ctx context.Context, p *Partitioner, units int, fn TransferFunc, done func(Unit)) (Manifest, error) {
	// position-indexed: units complete out of order
	ids := make(Manifest, units)

	var (
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	produced := 0
	for !failed() {
		u, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fail(err)
			break
		}
		if u.Index >= units {
			fail(fmt.Errorf("%w: more than %d units", ErrSizeMismatch, units))
			break
		}
		produced++
		// blocks until one of the slots is released
		g.Go(func() error {
			// another unit may have failed while this one waited for its slot
			if failed() {
				return nil
			}
			id, err := fn(ctx, u)
			if err != nil {
				err = &TransferError{Index: u.Index, Err: err}
				fail(err)
				return err
			}
			ids[u.Index] = id
			if done != nil {
				done(u)
			}
			return nil
		})
	}
	_ = g.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if produced != units {
		return nil, fmt.Errorf("%w: produced %d of %d units", ErrSizeMismatch, produced, units)
	}
	return ids, nil
}
