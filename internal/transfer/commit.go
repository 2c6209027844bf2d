package transfer

import (
	"context"
)

// Committer finalizes a staged object from its ordered block ids.
type Committer interface {
	CommitBlocks(ctx context.Context, target string, manifest Manifest) error
}

// Commit validates manifest against the number of units produced and issues exactly one commit.
// A manifest that is incomplete or out of order is never forwarded.
func Commit(ctx context.Context, c Committer, target string, manifest Manifest, units int) error {
	if err := manifest.Validate(units); err != nil {
		return &CommitError{Target: target, Err: err}
	}
	if err := c.CommitBlocks(ctx, target, manifest); err != nil {
		return &CommitError{Target: target, Err: err}
	}
	return nil
}
