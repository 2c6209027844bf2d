package mem

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stefando/largeFileUpload/internal/storage"
)

type stagedBlock struct {
	data   []byte
	staged time.Time
}

// Adapter keeps targets and staged blocks in memory. It implements both sink capability sets.
type Adapter struct {
	mu      sync.RWMutex
	objects map[string][]byte
	staging map[string]map[string]stagedBlock // target -> id -> block
	now     func() time.Time
}

func New() *Adapter {
	return &Adapter{
		objects: make(map[string][]byte),
		staging: make(map[string]map[string]stagedBlock),
		now:     time.Now,
	}
}

func (a *Adapter) EnsureExists(_ context.Context, target string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.objects[target]; !ok {
		a.objects[target] = []byte{}
	}
	return nil
}

func (a *Adapter) Append(_ context.Context, target string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[target]
	if !ok {
		return storage.NewError("append", target, storage.ErrTargetNotFound)
	}
	a.objects[target] = append(obj, data...)
	return nil
}

func (a *Adapter) StageBlock(_ context.Context, target, id string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	// callers may reuse data once we return
	buf := bytes.Clone(data)
	if buf == nil {
		buf = []byte{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	blocks, ok := a.staging[target]
	if !ok {
		blocks = make(map[string]stagedBlock)
		a.staging[target] = blocks
	}
	blocks[id] = stagedBlock{data: buf, staged: a.now()}
	return nil
}

func (a *Adapter) Commit(_ context.Context, target string, ids []string) error {
	if err := storage.ValidateCommitIDs(ids); err != nil {
		return storage.NewError("commit", target, err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	blocks, ok := a.staging[target]
	if !ok && len(ids) > 0 {
		return storage.NewError("commit", target, storage.ErrTargetNotFound)
	}
	var size int
	for _, id := range ids {
		b, ok := blocks[id]
		if !ok {
			return storage.NewError("commit", target, fmt.Errorf("%w: %s", storage.ErrBlockNotStaged, id))
		}
		size += len(b.data)
	}
	obj := make([]byte, 0, size)
	for _, id := range ids {
		obj = append(obj, blocks[id].data...)
	}
	a.objects[target] = obj
	delete(a.staging, target)
	return nil
}

func (a *Adapter) PurgeStale(_ context.Context, olderThan time.Time) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	purged := 0
	for target, blocks := range a.staging {
		for id, b := range blocks {
			if b.staged.Before(olderThan) {
				delete(blocks, id)
				purged++
			}
		}
		if len(blocks) == 0 {
			delete(a.staging, target)
		}
	}
	return purged, nil
}

// Get returns a copy of the stored target.
func (a *Adapter) Get(target string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	obj, ok := a.objects[target]
	if !ok {
		return nil, false
	}
	return bytes.Clone(obj), true
}

// StagedCount returns how many blocks are staged for target.
func (a *Adapter) StagedCount(target string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.staging[target])
}
