package transfer_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/transfer"
)

// stagingStore records staged units and the commits it receives.
type stagingStore struct {
	mu      sync.Mutex
	staged  map[transfer.BlockID][]byte
	commits []transfer.Manifest
	objects map[string][]byte
}

func newStagingStore() *stagingStore {
	return &stagingStore{
		staged:  make(map[transfer.BlockID][]byte),
		objects: make(map[string][]byte),
	}
}

func (s *stagingStore) stage(_ context.Context, u transfer.Unit) (transfer.BlockID, error) {
	// jitter so units complete out of order
	time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond) //nolint:gosec
	id := transfer.NewBlockID(u.Index)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[id] = u.Data
	return id, nil
}

func (s *stagingStore) CommitBlocks(_ context.Context, target string, m transfer.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits = append(s.commits, m)
	var obj []byte
	for _, id := range m {
		data, ok := s.staged[id]
		if !ok {
			return errors.New("block not staged")
		}
		obj = append(obj, data...)
	}
	s.objects[target] = obj
	return nil
}

func runCoordinator(t *testing.T, data []byte, unitSize, concurrency int, fn transfer.TransferFunc, done func(transfer.Unit)) (transfer.Manifest, error) {
	t.Helper()
	p, err := transfer.NewPartitioner(bytes.NewReader(data), unitSize)
	require.NoError(t, err)
	c, err := transfer.NewCoordinator(concurrency)
	require.NoError(t, err)
	return c.Run(context.Background(), p, transfer.UnitCount(int64(len(data)), unitSize), fn, done)
}

func TestCoordinatorManifestOrderIndependentOfConcurrency(t *testing.T) {
	data := randomBytes(t, 64*1024+123)
	var reference transfer.Manifest
	for _, concurrency := range []int{1, 2, 3, 8, 64} {
		store := newStagingStore()
		m, err := runCoordinator(t, data, 4096, concurrency, store.stage, nil)
		require.NoError(t, err)
		require.NoError(t, m.Validate(transfer.UnitCount(int64(len(data)), 4096)))
		if reference == nil {
			reference = m
		}
		assert.Equal(t, reference, m, "concurrency %d", concurrency)
	}
}

func TestCoordinatorBoundsInFlightUnits(t *testing.T) {
	const limit = 3
	var inFlight, maxInFlight atomic.Int32
	fn := func(_ context.Context, u transfer.Unit) (transfer.BlockID, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return transfer.NewBlockID(u.Index), nil
	}
	_, err := runCoordinator(t, randomBytes(t, 40), 1, limit, fn, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(limit))
	assert.Positive(t, maxInFlight.Load())
}

func TestCoordinatorScenarioTwentyFiveMegabytes(t *testing.T) {
	const mb = 1 << 20
	data := bytes.Repeat([]byte("0123456789abcdef"), 25*mb/16)
	store := newStagingStore()

	m, err := runCoordinator(t, data, 10*mb, 10, store.stage, nil)
	require.NoError(t, err)
	require.Len(t, m, 3)
	require.NoError(t, transfer.Commit(context.Background(), store, "file.bin", m, 3))
	assert.True(t, bytes.Equal(data, store.objects["file.bin"]))
}

func TestCoordinatorFailureDrainsAndSkipsCommit(t *testing.T) {
	boom := errors.New("connection reset")
	var started, finished atomic.Int32
	release := make(chan struct{})
	fn := func(_ context.Context, u transfer.Unit) (transfer.BlockID, error) {
		started.Add(1)
		defer finished.Add(1)
		if u.Index == 1 {
			return "", boom
		}
		<-release
		return transfer.NewBlockID(u.Index), nil
	}

	go func() {
		// let the failing unit finish first, then release the others
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	store := newStagingStore()
	m, err := runCoordinator(t, []byte("aaaabbbbcccc"), 4, 3, fn, nil)

	require.Error(t, err)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, boom)
	var te *transfer.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.Index)
	assert.Equal(t, started.Load(), finished.Load(), "in-flight units must finish before failure is reported")
	assert.Empty(t, store.commits)
}

func TestCoordinatorStopsDispatchAfterFailure(t *testing.T) {
	var calls atomic.Int32
	fn := func(_ context.Context, u transfer.Unit) (transfer.BlockID, error) {
		calls.Add(1)
		return "", errors.New("refused")
	}
	_, err := runCoordinator(t, randomBytes(t, 100), 1, 1, fn, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCoordinatorDetectsSizeMismatch(t *testing.T) {
	store := newStagingStore()
	c, err := transfer.NewCoordinator(2)
	require.NoError(t, err)

	p, err := transfer.NewPartitioner(bytes.NewReader([]byte("abcdefgh")), 4)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), p, 3, store.stage, nil)
	assert.ErrorIs(t, err, transfer.ErrSizeMismatch)

	p, err = transfer.NewPartitioner(bytes.NewReader([]byte("abcdefgh")), 4)
	require.NoError(t, err)
	_, err = c.Run(context.Background(), p, 1, store.stage, nil)
	assert.ErrorIs(t, err, transfer.ErrSizeMismatch)
}

func TestCoordinatorProgressMonotonic(t *testing.T) {
	data := randomBytes(t, 10_000)
	op := transfer.NewOperation("report.pdf", int64(len(data)), transfer.StrategyBlock)
	events := op.Subscribe(0)
	var observed []transfer.Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			observed = append(observed, ev)
		}
	}()

	require.NoError(t, op.Start())
	store := newStagingStore()
	_, err := runCoordinator(t, data, 999, 4, store.stage, func(u transfer.Unit) {
		op.Progress(int64(u.Size()))
	})
	require.NoError(t, err)
	require.NoError(t, op.Complete())
	wg.Wait()

	require.NotEmpty(t, observed)
	assert.Equal(t, transfer.StateStarted, observed[0].State)
	last := int64(0)
	atTotal := 0
	for _, ev := range observed {
		assert.GreaterOrEqual(t, ev.BytesTransferred, last)
		last = ev.BytesTransferred
		if ev.State == transfer.StateInProgress && ev.BytesTransferred == int64(len(data)) {
			atTotal++
		}
	}
	assert.Equal(t, 1, atTotal)
	assert.Equal(t, transfer.StateCompleted, observed[len(observed)-1].State)
	assert.Equal(t, int64(len(data)), observed[len(observed)-1].BytesTransferred)
}

func TestNewCoordinatorRejectsConcurrency(t *testing.T) {
	_, err := transfer.NewCoordinator(0)
	assert.ErrorIs(t, err, transfer.ErrInvalidConcurrency)
}
