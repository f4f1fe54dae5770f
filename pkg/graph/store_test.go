package graph

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/logging"
)

func newTestStore(capacity int) *Store {
	lm := lock.NewLockManagerWithConfig(lock.Config{
		Name:   "graph-test",
		Logger: logging.NewLogger(io.Discard, logging.Config{}),
	})
	return New(capacity, lm)
}

func TestAddNodeAndNeighbors(t *testing.T) {
	s := newTestStore(4)

	require.NoError(t, s.AddNode(1, []int{2, 3, 2}))
	got, err := s.Neighbors(1)
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, got)
	require.Equal(t, 1, s.Len())

	require.ErrorIs(t, s.AddNode(1, nil), ErrNodeExists)
	require.ErrorIs(t, s.AddNode(-1, nil), ErrInvalidID)

	_, err = s.Neighbors(2)
	require.ErrorIs(t, err, ErrNodeNotFound)
	_, err = s.Neighbors(100)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestNeighborsReturnsCopy(t *testing.T) {
	s := newTestStore(2)
	require.NoError(t, s.AddNode(0, []int{1}))

	got, err := s.Neighbors(0)
	require.NoError(t, err)
	got[0] = 99

	again, err := s.Neighbors(0)
	require.NoError(t, err)
	require.Equal(t, []int{1}, again)
}

func TestLinkUnlink(t *testing.T) {
	s := newTestStore(4)
	require.NoError(t, s.AddNode(0, nil))

	require.NoError(t, s.Link(0, 1))
	require.NoError(t, s.Link(0, 2))
	require.NoError(t, s.Link(0, 1))
	got, err := s.Neighbors(0)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)

	require.NoError(t, s.Unlink(0, 1))
	got, err = s.Neighbors(0)
	require.NoError(t, err)
	require.Equal(t, []int{2}, got)

	require.ErrorIs(t, s.Link(3, 0), ErrNodeNotFound)
	require.ErrorIs(t, s.Unlink(3, 0), ErrNodeNotFound)
}

func TestAddNodeGrowsTable(t *testing.T) {
	s := newTestStore(2)

	require.NoError(t, s.AddNode(0, nil))
	require.NoError(t, s.AddNode(10, []int{0}))

	require.GreaterOrEqual(t, s.Capacity(), 11)
	require.Equal(t, 1, s.Resizes())
	require.True(t, s.Has(0), "node 0 must survive the resize")
	require.True(t, s.Has(10))

	state := s.Locks().State()
	require.Equal(t, uint64(1), state.Stats.Acquired[lock.Level3])
	require.False(t, state.Level3InUse)
	require.Equal(t, 0, state.Level2Attempts)
	require.Empty(t, state.Level1Holders)
}

func TestGrowIsNoOpWhenLargeEnough(t *testing.T) {
	s := newTestStore(8)
	require.NoError(t, s.Grow(4))
	require.Equal(t, 8, s.Capacity())
	require.Equal(t, 0, s.Resizes())

	require.NoError(t, s.Grow(9))
	require.Equal(t, 16, s.Capacity())
	require.Equal(t, 1, s.Resizes())
}

func TestIDsBeyondMaxNodesAreRejected(t *testing.T) {
	s := newTestStore(4)

	for _, id := range []int{MaxNodes, MaxNodes + 1, math.MaxInt} {
		require.ErrorIs(t, s.AddNode(id, nil), ErrIDOutOfRange, "id %d", id)
	}
	require.ErrorIs(t, s.Grow(MaxNodes+1), ErrIDOutOfRange)
	require.ErrorIs(t, s.Grow(math.MaxInt), ErrIDOutOfRange)

	require.Equal(t, 4, s.Capacity())
	require.Equal(t, 0, s.Len())
	require.Equal(t, 0, s.Resizes())

	state := s.Locks().State()
	require.Empty(t, state.Level1Holders)
	require.Zero(t, state.Stats.Acquired[lock.Level1])
}

func TestConcurrentInsertsWithResizes(t *testing.T) {
	s := newTestStore(1)
	const (
		workers   = 8
		perWorker = 64
	)

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				id := i*workers + w
				assert.NoError(t, s.AddNode(id, nil))
				if id > 0 {
					assert.NoError(t, s.Link(id, id-1))
				}
				// Readers on other nodes run alongside the writers.
				_, _ = s.Neighbors(id / 2)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*perWorker, s.Len())
	for id := range workers * perWorker {
		require.True(t, s.Has(id), "missing node %d", id)
	}
	require.Greater(t, s.Resizes(), 0)
	require.Empty(t, s.Locks().State().Level1Holders)
}

func TestBuild(t *testing.T) {
	s := newTestStore(1)
	ids := make([]int, 50)
	var edges []Edge
	for i := range ids {
		ids[i] = i
		edges = append(edges, Edge{From: i, To: (i + 1) % len(ids)})
	}

	require.NoError(t, s.Build(context.Background(), ids, edges, 4))
	require.Equal(t, 50, s.Len())

	got, err := s.Neighbors(49)
	require.NoError(t, err)
	require.Equal(t, []int{0}, got)
}

func TestBuildStopsOnError(t *testing.T) {
	s := newTestStore(4)
	err := s.Build(context.Background(), []int{0, 1}, []Edge{{From: 7, To: 0}}, 2)
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestBuildHonoursCancelledContext(t *testing.T) {
	s := newTestStore(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Build(ctx, []int{0, 1, 2}, nil, 1)
	require.ErrorIs(t, err, context.Canceled)
}
