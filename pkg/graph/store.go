// Package graph is an adjacency store of integer-addressed nodes guarded by
// a four-level lock manager. Reads take level 0 on the node, edits take
// level 1, and growing the node table is a level-3 structural section
// entered through level 2.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/logging"
)

const (
	// growKey is the level-1 key Grow holds. Node ids are never negative.
	growKey = -1

	// MaxNodes bounds the node table. Ids must be below it.
	MaxNodes = 1 << 26
)

var (
	ErrInvalidID    = errors.New("graph: node id must be non-negative")
	ErrIDOutOfRange = fmt.Errorf("graph: node id must be below %d", MaxNodes)
	ErrNodeNotFound = errors.New("graph: node not found")
	ErrNodeExists   = errors.New("graph: node already exists")
)

type node struct {
	id        int
	neighbors []int
}

// Store holds nodes in a table indexed by id. The table pointer is swapped
// atomically by a resize so level-0 readers never observe a torn header.
type Store struct {
	locks   *lock.LockManager
	table   atomic.Pointer[[]*node]
	size    atomic.Int64
	resizes atomic.Int64
	log     *slog.Logger
}

// New creates a store with room for capacity nodes. If locks is nil a new
// manager is created.
func New(capacity int, locks *lock.LockManager) *Store {
	capacity = min(max(capacity, 1), MaxNodes)
	if locks == nil {
		locks = lock.NewLockManagerWithConfig(lock.Config{Name: "graph"})
	}
	s := &Store{
		locks: locks,
		log:   logging.WithComponent("graph"),
	}
	table := make([]*node, capacity)
	s.table.Store(&table)
	return s
}

// Locks returns the manager guarding the store.
func (s *Store) Locks() *lock.LockManager {
	return s.locks
}

func (s *Store) Len() int {
	return int(s.size.Load())
}

func (s *Store) Capacity() int {
	return len(*s.table.Load())
}

// Resizes returns how many structural resizes have run.
func (s *Store) Resizes() int {
	return int(s.resizes.Load())
}

// lookup returns the node at id from the current table. Callers hold a
// level-0 or level-1 lock on id.
func (s *Store) lookup(id int) *node {
	table := *s.table.Load()
	if id >= len(table) {
		return nil
	}
	return table[id]
}

// Neighbors returns a copy of the neighbor list of id.
func (s *Store) Neighbors(id int) ([]int, error) {
	if id < 0 {
		return nil, ErrInvalidID
	}
	if id >= s.Capacity() {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}

	s.locks.AcquireLevel0(id)
	defer s.locks.ReleaseLevel0(id)

	n := s.lookup(id)
	if n == nil {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return slices.Clone(n.neighbors), nil
}

// Has reports whether id is present.
func (s *Store) Has(id int) bool {
	_, err := s.Neighbors(id)
	return err == nil
}

// AddNode inserts id with the given neighbors, growing the table through a
// structural section when id is beyond the current capacity.
func (s *Store) AddNode(id int, neighbors []int) error {
	if err := checkID(id); err != nil {
		return err
	}

	s.locks.AcquireLevel1(id)
	defer s.locks.ReleaseLevel1(id)

	if id >= s.Capacity() {
		s.growLocked(id + 1)
	}

	table := *s.table.Load()
	if table[id] != nil {
		return fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	table[id] = &node{id: id, neighbors: dedupe(neighbors)}
	s.size.Add(1)
	return nil
}

// Link adds a directed edge from -> to. It is a no-op if the edge exists.
func (s *Store) Link(from, to int) error {
	if from < 0 || to < 0 {
		return ErrInvalidID
	}

	s.locks.AcquireLevel1(from)
	defer s.locks.ReleaseLevel1(from)

	n := s.lookup(from)
	if n == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, from)
	}
	if !slices.Contains(n.neighbors, to) {
		n.neighbors = append(n.neighbors, to)
	}
	return nil
}

// Unlink removes the directed edge from -> to if present.
func (s *Store) Unlink(from, to int) error {
	if from < 0 || to < 0 {
		return ErrInvalidID
	}

	s.locks.AcquireLevel1(from)
	defer s.locks.ReleaseLevel1(from)

	n := s.lookup(from)
	if n == nil {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, from)
	}
	n.neighbors = slices.DeleteFunc(n.neighbors, func(v int) bool { return v == to })
	return nil
}

// Grow makes room for at least capacity nodes, up to MaxNodes.
func (s *Store) Grow(capacity int) error {
	if capacity > MaxNodes {
		return fmt.Errorf("%w: capacity %d", ErrIDOutOfRange, capacity)
	}
	s.locks.AcquireLevel1(growKey)
	defer s.locks.ReleaseLevel1(growKey)
	s.growLocked(capacity)
	return nil
}

// growLocked resizes the table. The caller holds a level-1 key; level 2 and
// level 3 are taken here.
func (s *Store) growLocked(capacity int) {
	s.locks.AcquireLevel2()
	defer s.locks.ReleaseLevel2()

	s.locks.WithLevel3(func() {
		old := *s.table.Load()
		if capacity <= len(old) {
			return
		}
		size := min(max(capacity, 2*len(old)), MaxNodes)
		table := make([]*node, size)
		copy(table, old)
		s.table.Store(&table)
		s.resizes.Add(1)
		s.log.Debug("node table resized", "from", len(old), "to", size)
	})
}

// Edge is a directed edge used by Build.
type Edge struct {
	From, To int
}

// Build inserts nodes and then edges concurrently, at most limit goroutines
// at a time. Nodes already present are kept.
func (s *Store) Build(ctx context.Context, ids []int, edges []Edge, limit int) error {
	g, nodeCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, id := range ids {
		g.Go(func() error {
			if err := nodeCtx.Err(); err != nil {
				return err
			}
			if err := s.AddNode(id, nil); err != nil && !errors.Is(err, ErrNodeExists) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("adding nodes: %w", err)
	}

	g, edgeCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, e := range edges {
		g.Go(func() error {
			if err := edgeCtx.Err(); err != nil {
				return err
			}
			return s.Link(e.From, e.To)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("linking edges: %w", err)
	}
	return nil
}

func checkID(id int) error {
	switch {
	case id < 0:
		return ErrInvalidID
	case id >= MaxNodes:
		return fmt.Errorf("%w: %d", ErrIDOutOfRange, id)
	}
	return nil
}

func dedupe(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
