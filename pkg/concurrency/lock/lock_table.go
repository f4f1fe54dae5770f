package lock

import (
	"maps"
	"slices"
)

// HolderTable tracks the per-key lock levels: the reentrant shared counts of
// level 0 and the exclusive key set of level 1.
//
// HolderTable is not safe for concurrent use. The LockManager only touches it
// while holding its mutex.
type HolderTable struct {
	shared    map[int]int      // level 0: key -> reentrancy count
	exclusive map[int]struct{} // level 1: keys currently held
}

func NewHolderTable() *HolderTable {
	return &HolderTable{
		shared:    make(map[int]int),
		exclusive: make(map[int]struct{}),
	}
}

// SharedCount returns the level-0 count for key and whether key has ever
// been acquired at level 0. Entries are kept at zero once created.
func (ht *HolderTable) SharedCount(key int) (int, bool) {
	count, known := ht.shared[key]
	return count, known
}

// IsExclusive reports whether key is currently held at level 1.
func (ht *HolderTable) IsExclusive(key int) bool {
	_, held := ht.exclusive[key]
	return held
}

// ExclusiveCount returns the number of keys held at level 1.
func (ht *HolderTable) ExclusiveCount() int {
	return len(ht.exclusive)
}

func (ht *HolderTable) AddShared(key int) {
	ht.shared[key]++
}

// ReleaseShared decrements the level-0 count of key without going below
// zero. It returns false when key was never acquired at level 0.
func (ht *HolderTable) ReleaseShared(key int) bool {
	count, known := ht.shared[key]
	if !known {
		return false
	}
	if count > 0 {
		ht.shared[key] = count - 1
	}
	return true
}

func (ht *HolderTable) AddExclusive(key int) {
	ht.exclusive[key] = struct{}{}
}

// ReleaseExclusive removes key from the level-1 set. It returns false if key
// was not held.
func (ht *HolderTable) ReleaseExclusive(key int) bool {
	if !ht.IsExclusive(key) {
		return false
	}
	delete(ht.exclusive, key)
	return true
}

// ExclusiveKeys returns the level-1 keys in ascending order.
func (ht *HolderTable) ExclusiveKeys() []int {
	keys := make([]int, 0, len(ht.exclusive))
	for key := range ht.exclusive {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// SharedCounts returns a copy of the level-0 counts, zero entries included.
func (ht *HolderTable) SharedCounts() map[int]int {
	return maps.Clone(ht.shared)
}
