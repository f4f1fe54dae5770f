package lock

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Stats counts admissions per level. Waited counts only acquisitions that
// had to park at least once.
type Stats struct {
	Acquired [numLevels]uint64
	Waited   [numLevels]uint64
	Faults   uint64
}

// Snapshot is a point-in-time copy of the manager's bookkeeping.
type Snapshot struct {
	Level3InUse    bool
	Level3Pending  int
	Level2InUse    bool
	Level2Attempts int
	Level1Holders  []int       // ascending
	Level0Holders  map[int]int // zero counts included
	Stats          Stats
}

// State returns a snapshot taken under the manager's mutex. It blocks while
// a level-3 section is held.
func (lm *LockManager) State() Snapshot {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.snapshotLocked()
}

// TryState is State without blocking. It reports false when the mutex is
// busy, for instance while a level-3 section is held.
func (lm *LockManager) TryState() (Snapshot, bool) {
	if !lm.mu.TryLock() {
		return Snapshot{}, false
	}
	defer lm.mu.Unlock()
	return lm.snapshotLocked(), true
}

func (lm *LockManager) snapshotLocked() Snapshot {
	return Snapshot{
		Level3InUse:    lm.level3InUse(),
		Level3Pending:  lm.level3Pending,
		Level2InUse:    lm.level2InUse,
		Level2Attempts: lm.level2Attempts,
		Level1Holders:  lm.holders.ExclusiveKeys(),
		Level0Holders:  lm.holders.SharedCounts(),
		Stats: Stats{
			Acquired: lm.acquired,
			Waited:   lm.waited,
			Faults:   lm.faults.Load(),
		},
	}
}

// PrintState writes the current snapshot to w.
func (lm *LockManager) PrintState(w io.Writer) error {
	_, err := io.WriteString(w, lm.State().String())
	return err
}

// Level0Keys returns the keys with a level-0 entry in ascending order.
func (s Snapshot) Level0Keys() []int {
	keys := make([]int, 0, len(s.Level0Holders))
	for key := range s.Level0Holders {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// String renders the snapshot as two lines:
//
//	State: level3_in_use=1 n_level2=2 level1_holders: [3 7 ]
//	level0_holders:[1:0, 4:2, ]
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: level3_in_use=%d n_level2=%d level1_holders: [",
		boolToInt(s.Level3InUse), s.Level2Attempts)
	for _, key := range s.Level1Holders {
		fmt.Fprintf(&b, "%d ", key)
	}
	b.WriteString("]\nlevel0_holders:[")
	for _, key := range s.Level0Keys() {
		fmt.Fprintf(&b, "%d:%d, ", key, s.Level0Holders[key])
	}
	b.WriteString("]\n")
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
