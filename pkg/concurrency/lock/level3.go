package lock

import (
	dberror "locklevels/pkg/error"
)

// Level3Guard represents a held structural section. While a guard is live
// the manager's mutex stays locked, so no operation on any level can run;
// the section ends with Release.
type Level3Guard struct {
	lm       *LockManager
	released bool
}

// AcquireLevel3 announces a structural section, which immediately stops new
// level-0 and level-1 admissions, then waits until every level-1 holder is
// parked in or holding level 2. It returns with the manager's mutex held.
//
// The caller is expected to hold a level-1 key and level 2 already. Calling
// any LockManager method before Release deadlocks; use the guard's State to
// inspect the manager from inside the section.
func (lm *LockManager) AcquireLevel3() *Level3Guard {
	lm.mu.Lock()
	lm.level3Pending++
	lm.await(Level3, -1, lm.level3Cond, lm.quiesced)
	lm.acquired[Level3]++
	return &Level3Guard{lm: lm}
}

// Release ends the structural section, wakes the per-key waiters it was
// holding back and unlocks the manager. Releasing twice panics.
func (g *Level3Guard) Release() {
	if g.released {
		g.fault("ReleaseLevel3", "LEVEL3_DOUBLE_RELEASE", "level-3 section released twice")
	}
	g.released = true

	lm := g.lm
	lm.level3Pending--
	if lm.level3InUse() {
		// Another structural acquirer is parked; let it re-check.
		lm.level3Cond.Signal()
	}
	lm.level1Cond.Broadcast()
	lm.level0Cond.Broadcast()
	lm.mu.Unlock()
}

// State snapshots the manager from inside the section without re-locking.
// Calling it after Release panics.
func (g *Level3Guard) State() Snapshot {
	if g.released {
		g.fault("Level3State", "LEVEL3_NOT_HELD", "level-3 section inspected after release")
	}
	return g.lm.snapshotLocked()
}

// fault panics with a contract violation on a released guard. The mutex is
// not held here, so only the atomic fault counter is touched.
func (g *Level3Guard) fault(op, code, message string) {
	g.lm.faults.Add(1)
	err := dberror.New(dberror.ErrCategoryContract, code, message)
	err.Operation = op
	err.Component = "LockManager"
	err.Level = int(Level3)
	g.lm.log.Error("lock contract violated", "code", err.Code, "lock_level", int(Level3))
	panic(err)
}

// WithLevel3 runs fn as a structural section: level 3 is acquired before fn
// and released after it, including when fn panics. fn must not call back
// into the manager.
func (lm *LockManager) WithLevel3(fn func()) {
	guard := lm.AcquireLevel3()
	defer guard.Release()
	fn()
}
