package lock

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	dberror "locklevels/pkg/error"
	"locklevels/pkg/logging"
)

// Level identifies one of the four locking disciplines.
type Level int

const (
	Level0 Level = iota // shared, per key, reentrant
	Level1              // exclusive, per key
	Level2              // exclusive, global quiescence point
	Level3              // exclusive, global structural section

	numLevels = 4
)

func (l Level) String() string {
	return fmt.Sprintf("level%d", int(l))
}

// Config customises a LockManager. The zero value is usable.
type Config struct {
	// Name is attached to every log line, to tell managers apart when a
	// process protects several structures.
	Name string

	// Logger receives contention and fault events. Defaults to the
	// process-wide logger tagged with component=lockmanager.
	Logger *slog.Logger
}

// LockManager arbitrates the four lock levels over one protected structure.
// All state lives behind mu; the four condition variables share it.
type LockManager struct {
	mu sync.Mutex

	level0Cond *sync.Cond
	level1Cond *sync.Cond
	level2Cond *sync.Cond
	level3Cond *sync.Cond

	holders        *HolderTable
	level2InUse    bool
	level2Attempts int // goroutines inside AcquireLevel2 or holding level 2
	level3Pending  int // goroutines inside AcquireLevel3 or holding level 3

	acquired [numLevels]uint64
	waited   [numLevels]uint64
	faults   atomic.Uint64

	log *slog.Logger
}

func NewLockManager() *LockManager {
	return NewLockManagerWithConfig(Config{})
}

func NewLockManagerWithConfig(cfg Config) *LockManager {
	log := cfg.Logger
	if log == nil {
		log = logging.WithComponent("lockmanager")
	}
	if cfg.Name != "" {
		log = log.With("manager", cfg.Name)
	}

	lm := &LockManager{
		holders: NewHolderTable(),
		log:     log,
	}
	lm.level0Cond = sync.NewCond(&lm.mu)
	lm.level1Cond = sync.NewCond(&lm.mu)
	lm.level2Cond = sync.NewCond(&lm.mu)
	lm.level3Cond = sync.NewCond(&lm.mu)
	return lm
}

func (lm *LockManager) level3InUse() bool {
	return lm.level3Pending > 0
}

// await blocks on c until ready holds, counting the wait when it had to park.
func (lm *LockManager) await(level Level, key int, c *sync.Cond, ready func() bool) {
	if ready() {
		return
	}
	lm.waited[level]++
	lm.log.Debug("lock contended",
		"lock_level", int(level), "key", key,
		"level3_pending", lm.level3Pending, "n_level2", lm.level2Attempts)
	waitUntil(c, ready)
}

// AcquireLevel0 takes a shared, reentrant hold on key. It blocks while a
// structural section is pending or key is held at level 1.
func (lm *LockManager) AcquireLevel0(key int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.await(Level0, key, lm.level0Cond, func() bool { return lm.canGrantLevel0(key) })
	lm.holders.AddShared(key)
	lm.acquired[Level0]++
}

// ReleaseLevel0 drops one level-0 hold on key. Releasing a key whose count
// is already zero is tolerated; releasing a key never acquired at level 0
// panics.
func (lm *LockManager) ReleaseLevel0(key int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.holders.ReleaseShared(key) {
		lm.fault("LEVEL0_NEVER_ACQUIRED", "release of a key never acquired at level 0",
			"ReleaseLevel0", Level0, key)
	}
	// A level-1 waiter on this key may now be admissible.
	lm.level1Cond.Broadcast()
}

// AcquireLevel1 takes the exclusive per-key hold on key. It blocks while a
// structural section is pending or anyone holds key at level 0 or 1.
func (lm *LockManager) AcquireLevel1(key int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.await(Level1, key, lm.level1Cond, func() bool { return lm.canGrantLevel1(key) })
	lm.holders.AddExclusive(key)
	lm.acquired[Level1]++
}

// ReleaseLevel1 drops the exclusive hold on key. It panics if key is not
// held at level 1.
func (lm *LockManager) ReleaseLevel1(key int) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.holders.ReleaseExclusive(key) {
		lm.fault("LEVEL1_NOT_HELD", "release of a key not held at level 1",
			"ReleaseLevel1", Level1, key)
	}
	if lm.level3InUse() {
		// Level-1 waiters are parked behind level 3 anyway; only the
		// structural acquirer needs to re-check quiescence.
		lm.level3Cond.Signal()
	} else {
		lm.level1Cond.Broadcast()
	}
	lm.level0Cond.Broadcast()
}

// AcquireLevel2 enters the global quiescence point. The attempt is counted
// before blocking so a pending level-3 acquirer sees this goroutine as
// parked.
func (lm *LockManager) AcquireLevel2() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.level2Attempts++
	if lm.level3InUse() {
		lm.level3Cond.Signal()
	}
	lm.await(Level2, -1, lm.level2Cond, lm.canGrantLevel2)
	lm.level2InUse = true
	lm.acquired[Level2]++
}

// ReleaseLevel2 leaves the quiescence point and admits at most one waiter.
func (lm *LockManager) ReleaseLevel2() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.level2InUse {
		lm.fault("LEVEL2_NOT_HELD", "release of level 2 while it is free",
			"ReleaseLevel2", Level2, -1)
	}
	lm.level2InUse = false
	lm.level2Attempts--
	lm.level2Cond.Signal()
}

// fault reports a broken locking contract and panics. It is called with
// lm.mu held by a deferred-unlock operation, so the manager stays usable
// after a recovered panic.
func (lm *LockManager) fault(code, message, op string, level Level, key int) {
	lm.faults.Add(1)
	err := dberror.NewContractViolation(code, message, op, int(level), key)
	if level >= Level2 {
		err.Keyed = false
	}
	err.Hint = "every release must match an earlier acquire on the same level"
	lm.log.Error("lock contract violated", "code", code, "lock_level", int(level), "key", key, "op", op)
	panic(err)
}
