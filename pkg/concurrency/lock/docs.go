// Package lock implements the four-level lock manager that guards a shared
// graph-like structure whose operations mostly touch a single node id but
// occasionally need to own the whole structure.
//
// # Levels
//
//   - Level 0: shared, per key, reentrant. Many holders per key; each
//     acquire increments a count that the matching release decrements.
//   - Level 1: exclusive, per key. Excludes level 0 and level 1 on the same
//     key only, so different keys proceed in parallel.
//   - Level 2: exclusive, global. The quiescence point: a level-1 holder
//     that wants structural access first parks here.
//   - Level 3: exclusive, global, structural. Admitted once every level-1
//     holder is inside (or queued on) level 2, so nobody is mutating the
//     structure outside level 2's protection.
//
// # Components
//
// [LockManager] is the single entry point. Internally it keeps one mutex,
// one condition variable per level, and a [HolderTable] with the level-0
// counts and the level-1 key set. Releases wake only the waiter class that
// can now proceed: level-2 hands off to one waiter, level-1 releases nudge a
// pending structural acquirer instead of the whole level-1 crowd.
//
// # Structural sections
//
// [LockManager.AcquireLevel3] returns a [Level3Guard] with the manager's
// mutex still locked, so no acquire or release on any level can run until
// [Level3Guard.Release]. [LockManager.WithLevel3] wraps the pair around a
// function. A typical structural operation:
//
//	lm.AcquireLevel1(node)
//	lm.AcquireLevel2()
//	lm.WithLevel3(func() { resize() })
//	lm.ReleaseLevel2()
//	lm.ReleaseLevel1(node)
//
// # Invariants
//
//   - At most one goroutine holds level 2.
//   - A key has at most one level-1 holder.
//   - While level 3 is pending or held, no level-0 or level-1 acquisition
//     is admitted.
//   - Level 3 is held only when the number of level-1 keys does not exceed
//     the number of goroutines inside level 2.
//   - Level-0 counts never go negative.
//
// Acquisitions never time out. Breaking the release contract (releasing a
// level-1 key that is not held, for instance) panics with a contract
// violation from package error.
package lock
