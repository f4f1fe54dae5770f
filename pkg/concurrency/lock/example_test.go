package lock_test

import (
	"io"
	"os"

	"locklevels/pkg/concurrency/lock"
	"locklevels/pkg/logging"
)

func newManager() *lock.LockManager {
	return lock.NewLockManagerWithConfig(lock.Config{
		Logger: logging.NewLogger(io.Discard, logging.Config{}),
	})
}

func ExampleLockManager_PrintState() {
	lm := newManager()
	lm.AcquireLevel0(3)
	lm.AcquireLevel0(3)
	lm.AcquireLevel0(1)
	lm.ReleaseLevel0(1)
	lm.AcquireLevel1(7)
	lm.AcquireLevel2()

	_ = lm.PrintState(os.Stdout)
	// Output:
	// State: level3_in_use=0 n_level2=1 level1_holders: [7 ]
	// level0_holders:[1:0, 3:2, ]
}

func ExampleLockManager_WithLevel3() {
	lm := newManager()

	lm.AcquireLevel1(7)
	lm.AcquireLevel2()
	lm.WithLevel3(func() {
		// The structure may be reorganised here; every other level-1
		// holder is parked at level 2.
	})
	lm.ReleaseLevel2()
	lm.ReleaseLevel1(7)

	_ = lm.PrintState(os.Stdout)
	// Output:
	// State: level3_in_use=0 n_level2=0 level1_holders: []
	// level0_holders:[]
}
