package lock

import "sync"

// waitUntil parks on c until ready reports true. c.L must be held by the
// caller; it is released while parked and held again on return.
func waitUntil(c *sync.Cond, ready func() bool) {
	for !ready() {
		c.Wait()
	}
}
