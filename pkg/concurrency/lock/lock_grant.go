package lock

// Admission predicates. Each is evaluated with lm.mu held, both before the
// first wait and again on every wakeup.

// canGrantLevel0 admits a shared holder unless a structural section is
// pending or the key is held exclusively.
func (lm *LockManager) canGrantLevel0(key int) bool {
	return !lm.level3InUse() && !lm.holders.IsExclusive(key)
}

// canGrantLevel1 admits an exclusive holder only when nobody holds the key
// at level 0 or level 1 and no structural section is pending.
func (lm *LockManager) canGrantLevel1(key int) bool {
	if lm.level3InUse() || lm.holders.IsExclusive(key) {
		return false
	}
	count, _ := lm.holders.SharedCount(key)
	return count == 0
}

func (lm *LockManager) canGrantLevel2() bool {
	return !lm.level2InUse
}

// quiesced reports whether every level-1 holder is accounted for by a
// goroutine inside AcquireLevel2 or holding level 2.
func (lm *LockManager) quiesced() bool {
	return lm.holders.ExclusiveCount() <= lm.level2Attempts
}
