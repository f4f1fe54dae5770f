package lock

import "testing"

func TestCanGrantLevel0(t *testing.T) {
	lm := newTestManager()

	if !lm.canGrantLevel0(1) {
		t.Error("Should grant level0 on a free key")
	}

	lm.holders.AddShared(1)
	if !lm.canGrantLevel0(1) {
		t.Error("Should grant level0 alongside another level0 holder")
	}

	lm.holders.AddExclusive(2)
	if lm.canGrantLevel0(2) {
		t.Error("Should not grant level0 on a key held at level1")
	}

	lm.level3Pending = 1
	if lm.canGrantLevel0(3) {
		t.Error("Should not grant level0 while level3 is pending")
	}
}

func TestCanGrantLevel1(t *testing.T) {
	lm := newTestManager()

	if !lm.canGrantLevel1(1) {
		t.Error("Should grant level1 on a free key")
	}

	lm.holders.AddShared(1)
	if lm.canGrantLevel1(1) {
		t.Error("Should not grant level1 while level0 is held")
	}

	lm.holders.ReleaseShared(1)
	if !lm.canGrantLevel1(1) {
		t.Error("Should grant level1 once the level0 count is back to zero")
	}

	lm.holders.AddExclusive(1)
	if lm.canGrantLevel1(1) {
		t.Error("Should not grant a second level1 holder")
	}
	if !lm.canGrantLevel1(2) {
		t.Error("Level1 on another key should be grantable")
	}

	lm.level3Pending = 1
	if lm.canGrantLevel1(2) {
		t.Error("Should not grant level1 while level3 is pending")
	}
}

func TestCanGrantLevel2(t *testing.T) {
	lm := newTestManager()

	if !lm.canGrantLevel2() {
		t.Error("Should grant free level2")
	}
	lm.level2InUse = true
	if lm.canGrantLevel2() {
		t.Error("Should not grant held level2")
	}
}

func TestQuiesced(t *testing.T) {
	lm := newTestManager()

	if !lm.quiesced() {
		t.Error("No level1 holders means quiesced")
	}

	lm.holders.AddExclusive(1)
	lm.holders.AddExclusive(2)
	lm.level2Attempts = 1
	if lm.quiesced() {
		t.Error("Two level1 holders with one level2 attempt is not quiesced")
	}

	lm.level2Attempts = 2
	if !lm.quiesced() {
		t.Error("Every level1 holder is parked in level2")
	}
}
