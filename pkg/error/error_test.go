package error

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := NewContractViolation("LEVEL1_NOT_HELD", "release of a key not held at level 1", "ReleaseLevel1", 1, 7)
	want := "[LEVEL1_NOT_HELD] release of a key not held at level 1 (operation: ReleaseLevel1, component: LockManager, level: 1, key: 7)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q\nwant %q", got, want)
	}

	global := New(ErrCategoryLiveness, "ACQUIRE_STALLED", "worker 2 blocked").WithDetail("State: level3_in_use=1")
	global.Operation = "AcquireLevel2"
	global.Level = 2
	want = "[ACQUIRE_STALLED] worker 2 blocked: State: level3_in_use=1 (operation: AcquireLevel2, level: 2)"
	if got := global.Error(); got != want {
		t.Errorf("Error() = %q\nwant %q", got, want)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "X", "op", "c") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	wrapped := Wrap(io.ErrUnexpectedEOF, "CONFIG_READ_FAILED", "Load", "config")
	if !errors.Is(wrapped, io.ErrUnexpectedEOF) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if wrapped.Category != ErrCategorySystem || wrapped.Level != -1 {
		t.Errorf("category=%v level=%d", wrapped.Category, wrapped.Level)
	}
	if !strings.HasSuffix(wrapped.Error(), "caused by: unexpected EOF") {
		t.Errorf("Error() = %q", wrapped.Error())
	}

	inner := New(ErrCategoryConfig, "INVALID_KEYS", "keys must be positive")
	outer := Wrap(fmt.Errorf("loading: %w", inner), "IGNORED", "Run", "harness")
	if outer != inner {
		t.Fatal("wrapping a LockError should return the existing error")
	}
	if outer.Code != "INVALID_KEYS" || outer.Operation != "Run" || outer.Component != "harness" {
		t.Errorf("code=%s op=%s component=%s", outer.Code, outer.Operation, outer.Component)
	}
}

func TestIsContractViolation(t *testing.T) {
	contract := NewContractViolation("LEVEL0_NEVER_ACQUIRED", "m", "ReleaseLevel0", 0, 1)
	if !IsContractViolation(contract) {
		t.Error("contract violation not recognised")
	}
	if !IsContractViolation(fmt.Errorf("wrapped: %w", contract)) {
		t.Error("wrapped contract violation not recognised")
	}
	if IsContractViolation(New(ErrCategoryLiveness, "ACQUIRE_STALLED", "m")) {
		t.Error("liveness error reported as contract violation")
	}
	if IsContractViolation("not an error") {
		t.Error("string panic value reported as contract violation")
	}
}

func TestFormatStack(t *testing.T) {
	err := New(ErrCategoryInvariant, "LEVEL2_SHARED", "m")
	if len(err.Stack) == 0 {
		t.Fatal("stack not captured")
	}
	if !strings.HasPrefix(err.FormatStack(), "Stack trace:\n") {
		t.Errorf("FormatStack() = %q", err.FormatStack())
	}
	if (&LockError{}).FormatStack() != "" {
		t.Error("empty stack should format to empty string")
	}
}

func TestCategoryString(t *testing.T) {
	cases := map[ErrorCategory]string{
		ErrCategoryContract:  "contract",
		ErrCategoryLiveness:  "liveness",
		ErrCategoryInvariant: "invariant",
		ErrCategoryConfig:    "config",
		ErrCategorySystem:    "system",
		ErrorCategory(42):    "category(42)",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(c), got, want)
		}
	}
}
