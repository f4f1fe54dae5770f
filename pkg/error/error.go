package error

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrorCategory classifies errors by their nature and appropriate handling strategy.
type ErrorCategory int

const (
	// ErrCategoryContract represents a caller breaking the locking protocol.
	// Examples: releasing a level-1 key that is not held, releasing level 2
	// while it is free, releasing a level-3 section twice.
	// These are programming errors; the lock manager panics with them.
	ErrCategoryContract ErrorCategory = iota

	// ErrCategoryLiveness represents an acquisition that did not complete
	// within a detection window. Only test and stress tooling produces these;
	// the lock manager itself never times out.
	ErrCategoryLiveness

	// ErrCategoryInvariant represents an observed breach of a locking
	// invariant, such as two holders admitted to level 2 at once. The stress
	// harness reports these.
	ErrCategoryInvariant

	// ErrCategoryConfig represents invalid or unreadable configuration.
	ErrCategoryConfig

	// ErrCategorySystem represents errors requiring operator intervention.
	// Examples: log file cannot be opened, terminal cannot be initialised.
	ErrCategorySystem
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryContract:
		return "contract"
	case ErrCategoryLiveness:
		return "liveness"
	case ErrCategoryInvariant:
		return "invariant"
	case ErrCategoryConfig:
		return "config"
	case ErrCategorySystem:
		return "system"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// LockError represents a structured lock manager error with rich context information.
type LockError struct {
	// Code is a unique identifier for this error type (e.g., "LEVEL1_NOT_HELD", "ACQUIRE_STALLED").
	Code string

	// Category classifies the error for appropriate handling strategy.
	Category ErrorCategory

	// Message is a human-readable description of what went wrong.
	Message string

	// Detail provides additional context about the specific error instance,
	// such as a state snapshot taken when a stall was detected.
	Detail string

	// Hint suggests how the caller might fix the problem.
	Hint string

	// Operation identifies the operation being performed (e.g., "ReleaseLevel1").
	Operation string

	// Component identifies where the error originated (e.g., "LockManager", "harness").
	Component string

	// Level is the lock level involved, or -1 when none applies.
	Level int

	// Key is the per-key lock involved. Only meaningful when Keyed is set.
	Key   int
	Keyed bool

	// Cause is the underlying error, if any.
	Cause error

	// Stack contains the call stack where this error was created.
	Stack []uintptr
}

// New creates a new LockError with the specified code, category, and message.
func New(category ErrorCategory, code, message string) *LockError {
	return &LockError{
		Code:     code,
		Category: category,
		Message:  message,
		Level:    -1,
		Stack:    captureStack(),
	}
}

// NewContractViolation creates the error the lock manager panics with when a
// caller breaks the locking protocol on a per-key level.
func NewContractViolation(code, message, operation string, level, key int) *LockError {
	return &LockError{
		Code:      code,
		Category:  ErrCategoryContract,
		Message:   message,
		Operation: operation,
		Component: "LockManager",
		Level:     level,
		Key:       key,
		Keyed:     true,
		Stack:     captureStack(),
	}
}

// Wrap wraps an existing error with lock-specific context information.
// If the error is already a LockError, it enriches the existing error with
// operation and component context (only if not already set).
func Wrap(err error, code, operation, component string) *LockError {
	if err == nil {
		return nil
	}

	var lockErr *LockError
	if errors.As(err, &lockErr) {
		if lockErr.Operation == "" {
			lockErr.Operation = operation
		}
		if lockErr.Component == "" {
			lockErr.Component = component
		}
		return lockErr
	}

	return &LockError{
		Code:      code,
		Category:  ErrCategorySystem,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Level:     -1,
		Cause:     err,
		Stack:     captureStack(),
	}
}

// WithDetail sets Detail and returns e for chaining.
func (e *LockError) WithDetail(detail string) *LockError {
	e.Detail = detail
	return e
}

// WithHint sets Hint and returns e for chaining.
func (e *LockError) WithHint(hint string) *LockError {
	e.Hint = hint
	return e
}

// IsContractViolation reports whether err, or any error it wraps, is a
// LockError in ErrCategoryContract. It accepts the value recovered from a
// panic as well as an ordinary error.
func IsContractViolation(v any) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	var lockErr *LockError
	return errors.As(err, &lockErr) && lockErr.Category == ErrCategoryContract
}

// captureStack captures the current call stack for debugging purposes.
// It skips the first 3 frames to exclude captureStack, the constructor, and
// the immediate caller, focusing on the actual error origin.
func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard Go error interface
//
// The format follows the pattern:
// [CODE] Message: Detail (operation: Operation, component: Component, level: L, key: K) caused by: underlying error
func (e *LockError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}

	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		if e.Level >= 0 {
			b.WriteString(fmt.Sprintf(", level: %d", e.Level))
		}
		if e.Keyed {
			b.WriteString(fmt.Sprintf(", key: %d", e.Key))
		}
		b.WriteString(")")
	}

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}

	return b.String()
}

// Unwrap returns the underlying cause error, enabling error chain traversal
// with Go's standard error handling functions like errors.Is and errors.As.
func (e *LockError) Unwrap() error {
	return e.Cause
}

// FormatStack returns a human-readable stack trace for debugging purposes.
func (e *LockError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)

	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n",
			f.Function, f.File, f.Line))
		if !more {
			break
		}
	}

	return b.String()
}
