package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrDuplicatePosition = errors.New("domain: position already exists for mint")
	ErrPositionTerminal  = errors.New("domain: position already terminal")
	ErrLockHeld          = errors.New("domain: lock held by another instance")
	ErrStalePrice        = errors.New("domain: price too stale")
	ErrRateLimited       = errors.New("domain: rate limit exceeded")
	ErrShuttingDown      = errors.New("domain: engine is shutting down")
)

// TransientError wraps a failure that is expected to resolve on retry, such
// as a feed timeout or a dropped connection. Monitoring rounds log these and
// carry on; they never abort the process.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError reports malformed or inconsistent input, such as a signal
// with a stop above its entry. The offending work item is dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ExecutionError reports a venue-side rejection or settlement failure. The
// attempt is recorded as a FailedTrade and the position, if any, is left
// untouched.
type ExecutionError struct {
	Mint   string
	Side   TradeSide
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("execution: %s %s: %s: %v", e.Side, e.Mint, e.Reason, e.Err)
	}
	return fmt.Sprintf("execution: %s %s: %s", e.Side, e.Mint, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// FatalError marks a condition the process cannot run without, such as a
// missing signing key or an unreachable database at startup. Callers
// propagate it up to main, which exits.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err is tagged transient anywhere in its chain.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is tagged fatal anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
