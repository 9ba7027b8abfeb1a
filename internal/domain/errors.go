package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidErrand is the kind shared by every construction-time failure.
	ErrInvalidErrand = errors.New("invalid errand")

	ErrUnknownCategory = fmt.Errorf("%w: unknown category", ErrInvalidErrand)
	ErrInvalidSchedule = fmt.Errorf("%w: invalid cron schedule", ErrInvalidErrand)
	ErrNilFunc         = fmt.Errorf("%w: nil func", ErrInvalidErrand)
)

// ExecutionError wraps a failure raised by an errand while it was running.
// Either Err or Panic is set.
type ExecutionError struct {
	Errand   string
	Category Category
	Err      error
	Panic    any
	Stack    []byte
}

func (e *ExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("errand %s (%s) panicked: %v", e.Errand, e.Category, e.Panic)
	}
	return fmt.Sprintf("errand %s (%s) failed: %v", e.Errand, e.Category, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
