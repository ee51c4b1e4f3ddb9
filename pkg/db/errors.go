package db

import "fmt"

// InvariantViolationError signals storage state that the relayer's data
// model says can never legitimately occur (tampering, a corrupt schema
// assumption, an event referencing something that was never recorded).
// It is never retryable; callers should treat it as fatal.
type InvariantViolationError struct {
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: %s", e.Detail)
}

func invariantViolation(format string, args ...any) error {
	return &InvariantViolationError{Detail: fmt.Sprintf(format, args...)}
}
