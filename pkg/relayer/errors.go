package relayer

import "fmt"

// RetryableError wraps an Operation that failed on a transient storage
// fault. It carries the original operation value verbatim — including any
// oneshot reply channels it owns — so the supervisor can re-apply it
// unchanged once the storage session has been rebuilt.
type RetryableError struct {
	Op    Operation
	Cause error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("operation failed, will retry after reconnect: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}
