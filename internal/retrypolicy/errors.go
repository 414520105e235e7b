package retrypolicy

import "fmt"

// StateRetryError signals that an operation's retry budget is exhausted and
// the caller should degrade the owning job's state rather than treat this as
// a permanent, unrecoverable failure. Mirrors the Python StateRetryError
// subclass-of-RetryError trick: a distinguished type the engine can catch
// with errors.As and dispatch on, separately from a plain permanent error.
type StateRetryError struct {
	Op  string
	Err error
}

func (e *StateRetryError) Error() string {
	return fmt.Sprintf("%s: state retry exhausted: %v", e.Op, e.Err)
}

func (e *StateRetryError) Unwrap() error {
	return e.Err
}
