package ledger

import "errors"

// ErrNotFound is returned when a lookup by id or full_path matches no row.
var ErrNotFound = errors.New("ledger: job not found")

// ErrTerminal is returned when a mutation targets a job already in a
// terminal state (done or failed).
var ErrTerminal = errors.New("ledger: job is in a terminal state")

// ErrDuplicatePath is returned by Insert when full_path already has a
// non-terminal row (see P1, the uniqueness invariant).
var ErrDuplicatePath = errors.New("ledger: full_path already tracked")
