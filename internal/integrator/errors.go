package integrator

import "errors"

// ErrSourceMissing is returned when the move source does not exist.
var ErrSourceMissing = errors.New("integrator: source missing")
