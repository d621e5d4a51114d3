package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidInput marks malformed input (empty URI, negative duration,
// unknown source). It is returned before any I/O happens.
var ErrInvalidInput = errors.New("invalid input")

// WriteError is the named error kind for failed mutations (disk full,
// corruption, lock timeout). The store returns it from every mutating call
// and the caller decides whether to log-and-ignore or propagate.
type WriteError struct {
	// Op names the mutation that failed, e.g. "record impression".
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// IsWriteError reports whether err is or wraps a WriteError.
func IsWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
