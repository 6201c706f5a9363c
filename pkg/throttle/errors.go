package throttle

import (
	"errors"
	"os"
)

var (
	ErrInvalidConfig = errors.New("invalid rate config")
	ErrTimeout       = errors.New("throttle timeout")
)

// TimeoutError is returned by Read and Write when the configured timeout
// elapsed before the whole buffer was serviced. It satisfies net.Error.
type TimeoutError struct {
	Op string // "read" or "write"
}

func (e *TimeoutError) Error() string { return e.Op + ": " + ErrTimeout.Error() }

func (e *TimeoutError) Timeout() bool   { return true }
func (e *TimeoutError) Temporary() bool { return true }

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == os.ErrDeadlineExceeded
}
