package system

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCPU    = errors.New("invalid cpu id")
	ErrInvalidThread = errors.New("invalid thread id")
	ErrUnsupported   = errors.New("thread affinity is not supported on this platform")
)

// ThreadAffinity restricts host threads to a single CPU with
// sched_setaffinity. It keeps no state.
type ThreadAffinity struct{}

func NewThreadAffinity() ThreadAffinity {
	return ThreadAffinity{}
}

func validateTarget(tid, cpu, limit int) error {
	if tid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThread, tid)
	}
	if cpu < 0 || cpu >= limit {
		return fmt.Errorf("%w: %d (must be in 0..%d)", ErrInvalidCPU, cpu, limit-1)
	}
	return nil
}
