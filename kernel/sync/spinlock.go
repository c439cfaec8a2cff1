// Package sync provides the spinlock and the interrupt-aware mutex used to
// protect memory-management state that is shared between regular kernel code
// and interrupt handlers.
package sync

import "sync/atomic"

const (
	// spinAttemptsBeforeYield is the number of failed acquisition attempts
	// after which Acquire invokes yieldFn (if set).
	spinAttemptsBeforeYield = 1024
)

var (
	// yieldFn is invoked while spinning. The kernel has no scheduler so it
	// stays nil; tests install runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for attempts := uint32(1); !atomic.CompareAndSwapUint32(&l.state, 0, 1); attempts++ {
		if attempts%spinAttemptsBeforeYield == 0 && yieldFn != nil {
			yieldFn()
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
