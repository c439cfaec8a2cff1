// Package irq tracks whether the CPU is currently executing an interrupt or
// exception handler and provides save/restore helpers for the CPU's
// interrupt-enable flag. Locks consult this package to pick the correct
// locking discipline.
package irq

import "sync/atomic"

// inContext is non-zero for the dynamic extent of an interrupt handler.
var inContext uint32

// ContextGuard is returned by Enter and restores the previous interrupt
// context state when Leave is called. Handlers use it as:
//
//	defer irq.Enter().Leave()
type ContextGuard struct {
	prev uint32
}

// Enter flags the current execution context as an interrupt handler.
func Enter() ContextGuard {
	return ContextGuard{prev: atomic.SwapUint32(&inContext, 1)}
}

// Leave restores the interrupt context flag to the value it had when the
// guard was obtained.
func (g ContextGuard) Leave() {
	atomic.StoreUint32(&inContext, g.prev)
}

// InContext returns true if the caller runs inside an interrupt or exception
// handler.
func InContext() bool {
	return atomic.LoadUint32(&inContext) != 0
}
