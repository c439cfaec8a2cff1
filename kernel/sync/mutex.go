package sync

import (
	"ngos/kernel"
	"ngos/kernel/irq"
)

// Policy selects how a Mutex interacts with interrupt handlers.
type Policy uint8

const (
	// ForbidInterruptContext is used for data that must never be touched by
	// an interrupt handler. Acquiring such a mutex from interrupt context is
	// a fatal programming error.
	ForbidInterruptContext Policy = iota

	// InterruptSafe is used for data shared with interrupt handlers. The
	// mutex masks interrupts while held so a handler can never preempt the
	// holder and spin forever on the same lock.
	InterruptSafe
)

var (
	errLockedFromInterruptContext = &kernel.Error{Module: "sync", Message: "mutex may not be acquired from interrupt context"}
)

// Mutex is a spinlock combined with an interrupt-context policy. The zero
// value is an unlocked mutex using the ForbidInterruptContext policy.
//
// Callers should always pair Acquire with a deferred Release so the lock (and
// the interrupt flag) is restored on every exit path:
//
//	m.Acquire()
//	defer m.Release()
type Mutex struct {
	policy Policy
	lock   Spinlock

	// restoreInterrupts records whether interrupts were enabled when an
	// InterruptSafe mutex was acquired. It is only accessed by the holder.
	restoreInterrupts bool
}

// NewMutex returns an unlocked mutex using the supplied policy.
func NewMutex(policy Policy) Mutex {
	return Mutex{policy: policy}
}

// Policy returns the policy of this mutex.
func (m *Mutex) Policy() Policy {
	return m.policy
}

// Acquire locks the mutex according to its policy.
func (m *Mutex) Acquire() {
	switch m.policy {
	case InterruptSafe:
		wasEnabled := irq.SaveAndDisable()
		m.lock.Acquire()
		m.restoreInterrupts = wasEnabled
	default:
		if irq.InContext() {
			panic(errLockedFromInterruptContext)
		}
		m.lock.Acquire()
	}
}

// Release unlocks the mutex. For InterruptSafe mutexes the interrupt-enable
// flag is restored to the state it had before Acquire.
func (m *Mutex) Release() {
	if m.policy != InterruptSafe {
		m.lock.Release()
		return
	}

	restore := m.restoreInterrupts
	m.restoreInterrupts = false
	m.lock.Release()
	irq.Restore(restore)
}
