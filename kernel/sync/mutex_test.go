package sync

import (
	"ngos/kernel/irq"
	"testing"
)

type fakeFlags struct {
	enabled bool
}

func (f *fakeFlags) Enabled() bool { return f.enabled }
func (f *fakeFlags) Disable()      { f.enabled = false }
func (f *fakeFlags) Enable()       { f.enabled = true }

func TestForbidInterruptContextMutex(t *testing.T) {
	t.Run("normal context", func(t *testing.T) {
		var m Mutex
		if m.Policy() != ForbidInterruptContext {
			t.Fatal("expected zero value mutex to use the ForbidInterruptContext policy")
		}

		m.Acquire()
		if m.lock.TryToAcquire() {
			t.Fatal("expected underlying spinlock to be held")
		}
		m.Release()

		if !m.lock.TryToAcquire() {
			t.Fatal("expected underlying spinlock to be released")
		}
	})

	t.Run("interrupt context", func(t *testing.T) {
		var m Mutex

		defer func() {
			if err := recover(); err != errLockedFromInterruptContext {
				t.Fatalf("expected a panic with errLockedFromInterruptContext; got %v", err)
			}

			if !m.lock.TryToAcquire() {
				t.Fatal("expected the spinlock not to be taken when the policy check fails")
			}
		}()

		defer irq.Enter().Leave()
		m.Acquire()
	})
}

func TestInterruptSafeMutex(t *testing.T) {
	defer irq.SetFlagController(nil)

	specs := []struct {
		descr          string
		enabledBefore  bool
		inInterruptCtx bool
	}{
		{"interrupts enabled", true, false},
		{"interrupts disabled", false, false},
		{"from interrupt handler", false, true},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			flags := &fakeFlags{enabled: spec.enabledBefore}
			irq.SetFlagController(flags)

			if spec.inInterruptCtx {
				defer irq.Enter().Leave()
			}

			m := NewMutex(InterruptSafe)
			m.Acquire()
			if flags.enabled {
				t.Fatal("expected interrupts to be disabled while the mutex is held")
			}
			m.Release()

			if flags.enabled != spec.enabledBefore {
				t.Fatalf("expected interrupt flag to be restored to %t; got %t", spec.enabledBefore, flags.enabled)
			}
		})
	}
}

func TestInterruptSafeMutexEarlyExit(t *testing.T) {
	defer irq.SetFlagController(nil)

	flags := &fakeFlags{enabled: true}
	irq.SetFlagController(flags)
	m := NewMutex(InterruptSafe)

	earlyReturn := func(bail bool) int {
		m.Acquire()
		defer m.Release()

		if bail {
			return 1
		}
		return 2
	}

	for _, bail := range []bool{true, false} {
		earlyReturn(bail)
		if !flags.enabled {
			t.Fatalf("[bail %t] expected interrupts to be re-enabled after release", bail)
		}
	}

	func() {
		defer func() {
			if err := recover(); err == nil {
				t.Fatal("expected critical section to panic")
			}
		}()

		m.Acquire()
		defer m.Release()
		panic("critical section failed")
	}()

	if !flags.enabled {
		t.Fatal("expected interrupts to be re-enabled when the critical section unwinds")
	}

	if !m.lock.TryToAcquire() {
		t.Fatal("expected the spinlock to be released when the critical section unwinds")
	}
}
