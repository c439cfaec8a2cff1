// Package gate keeps the table of Go-level interrupt handlers and routes
// incoming CPU exceptions to them. Installing the IDT and the assembly entry
// stubs that build a Registers snapshot is done by the boot code; the stubs
// call Dispatch.
package gate

import (
	"ngos/kernel"
	"ngos/kernel/irq"
)

// InterruptNumber identifies an x86 exception or interrupt vector.
type InterruptNumber uint8

const (
	// GPFException is the general protection fault.
	GPFException = InterruptNumber(13)

	// PageFaultException is raised for non-present pages and for
	// privilege or write-protection violations. The faulting address is
	// latched in CR2 and the error code is stored in Registers.Info.
	PageFaultException = InterruptNumber(14)

	vectorCount = 256
)

// Handler is a Go-level interrupt handler.
type Handler func(*Registers)

type handlerEntry struct {
	handler   Handler
	istOffset uint8
}

var (
	handlers [vectorCount]handlerEntry

	errUnhandledInterrupt = &kernel.Error{Module: "gate", Message: "no handler registered for interrupt"}
)

// HandleInterrupt ensures that handler is invoked when the intNumber vector
// fires. The istOffset argument selects the interrupt stack table slot the
// entry stub should switch to (0 means the current stack is used).
// Registering a nil handler removes any previously installed one.
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler Handler) {
	handlers[intNumber] = handlerEntry{handler: handler, istOffset: istOffset}
}

// IstOffset returns the interrupt stack table slot requested for intNumber.
func IstOffset(intNumber InterruptNumber) uint8 {
	return handlers[intNumber].istOffset
}

// Dispatch runs the handler registered for intNumber. The interrupt-context
// flag is raised for the duration of the handler and restored on every exit
// path, including a panic raised by the handler itself.
func Dispatch(intNumber InterruptNumber, regs *Registers) {
	defer irq.Enter().Leave()

	entry := handlers[intNumber]
	if entry.handler == nil {
		panic(errUnhandledInterrupt)
	}

	entry.handler(regs)
}
