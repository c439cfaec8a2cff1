// Package cpu exposes the privileged amd64 instructions used by the memory
// core. All functions without a body are implemented in cpu_amd64.s and fault
// when executed outside ring 0, so callers keep them behind function variables
// that tests can replace.
package cpu

const (
	// rflagsIF is the interrupt-enable bit of the RFLAGS register.
	rflagsIF = uint64(1 << 9)
)

var (
	readRFlagsFn = readRFlags
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// InterruptsEnabled returns true if the interrupt-enable flag of the current
// CPU is set.
func InterruptsEnabled() bool {
	return readRFlagsFn()&rflagsIF != 0
}

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// readRFlags returns the contents of the RFLAGS register.
func readRFlags() uint64
