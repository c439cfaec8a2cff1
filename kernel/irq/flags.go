package irq

import "ngos/kernel/cpu"

// FlagController manipulates the interrupt-enable flag of the current CPU.
type FlagController interface {
	// Enabled returns true if interrupts are currently enabled.
	Enabled() bool

	// Disable masks interrupts.
	Disable()

	// Enable unmasks interrupts.
	Enable()
}

// cpuFlagController drives the real RFLAGS.IF bit.
type cpuFlagController struct{}

func (cpuFlagController) Enabled() bool { return cpu.InterruptsEnabled() }
func (cpuFlagController) Disable()      { cpu.DisableInterrupts() }
func (cpuFlagController) Enable()       { cpu.EnableInterrupts() }

var flagController FlagController = cpuFlagController{}

// SetFlagController replaces the controller used by SaveAndDisable and
// Restore and returns the previous one. Passing nil restores the controller
// that drives the CPU directly. It is used by tests, which cannot execute the
// privileged cli/sti instructions.
func SetFlagController(c FlagController) FlagController {
	prev := flagController
	if c == nil {
		c = cpuFlagController{}
	}
	flagController = c
	return prev
}

// SaveAndDisable disables interrupts if they are enabled and reports whether
// they were enabled before the call.
func SaveAndDisable() bool {
	enabled := flagController.Enabled()
	if enabled {
		flagController.Disable()
	}
	return enabled
}

// Restore re-enables interrupts if wasEnabled is true. It is the counterpart
// of SaveAndDisable.
func Restore(wasEnabled bool) {
	if wasEnabled {
		flagController.Enable()
	}
}
