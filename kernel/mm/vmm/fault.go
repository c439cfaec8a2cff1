package vmm

import (
	"ngos/kernel"
	"ngos/kernel/gate"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
)

// Page fault error code bits pushed by the CPU.
const (
	faultProtectionViolation = 1 << 0
	faultWrite               = 1 << 1
	faultUserMode            = 1 << 2
	faultReservedBit         = 1 << 3
	faultInstructionFetch    = 1 << 4
)

var (
	errUserModeFault       = &kernel.Error{Module: "vmm", Message: "page faults in user-mode are not supported"}
	errFaultOutsideKernel  = &kernel.Error{Module: "vmm", Message: "page fault outside the kernel region"}
	errPageProtectionFault = &kernel.Error{Module: "vmm", Message: "page protection violation"}
	errUnrecoverableFault  = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

func installFaultHandlers() {
	handleInterruptFn(gate.PageFaultException, 0, pageFaultHandler)
	handleInterruptFn(gate.GPFException, 0, generalProtectionFaultHandler)
}

// HandlePageFault serves a page fault at faultAddress using the kernel page
// table. Faults on unmapped kernel-region pages are resolved by backing the
// page with a freshly allocated, zeroed frame. Any other fault is fatal.
func HandlePageFault(faultAddress uintptr, errorCode uint64) {
	if err := kernelPageTable.handleFault(faultAddress, errorCode); err != nil {
		nonRecoverablePageFault(faultAddress, errorCode, nil, err)
	}
}

// pageFaultHandler is invoked by the gate package when a PDT or PDT-entry is
// not present or when a RW protection check fails.
func pageFaultHandler(regs *gate.Registers) {
	faultAddress := uintptr(readCR2Fn())
	if err := kernelPageTable.handleFault(faultAddress, regs.Info); err != nil {
		nonRecoverablePageFault(faultAddress, regs.Info, regs, err)
	}
}

// handleFault installs the demand mapping for faultAddress. The page table
// lock is held while the frame allocator is consulted; the allocator lock is
// always taken second.
func (pt *PageTable) handleFault(faultAddress uintptr, errorCode uint64) *kernel.Error {
	if errorCode&faultUserMode != 0 {
		return errUserModeFault
	}

	faultPage := mm.PageFromAddress(faultAddress)
	if !KernelRegion().Contains(faultPage) {
		return errFaultOutsideKernel
	}

	pt.lock.Acquire()
	defer pt.lock.Release()

	if _, err := pt.translate(faultPage.Address()); err == nil {
		// Kernel region pages are always mapped RW so a protection fault
		// on a present page cannot be fixed by remapping it.
		if errorCode&faultProtectionViolation != 0 {
			return errPageProtectionFault
		}

		// Stale TLB entry; the page was mapped after the access started.
		flushTLBEntryFn(faultPage.Address())
		return nil
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		return err
	}

	kernel.Memset(pt.trans.FrameAddress(frame), 0, mm.PageSize)
	return pt.mapPage(faultPage, frame, FlagPresent|FlagRW, mm.AllocFrame)
}

// generalProtectionFaultHandler is invoked for various reasons:
// - segment errors (privilege, type or limit violations)
// - executing privileged instructions outside ring-0
// - attempts to access reserved or unimplemented CPU registers
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.DumpTo(kfmt.GetOutputSink())

	panic(errUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, errorCode uint64, regs *gate.Registers, err *kernel.Error) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode&faultReservedBit != 0:
		kfmt.Printf("page table has reserved bit set")
	case errorCode&faultInstructionFetch != 0:
		kfmt.Printf("instruction fetch")
	case errorCode&faultUserMode != 0:
		kfmt.Printf("page-fault in user-mode")
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == faultProtectionViolation:
		kfmt.Printf("page protection violation (read)")
	case errorCode == faultWrite:
		kfmt.Printf("write to non-present page")
	case errorCode == faultProtectionViolation|faultWrite:
		kfmt.Printf("page protection violation (write)")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\nCause: [%s] %s", err.Module, err.Message)

	if regs != nil {
		kfmt.Printf("\n\nRegisters:\n")
		regs.DumpTo(kfmt.GetOutputSink())
	} else {
		kfmt.Printf("\n")
	}

	panic(err)
}
