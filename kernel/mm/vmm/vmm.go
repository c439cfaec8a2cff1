// Package vmm manages the kernel's virtual address space: the user/kernel
// region partition, the active page table and the demand-paging fault
// handler that backs kernel-region pages on first access.
package vmm

import (
	"ngos/kernel"
	"ngos/kernel/cpu"
	"ngos/kernel/gate"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	readCR2Fn         = cpu.ReadCR2
	activePDTFn       = cpu.ActivePDT
	flushTLBEntryFn   = cpu.FlushTLBEntry
	handleInterruptFn = gate.HandleInterrupt

	// kernelPageTable wraps the page table that was active when Init ran.
	kernelPageTable PageTable
)

// Init adopts the currently active page table as the kernel page table and
// installs the paging-related exception handlers. The translator describes
// the linear mapping of physical memory set up by the boot code.
func Init(trans mm.Translator) {
	kernelPageTable.Init(mm.FrameFromAddress(activePDTFn()), trans)
	installFaultHandlers()

	kfmt.Printf("[vmm] kernel page table at 0x%x, physical memory mapped at 0x%x\n",
		kernelPageTable.Root().Address(), trans.Offset())
}

// KernelPageTable returns the page table adopted by Init.
func KernelPageTable() *PageTable {
	return &kernelPageTable
}

// Map establishes a mapping between page and frame in the kernel page table,
// allocating any missing intermediate tables with allocFn.
func Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, allocFn mm.FrameAllocatorFn) *kernel.Error {
	return kernelPageTable.Map(page, frame, flags, allocFn)
}

// Translate returns the physical address that corresponds to the supplied
// virtual address in the kernel page table.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	return kernelPageTable.Translate(virtAddr)
}
