// Package kmain contains the Go entrypoint invoked by the rt0 code.
package kmain

import (
	"ngos/kernel"
	"ngos/kernel/goruntime"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
	"ngos/kernel/mm/heap"
	"ngos/kernel/mm/pmm"
	"ngos/kernel/mm/vmm"
	"ngos/multiboot"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	vmmInitFn     = vmm.Init
	pmmInitFn     = pmm.Init
	heapInitFn    = heap.Init
	rtInitFn      = goruntime.Init
	freeFramesFn  = pmm.FreeFrames
	reservedPgsFn = vmm.KernelPagesReserved
	panicFn       = kfmt.Panic
	setInfoPtrFn  = multiboot.SetInfoPtr
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. It is invoked after the boot code has set up a stack,
// the GDT, the IDT entry stubs and a linear mapping of all physical memory
// starting at physMemOffset.
//
// The memory subsystem is brought up in dependency order: the page table is
// adopted first, then the frame allocator builds its state (mapping its own
// storage through the page table), the heap reserves its arena and finally
// the Go runtime allocator hooks are pointed at the heap.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, physMemOffset uintptr) {
	setInfoPtrFn(multibootInfoPtr)
	trans := mm.NewTranslator(physMemOffset)

	vmmInitFn(trans)
	if err := pmmInitFn(trans); err != nil {
		panicFn(err)
		return
	}
	heapInitFn()
	rtInitFn()

	kfmt.Printf("[kmain] memory subsystem ready; free frames: %d, kernel pages reserved: %d\n", freeFramesFn(), reservedPgsFn())

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
