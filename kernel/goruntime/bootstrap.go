// Package goruntime routes the memory requests of the Go runtime allocator
// into the kernel. The functions in this package replace their runtime
// counterparts via go:redirect-from; the redirect table is populated by
// tools/redirects after the kernel image is linked.
package goruntime

import (
	"ngos/kernel"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
	"ngos/kernel/mm/heap"
	"ngos/kernel/mm/vmm"
	"unsafe"
)

var (
	// The following functions are mocked by tests and are automatically
	// inlined by the compiler.
	reserveKernelPagesFn = vmm.ReserveKernelPages
	kernelRegionFn       = vmm.KernelRegion
	heapAllocFn          = heap.Alloc
	heapFreeFn           = heap.Free
	heapContainsFn       = heap.Contains
	heapUsageFn          = heap.Usage

	// allocEnabled is set by Init once the kernel heap can serve sysAlloc.
	allocEnabled bool

	errMapOutsideKernel = &kernel.Error{Module: "goruntime", Message: "sysMap called with an address outside the kernel region"}
)

// sysReserve reserves address space without allocating any memory or
// establishing any page mappings. The pages come from the kernel region so
// the first access to each one is served by the demand-paging handler.
//
// This function replaces runtime.sysReserve.
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	pages := reserveKernelPagesFn(pageCount(size))
	return unsafe.Pointer(pages.Start.Address())
}

// sysMap commits a region previously returned by sysReserve. Kernel region
// pages are backed on first access so no mapping is installed here.
//
// This function replaces runtime.sysMap.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, size uintptr, sysStat *uint64) {
	if size == 0 {
		return
	}

	if !kernelRegionFn().ContainsAddress(uintptr(virtAddr)) {
		panic(errMapOutsideKernel)
	}

	statAdd(sysStat, pageCount(size)<<mm.PageShift)
}

// sysAlloc returns a zeroed, page-aligned block of at least size bytes carved
// from the kernel heap or nil if the heap cannot satisfy the request.
//
// This function replaces runtime.sysAlloc.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(size uintptr, sysStat *uint64) unsafe.Pointer {
	if !allocEnabled || size == 0 {
		return nil
	}

	regionSize := pageCount(size) << mm.PageShift
	addr := heapAllocFn(regionSize, mm.PageSize)
	if addr == 0 {
		return nil
	}

	statAdd(sysStat, regionSize)
	return unsafe.Pointer(addr)
}

// sysFree releases memory obtained from sysAlloc back to the kernel heap.
// Reserved regions outside the heap are never reused and are left alone.
//
// This function replaces runtime.sysFree.
//
//go:redirect-from runtime.sysFree
//go:nosplit
func sysFree(virtAddr unsafe.Pointer, size uintptr, sysStat *uint64) {
	addr := uintptr(virtAddr)
	if size == 0 || !heapContainsFn(addr) {
		return
	}

	regionSize := pageCount(size) << mm.PageShift
	heapFreeFn(addr, regionSize)
	statAdd(sysStat, -regionSize)
}

func pageCount(size uintptr) uintptr {
	return (size + mm.PageSize - 1) >> mm.PageShift
}

func statAdd(sysStat *uint64, delta uintptr) {
	if sysStat != nil {
		*sysStat += uint64(delta)
	}
}

// Init enables the runtime allocation hooks. It must be invoked after the
// kernel heap has been set up; sysAlloc requests made earlier fail.
func Init() {
	allocEnabled = true

	inUse, claimed := heapUsageFn()
	kfmt.Printf("[goruntime] runtime allocations served by the kernel heap (in use: %d bytes, claimed: %d bytes)\n", inUse, claimed)
}

func init() {
	// Dummy calls so the linker does not discard the redirect targets.
	var stat uint64

	sysReserve(nil, 0)
	sysMap(nil, 0, &stat)
	sysAlloc(0, &stat)
	sysFree(nil, 0, &stat)
}
