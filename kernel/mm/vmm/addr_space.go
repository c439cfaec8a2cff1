package vmm

import (
	"ngos/kernel"
	"ngos/kernel/mm"
	"ngos/kernel/sync"
)

var (
	// kernelSpace partitions the kernel region for long-lived kernel
	// metadata (frame allocator state, heap arena).
	kernelSpace = AddressSpace{region: kernelRegion}

	userRegion = mm.PageRange{
		Start: mm.Page(userRegionStart >> mm.PageShift),
		End:   mm.Page((userRegionStart + userRegionLength) >> mm.PageShift),
	}

	kernelRegion = mm.PageRange{
		Start: mm.Page(kernelRegionStart >> mm.PageShift),
		End:   mm.Page((kernelRegionStart + kernelRegionLength) >> mm.PageShift),
	}

	errKernelRegionExhausted = &kernel.Error{Module: "vmm", Message: "kernel virtual region exhausted"}
)

// UserRegion returns the virtual page range reserved for user-space. It is
// not populated by the kernel.
func UserRegion() mm.PageRange {
	return userRegion
}

// KernelRegion returns the virtual page range owned by the kernel. Only faults
// inside this range are served by the demand-paging handler.
func KernelRegion() mm.PageRange {
	return kernelRegion
}

// AddressSpace hands out contiguous, never-reused page ranges from a virtual
// region using a bump cursor. Reservations only claim virtual addresses;
// physical backing is installed separately, either explicitly by the caller
// or lazily by the page fault handler.
type AddressSpace struct {
	region mm.PageRange

	// lock guards kernelPagesUsed. Reservations happen during orderly
	// kernel execution and never from interrupt handlers.
	lock            sync.Mutex
	kernelPagesUsed uintptr
}

// ReserveKernelPages bump-allocates pageCount contiguous pages and returns
// them. A zero pageCount yields an empty range at the cursor. Running out of
// kernel virtual space is a fatal configuration error and causes a panic.
func (as *AddressSpace) ReserveKernelPages(pageCount uintptr) mm.PageRange {
	as.lock.Acquire()
	defer as.lock.Release()

	if pageCount > as.region.Count()-as.kernelPagesUsed {
		panic(errKernelRegionExhausted)
	}

	start := as.region.Start + mm.Page(as.kernelPagesUsed)
	as.kernelPagesUsed += pageCount

	return mm.PageRange{Start: start, End: start + mm.Page(pageCount)}
}

// KernelPagesReserved returns the number of pages handed out so far.
func (as *AddressSpace) KernelPagesReserved() uintptr {
	as.lock.Acquire()
	defer as.lock.Release()

	return as.kernelPagesUsed
}

// ReserveKernelPages reserves pageCount pages from the kernel region.
func ReserveKernelPages(pageCount uintptr) mm.PageRange {
	return kernelSpace.ReserveKernelPages(pageCount)
}

// KernelPagesReserved returns the number of kernel region pages reserved so
// far.
func KernelPagesReserved() uintptr {
	return kernelSpace.KernelPagesReserved()
}
