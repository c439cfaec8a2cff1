package vmm

import "ngos/kernel/mm"

// UseKernelRegion points the kernel region and its reservation cursor at pages
// and replaces the TLB flush with a no-op so packages layered on top of vmm can
// be exercised from the vmm_test package. The returned function restores the
// previous state.
func UseKernelRegion(pages mm.PageRange) func() {
	origRegion, origSpaceRegion, origUsed := kernelRegion, kernelSpace.region, kernelSpace.kernelPagesUsed
	origFlush := flushTLBEntryFn

	kernelRegion = pages
	kernelSpace.region, kernelSpace.kernelPagesUsed = pages, 0
	flushTLBEntryFn = func(_ uintptr) {}

	return func() {
		kernelRegion = origRegion
		kernelSpace.region, kernelSpace.kernelPagesUsed = origSpaceRegion, origUsed
		flushTLBEntryFn = origFlush
	}
}
