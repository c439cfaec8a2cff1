package pmm

import (
	"ngos/kernel"
	"ngos/kernel/mm"
	"ngos/kernel/mm/vmm"
)

type allocatorState uint8

const (
	// stateBootstrap hands out frames straight from the usable ranges.
	stateBootstrap allocatorState = iota

	// stateSteady delegates to the buddy structure.
	stateSteady
)

var (
	// ErrOutOfMemory is returned when no free frames remain.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of physical memory"}

	errUnsupportedOrder   = &kernel.Error{Module: "pmm", Message: "only order-0 allocations are supported"}
	errDeallocBeforeSetup = &kernel.Error{Module: "pmm", Message: "frame freed before the allocator was set up"}
	errAlreadySetUp       = &kernel.Error{Module: "pmm", Message: "allocator has already been set up"}
	errInvalidState       = &kernel.Error{Module: "pmm", Message: "allocator in invalid state"}

	// The following functions are used by tests to mock calls to the vmm
	// package and are automatically inlined by the compiler.
	reserveKernelPagesFn = vmm.ReserveKernelPages
	mapFn                = vmm.Map

	// setupTarget is the allocator whose buddy structure is being built.
	// earlyAllocFrame serves page table frames from it.
	setupTarget *FrameAllocator
)

// FrameAllocator manages physical frames. It starts in bootstrap mode, where
// frames are carved from the tail of the usable memory ranges, and switches to
// the buddy structure once setupBuddy has run.
type FrameAllocator struct {
	state  allocatorState
	ranges usableRanges
	buddy  buddy
}

// Alloc reserves a frame of the supplied order. Only order 0 (a single
// 4 KiB frame) is supported; any other order is a programming error.
// ErrOutOfMemory is returned once physical memory is exhausted.
func (alloc *FrameAllocator) Alloc(order uint8) (mm.Frame, *kernel.Error) {
	if order != 0 {
		panic(errUnsupportedOrder)
	}

	switch alloc.state {
	case stateBootstrap:
		return alloc.bootstrapAlloc()
	case stateSteady:
		return alloc.buddy.alloc()
	default:
		panic(errInvalidState)
	}
}

// Dealloc returns a frame obtained from Alloc. Freeing frames before the
// buddy structure is set up or freeing a frame twice is a programming error.
func (alloc *FrameAllocator) Dealloc(order uint8, frame mm.Frame) {
	if order != 0 {
		panic(errUnsupportedOrder)
	}

	switch alloc.state {
	case stateBootstrap:
		panic(errDeallocBeforeSetup)
	case stateSteady:
		alloc.buddy.dealloc(frame)
	default:
		panic(errInvalidState)
	}
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *FrameAllocator) FreeFrames() uint64 {
	if alloc.state == stateSteady {
		return alloc.buddy.freeCount
	}
	return alloc.ranges.totalFrames()
}

func (alloc *FrameAllocator) bootstrapAlloc() (mm.Frame, *kernel.Error) {
	if frame, ok := alloc.ranges.popFrame(); ok {
		return frame, nil
	}
	return mm.InvalidFrame, ErrOutOfMemory
}

// setupBuddy builds the buddy structure and switches to steady mode. The
// structure is stored in kernel pages reserved from the vmm package; every
// storage page and any page table needed to map it is backed by a frame
// taken in bootstrap mode. The bitmap is seeded from the ranges as they are
// after those frames were taken.
func (alloc *FrameAllocator) setupBuddy(trans mm.Translator) *kernel.Error {
	if alloc.state != stateBootstrap {
		return errAlreadySetUp
	}

	frameCount := uint64(alloc.ranges.highestFrame())
	storageBytes := storageWords(frameCount) << mm.PointerShift
	pageCount := uintptr((storageBytes + uint64(mm.PageSize-1)) >> mm.PageShift)
	pages := reserveKernelPagesFn(pageCount)

	// Frames taken below for storage and page tables stay owned by the
	// allocator and may be freed later.
	owned := alloc.ranges

	setupTarget = alloc
	defer func() { setupTarget = nil }()

	for page := pages.Start; page < pages.End; page++ {
		frame, err := alloc.bootstrapAlloc()
		if err != nil {
			return err
		}

		if err = mapFn(page, frame, vmm.FlagPresent|vmm.FlagRW, earlyAllocFrame); err != nil {
			return err
		}
	}

	alloc.buddy.init(trans, pages.Start.Address(), frameCount, alloc.ranges.list(), &owned)
	alloc.state = stateSteady
	return nil
}

// earlyAllocFrame is passed to vmm.Map while the buddy structure is being set
// up. A method value here would escape to the heap.
func earlyAllocFrame() (mm.Frame, *kernel.Error) {
	return setupTarget.bootstrapAlloc()
}
