// Package pmm implements the physical frame allocator.
package pmm

import (
	"ngos/kernel"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
	"ngos/kernel/sync"
	"ngos/multiboot"
)

var (
	// frameAllocator is the system-wide allocator set up by Init.
	frameAllocator FrameAllocator

	// allocatorLock guards frameAllocator. Init switches it to the
	// InterruptSafe policy since the page fault handler allocates frames.
	allocatorLock sync.Mutex

	// visitMemRegionsFn is used by tests to provide a memory map.
	visitMemRegionsFn = multiboot.VisitMemRegions
)

// Init collects the usable regions from the boot loader memory map, builds
// the allocator state and registers AllocFrame as the system frame
// allocator.
func Init(trans mm.Translator) *kernel.Error {
	frameAllocator = FrameAllocator{}
	allocatorLock = sync.NewMutex(sync.InterruptSafe)
	collectUsableRanges(&frameAllocator.ranges)
	printMemoryMap()

	if err := frameAllocator.setupBuddy(trans); err != nil {
		return err
	}

	mm.SetFrameAllocator(AllocFrame)

	kfmt.Printf("[pmm] tracking %d frames, %d free\n", frameAllocator.buddy.frameCount, frameAllocator.FreeFrames())
	return nil
}

// AllocFrame allocates a single physical frame.
func AllocFrame() (mm.Frame, *kernel.Error) {
	allocatorLock.Acquire()
	defer allocatorLock.Release()

	return frameAllocator.Alloc(0)
}

// FreeFrame returns a frame obtained from AllocFrame.
func FreeFrame(frame mm.Frame) {
	allocatorLock.Acquire()
	defer allocatorLock.Release()

	frameAllocator.Dealloc(0, frame)
}

// FreeFrames returns the number of frames that can still be allocated.
func FreeFrames() uint64 {
	allocatorLock.Acquire()
	defer allocatorLock.Release()

	return frameAllocator.FreeFrames()
}

func collectUsableRanges(ranges *usableRanges) {
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type == multiboot.MemAvailable {
			ranges.add(frameRangeFromRegion(region))
		}
		return true
	})
}

// printMemoryMap prints the system memory map reported by the boot loader.
func printMemoryMap() {
	kfmt.Printf("[pmm] system memory map:\n")
	var totalFree uint64
	visitMemRegionsFn(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())

		if region.Type == multiboot.MemAvailable {
			totalFree += region.Length
		}
		return true
	})
	kfmt.Printf("[pmm] available memory: %dKb\n", totalFree/1024)
}
