// Package heap implements the kernel heap on top of a kernel-region
// reservation. The heap never maps memory itself: the first access to each
// page faults and the vmm fault handler installs a zeroed frame.
package heap

import (
	"ngos/kernel"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
	"ngos/kernel/mm/vmm"
	"ngos/kernel/sync"
	"unsafe"
)

const (
	// arenaSize is the amount of kernel virtual space reserved for the
	// heap.
	arenaSize = uintptr(1) << 36

	// blockGranularity is the smallest unit handed out. Every block is
	// large enough to hold a freeBlock header once released.
	blockGranularity = uintptr(16)
)

var (
	// kernelHeap is the heap set up by Init.
	kernelHeap Heap

	// reserveKernelPagesFn is used by tests to mock calls to the vmm
	// package and is automatically inlined by the compiler.
	reserveKernelPagesFn = vmm.ReserveKernelPages

	errInvalidAlignment = &kernel.Error{Module: "heap", Message: "alignment must be a power of two"}
	errInvalidFree      = &kernel.Error{Module: "heap", Message: "freed block lies outside the heap arena"}
)

// freeBlock is stored at the start of every released block.
type freeBlock struct {
	size uintptr
	next uintptr
}

// Heap is a first-fit allocator over a contiguous virtual arena. Released
// blocks are kept in a singly linked list threaded through the blocks; new
// space is carved from the arena with a bump cursor.
type Heap struct {
	lock sync.Mutex

	start, end uintptr
	next       uintptr
	freeList   uintptr
	inUse      uintptr
}

// Init reserves the heap arena from the kernel region and sets up the kernel
// heap.
func Init() {
	pages := reserveKernelPagesFn(arenaSize >> mm.PageShift)
	kernelHeap.Init(pages)

	kfmt.Printf("[heap] arena at 0x%x, size: %dMb\n", pages.Start.Address(), pages.Size()>>20)
}

// Alloc allocates size bytes from the kernel heap.
func Alloc(size, align uintptr) uintptr {
	return kernelHeap.Alloc(size, align)
}

// Free releases a block obtained from Alloc.
func Free(addr, size uintptr) {
	kernelHeap.Free(addr, size)
}

// Contains reports whether addr lies inside the kernel heap arena.
func Contains(addr uintptr) bool {
	return kernelHeap.Contains(addr)
}

// Usage reports the kernel heap usage. See (*Heap).Usage.
func Usage() (inUse, claimed uintptr) {
	return kernelHeap.Usage()
}

// Init sets up the heap to manage the supplied page range.
func (h *Heap) Init(pages mm.PageRange) {
	h.lock.Acquire()
	defer h.lock.Release()

	h.start = pages.Start.Address()
	h.end = h.start + pages.Size()
	h.next = h.start
	h.freeList = 0
	h.inUse = 0
}

// Alloc returns the address of a block of at least size bytes aligned to
// align (a power of two), or 0 if the heap is exhausted or size is 0.
func (h *Heap) Alloc(size, align uintptr) uintptr {
	if size == 0 {
		return 0
	}

	if align < blockGranularity {
		align = blockGranularity
	}

	if align&(align-1) != 0 {
		panic(errInvalidAlignment)
	}

	h.lock.Acquire()
	defer h.lock.Release()

	size = roundUp(size, blockGranularity)
	if addr := h.allocFromFreeList(size, align); addr != 0 {
		h.inUse += size
		return addr
	}

	addr := roundUp(h.next, align)
	if addr < h.next || addr > h.end || size > h.end-addr {
		return 0
	}

	// Keep any alignment padding reusable.
	if pad := addr - h.next; pad != 0 {
		h.pushFree(h.next, pad)
	}

	h.next = addr + size
	h.inUse += size
	return addr
}

// Free returns a block of the supplied size to the heap.
func (h *Heap) Free(addr, size uintptr) {
	if addr == 0 || size == 0 {
		return
	}

	h.lock.Acquire()
	defer h.lock.Release()

	size = roundUp(size, blockGranularity)
	if addr < h.start || addr+size > h.next {
		panic(errInvalidFree)
	}

	h.pushFree(addr, size)
	h.inUse -= size
}

// Contains reports whether addr lies inside the arena managed by h.
func (h *Heap) Contains(addr uintptr) bool {
	h.lock.Acquire()
	defer h.lock.Release()

	return addr >= h.start && addr < h.end
}

// Usage returns the number of bytes currently allocated and the number of
// bytes the bump cursor has claimed from the arena.
func (h *Heap) Usage() (inUse, claimed uintptr) {
	h.lock.Acquire()
	defer h.lock.Release()

	return h.inUse, h.next - h.start
}

func (h *Heap) pushFree(addr, size uintptr) {
	block := (*freeBlock)(unsafe.Pointer(addr))
	block.size = size
	block.next = h.freeList
	h.freeList = addr
}

// allocFromFreeList removes the first released block that is suitably
// aligned and large enough. Any tail left over stays on the list.
func (h *Heap) allocFromFreeList(size, align uintptr) uintptr {
	for prevNext, cur := &h.freeList, h.freeList; cur != 0; {
		block := (*freeBlock)(unsafe.Pointer(cur))
		if cur&(align-1) != 0 || block.size < size {
			prevNext, cur = &block.next, block.next
			continue
		}

		*prevNext = block.next
		if rem := block.size - size; rem != 0 {
			h.pushFree(cur+size, rem)
		}
		return cur
	}

	return 0
}

func roundUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
