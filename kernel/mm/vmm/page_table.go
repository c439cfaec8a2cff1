package vmm

import (
	"ngos/kernel"
	"ngos/kernel/mm"
	"ngos/kernel/sync"
	"unsafe"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// PageTable provides access to a 4-level amd64 page table. All paging
// structures are dereferenced through the linear physical memory mapping
// described by the table's translator.
//
// The page fault handler modifies the table from interrupt context, so every
// access is guarded by an interrupt-safe mutex.
type PageTable struct {
	root  mm.Frame
	trans mm.Translator
	lock  sync.Mutex
}

// Init sets up the table to operate on the P4 table stored in root.
func (pt *PageTable) Init(root mm.Frame, trans mm.Translator) {
	pt.root = root
	pt.trans = trans
	pt.lock = sync.NewMutex(sync.InterruptSafe)
}

// Root returns the frame holding the top-level (P4) table.
func (pt *PageTable) Root() mm.Frame {
	return pt.root
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments. If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// entry returns a pointer to the index-th entry of the table stored in
// tableFrame.
func (pt *PageTable) entry(tableFrame mm.Frame, index uintptr) *pageTableEntry {
	return (*pageTableEntry)(unsafe.Pointer(pt.trans.FrameAddress(tableFrame) + (index << mm.PointerShift)))
}

// walk performs a page table walk for the given virtual address, invoking
// walkFn with the entry that corresponds to each level. The walk descends
// into the frame referenced by each visited entry, so walkFn may install a
// missing table before returning true.
func (pt *PageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	tableFrame := pt.root
	for level := uint8(0); level < pageLevels; level++ {
		pte := pt.entry(tableFrame, (virtAddr>>pageLevelShifts[level])&(entriesPerTable-1))
		if !walkFn(level, pte) {
			return
		}

		tableFrame = pte.Frame()
	}
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the address is not mapped. 1 GiB
// and 2 MiB leaves installed by the boot code are supported.
func (pt *PageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pt.lock.Acquire()
	defer pt.lock.Release()

	return pt.translate(virtAddr)
}

func (pt *PageTable) translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	var (
		physAddr uintptr
		err      = ErrInvalidMapping
	)

	pt.walk(virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			return false
		}

		leafMask := uintptr(1)<<pageLevelShifts[pteLevel] - 1
		switch {
		case pteLevel == pageLevels-1,
			(pteLevel == hugePageLevelP3 || pteLevel == hugePageLevelP2) && pte.HasFlags(FlagHugePage):
			physAddr = (uintptr(*pte) & ptePhysPageMask &^ leafMask) | (virtAddr & leafMask)
			err = nil
			return false
		}

		return true
	})

	return physAddr, err
}

// IsMapped returns true if page is backed by a physical frame.
func (pt *PageTable) IsMapped(page mm.Page) bool {
	_, err := pt.Translate(page.Address())
	return err == nil
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated with allocFn and cleared
// before use. Mapping through a huge page entry is not supported.
func (pt *PageTable) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, allocFn mm.FrameAllocatorFn) *kernel.Error {
	pt.lock.Acquire()
	defer pt.lock.Release()

	return pt.mapPage(page, frame, flags, allocFn)
}

func (pt *PageTable) mapPage(page mm.Page, frame mm.Frame, flags PageTableEntryFlag, allocFn mm.FrameAllocatorFn) *kernel.Error {
	var err *kernel.Error

	pt.walk(page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present and flush its TLB entry
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagPresent | FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; allocate a physical frame for
		// it, clear its contents and link it in.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			if newTableFrame, err = allocFn(); err != nil {
				return false
			}

			kernel.Memset(pt.trans.FrameAddress(newTableFrame), 0, mm.PageSize)

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | (flags & FlagUserAccessible))
		}

		return true
	})

	return err
}
