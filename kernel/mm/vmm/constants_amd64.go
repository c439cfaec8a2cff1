package vmm

const (
	// pageLevels indicates the number of page levels supported by the amd64 architecture.
	pageLevels = 4

	// ptePhysPageMask extracts the physical address (bits 12-51) stored in
	// a page table entry.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// entriesPerTable is the number of 8-byte entries in each paging
	// structure.
	entriesPerTable = 1 << 9

	// hugePageLevelP3 and hugePageLevelP2 are the walk levels where a
	// FlagHugePage entry terminates the walk with a 1 GiB or 2 MiB leaf.
	hugePageLevelP3 = 1
	hugePageLevelP2 = 2

	// Each region starts on a P4 (512 GiB) boundary and spans four P4
	// entries (2 TiB).
	userRegionStart    = uintptr(16) << 39
	userRegionLength   = uintptr(4) << 39
	kernelRegionStart  = uintptr(20) << 39
	kernelRegionLength = uintptr(4) << 39
)

var (
	// pageLevelShifts defines the shift required to access each page table component
	// of a virtual address.
	pageLevelShifts = [pageLevels]uint8{
		39,
		30,
		21,
		12,
	}
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage marks a P3 or P2 entry as a 1 GiB or 2 MiB leaf.
	FlagHugePage

	// FlagGlobal keeps the TLB entry for this page alive across CR3 reloads.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)
