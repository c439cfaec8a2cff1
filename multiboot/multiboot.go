// Package multiboot reads the memory map from the multiboot2 information
// structure that the boot loader passes to the kernel.
package multiboot

import "unsafe"

var (
	infoData uintptr
)

type tagType uint32

const (
	tagMbSectionEnd tagType = 0
	tagMemoryMap    tagType = 6
)

// tagHeader precedes every tag in the information structure.
type tagHeader struct {
	tagType tagType

	// The size of the tag including the header but not including any
	// padding. Each tag starts at an 8-byte aligned address.
	size uint32
}

// mmapHeader precedes the entries of the memory map tag.
type mmapHeader struct {
	entrySize    uint32
	entryVersion uint32
}

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemDefective marks RAM reported as faulty by the firmware.
	MemDefective

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemDefective:
		return "defective"
	default:
		return "unknown"
	}
}

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region
// reported by the boot loader. The visitor returns false to stop the scan.
type MemRegionVisitor func(*MemoryMapEntry) bool

// SetInfoPtr records the virtual address of the multiboot information
// structure. It must be invoked before any other function in this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// VisitMemRegions invokes visitor for each entry of the boot loader memory
// map, in the order the boot loader reported them. Entries with an unknown
// type are reported as MemReserved.
func VisitMemRegions(visitor MemRegionVisitor) {
	curPtr, size := findTagByType(tagMemoryMap)
	if size == 0 {
		return
	}

	// curPtr points to the memory map header (2 dwords long)
	hdr := (*mmapHeader)(unsafe.Pointer(curPtr))
	endPtr := curPtr + uintptr(size)
	curPtr += unsafe.Sizeof(mmapHeader{})

	for ; curPtr < endPtr; curPtr += uintptr(hdr.entrySize) {
		entry := (*MemoryMapEntry)(unsafe.Pointer(curPtr))
		if entry.Type == 0 || entry.Type >= memUnknown {
			entry.Type = MemReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

// findTagByType returns the address of the payload of the first tag with the
// requested type and the payload length. It returns (0, 0) if no such tag
// exists.
func findTagByType(tagType tagType) (uintptr, uint32) {
	if infoData == 0 {
		return 0, 0
	}

	// Skip the fixed header (total size and a reserved dword).
	curPtr := infoData + 8
	for hdr := (*tagHeader)(unsafe.Pointer(curPtr)); hdr.tagType != tagMbSectionEnd; hdr = (*tagHeader)(unsafe.Pointer(curPtr)) {
		if hdr.tagType == tagType {
			return curPtr + 8, hdr.size - 8
		}

		curPtr += uintptr((hdr.size + 7) &^ 7)
	}

	return 0, 0
}
