package mm

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte of this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Unaligned addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(PageSize - 1)) >> PageShift)
}

// PageRange is the half-open interval of virtual pages [Start, End).
type PageRange struct {
	Start Page
	End   Page
}

// Count returns the number of pages in the range.
func (r PageRange) Count() uintptr {
	if r.End <= r.Start {
		return 0
	}
	return uintptr(r.End - r.Start)
}

// Contains returns true if page lies inside the range.
func (r PageRange) Contains(page Page) bool {
	return page >= r.Start && page < r.End
}

// ContainsAddress returns true if the page containing virtAddr lies inside
// the range.
func (r PageRange) ContainsAddress(virtAddr uintptr) bool {
	return r.Contains(PageFromAddress(virtAddr))
}

// Overlaps returns true if both ranges share at least one page.
func (r PageRange) Overlaps(other PageRange) bool {
	return r.Start < other.End && other.Start < r.End
}

// Size returns the size of the range in bytes.
func (r PageRange) Size() uintptr {
	return r.Count() << PageShift
}
