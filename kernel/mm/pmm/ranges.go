package pmm

import (
	"ngos/kernel"
	"ngos/kernel/mm"
	"ngos/multiboot"
)

const (
	// maxUsableRanges is the number of usable memory map regions the
	// allocator can track.
	maxUsableRanges = 32

	// noFrame terminates the free list. Frame 0 is never handed out so it
	// can never be a valid link.
	noFrame = mm.Frame(0)
)

var errTooManyRanges = &kernel.Error{Module: "pmm", Message: "too many usable memory regions"}

// FrameRange is the half-open interval of physical frames [Start, End).
type FrameRange struct {
	Start mm.Frame
	End   mm.Frame
}

// Count returns the number of frames in the range.
func (r FrameRange) Count() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return uint64(r.End - r.Start)
}

// frameRangeFromRegion returns the whole frames contained in a memory map
// region. Region boundaries that are not page-aligned are rounded inwards and
// the result is clipped to the frames the allocator can track.
func frameRangeFromRegion(region *multiboot.MemoryMapEntry) FrameRange {
	pageSizeMinus1 := uint64(mm.PageSize - 1)
	r := FrameRange{
		Start: mm.Frame((region.PhysAddress + pageSizeMinus1) >> mm.PageShift),
		End:   mm.Frame((region.PhysAddress + region.Length) >> mm.PageShift),
	}

	if r.Start <= noFrame {
		r.Start = noFrame + 1
	}

	if r.End > mm.MaxFrameCount {
		r.End = mm.MaxFrameCount
	}

	return r
}

// usableRanges is a fixed-capacity list of frame ranges kept in memory map
// order.
type usableRanges struct {
	ranges [maxUsableRanges]FrameRange
	count  int
}

// add appends r unless it is empty. Exceeding the capacity is a fatal
// configuration error.
func (u *usableRanges) add(r FrameRange) {
	if r.Count() == 0 {
		return
	}

	if u.count == maxUsableRanges {
		panic(errTooManyRanges)
	}

	u.ranges[u.count] = r
	u.count++
}

// list returns the tracked ranges.
func (u *usableRanges) list() []FrameRange {
	return u.ranges[:u.count]
}

// popFrame removes and returns the highest frame of the last range, dropping
// exhausted ranges as it goes.
func (u *usableRanges) popFrame() (mm.Frame, bool) {
	for u.count > 0 {
		last := &u.ranges[u.count-1]
		if last.Count() == 0 {
			u.count--
			continue
		}

		last.End--
		return last.End, true
	}

	return mm.InvalidFrame, false
}

// contains reports whether frame lies inside one of the ranges.
func (u *usableRanges) contains(frame mm.Frame) bool {
	for _, r := range u.list() {
		if frame >= r.Start && frame < r.End {
			return true
		}
	}
	return false
}

// highestFrame returns one past the highest frame covered by any range.
func (u *usableRanges) highestFrame() mm.Frame {
	var end mm.Frame
	for _, r := range u.list() {
		if r.End > end {
			end = r.End
		}
	}
	return end
}

// totalFrames returns the number of frames across all ranges.
func (u *usableRanges) totalFrames() uint64 {
	var total uint64
	for _, r := range u.list() {
		total += r.Count()
	}
	return total
}
