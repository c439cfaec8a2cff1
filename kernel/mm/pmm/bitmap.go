package pmm

import "ngos/kernel/mm"

// freeBitmap tracks one bit per frame; a set bit marks a free frame. Bits are
// numbered from the least significant bit of each word.
type freeBitmap []uint64

// bitmapWords returns the number of words needed to track frameCount frames.
func bitmapWords(frameCount uint64) uint64 {
	return (frameCount + 63) >> 6
}

func (b freeBitmap) isFree(frame mm.Frame) bool {
	return b[frame>>6]&(1<<(frame&63)) != 0
}

func (b freeBitmap) markFree(frame mm.Frame) {
	b[frame>>6] |= 1 << (frame & 63)
}

func (b freeBitmap) markAllocated(frame mm.Frame) {
	b[frame>>6] &^= 1 << (frame & 63)
}

func (b freeBitmap) clear() {
	for i := range b {
		b[i] = 0
	}
}

// markRangeFree flags all frames in r as free, filling whole words where
// possible.
func (b freeBitmap) markRangeFree(r FrameRange) {
	frame := r.Start
	for ; frame < r.End && frame&63 != 0; frame++ {
		b.markFree(frame)
	}

	for ; frame+64 <= r.End; frame += 64 {
		b[frame>>6] = ^uint64(0)
	}

	for ; frame < r.End; frame++ {
		b.markFree(frame)
	}
}
