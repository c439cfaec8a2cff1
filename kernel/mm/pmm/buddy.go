package pmm

import (
	"ngos/kernel"
	"ngos/kernel/mm"
	"reflect"
	"unsafe"
)

var (
	errFreeListCorrupted = &kernel.Error{Module: "pmm", Message: "free list head is not marked free in the bitmap"}
	errDoubleFree        = &kernel.Error{Module: "pmm", Message: "frame is already free"}
	errFrameOutOfRange   = &kernel.Error{Module: "pmm", Message: "frame is outside the range tracked by the allocator"}
)

// buddy is the steady-state order-0 allocator. Free frames are tracked twice:
// by a bitmap and by a singly linked list threaded through the first word of
// each free frame. A frame's bit is set if and only if the frame is on the
// list.
//
// The bitmap lives in storage pages owned by the allocator. The first storage
// word records the number of tracked frames and the bitmap words follow it.
type buddy struct {
	trans mm.Translator

	storage    []uint64
	storageHdr reflect.SliceHeader

	bitmap     freeBitmap
	frameCount uint64

	// owned holds the usable ranges as reported by the memory map. Only
	// frames inside them (including the ones consumed for allocator
	// metadata) may ever be returned.
	owned usableRanges

	freeHead  mm.Frame
	freeCount uint64
}

// storageWords returns the number of words needed to hold the frame count and
// the bitmap for frameCount frames.
func storageWords(frameCount uint64) uint64 {
	return 1 + bitmapWords(frameCount)
}

// init overlays the allocator state on the storage region starting at
// storageAddr and seeds it from ranges. Every frame outside ranges starts out
// allocated. owned is the superset of ranges that dealloc accepts frames
// from.
func (b *buddy) init(trans mm.Translator, storageAddr uintptr, frameCount uint64, ranges []FrameRange, owned *usableRanges) {
	b.trans = trans
	b.frameCount = frameCount
	b.owned = *owned

	b.storageHdr = reflect.SliceHeader{
		Data: storageAddr,
		Len:  int(storageWords(frameCount)),
		Cap:  int(storageWords(frameCount)),
	}
	b.storage = *(*[]uint64)(unsafe.Pointer(&b.storageHdr))
	b.storage[0] = frameCount
	b.bitmap = freeBitmap(b.storage[1:])

	b.bitmap.clear()
	for _, r := range ranges {
		b.bitmap.markRangeFree(r)
	}

	// Link frames walking backwards so the list head ends up at the lowest
	// free frame and the list ascends from there.
	b.freeHead, b.freeCount = noFrame, 0
	for rangeIndex := len(ranges) - 1; rangeIndex >= 0; rangeIndex-- {
		r := ranges[rangeIndex]
		for frame := r.End; frame > r.Start; {
			frame--
			b.writeLink(frame, b.freeHead)
			b.freeHead = frame
			b.freeCount++
		}
	}
}

// alloc removes the head of the free list. It returns ErrOutOfMemory if no
// frames are free.
func (b *buddy) alloc() (mm.Frame, *kernel.Error) {
	if b.freeHead == noFrame {
		return mm.InvalidFrame, ErrOutOfMemory
	}

	frame := b.freeHead
	b.checkFrame(frame)
	if !b.bitmap.isFree(frame) {
		panic(errFreeListCorrupted)
	}

	b.bitmap.markAllocated(frame)
	b.freeHead = b.readLink(frame)
	b.freeCount--

	return frame, nil
}

// dealloc pushes frame to the head of the free list. Frames that never
// belonged to a usable range cause a panic.
func (b *buddy) dealloc(frame mm.Frame) {
	b.checkFrame(frame)
	if !b.owned.contains(frame) {
		panic(errFrameOutOfRange)
	}
	if b.bitmap.isFree(frame) {
		panic(errDoubleFree)
	}

	b.bitmap.markFree(frame)
	b.writeLink(frame, b.freeHead)
	b.freeHead = frame
	b.freeCount++
}

func (b *buddy) checkFrame(frame mm.Frame) {
	if frame == noFrame || uint64(frame) >= b.frameCount {
		panic(errFrameOutOfRange)
	}
}

// readLink returns the next free frame stored inside a free frame.
func (b *buddy) readLink(frame mm.Frame) mm.Frame {
	return mm.Frame(*(*uint64)(unsafe.Pointer(b.trans.FrameAddress(frame))))
}

// writeLink stores the next free frame inside a free frame.
func (b *buddy) writeLink(frame, next mm.Frame) {
	*(*uint64)(unsafe.Pointer(b.trans.FrameAddress(frame))) = uint64(next)
}
