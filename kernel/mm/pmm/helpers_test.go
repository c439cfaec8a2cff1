package pmm

import (
	"ngos/kernel"
	"ngos/kernel/irq"
	"ngos/kernel/mm"
	"ngos/kernel/mm/vmm"
	"testing"
	"unsafe"
)

// fakeFlags stands in for RFLAGS.IF; tests cannot execute cli/sti.
type fakeFlags struct{ enabled bool }

func (f *fakeFlags) Enabled() bool { return f.enabled }
func (f *fakeFlags) Disable()      { f.enabled = false }
func (f *fakeFlags) Enable()       { f.enabled = true }

// alignedBuffer returns a Go buffer holding at least pageCount pages and the
// address of its first page-aligned byte.
func alignedBuffer(pageCount int) ([]byte, uintptr) {
	buf := make([]byte, (pageCount+1)*int(mm.PageSize))
	base := (uintptr(unsafe.Pointer(&buf[0])) + mm.PageSize - 1) &^ (mm.PageSize - 1)
	return buf, base
}

// testEnv simulates physical memory and the vmm calls made while the buddy
// structure is set up.
type testEnv struct {
	physMem  []byte
	physBase uintptr

	storage     []byte
	storageBase uintptr

	reserveCalls  int
	reservedPages uintptr
	mappedFrames  []mm.Frame

	// tableFramesPerMap is the number of frames each mapFn call pulls from
	// the supplied allocator, simulating missing page tables.
	tableFramesPerMap int
	mapErr            *kernel.Error
}

func newTestEnv(physFrames, storagePages int) *testEnv {
	env := &testEnv{}
	env.physMem, env.physBase = alignedBuffer(physFrames)
	env.storage, env.storageBase = alignedBuffer(storagePages)
	return env
}

func (env *testEnv) trans() mm.Translator {
	return mm.NewTranslator(env.physBase)
}

// install replaces the vmm hooks and returns a function that restores them.
func (env *testEnv) install(t *testing.T) func() {
	reserveKernelPagesFn = func(pageCount uintptr) mm.PageRange {
		env.reserveCalls++
		env.reservedPages = pageCount
		if max := uintptr(len(env.storage)) >> mm.PageShift; pageCount >= max {
			t.Fatalf("test storage too small: %d pages requested", pageCount)
		}

		start := mm.PageFromAddress(env.storageBase)
		return mm.PageRange{Start: start, End: start + mm.Page(pageCount)}
	}

	mapFn = func(_ mm.Page, frame mm.Frame, flags vmm.PageTableEntryFlag, allocFn mm.FrameAllocatorFn) *kernel.Error {
		if exp := vmm.FlagPresent | vmm.FlagRW; flags&exp != exp {
			t.Errorf("expected storage pages to be mapped present and writable")
		}

		for i := 0; i < env.tableFramesPerMap; i++ {
			if _, err := allocFn(); err != nil {
				return err
			}
		}

		if env.mapErr != nil {
			return env.mapErr
		}

		env.mappedFrames = append(env.mappedFrames, frame)
		return nil
	}

	return func() {
		reserveKernelPagesFn = vmm.ReserveKernelPages
		mapFn = vmm.Map
	}
}

// steadyAllocator builds an allocator over ranges and switches it to steady
// mode.
func (env *testEnv) steadyAllocator(t *testing.T, ranges ...FrameRange) *FrameAllocator {
	alloc := &FrameAllocator{}
	for _, r := range ranges {
		alloc.ranges.add(r)
	}

	if err := alloc.setupBuddy(env.trans()); err != nil {
		t.Fatal(err)
	}
	return alloc
}

// freeListFrames walks the free list and returns the visited frames. It
// stops early if the list is longer than the free count, which would
// indicate a cycle.
func freeListFrames(t *testing.T, b *buddy) []mm.Frame {
	var frames []mm.Frame
	for frame := b.freeHead; frame != noFrame; frame = b.readLink(frame) {
		if uint64(len(frames)) > b.freeCount {
			t.Fatalf("free list is longer than the free count (%d)", b.freeCount)
		}
		frames = append(frames, frame)
	}
	return frames
}

// checkDuality asserts that the bitmap and the free list describe the same set
// of frames.
func checkDuality(t *testing.T, b *buddy) {
	t.Helper()

	onList := make(map[mm.Frame]bool)
	for _, frame := range freeListFrames(t, b) {
		if onList[frame] {
			t.Fatalf("frame %d appears twice in the free list", frame)
		}
		onList[frame] = true
	}

	if uint64(len(onList)) != b.freeCount {
		t.Fatalf("expected free list to contain %d frames; got %d", b.freeCount, len(onList))
	}

	for frame := mm.Frame(0); uint64(frame) < b.frameCount; frame++ {
		if got := b.bitmap.isFree(frame); got != onList[frame] {
			t.Fatalf("frame %d: bitmap says free=%t but free list membership is %t", frame, got, onList[frame])
		}
	}
}

func mockInterruptFlags() func() {
	prev := irq.SetFlagController(&fakeFlags{enabled: true})
	return func() { irq.SetFlagController(prev) }
}
