package vmm

import (
	"bytes"
	"fmt"
	"ngos/kernel"
	"ngos/kernel/cpu"
	"ngos/kernel/gate"
	"ngos/kernel/kfmt"
	"ngos/kernel/mm"
	"strings"
	"testing"
)

// useKernelPageTable points the kernel page table at the supplied arena and
// registers the arena as the system frame allocator.
func useKernelPageTable(arena *physArena) func() {
	origRoot, origTrans := kernelPageTable.root, kernelPageTable.trans
	kernelPageTable.Init(0, arena.trans)
	mm.SetFrameAllocator(arena.alloc)

	return func() {
		kernelPageTable.Init(origRoot, origTrans)
		mm.SetFrameAllocator(nil)
	}
}

func TestHandlePageFaultDemandMapping(t *testing.T) {
	defer mockInterruptFlags()()
	var flushCount int
	defer mockFlushTLB(&flushCount)()

	arena := newPhysArena(16)
	defer useKernelPageTable(arena)()

	var (
		faultAddr = KernelRegion().Start.Address() + mm.PageSize + 0x234
		faultPage = mm.PageFromAddress(faultAddr)
	)

	// Populate the intermediate tables by mapping the preceding page so the
	// fault below only needs a frame for the leaf.
	if err := Map(faultPage-1, 10, FlagPresent|FlagRW, arena.alloc); err != nil {
		t.Fatal(err)
	}
	arena.allocs, flushCount = 0, 0

	HandlePageFault(faultAddr, faultWrite)

	if arena.allocs != 1 {
		t.Fatalf("expected exactly one frame to be allocated; got %d", arena.allocs)
	}

	if !KernelPageTable().IsMapped(faultPage) {
		t.Fatal("expected faulting page to be mapped")
	}

	physAddr, err := Translate(faultAddr)
	if err != nil {
		t.Fatal(err)
	}

	p1 := arena.entry(0, pteIndex(faultAddr, 0)).Frame()
	p1 = arena.entry(p1, pteIndex(faultAddr, 1)).Frame()
	p1 = arena.entry(p1, pteIndex(faultAddr, 2)).Frame()
	leaf := arena.entry(p1, pteIndex(faultAddr, 3))
	if !leaf.HasFlags(FlagPresent | FlagRW) {
		t.Fatalf("expected leaf entry to be present and writable; got %x", uintptr(*leaf))
	}

	if exp := leaf.Frame().Address() + 0x234; physAddr != exp {
		t.Fatalf("expected fault address to translate to %x; got %x", exp, physAddr)
	}

	for i, b := range arena.frameBytes(leaf.Frame()) {
		if b != 0 {
			t.Fatalf("expected demand-mapped frame to be cleared; byte %d is %x", i, b)
		}
	}

	if flushCount != 1 {
		t.Fatalf("expected one TLB flush; got %d", flushCount)
	}

	// A second fault on the same page must not allocate.
	HandlePageFault(faultAddr+0x800, 0)

	if arena.allocs != 1 {
		t.Fatalf("expected no additional allocations for an already mapped page; got %d", arena.allocs)
	}

	if flushCount != 2 {
		t.Fatalf("expected the stale TLB entry to be flushed; got %d flushes", flushCount)
	}
}

func TestPageFaultHandler(t *testing.T) {
	defer mockInterruptFlags()()
	var flushCount int
	defer mockFlushTLB(&flushCount)()
	defer func() { readCR2Fn = cpu.ReadCR2 }()

	arena := newPhysArena(16)
	defer useKernelPageTable(arena)()

	faultAddr := KernelRegion().End.Address() - 8
	readCR2Fn = func() uint64 { return uint64(faultAddr) }

	pageFaultHandler(&gate.Registers{Info: faultWrite})

	if !KernelPageTable().IsMapped(mm.PageFromAddress(faultAddr)) {
		t.Fatal("expected the page containing CR2 to be mapped")
	}

	// Three intermediate tables plus the leaf frame.
	if exp := pageLevels; arena.allocs != exp {
		t.Fatalf("expected %d frame allocations; got %d", exp, arena.allocs)
	}
}

func TestHandlePageFaultFatal(t *testing.T) {
	defer mockInterruptFlags()()
	var flushCount int
	defer mockFlushTLB(&flushCount)()
	defer kfmt.SetOutputSink(nil)

	kernelAddr := KernelRegion().Start.Address()

	specs := []struct {
		descr     string
		arenaSize int
		premap    bool
		faultAddr uintptr
		errCode   uint64
		expErr    *kernel.Error
		expReason string
	}{
		{"user-mode fault", 16, false, kernelAddr, faultUserMode | faultWrite, errUserModeFault, "page-fault in user-mode"},
		{"user region address", 16, false, UserRegion().Start.Address(), 0, errFaultOutsideKernel, "read from non-present page"},
		{"null pointer", 16, false, 0x10, faultWrite, errFaultOutsideKernel, "write to non-present page"},
		{"past kernel region", 16, false, KernelRegion().End.Address(), 0, errFaultOutsideKernel, "read from non-present page"},
		{"protection violation on mapped page", 16, true, kernelAddr, faultProtectionViolation | faultWrite, errPageProtectionFault, "page protection violation (write)"},
		{"out of frames", 1, false, kernelAddr, faultWrite, errArenaExhausted, "write to non-present page"},
	}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			buf.Reset()
			arena := newPhysArena(spec.arenaSize)
			defer useKernelPageTable(arena)()

			if spec.premap {
				if err := Map(mm.PageFromAddress(spec.faultAddr), 5, FlagPresent|FlagRW, arena.alloc); err != nil {
					t.Fatal(err)
				}
			}
			allocsBefore := arena.allocs

			defer func() {
				if err := recover(); err != spec.expErr {
					t.Fatalf("expected a panic with %v; got %v", spec.expErr, err)
				}

				output := buf.String()
				if !strings.Contains(output, "Page fault while accessing address") {
					t.Errorf("expected output to contain the fault banner; got:\n%s", output)
				}

				if !strings.Contains(output, "Reason: "+spec.expReason) {
					t.Errorf("expected output to contain reason %q; got:\n%s", spec.expReason, output)
				}

				if !strings.Contains(output, spec.expErr.Message) {
					t.Errorf("expected output to contain the cause %q; got:\n%s", spec.expErr.Message, output)
				}

				if spec.expErr != errArenaExhausted && arena.allocs != allocsBefore {
					t.Errorf("expected no frames to be allocated; got %d", arena.allocs-allocsBefore)
				}
			}()

			HandlePageFault(spec.faultAddr, spec.errCode)
		})
	}
}

func TestNonRecoverablePageFault(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{0, "read from non-present page"},
		{1, "page protection violation (read)"},
		{2, "write to non-present page"},
		{3, "page protection violation (write)"},
		{4, "page-fault in user-mode"},
		{6, "page-fault in user-mode"},
		{8, "page table has reserved bit set"},
		{16, "instruction fetch"},
		{0xf00, "unknown"},
	}

	var (
		regs gate.Registers
		buf  bytes.Buffer
	)

	kfmt.SetOutputSink(&buf)
	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
				}

				output := buf.String()
				if got := output; !strings.Contains(got, "Reason: "+spec.expReason) {
					t.Errorf("expected reason %q; got output:\n%q", spec.expReason, got)
				}

				if !strings.Contains(output, "Registers:") {
					t.Errorf("expected register dump in output:\n%q", output)
				}
			}()

			regs.Info = spec.errCode
			nonRecoverablePageFault(0xbadf00d000, spec.errCode, &regs, errUnrecoverableFault)
		})
	}
}

func TestGPFHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
		kfmt.SetOutputSink(nil)
	}()

	var (
		regs gate.Registers
		buf  bytes.Buffer
	)
	kfmt.SetOutputSink(&buf)

	readCR2Fn = func() uint64 {
		return 0xbadf00d000
	}

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
		}

		if exp := "General protection fault while accessing address: 0xbadf00d000"; !strings.Contains(buf.String(), exp) {
			t.Errorf("expected output to contain %q; got:\n%s", exp, buf.String())
		}
	}()

	generalProtectionFaultHandler(&regs)
}
