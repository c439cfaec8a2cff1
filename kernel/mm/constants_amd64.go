package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). Shifting an address right by
	// PageShift yields its frame or page number.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// MaxFrameCount bounds the frame numbers tracked by the physical
	// allocator (256 GiB of addressable physical memory).
	MaxFrameCount = Frame(1 << 26)
)
