package mm

// Translator converts physical addresses into kernel-visible virtual
// addresses. The boot code maps all of physical memory linearly starting at
// a fixed virtual offset, so translation is a single addition.
type Translator struct {
	offset uintptr
}

// NewTranslator returns a Translator for a linear mapping of physical memory
// that starts at the supplied virtual offset.
func NewTranslator(offset uintptr) Translator {
	return Translator{offset: offset}
}

// Offset returns the virtual address where physical address 0 is mapped.
func (t Translator) Offset() uintptr {
	return t.offset
}

// Translate returns the virtual address through which physAddr can be
// accessed.
func (t Translator) Translate(physAddr uintptr) uintptr {
	return physAddr + t.offset
}

// FrameAddress returns the virtual address of the first byte of frame.
func (t Translator) FrameAddress(frame Frame) uintptr {
	return t.Translate(frame.Address())
}
