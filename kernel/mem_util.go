package kernel

import (
	"reflect"
	"unsafe"
)

// Memset sets size bytes at the given virtual address to value. Instead of a
// byte-by-byte loop it performs log2(size) copy calls which works well for
// the page-aligned regions it is mostly used with.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}
