package main

import "ngos/kernel/kmain"

var multibootInfoPtr, physMemOffset uintptr

// main makes a dummy call to the actual kernel entrypoint. It is defined to
// prevent the Go compiler from optimizing away the kernel code since the
// compiler is not aware of the rt0 code that calls kmain.Kmain directly.
//
// Global variables are passed as arguments so the call cannot be inlined and
// Kmain is kept in the generated object file.
func main() {
	kmain.Kmain(multibootInfoPtr, physMemOffset)
}
