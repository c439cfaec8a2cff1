// Package kfmt implements allocation-free formatted output for the kernel.
// It can be used before the Go allocator (or any memory allocator) is
// available, which is the normal situation while the memory core boots.
package kfmt

import (
	"io"
	"unsafe"
)

// numBufSize defines the scratch buffer size used for formatting numbers.
const numBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	digitChars      = "0123456789abcdef"

	numBuf [numBufSize]byte

	// singleByte is a shared buffer for passing single characters to
	// doWrite without converting strings to byte slices.
	singleByte = []byte{0}

	// earlyPrintBuffer captures Printf output until a sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink receives Printf output. While nil, output is kept in
	// earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the target for calls to Printf to w and flushes any
// output accumulated in the early print buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the writer that currently receives Printf output.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf is a minimal, allocation-free fmt.Printf. It supports the following
// verbs:
//
//	%s string or []byte
//	%d base-10 integer
//	%x base-16 integer (lower-case)
//	%o base-8 integer
//	%t bool
//	%% literal percent sign
//
// An optional decimal width may precede the verb. Strings and base-10
// integers are left-padded with spaces; base-8 and base-16 integers are
// left-padded with zeroes.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves like Printf but writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArg int
		width   int
		fmtLen  = len(format)
	)

	for i := 0; i < fmtLen; i++ {
		if format[i] != '%' {
			writeByte(w, format[i])
			continue
		}

		for width, i = 0, i+1; i < fmtLen && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == fmtLen {
			doWrite(w, errNoVerb)
			break
		}

		verb := format[i]
		switch verb {
		case '%':
			writeByte(w, '%')
			continue
		case 'd', 'x', 'o', 's', 't':
		default:
			doWrite(w, errNoVerb)
			continue
		}

		if nextArg >= len(args) {
			doWrite(w, errMissingArg)
			continue
		}

		switch verb {
		case 'd':
			fmtInt(w, args[nextArg], 10, width)
		case 'x':
			fmtInt(w, args[nextArg], 16, width)
		case 'o':
			fmtInt(w, args[nextArg], 8, width)
		case 's':
			fmtString(w, args[nextArg], width)
		case 't':
			fmtBool(w, args[nextArg])
		}
		nextArg++
	}

	for ; nextArg < len(args); nextArg++ {
		doWrite(w, errExtraArg)
	}
}

func fmtBool(w io.Writer, v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case b:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

func fmtString(w io.Writer, v interface{}, width int) {
	switch s := v.(type) {
	case string:
		fmtRepeat(w, ' ', width-len(s))
		// converting s to a byte slice would allocate.
		for i := 0; i < len(s); i++ {
			writeByte(w, s[i])
		}
	case []byte:
		fmtRepeat(w, ' ', width-len(s))
		doWrite(w, s)
	default:
		doWrite(w, errWrongArgType)
	}
}

func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt formats v, which must be a built-in integer type, in the requested
// base. The total output width (including the sign) is capped to
// numBufSize-1 characters of padding.
func fmtInt(w io.Writer, v interface{}, base uint64, width int) {
	var (
		uval     uint64
		negative bool
	)

	switch n := v.(type) {
	case uint8:
		uval = uint64(n)
	case uint16:
		uval = uint64(n)
	case uint32:
		uval = uint64(n)
	case uint64:
		uval = n
	case uint:
		uval = uint64(n)
	case uintptr:
		uval = uint64(n)
	case int8:
		negative, uval = absInt(int64(n))
	case int16:
		negative, uval = absInt(int64(n))
	case int32:
		negative, uval = absInt(int64(n))
	case int64:
		negative, uval = absInt(n)
	case int:
		negative, uval = absInt(int64(n))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if width >= numBufSize {
		width = numBufSize - 1
	}

	pos := numBufSize
	for {
		pos--
		numBuf[pos] = digitChars[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	padLen := width - (numBufSize - pos)
	if negative {
		padLen--
	}

	if base == 10 {
		if negative {
			pos--
			numBuf[pos] = '-'
		}
		for ; padLen > 0; padLen-- {
			pos--
			numBuf[pos] = ' '
		}
	} else {
		for ; padLen > 0; padLen-- {
			pos--
			numBuf[pos] = '0'
		}
		if negative {
			pos--
			numBuf[pos] = '-'
		}
	}

	doWrite(w, numBuf[pos:])
}

func absInt(v int64) (bool, uint64) {
	if v < 0 {
		return true, uint64(-v)
	}
	return false, uint64(v)
}

func writeByte(w io.Writer, b byte) {
	singleByte[0] = b
	doWrite(w, singleByte)
}

// doWrite hides p from escape analysis. Without this, the call through the
// io.Writer interface makes the compiler assume that p escapes and every
// Printf call ends up allocating.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		w.Write(p)
	} else {
		earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
