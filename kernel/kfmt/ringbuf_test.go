package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		buf    bytes.Buffer
		expStr = "[pmm] bitmap allocator ready"
		rb     ringBuffer
	)

	t.Run("read/write", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		n, err := rb.Write([]byte(expStr))
		if err != nil {
			t.Fatal(err)
		}

		if n != len(expStr) {
			t.Fatalf("expected to write %d bytes; wrote %d", len(expStr), n)
		}

		if got := readByteByByte(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("write moves read pointer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-1, 0
		if _, err := rb.Write([]byte{'!'}); err != nil {
			t.Fatal(err)
		}

		if exp := 1; rb.rIndex != exp {
			t.Fatalf("expected write to push rIndex to %d; got %d", exp, rb.rIndex)
		}
	})

	t.Run("wrap around", func(t *testing.T) {
		rb.wIndex, rb.rIndex = ringBufferSize-2, ringBufferSize-2
		if _, err := rb.Write([]byte(expStr)); err != nil {
			t.Fatal(err)
		}

		if got := readByteByByte(&buf, &rb); got != expStr {
			t.Fatalf("expected to read %q; got %q", expStr, got)
		}
	})

	t.Run("overflow keeps the most recent bytes", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 0, 0
		for i := 0; i < ringBufferSize+10; i++ {
			rb.Write([]byte{byte('a' + i%26)})
		}

		buf.Reset()
		io.Copy(&buf, &rb)
		if exp, got := ringBufferSize-1, buf.Len(); got != exp {
			t.Fatalf("expected to read back %d bytes; got %d", exp, got)
		}

		last := byte('a' + (ringBufferSize+9)%26)
		if got := buf.Bytes()[buf.Len()-1]; got != last {
			t.Fatalf("expected last byte to be %q; got %q", last, got)
		}
	})

	t.Run("read from empty buffer", func(t *testing.T) {
		rb.wIndex, rb.rIndex = 42, 42
		if _, err := rb.Read(make([]byte, 1)); err != io.EOF {
			t.Fatalf("expected to get io.EOF; got %v", err)
		}
	})
}

func readByteByByte(buf *bytes.Buffer, r io.Reader) string {
	buf.Reset()
	b := make([]byte, 1)
	for {
		n, err := r.Read(b)
		if err == io.EOF {
			break
		}
		buf.Write(b[:n])
	}
	return buf.String()
}
