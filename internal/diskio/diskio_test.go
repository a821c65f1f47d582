package diskio

import (
	"errors"
	"io"
	"testing"
)

type fakeReader struct {
	data  []byte
	short bool // simulate a short read regardless of requested length
}

func (f *fakeReader) Size() int64 { return int64(len(f.data)) }

func (f *fakeReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, f.data[off:])
	if f.short && n > 0 {
		n--
	}
	return n, nil
}

func TestU16U32U64RoundTrip(t *testing.T) {
	b := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if got := U16(b, 0); got != 0x0102 {
		t.Fatalf("U16 = %#x, want 0x0102", got)
	}
	if got := U32(b, 0); got != 0x01020304 {
		t.Fatalf("U32 = %#x, want 0x01020304", got)
	}
	if got := U64(b, 0); got != 0x0102030405060708 {
		t.Fatalf("U64 = %#x, want 0x0102030405060708", got)
	}
}

func TestI32NegativeValue(t *testing.T) {
	b := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	if got := I32(b, 0); got != -1 {
		t.Fatalf("I32 = %d, want -1", got)
	}
}

func TestReadFullAtSuccess(t *testing.T) {
	r := &fakeReader{data: []byte("hello world")}
	p := make([]byte, 5)
	if err := ReadFullAt(r, p, 0); err != nil {
		t.Fatalf("ReadFullAt: %v", err)
	}
	if string(p) != "hello" {
		t.Fatalf("p = %q, want %q", p, "hello")
	}
}

func TestReadFullAtShortReadIsError(t *testing.T) {
	r := &fakeReader{data: []byte("hello world"), short: true}
	p := make([]byte, 5)
	err := ReadFullAt(r, p, 0)
	if err == nil {
		t.Fatal("expected an error for a short read")
	}
}

func TestReadFullAtNegativeOffsetIsError(t *testing.T) {
	r := &fakeReader{data: []byte("hello")}
	p := make([]byte, 1)
	if err := ReadFullAt(r, p, -1); err == nil {
		t.Fatal("expected an error for a negative offset")
	}
}

func TestReadFullAtWrapsUnexpectedEOF(t *testing.T) {
	r := &fakeReader{data: []byte("hi")}
	p := make([]byte, 10)
	err := ReadFullAt(r, p, 0)
	if err == nil {
		t.Fatal("expected an error reading past the end of data")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected the error chain to include io.ErrUnexpectedEOF, got %v", err)
	}
}
