package decmpfs

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type memBlockReader struct{ buf []byte }

func (m *memBlockReader) Size() int64 { return int64(len(m.buf)) }
func (m *memBlockReader) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

func buildHeaderBytes(method Method, uncompressedSize uint64) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], headerMagic)
	binary.LittleEndian.PutUint32(b[4:8], uint32(method))
	binary.LittleEndian.PutUint64(b[8:16], uncompressedSize)
	return b
}

func TestParseHeaderRoundTrip(t *testing.T) {
	payload := append(buildHeaderBytes(MethodLZVNInline, 12345), []byte("tail-bytes")...)
	h, tail, err := ParseHeader(payload)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Method != MethodLZVNInline || h.UncompressedSize != 12345 {
		t.Fatalf("Header = %+v", h)
	}
	if string(tail) != "tail-bytes" {
		t.Fatalf("tail = %q, want %q", tail, "tail-bytes")
	}
}

func TestParseHeaderRejectsBadMagic(t *testing.T) {
	payload := buildHeaderBytes(MethodLZVNInline, 1)
	payload[0] = 'x'
	if _, _, err := ParseHeader(payload); err == nil {
		t.Fatal("expected an error for a bad magic")
	}
}

func TestParseHeaderRejectsUnsupportedMethod(t *testing.T) {
	payload := buildHeaderBytes(Method(999), 1)
	if _, _, err := ParseHeader(payload); err == nil {
		t.Fatal("expected an error for an unrecognized method")
	}
}

func TestIsResourceBacked(t *testing.T) {
	cases := map[Method]bool{
		MethodDeflateInline:   false,
		MethodDeflateResource: true,
		MethodLZVNInline:      false,
		MethodLZVNResource:    true,
		MethodLZFSEInline:     false,
		MethodLZFSEResource:   true,
	}
	for m, want := range cases {
		if got := m.IsResourceBacked(); got != want {
			t.Fatalf("Method(%d).IsResourceBacked() = %v, want %v", m, got, want)
		}
	}
}

// rawPassthrough encodes plain as an Apple-convention "uncompressed"
// DEFLATE block: a leading 0xFF byte followed by the literal bytes.
func rawPassthrough(plain []byte) []byte {
	return append([]byte{0xFF}, plain...)
}

func TestOpenInlineSingleBlock(t *testing.T) {
	plain := bytes.Repeat([]byte{'Z'}, 100)
	header := Header{Method: MethodDeflateInline, UncompressedSize: uint64(len(plain))}
	tail := rawPassthrough(plain)

	h, err := OpenInline(header, tail)
	if err != nil {
		t.Fatalf("OpenInline: %v", err)
	}
	if h.Size() != int64(len(plain)) {
		t.Fatalf("Size() = %d, want %d", h.Size(), len(plain))
	}

	got := make([]byte, len(plain))
	n, err := h.ReadAt(got, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(plain) || !bytes.Equal(got, plain) {
		t.Fatalf("ReadAt produced %q (n=%d), want %q", got, n, plain)
	}
}

func TestOpenInlineRejectsResourceBackedMethod(t *testing.T) {
	header := Header{Method: MethodDeflateResource, UncompressedSize: 10}
	if _, err := OpenInline(header, []byte("x")); err == nil {
		t.Fatal("expected an error opening a resource-backed method inline")
	}
}

func TestOpenInlineMultiBlockTable(t *testing.T) {
	block0 := bytes.Repeat([]byte{'A'}, ChunkSize)
	block1 := bytes.Repeat([]byte{'B'}, 904)
	uncompressedSize := uint64(len(block0) + len(block1))

	c0 := rawPassthrough(block0)
	c1 := rawPassthrough(block1)

	const tableBytes = 16 // size field + 3 fence-post offsets
	off0 := uint32(tableBytes)
	off1 := off0 + uint32(len(c0))
	off2 := off1 + uint32(len(c1))

	tail := make([]byte, 0, int(off2))
	var sizeField [4]byte
	binary.LittleEndian.PutUint32(sizeField[:], tableBytes)
	tail = append(tail, sizeField[:]...)
	for _, v := range []uint32{off0, off1, off2} {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		tail = append(tail, b[:]...)
	}
	tail = append(tail, c0...)
	tail = append(tail, c1...)

	header := Header{Method: MethodDeflateInline, UncompressedSize: uncompressedSize}
	h, err := OpenInline(header, tail)
	if err != nil {
		t.Fatalf("OpenInline: %v", err)
	}
	if h.Size() != int64(uncompressedSize) {
		t.Fatalf("Size() = %d, want %d", h.Size(), uncompressedSize)
	}

	got := make([]byte, 10)
	if _, err := h.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt block0: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{'A'}, 10)) {
		t.Fatalf("block0 ReadAt = %q", got)
	}

	if _, err := h.ReadAt(got, int64(len(block0))); err != nil {
		t.Fatalf("ReadAt block1: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{'B'}, 10)) {
		t.Fatalf("block1 ReadAt = %q", got)
	}
}

func TestOpenResourceBackedStream(t *testing.T) {
	plain := bytes.Repeat([]byte{'Q'}, 100)
	compressed := rawPassthrough(plain)

	const headerOffset = 8
	const entryRelOff = 12 // relative to headerOffset

	buf := make([]byte, headerOffset+4+8+len(compressed))
	binary.LittleEndian.PutUint32(buf[0:4], headerOffset)
	binary.LittleEndian.PutUint32(buf[headerOffset:headerOffset+4], 1) // numBlocks
	binary.LittleEndian.PutUint32(buf[headerOffset+4:headerOffset+8], entryRelOff)
	binary.LittleEndian.PutUint32(buf[headerOffset+8:headerOffset+12], uint32(len(compressed)))
	copy(buf[headerOffset+entryRelOff:], compressed)

	resourceFork := &memBlockReader{buf: buf}
	header := Header{Method: MethodDeflateResource, UncompressedSize: uint64(len(plain))}

	h, err := OpenResource(header, resourceFork)
	if err != nil {
		t.Fatalf("OpenResource: %v", err)
	}
	if h.Size() != int64(len(plain)) {
		t.Fatalf("Size() = %d, want %d", h.Size(), len(plain))
	}

	got := make([]byte, len(plain))
	if _, err := h.ReadAt(got, 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if !bytes.Equal(got, plain) {
		t.Fatalf("ReadAt = %q, want %q", got, plain)
	}
}

func TestOpenResourceRejectsInlineMethod(t *testing.T) {
	resourceFork := &memBlockReader{buf: make([]byte, 16)}
	header := Header{Method: MethodDeflateInline, UncompressedSize: 10}
	if _, err := OpenResource(header, resourceFork); err == nil {
		t.Fatal("expected an error opening an inline method against a resource fork")
	}
}

func TestReadAtBeyondSizeIsNotAnError(t *testing.T) {
	plain := []byte("hi")
	header := Header{Method: MethodDeflateInline, UncompressedSize: uint64(len(plain))}
	h, err := OpenInline(header, rawPassthrough(plain))
	if err != nil {
		t.Fatalf("OpenInline: %v", err)
	}
	n, err := h.ReadAt(make([]byte, 4), 10)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}
