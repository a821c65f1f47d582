package gofshfs

import (
	"io"
	"testing"

	"github.com/go-forensics/gofshfs/internal/forkdesc"
)

// fakeForkBacking is a minimal forkBacking double backed by an
// in-memory byte slice, used to exercise DataStream's cursor and
// locking logic without going through a real extent-mapped reader.
type fakeForkBacking struct{ data []byte }

func (f *fakeForkBacking) Size() int64 { return int64(len(f.data)) }
func (f *fakeForkBacking) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(p, f.data[off:]), nil
}

func TestDataStreamReadAdvancesCursor(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("hello world")}}

	first := make([]byte, 5)
	n, err := ds.Read(first)
	if err != nil || n != 5 || string(first) != "hello" {
		t.Fatalf("Read = (%d, %v) %q, want (5, nil) %q", n, err, first, "hello")
	}
	if ds.Tell() != 5 {
		t.Fatalf("Tell() = %d, want 5", ds.Tell())
	}

	rest := make([]byte, 6)
	n, err = ds.Read(rest)
	if err != nil || n != 6 || string(rest) != " world" {
		t.Fatalf("Read = (%d, %v) %q", n, err, rest)
	}
}

func TestDataStreamReadReturnsEOFAtEnd(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("hi")}}
	buf := make([]byte, 2)
	if _, err := ds.Read(buf); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	n, err := ds.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("Read at EOF = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestDataStreamReadAtDoesNotMoveCursor(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("0123456789")}}
	ds.pos = 2

	got := make([]byte, 3)
	if _, err := ds.ReadAt(got, 7); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "789" {
		t.Fatalf("ReadAt = %q, want 789", got)
	}
	if ds.Tell() != 2 {
		t.Fatalf("Tell() = %d, want unchanged 2", ds.Tell())
	}
}

func TestDataStreamReadAtNegativeOffsetIsError(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("x")}}
	if _, err := ds.ReadAt(make([]byte, 1), -1); err == nil {
		t.Fatal("expected an error for a negative offset")
	}
}

func TestDataStreamSeekVariants(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("0123456789")}}

	if pos, err := ds.Seek(4, io.SeekStart); err != nil || pos != 4 {
		t.Fatalf("SeekStart = (%d, %v)", pos, err)
	}
	if pos, err := ds.Seek(2, io.SeekCurrent); err != nil || pos != 6 {
		t.Fatalf("SeekCurrent = (%d, %v)", pos, err)
	}
	if pos, err := ds.Seek(-3, io.SeekEnd); err != nil || pos != 7 {
		t.Fatalf("SeekEnd = (%d, %v)", pos, err)
	}
	if _, err := ds.Seek(-100, io.SeekStart); err == nil {
		t.Fatal("expected an error seeking before the start")
	}
	if _, err := ds.Seek(0, 99); err == nil {
		t.Fatal("expected an error for an unsupported whence")
	}
}

func TestDataStreamSize(t *testing.T) {
	ds := &DataStream{b: &fakeForkBacking{data: []byte("abcde")}}
	if ds.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", ds.Size())
	}
}

func TestDataStreamExtents(t *testing.T) {
	ds := &DataStream{
		b: &fakeForkBacking{data: []byte("abcdef")},
		extents: []forkdesc.Segment{
			{DiskOffset: 1024, Length: 512},
			{DiskOffset: 4096, Length: 512, Sparse: true},
		},
	}
	if ds.ExtentCount() != 2 {
		t.Fatalf("ExtentCount() = %d, want 2", ds.ExtentCount())
	}
	off, size, sparse := ds.ExtentAt(1)
	if off != 4096 || size != 512 || !sparse {
		t.Fatalf("ExtentAt(1) = (%d, %d, %v)", off, size, sparse)
	}
}
