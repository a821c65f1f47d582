package extentreader

import (
	"io"
	"testing"

	"github.com/go-forensics/gofshfs/internal/forkdesc"
)

type memBlockReader struct{ buf []byte }

func (m *memBlockReader) Size() int64 { return int64(len(m.buf)) }
func (m *memBlockReader) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

func TestReadAtSingleSegment(t *testing.T) {
	disk := &memBlockReader{buf: []byte("0123456789abcdef")}
	segs := []forkdesc.Segment{{DiskOffset: 4, Length: 6}} // "456789"
	r := New(disk, segs, 6)

	p := make([]byte, 4)
	n, err := r.ReadAt(p, 1)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 4 || string(p) != "5678" {
		t.Fatalf("ReadAt = %q (n=%d), want %q", p, n, "5678")
	}
}

func TestReadAtSpansSegments(t *testing.T) {
	disk := &memBlockReader{buf: []byte("AAAABBBBCCCC")}
	segs := []forkdesc.Segment{
		{DiskOffset: 0, Length: 4},
		{DiskOffset: 4, Length: 4},
		{DiskOffset: 8, Length: 4},
	}
	r := New(disk, segs, 12)

	p := make([]byte, 12)
	n, err := r.ReadAt(p, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 12 || string(p) != "AAAABBBBCCCC" {
		t.Fatalf("ReadAt = %q (n=%d)", p, n)
	}
}

func TestReadAtSparseSegmentReadsZeroes(t *testing.T) {
	disk := &memBlockReader{buf: []byte("XXXX")}
	segs := []forkdesc.Segment{
		{DiskOffset: 0, Length: 4, Sparse: true},
		{DiskOffset: 0, Length: 4},
	}
	r := New(disk, segs, 8)

	p := make([]byte, 8)
	n, err := r.ReadAt(p, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	for i := 0; i < 4; i++ {
		if p[i] != 0 {
			t.Fatalf("p[%d] = %d, want 0 (sparse region)", i, p[i])
		}
	}
	if string(p[4:]) != "XXXX" {
		t.Fatalf("p[4:] = %q, want XXXX", p[4:])
	}
}

func TestReadAtBeyondSizeReturnsNothingNoError(t *testing.T) {
	disk := &memBlockReader{buf: []byte("hello")}
	segs := []forkdesc.Segment{{DiskOffset: 0, Length: 5}}
	r := New(disk, segs, 5)

	p := make([]byte, 4)
	n, err := r.ReadAt(p, 5)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0 at EOF", n)
	}
}

func TestReadAtNegativeOffsetIsError(t *testing.T) {
	disk := &memBlockReader{buf: []byte("hello")}
	r := New(disk, []forkdesc.Segment{{DiskOffset: 0, Length: 5}}, 5)
	if _, err := r.ReadAt(make([]byte, 1), -1); err == nil {
		t.Fatal("expected an error for a negative offset")
	}
}

func TestReadAdvancesCursorAndReturnsEOF(t *testing.T) {
	disk := &memBlockReader{buf: []byte("hi")}
	r := New(disk, []forkdesc.Segment{{DiskOffset: 0, Length: 2}}, 2)

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read = (%d, %v), want (2, nil)", n, err)
	}
	if r.Tell() != 2 {
		t.Fatalf("Tell() = %d, want 2", r.Tell())
	}
	n, err = r.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("second Read = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestSeekVariants(t *testing.T) {
	disk := &memBlockReader{buf: []byte("0123456789")}
	r := New(disk, []forkdesc.Segment{{DiskOffset: 0, Length: 10}}, 10)

	if pos, err := r.Seek(3, SeekStart); err != nil || pos != 3 {
		t.Fatalf("Seek(3, SeekStart) = (%d, %v)", pos, err)
	}
	if pos, err := r.Seek(2, SeekCurrent); err != nil || pos != 5 {
		t.Fatalf("Seek(2, SeekCurrent) = (%d, %v)", pos, err)
	}
	if pos, err := r.Seek(-1, SeekEnd); err != nil || pos != 9 {
		t.Fatalf("Seek(-1, SeekEnd) = (%d, %v)", pos, err)
	}
	if _, err := r.Seek(-100, SeekStart); err == nil {
		t.Fatal("expected an error seeking to a negative position")
	}
}

func TestExtentAtAndExtentCount(t *testing.T) {
	disk := &memBlockReader{buf: []byte("0123456789")}
	segs := []forkdesc.Segment{{DiskOffset: 10, Length: 4}, {DiskOffset: 20, Length: 6, Sparse: true}}
	r := New(disk, segs, 10)

	if r.ExtentCount() != 2 {
		t.Fatalf("ExtentCount() = %d, want 2", r.ExtentCount())
	}
	off, size, sparse := r.ExtentAt(1)
	if off != 20 || size != 6 || !sparse {
		t.Fatalf("ExtentAt(1) = (%d, %d, %v), want (20, 6, true)", off, size, sparse)
	}
}
