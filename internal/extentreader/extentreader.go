// Package extentreader implements the raw, read-only data stream
// (C9) over a fork's extent list: a seekable byte view that issues
// one Block I/O read per extent segment crossed, never merging reads
// across segment boundaries.
package extentreader

import (
	"io"

	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// Reader is a read-only byte view over a fork's extent list.
// It is not safe for concurrent use; per §5, callers serialize access
// to a DataStream under its own entity lock.
type Reader struct {
	r        diskio.BlockReader
	segments []forkdesc.Segment
	size     int64
	offset   int64 // current cursor position, for Read/Seek
}

// New builds a Reader over segments, whose lengths must sum to size
// (the fork's logical size).
func New(r diskio.BlockReader, segments []forkdesc.Segment, size int64) *Reader {
	return &Reader{r: r, segments: segments, size: size}
}

// Size reports the fork's logical size.
func (s *Reader) Size() int64 { return s.size }

// ExtentCount reports the number of physical segments in the stream.
func (s *Reader) ExtentCount() int { return len(s.segments) }

// ExtentAt reports the offset, size, and sparse flag of segment i.
func (s *Reader) ExtentAt(i int) (offset, size uint64, sparse bool) {
	seg := s.segments[i]
	return seg.DiskOffset, seg.Length, seg.Sparse
}

// ReadAt reads len(p) bytes (or fewer, at EOF) starting at logical
// offset off, without moving the stream's Read/Seek cursor. A
// negative offset is an error; a read beyond Size returns (0, nil) —
// EOF is not an error per §4.6/§7.
func (s *Reader) ReadAt(p []byte, off int64) (int, error) {
	const op = "extentreader.ReadAt"
	if off < 0 {
		return 0, hfserr.New(hfserr.InvalidArgument, op, errNegativeOffset)
	}
	if off >= s.size || len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > s.size-off {
		p = p[:s.size-off]
	}

	total := 0
	logicalStart := int64(0)
	for _, seg := range s.segments {
		if total >= len(p) {
			break
		}
		segLen := int64(seg.Length)
		segEnd := logicalStart + segLen
		readPos := off + int64(total)
		if readPos >= segEnd {
			logicalStart = segEnd
			continue
		}

		inSegOff := readPos - logicalStart
		want := segLen - inSegOff
		if want > int64(len(p)-total) {
			want = int64(len(p) - total)
		}

		dst := p[total : total+int(want)]
		if seg.Sparse {
			for i := range dst {
				dst[i] = 0
			}
		} else if err := diskio.ReadFullAt(s.r, dst, int64(seg.DiskOffset)+inSegOff); err != nil {
			return total, hfserr.Wrap(op, err)
		}
		total += int(want)
		logicalStart = segEnd
		if total >= len(p) {
			break
		}
	}
	return total, nil
}

// Read reads into p starting at the stream's current cursor,
// advancing it by the number of bytes read.
func (s *Reader) Read(p []byte) (int, error) {
	n, err := s.ReadAt(p, s.offset)
	s.offset += int64(n)
	if err == nil && n == 0 && len(p) > 0 && s.offset >= s.size {
		return 0, io.EOF
	}
	return n, err
}

// Whence values mirror io.Seeker's.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// Seek repositions the stream's cursor.
func (s *Reader) Seek(offset int64, whence int) (int64, error) {
	const op = "extentreader.Seek"
	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = s.offset + offset
	case SeekEnd:
		target = s.size + offset
	default:
		return 0, hfserr.New(hfserr.InvalidArgument, op, errBadWhence)
	}
	if target < 0 {
		return 0, hfserr.New(hfserr.InvalidArgument, op, errNegativeOffset)
	}
	s.offset = target
	return target, nil
}

// Tell reports the stream's current cursor position.
func (s *Reader) Tell() int64 { return s.offset }

var errNegativeOffset = hfsErr("negative offset")
var errBadWhence = hfsErr("unsupported seek whence")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
