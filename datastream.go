package gofshfs

import (
	"io"
	"sync"

	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// forkBacking is whatever a DataStream reads through: either a raw
// extent-mapped fork (*extentreader.Reader) or a decompressing
// decmpfs handle (*decmpfs.Handle). Both already implement this.
type forkBacking interface {
	Size() int64
	ReadAt(p []byte, off int64) (int, error)
}

// DataStream is a seekable, read-only byte stream over a fork — a
// file's data fork, its resource fork, or a large extended
// attribute's fork content. Per §5 it owns its own reader/writer
// lock: Size/ReadAt/ExtentCount/ExtentAt take the read side, Read/Seek
// (which move the cursor) take the write side.
type DataStream struct {
	mu  sync.RWMutex
	b   forkBacking
	pos int64

	// extents is empty for a decompressed stream, which exposes no
	// physical extent list of its own.
	extents []forkdesc.Segment
}

// Size reports the stream's logical length.
func (d *DataStream) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.b.Size()
}

// Read reads into p starting at the stream's current cursor,
// advancing it by the number of bytes read.
func (d *DataStream) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.b.ReadAt(p, d.pos)
	d.pos += int64(n)
	if err == nil && n == 0 && len(p) > 0 && d.pos >= d.b.Size() {
		return 0, io.EOF
	}
	return n, err
}

// ReadAt reads len(p) bytes (or fewer, at EOF) starting at logical
// offset off, without moving the stream's cursor. A read beyond Size
// returns (0, nil): EOF is not an error (§4.6/§7).
func (d *DataStream) ReadAt(p []byte, off int64) (int, error) {
	const op = "gofshfs.DataStream.ReadAt"
	if off < 0 {
		return 0, hfserr.New(hfserr.InvalidArgument, op, errNegativeOffset)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.b.ReadAt(p, off)
}

// Seek repositions the stream's cursor; whence follows io.Seeker.
func (d *DataStream) Seek(offset int64, whence int) (int64, error) {
	const op = "gofshfs.DataStream.Seek"
	d.mu.Lock()
	defer d.mu.Unlock()

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = d.pos + offset
	case io.SeekEnd:
		target = d.b.Size() + offset
	default:
		return 0, hfserr.New(hfserr.InvalidArgument, op, errBadWhence)
	}
	if target < 0 {
		return 0, hfserr.New(hfserr.InvalidArgument, op, errNegativeOffset)
	}
	d.pos = target
	return target, nil
}

// Tell reports the stream's current cursor position.
func (d *DataStream) Tell() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pos
}

// ExtentCount reports the number of physical extent segments backing
// this stream, or 0 for a decompressed stream.
func (d *DataStream) ExtentCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.extents)
}

// ExtentAt reports the disk offset, length, and sparse flag of
// segment i.
func (d *DataStream) ExtentAt(i int) (offset, size uint64, sparse bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seg := d.extents[i]
	return seg.DiskOffset, seg.Length, seg.Sparse
}
