// Package forkdesc models the fixed-size on-disk fork descriptor (C8)
// embedded in catalog records and the volume header, and builds the
// logical extent list a data stream reads through.
package forkdesc

import (
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// Size is the byte length of an HFS+ fork descriptor: logical_size
// u64, clump_size u32, total_blocks u32, then 8 extents of
// (start_block u32, block_count u32).
const Size = 80

// Extent is one inline or overflow (start_block, block_count) pair.
type Extent struct {
	StartBlock uint32
	BlockCount uint32
}

// Descriptor is a parsed HFS+ fork descriptor.
type Descriptor struct {
	LogicalSize uint64
	ClumpSize   uint32
	TotalBlocks uint32
	Inline      [8]Extent // zero entries (0,0) mark unused slots
}

// Parse decodes an 80-byte HFS+ fork descriptor.
func Parse(b []byte) (Descriptor, error) {
	const op = "forkdesc.Parse"
	if len(b) < Size {
		return Descriptor{}, hfserr.New(hfserr.InvalidData, op, errTooSmall)
	}
	d := Descriptor{
		LogicalSize: diskio.U64(b, 0),
		ClumpSize:   diskio.U32(b, 8),
		TotalBlocks: diskio.U32(b, 12),
	}
	for i := 0; i < 8; i++ {
		off := 16 + i*8
		d.Inline[i] = Extent{StartBlock: diskio.U32(b, off), BlockCount: diskio.U32(b, off+4)}
	}
	return d, nil
}

// Segment is one physical run within the extent list: an absolute
// disk byte offset and a byte length, already truncated to the
// fork's logical size.
type Segment struct {
	DiskOffset uint64
	Length     uint64
	Sparse     bool // zero-fill on read without issuing I/O
}

// ExtentSource supplies the overflow extents for a fork beyond its 8
// inline entries, keyed by the next block number expected.
type ExtentSource interface {
	// ExtentsFrom returns the overflow extent records starting at
	// startBlock, in ascending block order, until the fork's total
	// block count is covered or the source is exhausted.
	ExtentsFrom(startBlock uint32) ([]Extent, error)
}

// BuildSegments constructs the extent list described in §4.5: a
// sequence of disk-byte segments whose lengths sum to d.LogicalSize,
// with the final segment truncated to logical_size mod
// allocation_block_size when that remainder is non-zero.
func BuildSegments(d Descriptor, allocationBlockSize uint32, overflow ExtentSource) ([]Segment, error) {
	const op = "forkdesc.BuildSegments"
	if allocationBlockSize == 0 {
		return nil, hfserr.New(hfserr.InvalidArgument, op, errZeroBlockSize)
	}

	var extents []Extent
	var blocksSoFar uint32
	for _, e := range d.Inline {
		if e.BlockCount == 0 {
			continue
		}
		extents = append(extents, e)
		blocksSoFar += e.BlockCount
	}

	for blocksSoFar < d.TotalBlocks {
		if overflow == nil {
			return nil, hfserr.New(hfserr.InvalidData, op, errMissingOverflow)
		}
		more, err := overflow.ExtentsFrom(blocksSoFar)
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if len(more) == 0 {
			return nil, hfserr.New(hfserr.InvalidData, op, errMissingOverflow)
		}
		for _, e := range more {
			if e.BlockCount == 0 {
				continue
			}
			extents = append(extents, e)
			blocksSoFar += e.BlockCount
		}
	}

	segs := make([]Segment, 0, len(extents))
	var logicalConsumed uint64
	for _, e := range extents {
		runBytes := uint64(e.BlockCount) * uint64(allocationBlockSize)
		remaining := d.LogicalSize - logicalConsumed
		if remaining == 0 {
			break
		}
		if runBytes > remaining {
			runBytes = remaining
		}
		segs = append(segs, Segment{
			DiskOffset: uint64(e.StartBlock) * uint64(allocationBlockSize),
			Length:     runBytes,
		})
		logicalConsumed += runBytes
	}
	return segs, nil
}

var errTooSmall = hfsErr("fork descriptor buffer shorter than 80 bytes")
var errZeroBlockSize = hfsErr("allocation block size is zero")
var errMissingOverflow = hfsErr("fork block count exceeds inline and overflow extents")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
