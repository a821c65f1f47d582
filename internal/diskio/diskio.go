// Package diskio defines the block-addressable byte source the core
// library reads through, plus the big-endian decoding helpers used by
// every on-disk structure parser. It is the consumed Block I/O
// contract: size()/read_at(offset, len) with a short read treated as
// an error, never a partial success.
package diskio

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// BlockReader is the external collaborator every other component in
// this module is built on. Implementations must be safe to call from
// any goroutine; the core never assumes a mutable cursor and only
// ever issues absolute-offset reads.
type BlockReader interface {
	ReadAt(p []byte, off int64) (int, error)
	Size() int64
}

// ReadFullAt reads exactly len(p) bytes at off, turning a short read
// into an *hfserr.Error of kind Io (never returning a partial buffer
// silently, per the adapter contract: "short read is an error").
func ReadFullAt(r BlockReader, p []byte, off int64) error {
	if off < 0 {
		return hfserr.New(hfserr.InvalidArgument, "diskio.ReadFullAt", fmt.Errorf("negative offset %d", off))
	}
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return hfserr.New(hfserr.Io, "diskio.ReadFullAt", err)
}

// U16 decodes a big-endian uint16 at offset off within b.
func U16(b []byte, off int) uint16 { return binary.BigEndian.Uint16(b[off:]) }

// U32 decodes a big-endian uint32 at offset off within b.
func U32(b []byte, off int) uint32 { return binary.BigEndian.Uint32(b[off:]) }

// U64 decodes a big-endian uint64 at offset off within b.
func U64(b []byte, off int) uint64 { return binary.BigEndian.Uint64(b[off:]) }

// I32 decodes a big-endian signed int32 at offset off within b.
func I32(b []byte, off int) int32 { return int32(U32(b, off)) }
