// Package decmpfs implements the compressed data handle (C11): parses
// the com.apple.decmpfs "fpmc" header, builds the block-offset table
// for inline or resource-fork-backed compressed streams, and
// decompresses 4096-byte chunks on demand with a one-block cache.
package decmpfs

import (
	"encoding/binary"

	"github.com/go-forensics/gofshfs/internal/deflate"
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/hfserr"
	"github.com/go-forensics/gofshfs/internal/lzfse"
	"github.com/go-forensics/gofshfs/internal/lzvn"
)

// Method is the fpmc header's compression method code, per §3.
type Method uint32

const (
	MethodDeflateInline   Method = 3
	MethodDeflateResource Method = 4
	MethodReservedRaw     Method = 5 // uncompressed; reserved, not produced by Apple tools
	MethodLZVNInline      Method = 7
	MethodLZVNResource    Method = 8
	MethodLZFSEInline     Method = 11
	MethodLZFSEResource   Method = 12
)

// ChunkSize is the fixed uncompressed chunk size every decmpfs block
// decompresses to (the last chunk may be shorter), per §4.8.
const ChunkSize = 4096

const headerSize = 16
const headerMagic = "fpmc"

// Header is the parsed 16-byte fpmc compression header.
type Header struct {
	Method           Method
	UncompressedSize uint64
}

// ParseHeader decodes the 16-byte fpmc header from the start of a
// com.apple.decmpfs attribute's inline payload, returning the header
// and the remaining bytes (the inline compressed stream or block
// table, depending on method).
func ParseHeader(payload []byte) (Header, []byte, error) {
	const op = "decmpfs.ParseHeader"
	if len(payload) < headerSize || string(payload[:4]) != headerMagic {
		return Header{}, nil, hfserr.New(hfserr.InvalidData, op, errBadMagic)
	}
	h := Header{
		Method:           Method(binary.LittleEndian.Uint32(payload[4:8])),
		UncompressedSize: binary.LittleEndian.Uint64(payload[8:16]),
	}
	switch h.Method {
	case MethodDeflateInline, MethodDeflateResource, MethodLZVNInline, MethodLZVNResource, MethodLZFSEInline, MethodLZFSEResource:
	default:
		return Header{}, nil, hfserr.New(hfserr.UnsupportedValue, op, errUnsupportedMethod)
	}
	return h, payload[headerSize:], nil
}

// IsResourceBacked reports whether m's compressed stream lives in the
// file's resource fork rather than inline in the attribute payload.
func (m Method) IsResourceBacked() bool {
	return m == MethodDeflateResource || m == MethodLZVNResource || m == MethodLZFSEResource
}

func decode(m Method, dst, src []byte) (int, error) {
	const op = "decmpfs.decode"
	switch m {
	case MethodDeflateInline, MethodDeflateResource:
		n, err := deflate.Decode(dst, src)
		return n, hfserr.Wrap(op, err)
	case MethodLZVNInline, MethodLZVNResource:
		n, err := lzvn.Decode(dst, src)
		return n, hfserr.Wrap(op, err)
	case MethodLZFSEInline, MethodLZFSEResource:
		n, err := lzfse.Decode(dst, src)
		return n, hfserr.Wrap(op, err)
	default:
		return 0, hfserr.New(hfserr.UnsupportedValue, op, errUnsupportedMethod)
	}
}

// blockRange is one compressed chunk's byte range within its backing
// stream (inline payload or resource fork), and the plain byte length
// it decompresses to.
type blockRange struct {
	start, end int64
	plainLen   int
}

// Handle is an open compressed data handle: the parsed header, the
// block-offset table, the backing compressed stream, and a one-block
// decompressed cache (§4.8 "Read").
type Handle struct {
	header Header
	blocks []blockRange
	src    diskio.BlockReader // inline payload (wrapped) or resource fork

	cachedIndex int
	cachedBlock []byte
}

// OpenInline builds a Handle over an inline-compressed stream: either
// raw compressed bytes (uncompressed_size <= 4096) or a block-offset
// table followed by the compressed chunks, both living in tail (the
// bytes of the attribute payload after the 16-byte header).
func OpenInline(header Header, tail []byte) (*Handle, error) {
	const op = "decmpfs.OpenInline"
	if header.Method.IsResourceBacked() {
		return nil, hfserr.New(hfserr.InvalidArgument, op, errWrongBacking)
	}

	var blocks []blockRange
	if header.UncompressedSize <= ChunkSize {
		blocks = []blockRange{{start: 0, end: int64(len(tail)), plainLen: int(header.UncompressedSize)}}
	} else {
		if len(tail) < 4 {
			return nil, hfserr.New(hfserr.InvalidData, op, errShortTable)
		}
		tableSize := binary.LittleEndian.Uint32(tail[0:4])
		if tableSize < 8 || int(tableSize)%4 != 0 {
			return nil, hfserr.New(hfserr.InvalidData, op, errShortTable)
		}
		nEntries := int(tableSize)/4 - 1
		if nEntries < 2 || 4+4*nEntries > len(tail) {
			return nil, hfserr.New(hfserr.InvalidData, op, errShortTable)
		}
		offsets := make([]uint32, nEntries)
		for i := range offsets {
			offsets[i] = binary.LittleEndian.Uint32(tail[4+4*i:])
		}
		remaining := header.UncompressedSize
		for i := 0; i+1 < len(offsets); i++ {
			plain := ChunkSize
			if remaining < ChunkSize {
				plain = int(remaining)
			}
			blocks = append(blocks, blockRange{start: int64(offsets[i]), end: int64(offsets[i+1]), plainLen: plain})
			if remaining > ChunkSize {
				remaining -= ChunkSize
			} else {
				remaining = 0
			}
		}
	}

	return &Handle{header: header, blocks: blocks, src: bytesReader(tail), cachedIndex: -1}, nil
}

// OpenResource builds a Handle over a resource-fork-backed compressed
// stream: resourceFork is the file's resource fork, read as a plain
// random-access byte source (not parsed as a resource map — decmpfs's
// resource-fork layout per §4.8 is its own private format, not the
// classic resource map this module's resourcefork package reads).
func OpenResource(header Header, resourceFork diskio.BlockReader) (*Handle, error) {
	const op = "decmpfs.OpenResource"
	if !header.Method.IsResourceBacked() {
		return nil, hfserr.New(hfserr.InvalidArgument, op, errWrongBacking)
	}

	var hdrOff [4]byte
	if err := diskio.ReadFullAt(resourceFork, hdrOff[:], 0); err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	headerOffset := int64(diskio.U32(hdrOff[:], 0))

	var numBlocksBuf [4]byte
	if err := diskio.ReadFullAt(resourceFork, numBlocksBuf[:], headerOffset); err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	numBlocks := binary.LittleEndian.Uint32(numBlocksBuf[:])
	if numBlocks == 0 || numBlocks > 1<<20 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadBlockTable)
	}

	entries := make([]byte, int(numBlocks)*8)
	if err := diskio.ReadFullAt(resourceFork, entries, headerOffset+4); err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	remaining := header.UncompressedSize
	blocks := make([]blockRange, numBlocks)
	for i := range blocks {
		off := int64(binary.LittleEndian.Uint32(entries[i*8:]))
		size := int64(binary.LittleEndian.Uint32(entries[i*8+4:]))
		plain := ChunkSize
		if remaining < ChunkSize {
			plain = int(remaining)
		}
		blocks[i] = blockRange{start: headerOffset + off, end: headerOffset + off + size, plainLen: plain}
		if remaining > ChunkSize {
			remaining -= ChunkSize
		} else {
			remaining = 0
		}
	}

	return &Handle{header: header, blocks: blocks, src: resourceFork, cachedIndex: -1}, nil
}

// Size reports the uncompressed size from the fpmc header.
func (h *Handle) Size() int64 { return int64(h.header.UncompressedSize) }

// ReadAt decompresses and copies out bytes [off, off+len(p)) of the
// uncompressed stream, materializing (and caching) one 4096-byte
// chunk at a time, per §4.8 "Read". A read beyond Size returns
// (0, nil): EOF is not an error, matching the raw data stream's
// contract (§4.6).
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	const op = "decmpfs.Handle.ReadAt"
	if off < 0 {
		return 0, hfserr.New(hfserr.InvalidArgument, op, errNegativeOffset)
	}
	if off >= h.Size() || len(p) == 0 {
		return 0, nil
	}

	total := 0
	for total < len(p) {
		pos := off + int64(total)
		if pos >= h.Size() {
			break
		}
		blockIndex := int(pos / ChunkSize)
		offsetInBlock := int(pos % ChunkSize)
		if blockIndex >= len(h.blocks) {
			break
		}

		chunk, err := h.chunk(blockIndex)
		if err != nil {
			return total, hfserr.Wrap(op, err)
		}
		if offsetInBlock > len(chunk) {
			break
		}
		n := copy(p[total:], chunk[offsetInBlock:])
		total += n
		if n == 0 {
			break
		}
	}
	return total, nil
}

// chunk returns the decompressed bytes of block i, decompressing and
// caching it if it is not the currently cached block.
func (h *Handle) chunk(i int) ([]byte, error) {
	const op = "decmpfs.Handle.chunk"
	if h.cachedIndex == i {
		return h.cachedBlock, nil
	}
	b := h.blocks[i]
	compressedLen := b.end - b.start
	if compressedLen < 0 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadBlockTable)
	}
	compressed := make([]byte, compressedLen)
	if err := diskio.ReadFullAt(h.src, compressed, b.start); err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	out := make([]byte, b.plainLen)
	n, err := decode(h.header.Method, out, compressed)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	if n > ChunkSize {
		return nil, hfserr.New(hfserr.InvalidData, op, errChunkOverrun)
	}
	h.cachedIndex = i
	h.cachedBlock = out[:n]
	return h.cachedBlock, nil
}

// bytesReader adapts a plain byte slice to diskio.BlockReader, for
// the inline-payload backing store.
type bytesReader []byte

func (b bytesReader) Size() int64 { return int64(len(b)) }
func (b bytesReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, errNegativeOffset
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, errShortTable
	}
	return n, nil
}

var errBadMagic = hfsErr("attribute payload does not begin with the fpmc magic")
var errUnsupportedMethod = hfsErr("decmpfs compression method not recognized")
var errWrongBacking = hfsErr("method's backing store (inline vs resource fork) does not match the opener used")
var errShortTable = hfsErr("inline block-offset table truncated")
var errBadBlockTable = hfsErr("resource-fork block-offset table truncated or empty")
var errNegativeOffset = hfsErr("negative offset")
var errChunkOverrun = hfsErr("decompressed chunk exceeds the 4096-byte chunk size")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
