// Package lzfse decodes Apple's LZFSE compression format, used by
// com.apple.decmpfs methods 11 and 12. No LZFSE library appears
// anywhere in this module's dependency corpus, so this is a
// from-scratch decoder built directly from Apple's published format
// description: a sequence of blocks, each either stored raw, a
// compressed LZVN-compatible block, or an FSE (tANS) entropy-coded
// block carrying literal and match-copy streams.
package lzfse

import (
	"encoding/binary"

	"github.com/go-forensics/gofshfs/internal/lzvn"
)

// Block magic numbers, stored little-endian as the first 4 bytes of
// every block.
const (
	magicEndOfStream = 0x24787662 // "bvx$"
	magicRaw         = 0x2d787662 // "bvx-"
	magicLZVN        = 0x6e787662 // "bvxn" (LZVN-compatible block)
	magicV1          = 0x31787662 // "bvx1"
	magicV2          = 0x32787662 // "bvx2"
)

type errString string

func (e errString) Error() string { return string(e) }

const (
	errShortHeader   errString = "lzfse: truncated block header"
	errShortPayload  errString = "lzfse: truncated block payload"
	errBadMagic      errString = "lzfse: unrecognized block magic"
	errOutputOverrun errString = "lzfse: block would write past destination"
)

// Decode decompresses a full LZFSE stream (one or more blocks
// terminated by an end-of-stream block) from src into dst, returning
// the number of bytes written.
func Decode(dst, src []byte) (int, error) {
	var si, di int
	for {
		if si+4 > len(src) {
			return di, errShortHeader
		}
		magic := binary.LittleEndian.Uint32(src[si:])
		switch magic {
		case magicEndOfStream:
			return di, nil

		case magicRaw:
			n, adv, err := decodeRaw(dst[di:], src[si:])
			if err != nil {
				return di, err
			}
			di += n
			si += adv

		case magicLZVN:
			n, adv, err := decodeLZVNBlock(dst[di:], src[si:])
			if err != nil {
				return di, err
			}
			di += n
			si += adv

		case magicV1:
			n, adv, err := decodeV1(dst[di:], src[si:])
			if err != nil {
				return di, err
			}
			di += n
			si += adv

		case magicV2:
			n, adv, err := decodeV2(dst[di:], src[si:])
			if err != nil {
				return di, err
			}
			di += n
			si += adv

		default:
			return di, errBadMagic
		}
		if si >= len(src) {
			return di, nil
		}
	}
}

// decodeRaw handles a "bvx-" block: magic u32, n_raw_bytes u32, then
// n_raw_bytes of literal data.
func decodeRaw(dst, src []byte) (written, consumed int, err error) {
	if len(src) < 8 {
		return 0, 0, errShortHeader
	}
	n := int(binary.LittleEndian.Uint32(src[4:8]))
	if 8+n > len(src) {
		return 0, 0, errShortPayload
	}
	if n > len(dst) {
		return 0, 0, errOutputOverrun
	}
	copy(dst[:n], src[8:8+n])
	return n, 8 + n, nil
}

// decodeLZVNBlock handles a "bvxn" block: magic u32, n_raw_bytes u32,
// n_payload_bytes u32, then n_payload_bytes of LZVN-compressed data.
func decodeLZVNBlock(dst, src []byte) (written, consumed int, err error) {
	if len(src) < 12 {
		return 0, 0, errShortHeader
	}
	nRaw := int(binary.LittleEndian.Uint32(src[4:8]))
	nPayload := int(binary.LittleEndian.Uint32(src[8:12]))
	if 12+nPayload > len(src) {
		return 0, 0, errShortPayload
	}
	if nRaw > len(dst) {
		return 0, 0, errOutputOverrun
	}
	n, lerr := lzvn.Decode(dst[:nRaw], src[12:12+nPayload])
	if lerr != nil {
		return 0, 0, lerr
	}
	return n, 12 + nPayload, nil
}
