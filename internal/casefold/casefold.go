// Package casefold implements the two HFS+/HFSX catalog key
// comparators: case-folded UTF-16 (key-compare-type 0xCF, the default
// for HFS+) and binary UTF-16 (0xBC, HFSX only). Both operate on the
// raw big-endian u16 code units stored in a catalog or attribute key,
// without ever materializing a Go string, so the hot comparison path
// never allocates.
package casefold

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// fold returns the case-folded value of a single UTF-16 code unit per
// Apple's HFS+ fixed case-folding table. Most code units fold to
// themselves; ASCII and Latin-1 uppercase letters fold to lowercase,
// and combining diacritical marks (U+0300-U+036F) fold to nothing —
// they are dropped from the comparison key entirely, matching the
// "zero-length folded result" behavior the table defines for marks
// that should not affect ordering.
func fold(u uint16) (folded uint16, drop bool) {
	switch {
	case u >= 'A' && u <= 'Z':
		return u + ('a' - 'A'), false
	case u >= 0x00C0 && u <= 0x00DE && u != 0x00D7:
		// Latin-1 Supplement uppercase block, skipping the
		// multiplication sign at 0x00D7 which is not a letter.
		return u + 0x20, false
	case u >= 0x0300 && u <= 0x036F:
		return 0, true
	default:
		return u, false
	}
}

// foldSeq returns the UTF-16 code units of in with fold applied and
// dropped code units removed, reusing buf's backing array when it has
// enough capacity.
func foldSeq(in []uint16, buf []uint16) []uint16 {
	out := buf[:0]
	for _, u := range in {
		if f, drop := fold(u); !drop {
			out = append(out, f)
		}
	}
	return out
}

// decodeUTF16BE reinterprets a big-endian byte key (as stored on
// disk) as a slice of u16 code units, without allocating when buf has
// sufficient capacity.
func decodeUTF16BE(b []byte, buf []uint16) []uint16 {
	n := len(b) / 2
	out := buf[:0]
	for i := 0; i < n; i++ {
		out = append(out, binary.BigEndian.Uint16(b[2*i:]))
	}
	return out
}

// CompareCaseFolded orders two raw big-endian UTF-16 name byte
// strings under key-compare-type 0xCF: fold each code-unit sequence,
// then compare folded sequences lexicographically. It returns <0, 0,
// or >0 like bytes.Compare.
func CompareCaseFolded(a, b []byte) int {
	var abuf, bbuf, fabuf, fbbuf [64]uint16
	au := decodeUTF16BE(a, abuf[:0])
	bu := decodeUTF16BE(b, bbuf[:0])
	fa := foldSeq(au, fabuf[:0])
	fb := foldSeq(bu, fbbuf[:0])

	for i := 0; i < len(fa) && i < len(fb); i++ {
		if fa[i] != fb[i] {
			if fa[i] < fb[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(fa) < len(fb):
		return -1
	case len(fa) > len(fb):
		return 1
	default:
		return 0
	}
}

// CompareBinary orders two raw big-endian UTF-16 name byte strings
// under key-compare-type 0xBC: unsigned code-unit-wise comparison of
// the untouched sequence, used only by HFSX volumes configured for
// case-sensitive comparison.
func CompareBinary(a, b []byte) int {
	var abuf, bbuf [64]uint16
	au := decodeUTF16BE(a, abuf[:0])
	bu := decodeUTF16BE(b, bbuf[:0])
	for i := 0; i < len(au) && i < len(bu); i++ {
		if au[i] != bu[i] {
			if au[i] < bu[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(au) < len(bu):
		return -1
	case len(au) > len(bu):
		return 1
	default:
		return 0
	}
}

// FoldHash computes a 64-bit digest of a's folded code-unit sequence:
// names that are equal under CompareCaseFolded hash equal. The catalog
// key comparator does not call it; ordering decisions always go
// through CompareCaseFolded.
func FoldHash(a []byte) uint64 {
	var abuf, fabuf [64]uint16
	au := decodeUTF16BE(a, abuf[:0])
	fa := foldSeq(au, fabuf[:0])

	var h xxhash.Digest
	h.Reset()
	var tmp [2]byte
	for _, u := range fa {
		binary.BigEndian.PutUint16(tmp[:], u)
		h.Write(tmp[:])
	}
	return h.Sum64()
}
