// Package catalogkey builds and compares the B-tree keys used by the
// catalog, extents overflow, and attributes files, per the on-disk
// key layouts and ordering rules (parent CNID first, then name under
// the volume's active comparator).
package catalogkey

import (
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/casefold"
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/macroman"
)

// Reserved CNIDs, shared across HFS and HFS+.
const (
	CNIDRootParent     = 1
	CNIDRootFolder     = 2
	CNIDExtentsFile    = 3
	CNIDCatalogFile    = 4
	CNIDBadBlockFile   = 5
	CNIDAllocationFile = 6
	CNIDStartupFile    = 7
	CNIDAttributesFile = 8
	CNIDRepairCatalog  = 14
	CNIDBogusExtent    = 15
	CNIDFirstUserCNID  = 16
)

// Fork type byte used in extents overflow and attribute keys.
const (
	ForkData     = 0x00
	ForkResource = 0xFF
)

// CompareKind selects the comparator an opened volume uses for name
// ordering, derived from the B-tree header's key-compare-type byte
// (HFS+ only) or fixed at MacRoman for classic HFS.
type CompareKind int

const (
	CompareMacRoman CompareKind = iota
	CompareCaseFoldedUTF16
	CompareBinaryUTF16
)

// KindFromByte maps a header node's key_compare_type field to a
// CompareKind, defaulting to case-folded per §4.1/§4.2 when the byte
// is absent or unrecognized (volumes predating the field always used
// case folding).
func KindFromByte(b byte) CompareKind {
	if b == 0xBC {
		return CompareBinaryUTF16
	}
	return CompareCaseFoldedUTF16
}

// CatalogKey is a decoded (parent_cnid, name) catalog or thread-record
// key. Name is kept as the original on-disk bytes (MacRoman for
// classic HFS, big-endian UTF-16 for HFS+) so that comparisons never
// round-trip through a Go string on the hot path.
type CatalogKey struct {
	ParentCNID uint32
	NameBytes  []byte // MacRoman or big-endian UTF-16, per the volume kind
}

// ParseCatalogKeyHFSPlus decodes an HFS+ catalog/attribute-adjacent
// key: key_length u16, parent_cnid u32, name_length u16, name
// [u16_be; name_length]. The leading key_length field is not
// stripped by the B-tree engine (btree.Record.Key includes it), so
// callers pass the full key including the length prefix.
func ParseCatalogKeyHFSPlus(key []byte) (CatalogKey, bool) {
	if len(key) < 2 {
		return CatalogKey{}, false
	}
	klen := int(diskio.U16(key, 0))
	if klen+2 > len(key) || klen < 6 {
		return CatalogKey{}, false
	}
	body := key[2 : 2+klen]
	parent := diskio.U32(body, 0)
	nameLen := int(diskio.U16(body, 4))
	if 6+nameLen*2 > len(body) {
		return CatalogKey{}, false
	}
	return CatalogKey{ParentCNID: parent, NameBytes: body[6 : 6+nameLen*2]}, true
}

// ParseCatalogKeyClassic decodes a classic HFS key: key_length u8,
// reserved u8, parent_cnid u32, name_length u8, name [u8; name_length]
// in MacRoman.
func ParseCatalogKeyClassic(key []byte) (CatalogKey, bool) {
	if len(key) < 2 {
		return CatalogKey{}, false
	}
	klen := int(key[0])
	if klen+1 > len(key) || klen < 5 {
		return CatalogKey{}, false
	}
	body := key[1 : 1+klen] // skips length byte; reserved is body[0]
	if len(body) < 6 {
		return CatalogKey{}, false
	}
	parent := diskio.U32(body, 1)
	nameLen := int(body[5])
	if 6+nameLen > len(body) {
		return CatalogKey{}, false
	}
	return CatalogKey{ParentCNID: parent, NameBytes: body[6 : 6+nameLen]}, true
}

// EncodeHFSPlusName converts a UTF-8 path component to the big-endian
// UTF-16 byte form a catalog key stores, applying NFD normalization
// the way HFS+ requires (composed accents are never matched against
// decomposed on-disk forms otherwise).
func EncodeHFSPlusName(name string) []byte {
	decomposed := norm.NFD.String(name)
	units := utf16.Encode([]rune(decomposed))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[2*i] = byte(u >> 8)
		out[2*i+1] = byte(u)
	}
	return out
}

// EncodeClassicName converts a UTF-8 path component to MacRoman bytes
// for a classic HFS catalog key lookup, reporting ok=false if name
// contains a character with no MacRoman representation.
func EncodeClassicName(name string) (b []byte, ok bool) {
	return macroman.Encode(name)
}

// BuildKeyHFSPlus encodes a full catalog/attribute-adjacent key
// (including its length prefix) for parent/nameUTF16BE, suitable as
// a B-tree search target.
func BuildKeyHFSPlus(parent uint32, nameUTF16BE []byte) []byte {
	body := make([]byte, 6+len(nameUTF16BE))
	putU32(body, 0, parent)
	putU16(body, 4, uint16(len(nameUTF16BE)/2))
	copy(body[6:], nameUTF16BE)
	out := make([]byte, 2+len(body))
	putU16(out, 0, uint16(len(body)))
	copy(out[2:], body)
	return out
}

// BuildKeyClassic encodes a full classic-HFS catalog key for
// parent/nameMacRoman.
func BuildKeyClassic(parent uint32, nameMacRoman []byte) []byte {
	body := make([]byte, 6+len(nameMacRoman))
	body[0] = 0 // reserved
	putU32(body, 1, parent)
	body[5] = byte(len(nameMacRoman))
	copy(body[6:], nameMacRoman)
	out := make([]byte, 1+len(body))
	out[0] = byte(len(body))
	copy(out[1:], body)
	return out
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v>>8), byte(v) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// CompareHFSPlus builds a btree.CompareFunc for an HFS+/HFSX catalog
// comparison using the volume's active key-compare-type.
func CompareHFSPlus(kind CompareKind) btree.CompareFunc {
	nameCmp := casefold.CompareCaseFolded
	if kind == CompareBinaryUTF16 {
		nameCmp = casefold.CompareBinary
	}
	return func(candidate, target []byte) int {
		ck, ok1 := ParseCatalogKeyHFSPlus(candidate)
		tk, ok2 := ParseCatalogKeyHFSPlus(target)
		if !ok1 || !ok2 {
			return 0
		}
		if ck.ParentCNID != tk.ParentCNID {
			if ck.ParentCNID < tk.ParentCNID {
				return -1
			}
			return 1
		}
		return nameCmp(ck.NameBytes, tk.NameBytes)
	}
}

// CompareClassic builds a btree.CompareFunc for a classic-HFS catalog
// comparison (parent CNID, then MacRoman case-insensitive name).
func CompareClassic() btree.CompareFunc {
	return func(candidate, target []byte) int {
		ck, ok1 := ParseCatalogKeyClassic(candidate)
		tk, ok2 := ParseCatalogKeyClassic(target)
		if !ok1 || !ok2 {
			return 0
		}
		if ck.ParentCNID != tk.ParentCNID {
			if ck.ParentCNID < tk.ParentCNID {
				return -1
			}
			return 1
		}
		return macroman.Compare(ck.NameBytes, tk.NameBytes)
	}
}
