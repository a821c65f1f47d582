// Package attributes implements the attributes B-tree (C6): extended
// attribute records keyed by (CNID, start_block=0, name), holding
// either inline data, an embedded fork descriptor, or continuation
// extents for a large attribute's fork.
package attributes

import (
	"context"
	"unicode/utf16"

	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/casefold"
	"github.com/go-forensics/gofshfs/internal/catalogkey"
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// Record kind discriminants, per §3 "Attribute record".
const (
	KindInlineData uint32 = 0x10
	KindForkData   uint32 = 0x20
	KindExtents    uint32 = 0x30
)

// FlagHasAttributes is the catalog-entry Flags bit (§4.3) predicting
// whether a CNID has any attribute records at all, letting callers
// skip a scan entirely when unset.
const FlagHasAttributes = 0x0004

// Attribute is a normalized attribute record: its key fields plus
// whichever payload kind it carries.
type Attribute struct {
	CNID uint32
	Name string // decoded from on-disk UTF-16BE
	Kind uint32

	InlineData []byte              // KindInlineData
	Fork       forkdesc.Descriptor // KindForkData
	Extents    [8]forkdesc.Extent  // KindExtents
}

// Tree is the opened attributes B-tree (reserved CNID 8).
type Tree struct {
	bt  *btree.Tree
	cmp btree.CompareFunc
}

// Open wraps an already-opened btree.Tree (CNID 8) as an attributes
// lookup source. The attributes B-tree always uses the HFS+ u16
// key-length width; classic HFS has no attributes file at all. kind
// is the attributes tree's own key-compare-type byte (read from its
// header node the same way as the catalog tree's, per §4.1): the
// attributes B-tree orders its name component with the same
// case-folded/binary comparator as the catalog, it does not use a
// fixed binary ordinal compare.
func Open(bt *btree.Tree, kind catalogkey.CompareKind) *Tree {
	nameCmp := casefold.CompareCaseFolded
	if kind == catalogkey.CompareBinaryUTF16 {
		nameCmp = casefold.CompareBinary
	}
	return &Tree{bt: bt, cmp: compareKeys(nameCmp)}
}

func buildKey(cnid uint32, nameUTF16BE []byte) []byte {
	// body: pad u16, file_id u32, start_block u32, name_length u16,
	// name [u16_be; name_length]
	body := make([]byte, 12+len(nameUTF16BE))
	putU32(body, 2, cnid)
	putU16(body, 10, uint16(len(nameUTF16BE)/2))
	copy(body[12:], nameUTF16BE)
	out := make([]byte, 2+len(body))
	putU16(out, 0, uint16(len(body)))
	copy(out[2:], body)
	return out
}

func parseKey(key []byte) (cnid uint32, nameUTF16BE []byte, ok bool) {
	if len(key) < 2 {
		return 0, nil, false
	}
	klen := int(diskio.U16(key, 0))
	if klen+2 > len(key) || klen < 12 {
		return 0, nil, false
	}
	body := key[2 : 2+klen]
	fileID := diskio.U32(body, 2)
	nameLen := int(diskio.U16(body, 10))
	if 12+nameLen*2 > len(body) {
		return 0, nil, false
	}
	return fileID, body[12 : 12+nameLen*2], true
}

func encodeName(name string) []byte {
	units := utf16.Encode([]rune(name))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		out[2*i] = byte(u >> 8)
		out[2*i+1] = byte(u)
	}
	return out
}

func decodeName(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = diskio.U16(b, i*2)
	}
	return string(utf16.Decode(units))
}

// compareKeys builds a btree.CompareFunc using nameCmp for the name
// component, matching catalogkey.CompareHFSPlus's structure: CNID
// first, then the volume's active name comparator.
func compareKeys(nameCmp func(a, b []byte) int) btree.CompareFunc {
	return func(candidate, target []byte) int {
		cc, cn, ok1 := parseKey(candidate)
		tc, tn, ok2 := parseKey(target)
		if !ok1 || !ok2 {
			return 0
		}
		if cc != tc {
			if cc < tc {
				return -1
			}
			return 1
		}
		return nameCmp(cn, tn)
	}
}

func parseValue(cnid uint32, name string, v []byte) (Attribute, error) {
	const op = "attributes.parseValue"
	if len(v) < 8 {
		return Attribute{}, hfserr.New(hfserr.InvalidData, op, errShortAttribute)
	}
	kind := diskio.U32(v, 0)
	a := Attribute{CNID: cnid, Name: name, Kind: kind}
	switch kind {
	case KindInlineData:
		if len(v) < 16 {
			return Attribute{}, hfserr.New(hfserr.InvalidData, op, errShortAttribute)
		}
		size := diskio.U32(v, 12)
		if 16+int(size) > len(v) {
			return Attribute{}, hfserr.New(hfserr.InvalidData, op, errShortAttribute)
		}
		a.InlineData = v[16 : 16+size]
	case KindForkData:
		if len(v) < 8+80 {
			return Attribute{}, hfserr.New(hfserr.InvalidData, op, errShortAttribute)
		}
		fork, err := forkdesc.Parse(v[8 : 8+80])
		if err != nil {
			return Attribute{}, hfserr.Wrap(op, err)
		}
		a.Fork = fork
	case KindExtents:
		if len(v) < 8+64 {
			return Attribute{}, hfserr.New(hfserr.InvalidData, op, errShortAttribute)
		}
		for i := 0; i < 8; i++ {
			off := 8 + i*8
			a.Extents[i] = forkdesc.Extent{StartBlock: diskio.U32(v, off), BlockCount: diskio.U32(v, off+4)}
		}
	default:
		return Attribute{}, hfserr.New(hfserr.UnsupportedValue, op, errUnknownAttributeKind)
	}
	return a, nil
}

// List returns every attribute record for cnid, in name order.
// Callers should consult FlagHasAttributes on the owning catalog
// entry first and skip this call entirely when unset (§4.3).
func (t *Tree) List(ctx context.Context, cnid uint32) ([]Attribute, error) {
	const op = "attributes.List"
	target := buildKey(cnid, nil)
	it, err := t.bt.IterateFrom(ctx, target, t.cmp)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	var out []Attribute
	for {
		key, value, ok, err := it.Next()
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if !ok {
			break
		}
		kc, kn, pok := parseKey(key)
		if !pok || kc != cnid {
			break
		}
		attr, perr := parseValue(kc, decodeName(kn), value)
		if perr != nil {
			return nil, hfserr.Wrap(op, perr)
		}
		out = append(out, attr)
	}
	return out, nil
}

// Get looks up a single named attribute of cnid.
func (t *Tree) Get(ctx context.Context, cnid uint32, name string) (Attribute, bool, error) {
	const op = "attributes.Get"
	target := buildKey(cnid, encodeName(name))
	value, found, err := t.bt.Search(ctx, target, t.cmp)
	if err != nil {
		return Attribute{}, false, hfserr.Wrap(op, err)
	}
	if !found {
		return Attribute{}, false, nil
	}
	attr, perr := parseValue(cnid, name, value)
	if perr != nil {
		return Attribute{}, false, hfserr.Wrap(op, perr)
	}
	return attr, true, nil
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v>>8), byte(v) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

var errShortAttribute = hfsErr("attribute record value shorter than its declared kind's fixed layout")
var errUnknownAttributeKind = hfsErr("unrecognized attribute record kind")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
