// Package extentsoverflow implements the extents overflow B-tree (C7):
// lookup of the extent records beyond a fork's 8 inline extents, keyed
// by (fork_type, cnid, start_block).
package extentsoverflow

import (
	"context"

	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// Fork type byte, matching catalogkey.ForkData/ForkResource.
const (
	ForkData     = 0x00
	ForkResource = 0xFF
)

// Tree is the opened extents overflow B-tree (reserved CNID 3).
type Tree struct {
	bt       *btree.Tree
	keyWidth btree.KeyWidth
}

// Open wraps an already-opened btree.Tree (CNID 3) as an extents
// overflow lookup source.
func Open(bt *btree.Tree, keyWidth btree.KeyWidth) *Tree {
	return &Tree{bt: bt, keyWidth: keyWidth}
}

func buildKey(forkType byte, cnid uint32, startBlock uint32, width btree.KeyWidth) []byte {
	// Body: fork_type u8, pad u8 (HFS+ only), cnid u32, start_block u32.
	if width == btree.KeyWidthClassic {
		body := make([]byte, 7)
		body[0] = forkType
		putU32(body, 1, cnid)
		putU16(body, 5, uint16(startBlock))
		out := make([]byte, 1+len(body))
		out[0] = byte(len(body))
		copy(out[1:], body)
		return out
	}
	body := make([]byte, 10)
	body[0] = forkType
	body[1] = 0
	putU32(body, 2, cnid)
	putU32(body, 6, startBlock)
	out := make([]byte, 2+len(body))
	putU16(out, 0, uint16(len(body)))
	copy(out[2:], body)
	return out
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v>>8), byte(v) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

func compareKeys(width btree.KeyWidth) btree.CompareFunc {
	return func(candidate, target []byte) int {
		cf, cc, cs, ok1 := parseKey(candidate, width)
		tf, tc, ts, ok2 := parseKey(target, width)
		if !ok1 || !ok2 {
			return 0
		}
		if cf != tf {
			if cf < tf {
				return -1
			}
			return 1
		}
		if cc != tc {
			if cc < tc {
				return -1
			}
			return 1
		}
		if cs != ts {
			if cs < ts {
				return -1
			}
			return 1
		}
		return 0
	}
}

func parseKey(key []byte, width btree.KeyWidth) (forkType byte, cnid uint32, startBlock uint32, ok bool) {
	if width == btree.KeyWidthClassic {
		if len(key) < 1 {
			return 0, 0, 0, false
		}
		klen := int(key[0])
		if klen+1 > len(key) || klen < 7 {
			return 0, 0, 0, false
		}
		body := key[1 : 1+klen]
		return body[0], diskio.U32(body, 1), uint32(diskio.U16(body, 5)), true
	}
	if len(key) < 2 {
		return 0, 0, 0, false
	}
	klen := int(diskio.U16(key, 0))
	if klen+2 > len(key) || klen < 10 {
		return 0, 0, 0, false
	}
	body := key[2 : 2+klen]
	return body[0], diskio.U32(body, 2), diskio.U32(body, 6), true
}

// Source adapts a Tree, fixed fork type, and CNID into a
// forkdesc.ExtentSource bound to a single context, for use while
// building one fork's extent list.
type Source struct {
	Tree     *Tree
	Ctx      context.Context
	ForkType byte
	CNID     uint32
}

// ExtentsFrom implements forkdesc.ExtentSource.
func (s Source) ExtentsFrom(startBlock uint32) ([]forkdesc.Extent, error) {
	return s.Tree.ExtentsFrom(s.Ctx, s.ForkType, s.CNID, startBlock)
}

// ExtentsFrom collects overflow extent records for (forkType, cnid)
// starting at startBlock, returning 8-extent records in ascending
// block order until the chain of matching keys ends.
func (t *Tree) ExtentsFrom(ctx context.Context, forkType byte, cnid uint32, startBlock uint32) ([]forkdesc.Extent, error) {
	const op = "extentsoverflow.ExtentsFrom"
	cmp := compareKeys(t.keyWidth)
	target := buildKey(forkType, cnid, startBlock, t.keyWidth)

	it, err := t.bt.IterateFrom(ctx, target, cmp)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	var out []forkdesc.Extent
	for {
		key, value, ok, err := it.Next()
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if !ok {
			break
		}
		kf, kc, _, pok := parseKey(key, t.keyWidth)
		if !pok || kf != forkType || kc != cnid {
			break
		}
		extents, perr := decodeExtentRecord(value)
		if perr != nil {
			return nil, hfserr.Wrap(op, perr)
		}
		out = append(out, extents...)
	}
	return out, nil
}

// decodeExtentRecord decodes an extents-overflow leaf record value:
// 8 consecutive (start_block u32, block_count u32) pairs.
func decodeExtentRecord(v []byte) ([]forkdesc.Extent, error) {
	const op = "extentsoverflow.decodeExtentRecord"
	if len(v) < 64 {
		return nil, hfserr.New(hfserr.InvalidData, op, errShortExtentRecord)
	}
	var extents []forkdesc.Extent
	for i := 0; i < 8; i++ {
		off := i * 8
		e := forkdesc.Extent{StartBlock: diskio.U32(v, off), BlockCount: diskio.U32(v, off+4)}
		if e.BlockCount == 0 {
			continue
		}
		extents = append(extents, e)
	}
	return extents, nil
}

var errShortExtentRecord = hfsErr("extents overflow record shorter than 8 extent pairs")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
