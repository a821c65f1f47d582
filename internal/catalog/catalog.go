package catalog

import (
	"context"
	"strings"

	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/catalogkey"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// Tree is the opened catalog B-tree (reserved CNID 4), bound to the
// volume's active key width and name comparator.
type Tree struct {
	bt       *btree.Tree
	keyWidth btree.KeyWidth
	cmp      btree.CompareFunc
}

// Open wraps an already-opened btree.Tree (CNID 4) as a catalog.
func Open(bt *btree.Tree, keyWidth btree.KeyWidth, cmp btree.CompareFunc) *Tree {
	return &Tree{bt: bt, keyWidth: keyWidth, cmp: cmp}
}

func (t *Tree) parseRecord(value []byte) (Entry, ThreadRecord, bool, error) {
	if t.keyWidth == btree.KeyWidthClassic {
		return ParseClassic(value)
	}
	return ParseHFSPlus(value)
}

func (t *Tree) buildKey(parent uint32, nameBytes []byte) []byte {
	if t.keyWidth == btree.KeyWidthClassic {
		return catalogkey.BuildKeyClassic(parent, nameBytes)
	}
	return catalogkey.BuildKeyHFSPlus(parent, nameBytes)
}

func (t *Tree) parseKey(key []byte) (catalogkey.CatalogKey, bool) {
	if t.keyWidth == btree.KeyWidthClassic {
		return catalogkey.ParseCatalogKeyClassic(key)
	}
	return catalogkey.ParseCatalogKeyHFSPlus(key)
}

// ListChildren streams every non-thread catalog record whose parent
// is parent, in key order (§4.2 "Directory listing").
func (t *Tree) ListChildren(ctx context.Context, parent uint32) ([]Entry, error) {
	const op = "catalog.ListChildren"
	target := t.buildKey(parent, nil)
	it, err := t.bt.IterateFrom(ctx, target, t.cmp)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	var out []Entry
	for {
		key, value, ok, err := it.Next()
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if !ok {
			break
		}
		ck, pok := t.parseKey(key)
		if !pok || ck.ParentCNID != parent {
			break
		}
		entry, _, isThread, perr := t.parseRecord(value)
		if perr != nil {
			return nil, hfserr.Wrap(op, perr)
		}
		if isThread {
			continue
		}
		entry.ParentCNID = parent
		entry.NameBytes = ck.NameBytes
		out = append(out, entry)
	}
	return out, nil
}

// Lookup finds the single child of parent whose encoded name is
// nameBytes, per §4.2 "Single lookup by name".
func (t *Tree) Lookup(ctx context.Context, parent uint32, nameBytes []byte) (Entry, bool, error) {
	const op = "catalog.Lookup"
	target := t.buildKey(parent, nameBytes)
	value, found, err := t.bt.Search(ctx, target, t.cmp)
	if err != nil {
		return Entry{}, false, hfserr.Wrap(op, err)
	}
	if !found {
		return Entry{}, false, nil
	}
	entry, _, isThread, perr := t.parseRecord(value)
	if perr != nil {
		return Entry{}, false, hfserr.Wrap(op, perr)
	}
	if isThread {
		return Entry{}, false, hfserr.New(hfserr.InvalidData, op, errUnexpectedThread)
	}
	entry.ParentCNID = parent
	entry.NameBytes = nameBytes
	return entry, true, nil
}

// LookupThread resolves cnid's thread record, yielding its parent and
// name (§4.2 "Lookup by identifier").
func (t *Tree) LookupThread(ctx context.Context, cnid uint32) (ThreadRecord, bool, error) {
	const op = "catalog.LookupThread"
	target := t.buildKey(cnid, nil)
	value, found, err := t.bt.Search(ctx, target, t.cmp)
	if err != nil {
		return ThreadRecord{}, false, hfserr.Wrap(op, err)
	}
	if !found {
		return ThreadRecord{}, false, nil
	}
	_, thread, isThread, perr := t.parseRecord(value)
	if perr != nil {
		return ThreadRecord{}, false, hfserr.Wrap(op, perr)
	}
	if !isThread {
		return ThreadRecord{}, false, hfserr.New(hfserr.InvalidData, op, errExpectedThread)
	}
	return thread, true, nil
}

// LookupByIdentifier resolves cnid to its catalog entry via a
// thread-record inversion followed by a lookup against the parent it
// names (§4.2, §4.9 "by identifier").
func (t *Tree) LookupByIdentifier(ctx context.Context, cnid uint32) (Entry, bool, error) {
	const op = "catalog.LookupByIdentifier"
	if cnid == catalogkey.CNIDRootFolder {
		thread, ok, err := t.LookupThread(ctx, cnid)
		if err != nil {
			return Entry{}, false, hfserr.Wrap(op, err)
		}
		if !ok {
			return Entry{}, false, nil
		}
		return t.Lookup(ctx, thread.ParentCNID, thread.NameBytes)
	}
	thread, ok, err := t.LookupThread(ctx, cnid)
	if err != nil {
		return Entry{}, false, hfserr.Wrap(op, err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	return t.Lookup(ctx, thread.ParentCNID, thread.NameBytes)
}

// EncodeName converts a UTF-8 path segment to this catalog's on-disk
// name-key bytes (MacRoman for classic HFS, NFD UTF-16BE for HFS+).
func (t *Tree) EncodeName(segment string) ([]byte, bool) {
	if t.keyWidth == btree.KeyWidthClassic {
		return catalogkey.EncodeClassicName(segment)
	}
	return catalogkey.EncodeHFSPlusName(segment), true
}

// PathWalk splits a UTF-8 path on '/', unescapes each segment's ':'
// to '/' (the on-disk reserved separator, §4.2 "Path walk"), and
// descends from the root folder (CNID 2).
func (t *Tree) PathWalk(ctx context.Context, path string) (Entry, error) {
	const op = "catalog.PathWalk"
	path = strings.Trim(path, "/")
	current := Entry{CNID: catalogkey.CNIDRootFolder, Kind: KindFolder}
	if path == "" {
		root, ok, err := t.LookupByIdentifier(ctx, catalogkey.CNIDRootFolder)
		if err != nil {
			return Entry{}, hfserr.Wrap(op, err)
		}
		if !ok {
			return Entry{}, hfserr.New(hfserr.NotFound, op, errRootMissing)
		}
		return root, nil
	}

	parent := uint32(catalogkey.CNIDRootFolder)
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		onDiskName := strings.ReplaceAll(seg, ":", "/")
		nameBytes, ok := t.EncodeName(onDiskName)
		if !ok {
			return Entry{}, hfserr.New(hfserr.NotFound, op, errUnencodableName)
		}
		entry, found, err := t.Lookup(ctx, parent, nameBytes)
		if err != nil {
			return Entry{}, hfserr.Wrap(op, err)
		}
		if !found {
			return Entry{}, hfserr.New(hfserr.NotFound, op, errSegment(segments[:i+1]))
		}
		current = entry
		parent = entry.CNID
	}
	return current, nil
}

func errSegment(segs []string) error {
	return hfsErr("path segment not found: /" + strings.Join(segs, "/"))
}

var errUnexpectedThread = hfsErr("expected a folder or file record, found a thread record")
var errExpectedThread = hfsErr("expected a thread record")
var errRootMissing = hfsErr("volume has no root directory thread record")
var errUnencodableName = hfsErr("path segment has no representation in the volume's name encoding")
