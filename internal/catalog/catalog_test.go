package catalog

import (
	"context"
	"testing"

	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/catalogkey"
	"github.com/go-forensics/gofshfs/internal/nodecache"
)

const testNodeSize = 512

type memBlockReader struct{ buf []byte }

func (m *memBlockReader) Size() int64 { return int64(len(m.buf)) }
func (m *memBlockReader) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, m.buf[off:]), nil
}

// putU16/putU32 are shared with record_test.go (same package).

func encodeBTreeNode(kind btree.Kind, fLink uint32, records [][]byte) []byte {
	buf := make([]byte, testNodeSize)
	putU32(buf, 0, fLink)
	buf[8] = byte(int8(kind))
	putU16(buf, 10, uint16(len(records)))

	offsets := make([]uint16, len(records)+1)
	cursor := uint16(14)
	for i, rec := range records {
		offsets[i] = cursor
		copy(buf[cursor:], rec)
		cursor += uint16(len(rec))
	}
	offsets[len(records)] = cursor

	tail := len(buf)
	for i, off := range offsets {
		putU16(buf, tail-2-2*i, off)
	}
	return buf
}

func headerRecord(rootNode, leafRecords uint32) []byte {
	rec := make([]byte, 106)
	putU16(rec, 0, 1)
	putU32(rec, 2, rootNode)
	putU32(rec, 6, leafRecords)
	putU32(rec, 10, rootNode)
	putU32(rec, 14, rootNode)
	putU16(rec, 18, testNodeSize)
	putU32(rec, 22, 2)
	rec[99] = 0xCF // case-folded
	return rec
}

// buildTestCatalog constructs a minimal HFS+ catalog: root folder
// (CNID 2, named "Macintosh HD" under reserved parent 1), one child
// file "hello.txt" (CNID 16), each with its thread record.
func buildTestCatalog(t *testing.T) *Tree {
	t.Helper()

	rootName := catalogkey.EncodeHFSPlusName("Macintosh HD")
	fileName := catalogkey.EncodeHFSPlusName("hello.txt")

	type kv struct {
		key   []byte
		value []byte
	}
	entries := []kv{
		{catalogkey.BuildKeyHFSPlus(catalogkey.CNIDRootParent, rootName), buildFolderRecordHFSPlus(catalogkey.CNIDRootFolder, 1)},
		{catalogkey.BuildKeyHFSPlus(catalogkey.CNIDRootFolder, nil), buildThreadRecordHFSPlus(KindFolderThread, catalogkey.CNIDRootParent, rootName)},
		{catalogkey.BuildKeyHFSPlus(catalogkey.CNIDRootFolder, fileName), buildFileRecordHFSPlus(catalogkey.CNIDFirstUserCNID)},
		{catalogkey.BuildKeyHFSPlus(catalogkey.CNIDFirstUserCNID, nil), buildThreadRecordHFSPlus(KindFileThread, catalogkey.CNIDRootFolder, fileName)},
	}

	cmp := catalogkey.CompareHFSPlus(catalogkey.CompareCaseFoldedUTF16)
	// Sort entries by the catalog comparator so the single leaf node
	// is already in on-disk key order, matching what a real B-tree
	// build would produce.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && cmp(entries[j].key, entries[j-1].key) < 0; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}

	recs := make([][]byte, len(entries))
	for i, e := range entries {
		recs[i] = append(append([]byte{}, e.key...), e.value...)
	}

	headerNode := encodeBTreeNode(btree.KindHeader, 0, [][]byte{headerRecord(1, uint32(len(entries)))})
	leafNode := encodeBTreeNode(btree.KindLeaf, 0, recs)

	r := &memBlockReader{buf: append(append([]byte{}, headerNode...), leafNode...)}
	bt, err := btree.Open(catalogkey.CNIDCatalogFile, btree.KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("btree.Open: %v", err)
	}
	return Open(bt, btree.KeyWidthHFSPlus, cmp)
}

func TestListChildrenOfRoot(t *testing.T) {
	cat := buildTestCatalog(t)
	children, err := cat.ListChildren(context.Background(), catalogkey.CNIDRootFolder)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1", len(children))
	}
	if children[0].CNID != catalogkey.CNIDFirstUserCNID {
		t.Fatalf("child CNID = %d, want %d", children[0].CNID, catalogkey.CNIDFirstUserCNID)
	}
}

func TestLookupByName(t *testing.T) {
	cat := buildTestCatalog(t)
	entry, found, err := cat.Lookup(context.Background(), catalogkey.CNIDRootFolder, catalogkey.EncodeHFSPlusName("hello.txt"))
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !found {
		t.Fatal("expected to find hello.txt")
	}
	if entry.CNID != catalogkey.CNIDFirstUserCNID {
		t.Fatalf("CNID = %d, want %d", entry.CNID, catalogkey.CNIDFirstUserCNID)
	}
}

func TestLookupByIdentifier(t *testing.T) {
	cat := buildTestCatalog(t)
	entry, found, err := cat.LookupByIdentifier(context.Background(), catalogkey.CNIDFirstUserCNID)
	if err != nil {
		t.Fatalf("LookupByIdentifier: %v", err)
	}
	if !found {
		t.Fatal("expected to resolve CNID 16 via its thread record")
	}
	if string(entry.NameBytes) != string(catalogkey.EncodeHFSPlusName("hello.txt")) {
		t.Fatalf("resolved entry has the wrong name")
	}
}

func TestPathWalk(t *testing.T) {
	cat := buildTestCatalog(t)
	entry, err := cat.PathWalk(context.Background(), "hello.txt")
	if err != nil {
		t.Fatalf("PathWalk: %v", err)
	}
	if entry.CNID != catalogkey.CNIDFirstUserCNID {
		t.Fatalf("CNID = %d, want %d", entry.CNID, catalogkey.CNIDFirstUserCNID)
	}
}

func TestPathWalkMissingSegment(t *testing.T) {
	cat := buildTestCatalog(t)
	if _, err := cat.PathWalk(context.Background(), "nonexistent.txt"); err == nil {
		t.Fatal("expected an error for a missing path segment")
	}
}
