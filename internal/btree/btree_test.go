package btree

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-forensics/gofshfs/internal/nodecache"
)

const testNodeSize = 512

// memBlockReader is a fixed-size in-memory diskio.BlockReader.
type memBlockReader struct {
	buf []byte
}

func (m *memBlockReader) Size() int64 { return int64(len(m.buf)) }

func (m *memBlockReader) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, m.buf[off:])
	return n, nil
}

func putU16(b []byte, off int, v uint16) { b[off], b[off+1] = byte(v>>8), byte(v) }
func putU32(b []byte, off int, v uint32) {
	b[off], b[off+1], b[off+2], b[off+3] = byte(v>>24), byte(v>>16), byte(v>>8), byte(v)
}

// hfsPlusRecord encodes one leaf/index record using the u16
// length-prefixed key format.
func hfsPlusRecord(key, value []byte) []byte {
	rec := make([]byte, 2+len(key)+len(value))
	putU16(rec, 0, uint16(len(key)))
	copy(rec[2:], key)
	copy(rec[2+len(key):], value)
	return rec
}

// encodeNode packs a node descriptor plus records, with a trailing
// backward-growing offset table, into a testNodeSize-byte buffer.
func encodeNode(kind Kind, height uint8, fLink, bLink uint32, records [][]byte) []byte {
	buf := make([]byte, testNodeSize)
	putU32(buf, 0, fLink)
	putU32(buf, 4, bLink)
	buf[8] = byte(int8(kind))
	buf[9] = height
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

func headerRecordBytes(treeDepth uint16, rootNode, leafRecords, firstLeaf, lastLeaf uint32, nodeSize, maxKeyLen uint16, totalNodes, freeNodes uint32, keyCompareType byte) []byte {
	rec := make([]byte, 106)
	putU16(rec, 0, treeDepth)
	putU32(rec, 2, rootNode)
	putU32(rec, 6, leafRecords)
	putU32(rec, 10, firstLeaf)
	putU32(rec, 14, lastLeaf)
	putU16(rec, 18, nodeSize)
	putU16(rec, 20, maxKeyLen)
	putU32(rec, 22, totalNodes)
	putU32(rec, 26, freeNodes)
	rec[99] = keyCompareType
	return rec
}

// bytesCompare is a CompareFunc usable directly on raw key bytes.
func bytesCompare(a, b []byte) int { return bytes.Compare(a, b) }

func buildSingleLeafTree(t *testing.T, keys [][]byte, values [][]byte) *memBlockReader {
	t.Helper()
	if len(keys) != len(values) {
		t.Fatalf("mismatched keys/values length")
	}

	records := make([][]byte, len(keys))
	for i := range keys {
		records[i] = hfsPlusRecord(keys[i], values[i])
	}

	headerNode := encodeNode(KindHeader, 0, 0, 0, [][]byte{
		headerRecordBytes(1, 1, uint32(len(keys)), 1, 1, testNodeSize, 64, 2, 0, 0xCF),
	})
	leafNode := encodeNode(KindLeaf, 1, 0, 0, records)

	buf := append(append([]byte{}, headerNode...), leafNode...)
	return &memBlockReader{buf: buf}
}

func TestOpenRejectsUndersizedFork(t *testing.T) {
	r := &memBlockReader{buf: make([]byte, 10)}
	if _, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16)); err == nil {
		t.Fatal("expected an error opening a fork too small for a header node")
	}
}

func TestOpenParsesHeader(t *testing.T) {
	r := buildSingleLeafTree(t, [][]byte{[]byte("a")}, [][]byte{[]byte("1")})
	tr, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tr.Header.RootNode != 1 {
		t.Fatalf("RootNode = %d, want 1", tr.Header.RootNode)
	}
	if tr.Header.NodeSize != testNodeSize {
		t.Fatalf("NodeSize = %d, want %d", tr.Header.NodeSize, testNodeSize)
	}
}

func TestSearchFindsExistingKey(t *testing.T) {
	r := buildSingleLeafTree(t,
		[][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")},
		[][]byte{[]byte("1"), []byte("2"), []byte("3")},
	)
	tr, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	value, found, err := tr.Search(context.Background(), []byte("banana"), bytesCompare)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !found {
		t.Fatal("expected to find \"banana\"")
	}
	if string(value) != "2" {
		t.Fatalf("value = %q, want %q", value, "2")
	}
}

func TestSearchMissReportsNotFoundNotError(t *testing.T) {
	r := buildSingleLeafTree(t, [][]byte{[]byte("apple")}, [][]byte{[]byte("1")})
	tr, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, found, err := tr.Search(context.Background(), []byte("zzz"), bytesCompare)
	if err != nil {
		t.Fatalf("Search returned an error for a clean miss: %v", err)
	}
	if found {
		t.Fatal("did not expect to find \"zzz\"")
	}
}

func TestIterateFromStart(t *testing.T) {
	keys := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	r := buildSingleLeafTree(t, keys, vals)
	tr, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	it, err := tr.IterateFrom(context.Background(), []byte(""), bytesCompare)
	if err != nil {
		t.Fatalf("IterateFrom: %v", err)
	}

	var got []string
	for {
		k, _, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, string(k))
	}
	if len(got) != 3 || got[0] != "apple" || got[1] != "banana" || got[2] != "cherry" {
		t.Fatalf("got %v, want [apple banana cherry]", got)
	}
}

func TestIterateFromMidpoint(t *testing.T) {
	keys := [][]byte{[]byte("apple"), []byte("banana"), []byte("cherry")}
	vals := [][]byte{[]byte("1"), []byte("2"), []byte("3")}
	r := buildSingleLeafTree(t, keys, vals)
	tr, err := Open(4, KeyWidthHFSPlus, r, nodecache.New(16))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	it, err := tr.IterateFrom(context.Background(), []byte("banana"), bytesCompare)
	if err != nil {
		t.Fatalf("IterateFrom: %v", err)
	}
	k, _, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if string(k) != "banana" {
		t.Fatalf("first key = %q, want banana", k)
	}
}

func TestNodeCacheIsReused(t *testing.T) {
	r := buildSingleLeafTree(t, [][]byte{[]byte("apple")}, [][]byte{[]byte("1")})
	cache := nodecache.New(16)
	tr, err := Open(4, KeyWidthHFSPlus, r, cache)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := tr.getNode(1); err != nil {
		t.Fatalf("getNode: %v", err)
	}
	if _, ok := cache.Get(nodecacheKeyFor(tr, 1)); !ok {
		t.Fatal("expected node 1 to be cached after getNode")
	}
}

func nodecacheKeyFor(tr *Tree, n uint32) nodecache.Key {
	return nodecache.Key{TreeID: tr.TreeID, Node: n}
}
