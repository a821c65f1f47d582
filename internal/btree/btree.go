// Package btree implements the generic node/record engine shared by
// the Catalog, Extents Overflow, and Attributes B-trees (C4). It reads
// through a caller-supplied extent-mapped fork reader, validates node
// structure defensively (a corrupt image must surface as InvalidData,
// never a panic or an out-of-range slice access), and exposes
// key-ordered iteration and descent-based search.
package btree

import (
	"context"

	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/hfserr"
	"github.com/go-forensics/gofshfs/internal/nodecache"
)

// Kind is a node's role within the tree, per the 14-byte descriptor.
type Kind int8

const (
	KindLeaf   Kind = -1
	KindIndex  Kind = 0
	KindHeader Kind = 1
	KindMap    Kind = 2
)

// KeyWidth selects how a record's leading key-length field is
// decoded: classic HFS uses one byte (plus one reserved byte), HFS+
// and HFSX use a big-endian u16.
type KeyWidth int

const (
	KeyWidthHFSPlus KeyWidth = 2 // u16 key_length
	KeyWidthClassic KeyWidth = 1 // u8 key_length, u8 reserved
)

// Header carries the fields of the header node's header record that
// the engine needs to drive descent and iteration.
type Header struct {
	TreeDepth      uint16
	RootNode       uint32
	LeafRecords    uint32
	FirstLeafNode  uint32
	LastLeafNode   uint32
	NodeSize       uint16
	MaxKeyLength   uint16
	TotalNodes     uint32
	FreeNodes      uint32
	KeyCompareType byte // HFS+ only: 0xCF case-folded, 0xBC binary
}

// Record is one (key-bytes, value-bytes) pair as it appears at a
// given offset within a node's record area. Both slices alias the
// node's backing buffer; callers in this module copy out whatever
// they retain beyond a single traversal step, since nodes are
// cache-evictable.
type Record struct {
	Key   []byte
	Value []byte
}

type node struct {
	kind    Kind
	height  uint8
	records []Record
	fLink   uint32
	bLink   uint32
}

// CompareFunc orders a candidate record key against a target key,
// returning <0, 0, >0 like bytes.Compare. The descent rule the engine
// applies is: pick the greatest child whose key is <= target; if
// target is less than the first key in an index node, stop without
// descending rather than guessing a child whose range cannot contain
// the key.
type CompareFunc func(candidateKey, targetKey []byte) int

// Tree is an opened B-tree file: header plus a reader over the
// fork's logical byte stream (already extent-mapped by the caller).
type Tree struct {
	TreeID   uint32 // reserved CNID driving the node-cache key namespace
	KeyWidth KeyWidth
	r        diskio.BlockReader
	Header   Header
	cache    *nodecache.Cache
}

// Open reads and validates the header node of a B-tree fork. r must
// already present the fork's logical (extent-concatenated) byte
// stream starting at node 0; treeID is the reserved CNID (3, 4, or 8)
// used to namespace entries in cache.
func Open(treeID uint32, keyWidth KeyWidth, r diskio.BlockReader, cache *nodecache.Cache) (*Tree, error) {
	const op = "btree.Open"

	size := r.Size()
	if size < 512 {
		return nil, hfserr.New(hfserr.InvalidData, op, errTooSmall)
	}

	// The header node's real size is unknown until parsed; the first
	// read uses the minimum legal node size (512), which always
	// contains the full header record since header records are small.
	buf := make([]byte, 512)
	if err := diskio.ReadFullAt(r, buf, 0); err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	desc, err := parseDescriptor(buf, keyWidth)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	if desc.kind != KindHeader {
		return nil, hfserr.New(hfserr.InvalidData, op, errNotHeaderNode)
	}
	if len(desc.records) < 1 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadHeaderNode)
	}
	hrec := desc.records[0].Value
	if len(hrec) < 100 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadHeaderNode)
	}

	h := Header{
		TreeDepth:     uint16(diskio.U16(hrec, 0)),
		RootNode:      diskio.U32(hrec, 2),
		LeafRecords:   diskio.U32(hrec, 6),
		FirstLeafNode: diskio.U32(hrec, 10),
		LastLeafNode:  diskio.U32(hrec, 14),
		NodeSize:      diskio.U16(hrec, 18),
		MaxKeyLength:  diskio.U16(hrec, 20),
		TotalNodes:    diskio.U32(hrec, 22),
		FreeNodes:     diskio.U32(hrec, 26),
		KeyCompareType: func() byte {
			if len(hrec) > 99 {
				return hrec[99]
			}
			return 0
		}(),
	}

	if h.NodeSize == 0 || h.NodeSize&(h.NodeSize-1) != 0 || h.NodeSize < 512 || h.NodeSize > 32768 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadNodeSize)
	}
	if size%int64(h.NodeSize) != 0 {
		return nil, hfserr.New(hfserr.InvalidData, op, errNotWholeNodes)
	}

	return &Tree{TreeID: treeID, KeyWidth: keyWidth, r: r, Header: h, cache: cache}, nil
}

// getNode fetches node n, through the cache, validating its
// descriptor and offset table bounds.
func (t *Tree) getNode(n uint32) (*node, error) {
	const op = "btree.getNode"

	if int64(n)*int64(t.Header.NodeSize) >= t.r.Size() {
		return nil, hfserr.New(hfserr.OutOfBounds, op, errNodeOutOfRange)
	}

	key := nodecache.Key{TreeID: t.TreeID, Node: n}
	if cached, ok := t.cache.Get(key); ok {
		if nd, ok := cached.(*node); ok && nd != nil {
			return nd, nil
		}
	}

	buf := make([]byte, t.Header.NodeSize)
	if err := diskio.ReadFullAt(t.r, buf, int64(n)*int64(t.Header.NodeSize)); err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	nd, err := parseDescriptor(buf, t.KeyWidth)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	t.cache.Add(key, nd)
	return nd, nil
}

// parseDescriptor parses the 14-byte node descriptor and the
// backward-growing offset table, validating that every record's
// bounds fall within the node and are monotonically increasing (a
// malformed node must never cause an out-of-range slice panic).
func parseDescriptor(buf []byte, keyWidth KeyWidth) (*node, error) {
	const op = "btree.parseDescriptor"
	if len(buf) < 14 {
		return nil, hfserr.New(hfserr.InvalidData, op, errNodeTooSmall)
	}

	nd := &node{
		fLink:  diskio.U32(buf, 0),
		bLink:  diskio.U32(buf, 4),
		kind:   Kind(int8(buf[8])),
		height: buf[9],
	}
	count := int(diskio.U16(buf, 10))
	if count < 0 {
		return nil, hfserr.New(hfserr.InvalidData, op, errTooManyRecords)
	}

	// The offset table occupies the last 2*(count+1) bytes, growing
	// backwards from the node's tail; the final entry is the
	// free-space offset, which bounds the last record.
	tableBytes := 2 * (count + 1)
	if 14+tableBytes > len(buf) {
		return nil, hfserr.New(hfserr.InvalidData, op, errTooManyRecords)
	}

	offsets := make([]uint16, count+1)
	for i := 0; i <= count; i++ {
		offsets[i] = diskio.U16(buf, len(buf)-2-2*i)
	}

	nd.records = make([]Record, 0, count)
	low := uint16(14)
	for i := 0; i < count; i++ {
		start, end := offsets[i], offsets[i+1]
		if start < low || start > end || int(end) > len(buf)-tableBytes {
			return nil, hfserr.New(hfserr.InvalidData, op, errBadRecordBounds)
		}
		rec := buf[start:end]
		keyLen, err := recordKeyLength(nd.kind, keyWidth, rec)
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if keyLen > len(rec) {
			return nil, hfserr.New(hfserr.InvalidData, op, errBadRecordBounds)
		}
		nd.records = append(nd.records, Record{Key: rec[:keyLen], Value: rec[keyLen:]})
		low = end
	}
	return nd, nil
}

// recordKeyLength reports how many leading bytes of a record are the
// key, including the length field itself. Header/map node records
// have no key.
func recordKeyLength(kind Kind, keyWidth KeyWidth, rec []byte) (int, error) {
	if kind == KindHeader || kind == KindMap {
		return 0, nil
	}
	switch keyWidth {
	case KeyWidthClassic:
		if len(rec) < 1 {
			return 0, errBadRecordBounds
		}
		return int(rec[0]) + 2, nil // length byte + reserved byte + name
	default: // KeyWidthHFSPlus
		if len(rec) < 2 {
			return 0, errBadRecordBounds
		}
		return int(diskio.U16(rec, 0)) + 2, nil
	}
}

// Search descends the tree choosing, at each index level, the
// greatest child key <= target per cmp, and returns the matching leaf
// record's value if found. It reports (nil, false, nil) on a clean
// miss, and a non-nil error only for structural corruption, I/O
// failure, or abort.
func (t *Tree) Search(ctx context.Context, target []byte, cmp CompareFunc) (value []byte, found bool, err error) {
	const op = "btree.Search"
	if err := checkAbort(ctx); err != nil {
		return nil, false, err
	}

	n := t.Header.RootNode
	for depth := uint16(0); ; depth++ {
		if depth > t.Header.TreeDepth+1 {
			return nil, false, hfserr.New(hfserr.InvalidData, op, errDescentTooDeep)
		}
		nd, err := t.getNode(n)
		if err != nil {
			return nil, false, hfserr.Wrap(op, err)
		}
		if nd.kind == KindLeaf {
			for _, rec := range nd.records {
				if cmp(rec.Key, target) == 0 {
					return rec.Value, true, nil
				}
			}
			return nil, false, nil
		}
		if nd.kind != KindIndex {
			return nil, false, hfserr.New(hfserr.InvalidData, op, errUnexpectedNodeKind)
		}

		child, ok := chooseChild(nd.records, target, cmp)
		if !ok {
			return nil, false, nil // target < first key: never descend
		}
		n = child
	}
}

// chooseChild picks the pointer record whose key is the greatest one
// <= target, per the engine's tie-break rule.
func chooseChild(records []Record, target []byte, cmp CompareFunc) (uint32, bool) {
	best := -1
	for i, rec := range records {
		if cmp(rec.Key, target) <= 0 {
			best = i
		} else {
			break
		}
	}
	if best < 0 {
		return 0, false
	}
	rec := records[best]
	if len(rec.Value) < 4 {
		return 0, false
	}
	return diskio.U32(rec.Value, 0), true
}

// Iterator streams leaf records in key order starting from the first
// leaf record >= fromKey, chaining across forward_link nodes.
type Iterator struct {
	t       *Tree
	cmp     CompareFunc
	ctx     context.Context
	cur     *node
	idx     int
	stepped uint32
	err     error
	started bool
	fromKey []byte

	// startAtFirstLeaf is set when fromKey precedes every key in the
	// tree: Next's first call must fetch the tree's first leaf node
	// rather than chase a forward_link from a nonexistent current node.
	startAtFirstLeaf bool
}

// IterateFrom returns an Iterator positioned at the first leaf record
// whose key is not less than fromKey (descending via cmp exactly as
// Search does, but landing on a leaf node rather than a single
// record), ready for forward scanning with Next.
func (t *Tree) IterateFrom(ctx context.Context, fromKey []byte, cmp CompareFunc) (*Iterator, error) {
	const op = "btree.IterateFrom"
	if err := checkAbort(ctx); err != nil {
		return nil, err
	}

	it := &Iterator{t: t, cmp: cmp, ctx: ctx, fromKey: fromKey}

	if t.Header.LeafRecords == 0 {
		it.cur = &node{kind: KindLeaf}
		it.started = true
		return it, nil
	}

	n := t.Header.RootNode
	for depth := uint16(0); ; depth++ {
		if depth > t.Header.TreeDepth+1 {
			return nil, hfserr.New(hfserr.InvalidData, op, errDescentTooDeep)
		}
		nd, err := t.getNode(n)
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		if nd.kind == KindLeaf {
			it.cur = nd
			it.started = true
			// Position idx at the first record >= fromKey.
			for i, rec := range nd.records {
				if cmp(rec.Key, fromKey) >= 0 {
					it.idx = i
					return it, nil
				}
			}
			it.idx = len(nd.records) // exhausted this node; Next() will chain forward
			return it, nil
		}
		if nd.kind != KindIndex {
			return nil, hfserr.New(hfserr.InvalidData, op, errUnexpectedNodeKind)
		}
		child, ok := chooseChild(nd.records, fromKey, cmp)
		if !ok {
			// Target precedes every key in the tree: start at the
			// volume's first leaf node instead.
			it.cur = nil
			it.idx = 0
			it.startAtFirstLeaf = true
			return it, nil
		}
		n = child
	}
}

// ensureStarted performs the deferred first-leaf fetch for an
// iterator created with startAtFirstLeaf set.
func (it *Iterator) ensureStarted() error {
	if it.started {
		return nil
	}
	if it.startAtFirstLeaf {
		nd, err := it.t.getNode(it.t.Header.FirstLeafNode)
		if err != nil {
			return hfserr.Wrap("btree.Iterator", err)
		}
		it.cur = nd
		it.idx = 0
	}
	it.started = true
	return nil
}

// Next returns the next (key, value) pair, or ok=false at the end of
// the tree. err is non-nil only for structural corruption, I/O
// failure, or abort (including a detected circular forward-link
// chain, guarded by a visited-node count exceeding the leaf-record
// count plus the total node count plus one).
func (it *Iterator) Next() (key, value []byte, ok bool, err error) {
	if it.err != nil {
		return nil, nil, false, it.err
	}
	if err := checkAbort(it.ctx); err != nil {
		it.err = err
		return nil, nil, false, err
	}
	if err := it.ensureStarted(); err != nil {
		it.err = err
		return nil, nil, false, err
	}

	for {
		if it.cur == nil {
			return nil, nil, false, nil
		}
		if it.idx < len(it.cur.records) {
			rec := it.cur.records[it.idx]
			it.idx++
			return rec.Key, rec.Value, true, nil
		}
		// Chain to the next leaf node.
		if it.cur.fLink == 0 {
			it.cur = nil
			return nil, nil, false, nil
		}
		it.stepped++
		if it.stepped > it.t.Header.LeafRecords+it.t.Header.TotalNodes+1 {
			err := hfserr.New(hfserr.InvalidData, "btree.Iterator.Next", errNodeLoop)
			it.err = err
			return nil, nil, false, err
		}
		nd, getErr := it.t.getNode(it.cur.fLink)
		if getErr != nil {
			it.err = hfserr.Wrap("btree.Iterator.Next", getErr)
			return nil, nil, false, it.err
		}
		it.cur = nd
		it.idx = 0
	}
}

var errTooSmall = hfsErr("volume fork too small to contain a b-tree header")
var errNotHeaderNode = hfsErr("first node is not a header node")
var errBadHeaderNode = hfsErr("header node record is truncated")
var errBadNodeSize = hfsErr("node size is not a power of two in [512,32768]")
var errNotWholeNodes = hfsErr("fork size is not a whole number of nodes")
var errNodeOutOfRange = hfsErr("node number exceeds fork size")
var errNodeTooSmall = hfsErr("node smaller than descriptor")
var errTooManyRecords = hfsErr("record count does not fit in node")
var errBadRecordBounds = hfsErr("record offsets out of bounds or non-monotonic")
var errDescentTooDeep = hfsErr("descent exceeded declared tree depth")
var errUnexpectedNodeKind = hfsErr("expected index or leaf node")
var errNodeLoop = hfsErr("forward-link chain did not terminate")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }

func checkAbort(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return hfserr.New(hfserr.Aborted, "btree", ctx.Err())
	default:
		return nil
	}
}
