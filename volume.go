package gofshfs

import (
	"context"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/text/unicode/norm"

	"github.com/go-forensics/gofshfs/internal/attributes"
	"github.com/go-forensics/gofshfs/internal/btree"
	"github.com/go-forensics/gofshfs/internal/catalog"
	"github.com/go-forensics/gofshfs/internal/catalogkey"
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/extentreader"
	"github.com/go-forensics/gofshfs/internal/extentsoverflow"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
	"github.com/go-forensics/gofshfs/internal/macroman"
	"github.com/go-forensics/gofshfs/internal/nodecache"
	"github.com/go-forensics/gofshfs/internal/volheader"
)

// nodeCacheCapacity sizes each of the three system B-trees' per-walk
// node cache (§4.1); one Cache per tree, shared across calls on this
// Volume under its own lock rather than recreated per call, since a
// single opened volume is the natural "one walk" scope here.
const nodeCacheCapacity = 512

// Volume is an opened HFS/HFS+/HFSX volume. The zero value is not
// usable; construct one with OpenFromBlockIO.
type Volume struct {
	mu sync.RWMutex

	header       volheader.Header
	volumeReader diskio.BlockReader // r, offset to VolumeStartOffset

	keyWidth    btree.KeyWidth
	compareKind catalogkey.CompareKind

	catalogTree *catalog.Tree
	extentsTree *extentsoverflow.Tree
	attrsTree   *attributes.Tree // nil when the volume carries no attributes file

	allocationBlockSize uint32

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// offsetReader rebases every read against a fixed byte offset, used to
// present an embedded HFS+ volume's own block 0 as if it began at
// offset 0, the way every other component in this module expects.
type offsetReader struct {
	r    diskio.BlockReader
	base int64
}

func (o offsetReader) Size() int64 { return o.r.Size() - o.base }
func (o offsetReader) ReadAt(p []byte, off int64) (int, error) {
	return o.r.ReadAt(p, off+o.base)
}

// SignatureCheck probes r at byte offset 1024 for a recognized
// HFS/HFS+/HFSX signature, without opening any B-tree.
func SignatureCheck(r diskio.BlockReader) bool {
	_, err := volheader.Read(r)
	return err == nil
}

// OpenFromBlockIO opens a volume over r. readOnly must be true: this
// library never writes, so passing false is rejected rather than
// silently ignored.
func OpenFromBlockIO(r diskio.BlockReader, readOnly bool) (*Volume, error) {
	const op = "gofshfs.OpenFromBlockIO"
	if !readOnly {
		return nil, hfserr.New(hfserr.InvalidArgument, op, errWriteUnsupported)
	}
	if r == nil {
		return nil, hfserr.New(hfserr.InvalidArgument, op, errNilBlockReader)
	}

	hdr, err := volheader.Read(r)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	if hdr.BlockSize == 0 {
		return nil, hfserr.New(hfserr.InvalidData, op, errBadVolume)
	}

	vr := offsetReader{r: r, base: hdr.VolumeStartOffset}

	keyWidth := btree.KeyWidthHFSPlus
	if hdr.Signature == volheader.SignatureClassic {
		keyWidth = btree.KeyWidthClassic
	}

	// The extents overflow file's own fork must fit in its 8 inline
	// extents: nothing is available yet to resolve its overflow.
	extentsSegs, err := forkdesc.BuildSegments(hdr.ExtentsFile, hdr.BlockSize, nil)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	extentsFork := extentreader.New(vr, extentsSegs, int64(hdr.ExtentsFile.LogicalSize))
	extentsBT, err := btree.Open(catalogkey.CNIDExtentsFile, keyWidth, extentsFork, nodecache.New(nodeCacheCapacity))
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	extentsTree := extentsoverflow.Open(extentsBT, keyWidth)

	catalogSegs, err := forkdesc.BuildSegments(hdr.CatalogFile, hdr.BlockSize, extentsoverflow.Source{
		Tree: extentsTree, Ctx: context.Background(), ForkType: extentsoverflow.ForkData, CNID: catalogkey.CNIDCatalogFile,
	})
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	catalogFork := extentreader.New(vr, catalogSegs, int64(hdr.CatalogFile.LogicalSize))
	catalogBT, err := btree.Open(catalogkey.CNIDCatalogFile, keyWidth, catalogFork, nodecache.New(nodeCacheCapacity))
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	compareKind := catalogkey.CompareMacRoman
	var catalogCmp btree.CompareFunc
	if keyWidth == btree.KeyWidthClassic {
		catalogCmp = catalogkey.CompareClassic()
	} else {
		compareKind = catalogkey.KindFromByte(catalogBT.Header.KeyCompareType)
		catalogCmp = catalogkey.CompareHFSPlus(compareKind)
	}
	catalogTree := catalog.Open(catalogBT, keyWidth, catalogCmp)

	var attrsTree *attributes.Tree
	if keyWidth == btree.KeyWidthHFSPlus && (hdr.AttributesFile.LogicalSize > 0 || hdr.AttributesFile.TotalBlocks > 0) {
		attrsSegs, err := forkdesc.BuildSegments(hdr.AttributesFile, hdr.BlockSize, extentsoverflow.Source{
			Tree: extentsTree, Ctx: context.Background(), ForkType: extentsoverflow.ForkData, CNID: catalogkey.CNIDAttributesFile,
		})
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		attrsFork := extentreader.New(vr, attrsSegs, int64(hdr.AttributesFile.LogicalSize))
		attrsBT, err := btree.Open(catalogkey.CNIDAttributesFile, btree.KeyWidthHFSPlus, attrsFork, nodecache.New(nodeCacheCapacity))
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		attrsTree = attributes.Open(attrsBT, catalogkey.KindFromByte(attrsBT.Header.KeyCompareType))
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Volume{
		header:              hdr,
		volumeReader:        vr,
		keyWidth:            keyWidth,
		compareKind:         compareKind,
		catalogTree:         catalogTree,
		extentsTree:         extentsTree,
		attrsTree:           attrsTree,
		allocationBlockSize: hdr.BlockSize,
		ctx:                 ctx,
		cancel:              cancel,
	}, nil
}

// Abort sets the volume's cooperative cancellation flag (§5): every
// in-progress or future B-tree scan, extent walk, or decompression
// loop observes it at its next iteration and fails with Aborted.
func (v *Volume) Abort() { v.cancel() }

// Close releases the volume. It does not close the underlying Block
// I/O adapter, which the caller owns.
func (v *Volume) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.cancel()
	return nil
}

// RootDirectory returns the volume's root directory entry (CNID 2).
func (v *Volume) RootDirectory() (*FileEntry, error) {
	const op = "gofshfs.Volume.RootDirectory"
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, found, err := v.catalogTree.LookupByIdentifier(v.ctx, catalogkey.CNIDRootFolder)
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	if !found {
		return nil, hfserr.New(hfserr.NotFound, op, errNoRoot)
	}
	return v.wrapEntry(e)
}

// FileEntryByIdentifier resolves cnid to its catalog entry. found is
// false, with a nil error, when no such entry exists.
func (v *Volume) FileEntryByIdentifier(cnid uint32) (entry *FileEntry, found bool, err error) {
	const op = "gofshfs.Volume.FileEntryByIdentifier"
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, ok, err := v.catalogTree.LookupByIdentifier(v.ctx, cnid)
	if err != nil {
		return nil, false, hfserr.Wrap(op, err)
	}
	if !ok {
		return nil, false, nil
	}
	fe, err := v.wrapEntry(e)
	if err != nil {
		return nil, false, hfserr.Wrap(op, err)
	}
	return fe, true, nil
}

// FileEntryByUTF8Path walks path from the root, splitting on '/' and
// treating an escaped ':' within a segment as the on-disk '/' (§4.2,
// S8). found is false, with a nil error, on a clean miss.
func (v *Volume) FileEntryByUTF8Path(path string) (entry *FileEntry, found bool, err error) {
	const op = "gofshfs.Volume.FileEntryByUTF8Path"
	v.mu.RLock()
	defer v.mu.RUnlock()

	e, werr := v.catalogTree.PathWalk(v.ctx, path)
	if werr != nil {
		if hfserr.Of(werr, hfserr.NotFound) {
			return nil, false, nil
		}
		return nil, false, hfserr.Wrap(op, werr)
	}
	fe, werr := v.wrapEntry(e)
	if werr != nil {
		return nil, false, hfserr.Wrap(op, werr)
	}
	return fe, true, nil
}

// NameCompareKind reports the name comparator this volume's catalog
// actually uses: case-folded or binary UTF-16 for HFS+/HFSX, or a
// fixed MacRoman comparator for classic HFS.
func (v *Volume) NameCompareKind() catalogkey.CompareKind { return v.compareKind }

// Name returns the volume's name, derived from the root directory's
// thread record, or ok=false if it cannot be determined.
func (v *Volume) Name() (name string, ok bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	thread, found, err := v.catalogTree.LookupThread(v.ctx, catalogkey.CNIDRootFolder)
	if err != nil || !found {
		return "", false
	}
	return v.decodeName(thread.NameBytes), true
}

// Glob returns every file or directory entry whose full UTF-8 path
// (escaping on-disk '/' within a name as ':', the inverse of
// FileEntryByUTF8Path's path walk) matches pattern, using
// doublestar's bash-style glob syntax (including "**").
func (v *Volume) Glob(pattern string) ([]*FileEntry, error) {
	const op = "gofshfs.Volume.Glob"
	root, err := v.RootDirectory()
	if err != nil {
		return nil, hfserr.Wrap(op, err)
	}

	var out []*FileEntry
	var walk func(fe *FileEntry, path string) error
	walk = func(fe *FileEntry, path string) error {
		if path != "" {
			matched, merr := doublestar.Match(pattern, path)
			if merr != nil {
				return hfserr.New(hfserr.InvalidArgument, op, merr)
			}
			if matched {
				out = append(out, fe)
			}
		}
		if !fe.IsDirectory() {
			return nil
		}
		children, cerr := fe.SubFileEntries()
		if cerr != nil {
			return cerr
		}
		for _, c := range children {
			segment := strings.ReplaceAll(c.Name(), "/", ":")
			childPath := segment
			if path != "" {
				childPath = path + "/" + segment
			}
			if err := walk(c, childPath); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, ""); err != nil {
		return nil, hfserr.Wrap(op, err)
	}
	return out, nil
}

// decodeName converts on-disk name bytes (MacRoman for classic HFS,
// big-endian UTF-16 for HFS+) to a UTF-8 string, recomposing HFS+'s
// mandatory NFD storage form back to NFC for presentation.
func (v *Volume) decodeName(nameBytes []byte) string {
	if v.keyWidth == btree.KeyWidthClassic {
		return macroman.Decode(nameBytes)
	}
	units := make([]uint16, len(nameBytes)/2)
	for i := range units {
		units[i] = diskio.U16(nameBytes, i*2)
	}
	return norm.NFC.String(string(utf16.Decode(units)))
}

// buildForkReader builds the extent-mapped byte stream for one fork
// of cnid, resolving overflow extents through the volume's extents
// overflow tree when present.
func (v *Volume) buildForkReader(cnid uint32, desc forkdesc.Descriptor, forkType byte) (*extentreader.Reader, []forkdesc.Segment, error) {
	const op = "gofshfs.buildForkReader"
	var overflow forkdesc.ExtentSource
	if v.extentsTree != nil {
		overflow = extentsoverflow.Source{Tree: v.extentsTree, Ctx: v.ctx, ForkType: forkType, CNID: cnid}
	}
	segs, err := forkdesc.BuildSegments(desc, v.allocationBlockSize, overflow)
	if err != nil {
		return nil, nil, hfserr.Wrap(op, err)
	}
	return extentreader.New(v.volumeReader, segs, int64(desc.LogicalSize)), segs, nil
}
