// Package catalog parses catalog B-tree leaf record values (folder,
// file, and thread records, both HFS+ and classic-HFS shapes) into a
// single normalized Entry/ThreadRecord shape, per §3/§4.2.
package catalog

import (
	"github.com/go-forensics/gofshfs/internal/diskio"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// RecordKind mirrors the catalog record_type field; values 1-4 are
// shared between classic HFS and HFS+ (the byte layout of the value
// that follows differs, not the discriminant).
type RecordKind int16

const (
	KindFolder       RecordKind = 1
	KindFile         RecordKind = 2
	KindFolderThread RecordKind = 3
	KindFileThread   RecordKind = 4
)

// Synthesized POSIX file-mode bits for classic HFS, which has no BSD
// permissions field at all (§3: "file_mode... synthesized from record
// type on classic HFS: directory -> 0x4000, file -> 0x8000").
const (
	modeDirectory = 0x4000
	modeFile      = 0x8000
)

// Entry is a normalized folder or file catalog record.
type Entry struct {
	CNID       uint32
	ParentCNID uint32
	Kind       RecordKind // KindFolder or KindFile
	NameBytes  []byte     // on-disk bytes, original case, MacRoman or UTF-16BE

	Flags   uint16
	Valence uint32 // folders only

	CreateDate     uint32
	ContentModDate uint32
	AttrModDate    uint32 // HFS+ only; zero on classic
	AccessDate     uint32 // HFS+ only; zero on classic
	BackupDate     uint32

	HasBSDInfo bool // false on classic HFS: no owner/group/mode fields exist on disk
	OwnerID    uint32
	GroupID    uint32
	AdminFlags uint8
	OwnerFlags uint8
	FileMode   uint16
	Special    uint32 // device number, or hard-link ref count, or link-reference CNID

	UserInfo   [16]byte // FndrFileInfo / FndrFolderInfo
	FinderInfo [16]byte // FndrOpaqueInfo / extended info

	TextEncoding uint32 // HFS+ only

	DataFork     forkdesc.Descriptor // files only
	ResourceFork forkdesc.Descriptor // files only
}

// IsDirectory reports whether the entry is a folder record.
func (e Entry) IsDirectory() bool { return e.Kind == KindFolder }

// EffectiveFileMode returns e.FileMode if HasBSDInfo, else the
// synthesized mode per §3.
func (e Entry) EffectiveFileMode() uint16 {
	if e.HasBSDInfo {
		return e.FileMode
	}
	if e.IsDirectory() {
		return modeDirectory
	}
	return modeFile
}

// ThreadRecord is a reverse CNID -> (parent, name) pointer.
type ThreadRecord struct {
	Kind       RecordKind // KindFolderThread or KindFileThread
	ParentCNID uint32
	NameBytes  []byte
}

func recordKind(value []byte) (RecordKind, error) {
	if len(value) < 2 {
		return 0, errShortRecord
	}
	return RecordKind(int16(diskio.U16(value, 0))), nil
}

// IsThread reports whether k is one of the two thread-record kinds.
func (k RecordKind) IsThread() bool { return k == KindFolderThread || k == KindFileThread }

// ParseHFSPlus parses an HFS+/HFSX catalog leaf record value
// (folder, file, or thread) into the normalized shapes above.
func ParseHFSPlus(value []byte) (entry Entry, thread ThreadRecord, isThread bool, err error) {
	const op = "catalog.ParseHFSPlus"
	kind, err := recordKind(value)
	if err != nil {
		return Entry{}, ThreadRecord{}, false, hfserr.New(hfserr.InvalidData, op, err)
	}
	switch kind {
	case KindFolder:
		e, err := parseFolderHFSPlus(value)
		return e, ThreadRecord{}, false, hfserr.Wrap(op, err)
	case KindFile:
		e, err := parseFileHFSPlus(value)
		return e, ThreadRecord{}, false, hfserr.Wrap(op, err)
	case KindFolderThread, KindFileThread:
		t, err := parseThreadHFSPlus(value, kind)
		return Entry{}, t, true, hfserr.Wrap(op, err)
	default:
		return Entry{}, ThreadRecord{}, false, hfserr.New(hfserr.InvalidData, op, errUnknownRecordKind)
	}
}

func parseFolderHFSPlus(v []byte) (Entry, error) {
	if len(v) < 88 {
		return Entry{}, errShortRecord
	}
	e := Entry{
		Kind:           KindFolder,
		Flags:          diskio.U16(v, 2),
		Valence:        diskio.U32(v, 4),
		CNID:           diskio.U32(v, 8),
		CreateDate:     diskio.U32(v, 12),
		ContentModDate: diskio.U32(v, 16),
		AttrModDate:    diskio.U32(v, 20),
		AccessDate:     diskio.U32(v, 24),
		BackupDate:     diskio.U32(v, 28),
		HasBSDInfo:     true,
		OwnerID:        diskio.U32(v, 32),
		GroupID:        diskio.U32(v, 36),
		AdminFlags:     v[40],
		OwnerFlags:     v[41],
		FileMode:       diskio.U16(v, 42),
		Special:        diskio.U32(v, 44),
		TextEncoding:   diskio.U32(v, 80),
	}
	copy(e.UserInfo[:], v[48:64])
	copy(e.FinderInfo[:], v[64:80])
	return e, nil
}

func parseFileHFSPlus(v []byte) (Entry, error) {
	if len(v) < 248 {
		return Entry{}, errShortRecord
	}
	e := Entry{
		Kind:           KindFile,
		Flags:          diskio.U16(v, 2),
		CNID:           diskio.U32(v, 8),
		CreateDate:     diskio.U32(v, 12),
		ContentModDate: diskio.U32(v, 16),
		AttrModDate:    diskio.U32(v, 20),
		AccessDate:     diskio.U32(v, 24),
		BackupDate:     diskio.U32(v, 28),
		HasBSDInfo:     true,
		OwnerID:        diskio.U32(v, 32),
		GroupID:        diskio.U32(v, 36),
		AdminFlags:     v[40],
		OwnerFlags:     v[41],
		FileMode:       diskio.U16(v, 42),
		Special:        diskio.U32(v, 44),
		TextEncoding:   diskio.U32(v, 80),
	}
	copy(e.UserInfo[:], v[48:64])
	copy(e.FinderInfo[:], v[64:80])

	df, err := forkdesc.Parse(v[88:168])
	if err != nil {
		return Entry{}, err
	}
	rf, err := forkdesc.Parse(v[168:248])
	if err != nil {
		return Entry{}, err
	}
	e.DataFork, e.ResourceFork = df, rf
	return e, nil
}

func parseThreadHFSPlus(v []byte, kind RecordKind) (ThreadRecord, error) {
	if len(v) < 8 {
		return ThreadRecord{}, errShortRecord
	}
	parent := diskio.U32(v, 4)
	nameLen := int(diskio.U16(v, 8))
	if 10+nameLen*2 > len(v) {
		return ThreadRecord{}, errShortRecord
	}
	return ThreadRecord{Kind: kind, ParentCNID: parent, NameBytes: v[10 : 10+nameLen*2]}, nil
}

// ParseClassic parses a classic-HFS catalog leaf record value.
func ParseClassic(value []byte) (entry Entry, thread ThreadRecord, isThread bool, err error) {
	const op = "catalog.ParseClassic"
	kind, err := recordKind(value)
	if err != nil {
		return Entry{}, ThreadRecord{}, false, hfserr.New(hfserr.InvalidData, op, err)
	}
	switch kind {
	case KindFolder:
		e, err := parseFolderClassic(value)
		return e, ThreadRecord{}, false, hfserr.Wrap(op, err)
	case KindFile:
		e, err := parseFileClassic(value)
		return e, ThreadRecord{}, false, hfserr.Wrap(op, err)
	case KindFolderThread, KindFileThread:
		t, err := parseThreadClassic(value, kind)
		return Entry{}, t, true, hfserr.Wrap(op, err)
	default:
		return Entry{}, ThreadRecord{}, false, hfserr.New(hfserr.InvalidData, op, errUnknownRecordKind)
	}
}

func parseFolderClassic(v []byte) (Entry, error) {
	if len(v) < 70 {
		return Entry{}, errShortRecord
	}
	e := Entry{
		Kind:           KindFolder,
		Flags:          diskio.U16(v, 2),
		Valence:        uint32(diskio.U16(v, 4)),
		CNID:           diskio.U32(v, 6),
		CreateDate:     diskio.U32(v, 10),
		ContentModDate: diskio.U32(v, 14),
		BackupDate:     diskio.U32(v, 18),
	}
	copy(e.UserInfo[:], v[22:38])
	copy(e.FinderInfo[:], v[38:54])
	return e, nil
}

func parseFileClassic(v []byte) (Entry, error) {
	if len(v) < 102 {
		return Entry{}, errShortRecord
	}
	e := Entry{
		Kind:  KindFile,
		Flags: uint16(v[2]),
	}
	copy(e.UserInfo[:], v[4:20])
	e.CNID = diskio.U32(v, 20)

	dataLogicalSize := diskio.U32(v, 26)
	rsrcLogicalSize := diskio.U32(v, 36)
	e.CreateDate = diskio.U32(v, 44)
	e.ContentModDate = diskio.U32(v, 48)
	e.BackupDate = diskio.U32(v, 52)
	copy(e.FinderInfo[:], v[56:72])

	e.DataFork.LogicalSize = uint64(dataLogicalSize)
	e.ResourceFork.LogicalSize = uint64(rsrcLogicalSize)
	for i := 0; i < 3; i++ {
		off := 74 + i*4
		start := diskio.U16(v, off)
		count := diskio.U16(v, off+2)
		e.DataFork.Inline[i] = forkdesc.Extent{StartBlock: uint32(start), BlockCount: uint32(count)}
		e.DataFork.TotalBlocks += uint32(count)
	}
	for i := 0; i < 3; i++ {
		off := 86 + i*4
		start := diskio.U16(v, off)
		count := diskio.U16(v, off+2)
		e.ResourceFork.Inline[i] = forkdesc.Extent{StartBlock: uint32(start), BlockCount: uint32(count)}
		e.ResourceFork.TotalBlocks += uint32(count)
	}
	return e, nil
}

func parseThreadClassic(v []byte, kind RecordKind) (ThreadRecord, error) {
	if len(v) < 15 {
		return ThreadRecord{}, errShortRecord
	}
	parent := diskio.U32(v, 10)
	nameLen := int(v[14])
	if 15+nameLen > len(v) {
		return ThreadRecord{}, errShortRecord
	}
	return ThreadRecord{Kind: kind, ParentCNID: parent, NameBytes: v[15 : 15+nameLen]}, nil
}

var errShortRecord = hfsErr("catalog record value shorter than its fixed layout")
var errUnknownRecordKind = hfsErr("unrecognized catalog record type")

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }
