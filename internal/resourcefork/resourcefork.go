// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package resourcefork parses a classic Mac OS resource fork (bare or
// AppleDouble-wrapped) into a read-only fs.FS, exposing each resource
// at "type/id" and, when named, a second path "type/named/name".
package resourcefork

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-forensics/gofshfs/internal/sectionreader"
)

var ErrFormat = errors.New("not a valid resource fork")

// filenameFrom converts a raw 4-byte resource type (or a Pascal-style
// resource name) into a path-safe string: printable bytes pass through
// unchanged, so a common type code like "cmpf" reads directly as a
// path component; '/' and control bytes, which would corrupt an fs.FS
// path, are percent-escaped.
func filenameFrom(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c == '/' || c < 0x20 || c == 0x7f {
			fmt.Fprintf(&sb, "%%%02X", c)
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// resource is one parsed entry: its two fs.FS paths (byID always set,
// byName set only when the resource carries a name) and a lazy reader
// over its data.
type resource struct {
	byID, byName string
	data         *sectionreader.ReaderAt
	modTime      time.Time
}

// FS is a flat, read-only view of a resource fork's resources.
type FS struct {
	byPath map[string]*resource
}

// New opens a resource fork.
func New(r io.ReaderAt) (fs.FS, error) {
	return New2(r, r)
}

// New2 routes header and data reads through different readers, to
// help exotic caching schemes keep a small header cached separately
// from the (often much larger) data area.
func New2(headerReader, dataReader io.ReaderAt) (fs.FS, error) {
	forkOffset := resourceForkOffset(headerReader) // AppleDouble

	var rfHeader [16]byte
	n, err := headerReader.ReadAt(rfHeader[:], forkOffset)
	if n != len(rfHeader) {
		return nil, err
	}
	if binary.BigEndian.Uint32(rfHeader[0:]) != 256 {
		return nil, ErrFormat
	}
	dataOffset := forkOffset + int64(binary.BigEndian.Uint32(rfHeader[0:]))
	mapOffset := forkOffset + int64(binary.BigEndian.Uint32(rfHeader[4:]))
	dataSize := int64(binary.BigEndian.Uint32(rfHeader[8:]))
	mapSize := int64(binary.BigEndian.Uint32(rfHeader[12:]))

	rmap := make([]byte, mapSize)
	n, err = headerReader.ReadAt(rmap, mapOffset)
	if n != len(rmap) {
		return nil, err
	}

	tlo := int(binary.BigEndian.Uint16(rmap[24:]))
	nlo := int(binary.BigEndian.Uint16(rmap[26:]))
	if len(rmap) < tlo+2 || len(rmap) < nlo {
		return nil, ErrFormat
	}
	typeList := rmap[tlo:]
	nameList := rmap[nlo:]

	type rentry struct {
		offset int64
		te     []byte
		re     []byte
		ne     []byte
	}
	var rlist []rentry

	nType := int(binary.BigEndian.Uint16(typeList[0:]) + 1)
	if len(typeList) < 2+8*nType {
		return nil, ErrFormat
	}
	for i := range nType {
		te := typeList[2+8*i:][:8]
		nRes := int(binary.BigEndian.Uint16(te[4:]) + 1)
		sf := int(binary.BigEndian.Uint16(te[6:]))
		if len(typeList) < sf+12*nRes {
			return nil, ErrFormat
		}
		for j := range nRes {
			re := typeList[sf+12*j:][:12]
			nameof := int(int16(binary.BigEndian.Uint16(re[2:])))
			var ne []byte
			if nameof >= 0 {
				if len(nameList) < nameof+1 {
					return nil, ErrFormat
				}
				ne = nameList[nameof:]
			}
			dataof := dataOffset + int64(binary.BigEndian.Uint32(re[4:])&0xffffff) + 4 // the critical field
			if dataOffset+dataSize < dataof {
				return nil, ErrFormat
			}
			rlist = append(rlist, rentry{offset: dataof, te: te, re: re, ne: ne})
		}
	}

	slices.SortFunc(rlist, func(a, b rentry) int { return cmp.Compare(a.offset, b.offset) })

	fsys := &FS{byPath: make(map[string]*resource, len(rlist))}
	for _, r := range rlist {
		var se [4]byte
		n, err = headerReader.ReadAt(se[:], r.offset-4)
		if n != len(se) {
			return nil, err
		}
		size := int64(binary.BigEndian.Uint32(se[:]))

		typePath := filenameFrom(r.te[:4])
		idPath := typePath + "/" + strconv.Itoa(int(int16(binary.BigEndian.Uint16(r.re[0:]))))
		res := &resource{
			byID: idPath,
			data: sectionreader.Section(dataReader, r.offset, size),
		}
		if len(r.ne) > 0 {
			nlen := int(r.ne[0])
			if len(r.ne) < 1+nlen {
				return nil, ErrFormat
			}
			res.byName = typePath + "/named/" + filenameFrom(r.ne[1:][:nlen])
		}
		fsys.byPath[idPath] = res
		if res.byName != "" {
			fsys.byPath[res.byName] = res
		}
	}
	return fsys, nil
}

func resourceForkOffset(r io.ReaderAt) int64 {
	header := make([]byte, 3)
	n, _ := r.ReadAt(header, 0)
	if n < len(header) {
		return 0
	}
	if string(header) != "\x00\x05\x16" {
		return 0
	}
	nf := make([]byte, 2)
	n, _ = r.ReadAt(nf, 24)
	if n != len(nf) {
		return 0
	}
	recList := make([]byte, 12*int(binary.BigEndian.Uint32(nf)))
	n, _ = r.ReadAt(recList, 26)
	if n != len(recList) {
		return 0
	}
	for ; len(recList) > 0; recList = recList[12:] {
		if binary.BigEndian.Uint32(recList) == 2 && binary.BigEndian.Uint32(recList[8:]) >= 286 {
			return int64(binary.BigEndian.Uint32(recList[4:]))
		}
	}
	return 0
}

// Open implements fs.FS. Only plain-file lookups are supported: every
// resource is a leaf, there is no directory traversal, matching what
// this module needs the resource fork for (a flat lookup table, not a
// browsable hierarchy).
func (fsys *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	res, ok := fsys.byPath[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &openResource{res: res, section: sectionreader.Section(res.data, 0, res.data.Size())}, nil
}

type openResource struct {
	res     *resource
	section *sectionreader.ReaderAt
	pos     int64
}

func (f *openResource) Stat() (fs.FileInfo, error) { return resourceInfo{f.res}, nil }

func (f *openResource) Read(p []byte) (int, error) {
	n, err := f.section.ReadAt(p, f.pos)
	f.pos += int64(n)
	return n, err
}

func (f *openResource) ReadAt(p []byte, off int64) (int, error) { return f.section.ReadAt(p, off) }

func (f *openResource) Close() error { return nil }

type resourceInfo struct{ res *resource }

func (i resourceInfo) Name() string       { return strings.TrimPrefix(i.res.byID, "") }
func (i resourceInfo) Size() int64        { return i.res.data.Size() }
func (i resourceInfo) Mode() fs.FileMode  { return 0444 }
func (i resourceInfo) ModTime() time.Time { return i.res.modTime }
func (i resourceInfo) IsDir() bool        { return false }
func (i resourceInfo) Sys() any           { return nil }
