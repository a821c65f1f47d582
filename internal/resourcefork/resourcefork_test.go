// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package resourcefork

import (
	"bytes"
	"encoding/binary"
	"io/fs"
	"testing"
)

// buildResourceFork assembles a minimal bare (non-AppleDouble) resource
// fork containing a single resource of type "cmpf", ID 1000, whose
// data is payload.
func buildResourceFork(t *testing.T, payload []byte) []byte {
	t.Helper()

	data := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(data, uint32(len(payload)))
	copy(data[4:], payload)

	const typeListOffset = 28
	const refListOffset = typeListOffset + 2 + 8
	nameListOffset := refListOffset + 12

	typeList := make([]byte, 2+8)
	binary.BigEndian.PutUint16(typeList, 0) // type count - 1
	copy(typeList[2:6], "cmpf")
	binary.BigEndian.PutUint16(typeList[6:], 0)                      // resource count - 1
	binary.BigEndian.PutUint16(typeList[8:], uint16(refListOffset-typeListOffset))

	refList := make([]byte, 12)
	binary.BigEndian.PutUint16(refList, 1000)       // resource ID
	binary.BigEndian.PutUint16(refList[2:], 0xFFFF) // no name
	refList[4], refList[5], refList[6], refList[7] = 0, 0, 0, 0 // data offset within data area

	resMap := make([]byte, nameListOffset)
	binary.BigEndian.PutUint16(resMap[24:], uint16(typeListOffset))
	binary.BigEndian.PutUint16(resMap[26:], uint16(nameListOffset))
	copy(resMap[typeListOffset:], typeList)
	copy(resMap[refListOffset:], refList)

	const dataOffset = 256
	mapOffset := dataOffset + len(data)

	out := make([]byte, mapOffset+len(resMap))
	binary.BigEndian.PutUint32(out[0:], uint32(dataOffset))
	binary.BigEndian.PutUint32(out[4:], uint32(mapOffset))
	binary.BigEndian.PutUint32(out[8:], uint32(len(data)))
	binary.BigEndian.PutUint32(out[12:], uint32(len(resMap)))
	copy(out[dataOffset:], data)
	copy(out[mapOffset:], resMap)
	return out
}

func TestNewReadsSingleResource(t *testing.T) {
	payload := bytes.Repeat([]byte{0xEE}, 17)
	raw := buildResourceFork(t, payload)

	fsys, err := New(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}

	got, err := fs.ReadFile(fsys, "cmpf/1000")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("resource data = %x, want %x", got, payload)
	}
}

func TestNewRejectsBadMagic(t *testing.T) {
	_, err := New(bytes.NewReader(make([]byte, 32)))
	if err == nil {
		t.Error("expected an error for a buffer with no valid resource fork header")
	}
}
