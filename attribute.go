package gofshfs

import (
	"github.com/go-forensics/gofshfs/internal/attributes"
	"github.com/go-forensics/gofshfs/internal/extentreader"
	"github.com/go-forensics/gofshfs/internal/forkdesc"
	"github.com/go-forensics/gofshfs/internal/hfserr"
)

// ExtendedAttribute is one extended attribute record of a FileEntry:
// either an inline byte payload or a small fork of its own (up to 8
// extents; a continuation-extent attribute record, §3 "KindExtents",
// is not currently materialized into Data — see DESIGN.md).
type ExtendedAttribute struct {
	v    *Volume
	attr attributes.Attribute
}

// Name returns the attribute's name.
func (a ExtendedAttribute) Name() string { return a.attr.Name }

// Size reports the attribute's payload length.
func (a ExtendedAttribute) Size() (int64, error) {
	const op = "gofshfs.ExtendedAttribute.Size"
	switch a.attr.Kind {
	case attributes.KindInlineData:
		return int64(len(a.attr.InlineData)), nil
	case attributes.KindForkData:
		return int64(a.attr.Fork.LogicalSize), nil
	default:
		return 0, hfserr.New(hfserr.UnsupportedValue, op, errUnsupportedAttrKind)
	}
}

// Data reads the attribute's full payload.
func (a ExtendedAttribute) Data() ([]byte, error) {
	const op = "gofshfs.ExtendedAttribute.Data"
	switch a.attr.Kind {
	case attributes.KindInlineData:
		out := make([]byte, len(a.attr.InlineData))
		copy(out, a.attr.InlineData)
		return out, nil
	case attributes.KindForkData:
		if forkExceedsInlineExtents(a.attr.Fork) {
			return nil, hfserr.New(hfserr.UnsupportedValue, op, errAttributeForkOverflow)
		}
		segs, err := forkdesc.BuildSegments(a.attr.Fork, a.v.allocationBlockSize, nil)
		if err != nil {
			return nil, hfserr.Wrap(op, err)
		}
		r := extentreader.New(a.v.volumeReader, segs, int64(a.attr.Fork.LogicalSize))
		buf := make([]byte, r.Size())
		if _, rerr := r.ReadAt(buf, 0); rerr != nil {
			return nil, hfserr.Wrap(op, rerr)
		}
		return buf, nil
	default:
		return nil, hfserr.New(hfserr.UnsupportedValue, op, errUnsupportedAttrKind)
	}
}

func forkExceedsInlineExtents(d forkdesc.Descriptor) bool {
	var blocks uint32
	for _, e := range d.Inline {
		blocks += e.BlockCount
	}
	return blocks < d.TotalBlocks
}
