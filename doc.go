// Package gofshfs is a read-only forensic access library for classic
// HFS and HFS+/HFSX volumes. It opens a volume over any Block I/O
// adapter (an absolute-offset ReadAt plus a Size), walks the catalog,
// extents overflow, and attributes B-trees, and exposes a small set of
// entities — Volume, FileEntry, ExtendedAttribute, DataStream — for
// reading file content, extended attributes, and resource forks,
// including transparent decmpfs decompression and HFS+ hard-link
// resolution.
//
// The library never writes to its input. There is no mount, no fsck,
// no journal replay, and no decryption; see the package-level
// component docs under internal/ for the on-disk structures this
// builds on.
package gofshfs
