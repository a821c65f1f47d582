package gofshfs

type hfsErrString string

func (e hfsErrString) Error() string { return string(e) }
func hfsErr(s string) error          { return hfsErrString(s) }

var (
	errWriteUnsupported      = hfsErr("this library is read-only; open_from_block_io was called with read_only=false")
	errNilBlockReader        = hfsErr("nil block reader")
	errBadVolume             = hfsErr("volume header has a zero allocation block size")
	errNoRoot                = hfsErr("volume has no root directory thread record")
	errNotAFile              = hfsErr("entry is a directory, not a file")
	errNotADirectory         = hfsErr("entry is a file, not a directory")
	errDanglingHardLink      = hfsErr("hard link references a nonexistent indirect node")
	errBadWhence             = hfsErr("unsupported seek whence")
	errNegativeOffset        = hfsErr("negative offset")
	errUnsupportedAttrKind   = hfsErr("extended attribute record kind not recognized")
	errAttributeForkOverflow = hfsErr("extended attribute fork data exceeds its 8 inline extents")
)
