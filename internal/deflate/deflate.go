// Package deflate decodes the DEFLATE (RFC 1951) compressed blocks
// used by com.apple.decmpfs methods 3 and 4, honoring Apple's
// uncompressed-block convention: when the compressed block's first
// byte is 0xFF, the remaining bytes are copied verbatim rather than
// run through the Huffman decoder (Apple's fallback for short blocks
// that would grow under DEFLATE).
package deflate

import (
	"bytes"
	"compress/flate"
	"io"
)

// Decode decompresses src into dst's capacity, returning the number
// of bytes written. It never issues a decompression whose output
// exceeds len(dst); a source that would overflow that bound is an
// error, matching the compressed-data-handle's per-chunk bound.
func Decode(dst, src []byte) (int, error) {
	if len(src) > 0 && src[0] == 0xFF {
		n := copy(dst, src[1:])
		if n < len(src)-1 {
			return n, errOutputTooSmall
		}
		return n, nil
	}

	r := flate.NewReader(bytes.NewReader(src))
	defer r.Close()

	n := 0
	for n < len(dst) {
		m, err := r.Read(dst[n:])
		n += m
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
	}
	// Confirm the stream doesn't claim more output than dst holds.
	var probe [1]byte
	if m, _ := r.Read(probe[:]); m > 0 {
		return n, errOutputTooSmall
	}
	return n, nil
}

type errString string

func (e errString) Error() string { return string(e) }

const errOutputTooSmall errString = "deflate: compressed block decodes to more bytes than the destination chunk holds"
