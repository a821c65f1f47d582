// Package macroman decodes classic HFS catalog names, which are
// stored as Pascal strings in the Mac OS Roman 8-bit encoding, and
// compares them the way classic HFS's relaxed binary-and-case-fold
// scheme does: byte-for-byte equal after an uppercase fold over the
// decoded runes (there is no Unicode normalization step, because
// classic HFS predates Unicode entirely).
package macroman

import "strings"

// table maps bytes 0x80-0xFF to their Unicode code points. Bytes
// 0x00-0x7F are plain ASCII. This is the standard "Mac OS Roman"
// code page as shipped by every classic Mac OS release.
var table = [128]rune{
	0x00C4, 0x00C5, 0x00C7, 0x00C9, 0x00D1, 0x00D6, 0x00DC, 0x00E1,
	0x00E0, 0x00E2, 0x00E4, 0x00E3, 0x00E5, 0x00E7, 0x00E9, 0x00E8,
	0x00EA, 0x00EB, 0x00ED, 0x00EC, 0x00EE, 0x00EF, 0x00F1, 0x00F3,
	0x00F2, 0x00F4, 0x00F6, 0x00F5, 0x00FA, 0x00F9, 0x00FB, 0x00FC,
	0x2020, 0x00B0, 0x00A2, 0x00A3, 0x00A7, 0x2022, 0x00B6, 0x00DF,
	0x00AE, 0x00A9, 0x2122, 0x00B4, 0x00A8, 0x2260, 0x00C6, 0x00D8,
	0x221E, 0x00B1, 0x2264, 0x2265, 0x00A5, 0x00B5, 0x2202, 0x2211,
	0x220F, 0x03C0, 0x222B, 0x00AA, 0x00BA, 0x03A9, 0x00E6, 0x00F8,
	0x00BF, 0x00A1, 0x00AC, 0x221A, 0x0192, 0x2248, 0x2206, 0x00AB,
	0x00BB, 0x2026, 0x00A0, 0x00C0, 0x00C3, 0x00D5, 0x0152, 0x0153,
	0x2013, 0x2014, 0x201C, 0x201D, 0x2018, 0x2019, 0x00F7, 0x25CA,
	0x00FF, 0x0178, 0x2044, 0x20AC, 0x2039, 0x203A, 0xFB01, 0xFB02,
	0x2021, 0x00B7, 0x201A, 0x201E, 0x2030, 0x00C2, 0x00CA, 0x00C1,
	0x00CB, 0x00C8, 0x00CD, 0x00CE, 0x00CF, 0x00CC, 0x00D3, 0x00D4,
	0xF8FF, 0x00D2, 0x00DA, 0x00DB, 0x00D9, 0x0131, 0x02C6, 0x02DC,
	0x00AF, 0x02D8, 0x02D9, 0x02DA, 0x00B8, 0x02DD, 0x02DB, 0x02C7,
}

// Decode converts a Mac OS Roman byte string (the payload of an HFS
// Pascal-string catalog name, already stripped of its length byte) to
// a Go string.
func Decode(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(table[c-0x80])
		}
	}
	return sb.String()
}

// Encode converts s back to Mac OS Roman bytes, for constructing
// lookup keys from a caller-supplied path component. Runes outside
// the Mac OS Roman repertoire are not representable in a classic HFS
// name; Encode reports that as ok=false rather than lossily
// substituting a byte.
func Encode(s string) (b []byte, ok bool) {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		found := false
		for i, t := range table {
			if t == r {
				out = append(out, byte(0x80+i))
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return out, true
}

// upperFold returns r upper-cased the way classic HFS's relaxed
// binary comparison does: plain ASCII case folding only, since the
// original Mac OS Finder's name comparison never attempted a full
// Unicode case fold over the extended Roman glyphs.
func upperFold(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}

// Compare orders two Mac OS Roman byte strings the way classic HFS's
// catalog B-tree does: case-insensitive (ASCII range only) binary
// comparison of the decoded rune sequence. It returns <0, 0, or >0
// like bytes.Compare.
func Compare(a, b []byte) int {
	sa, sb := Decode(a), Decode(b)
	ra, rb := []rune(sa), []rune(sb)
	for i := 0; i < len(ra) && i < len(rb); i++ {
		ca, cb := upperFold(ra[i]), upperFold(rb[i])
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ra) < len(rb):
		return -1
	case len(ra) > len(rb):
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b compare equal under Compare.
func Equal(a, b []byte) bool { return Compare(a, b) == 0 }
