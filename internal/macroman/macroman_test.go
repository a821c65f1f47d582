package macroman

import "testing"

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		s    string
	}{
		{"ascii", []byte("System Folder"), "System Folder"},
		{"ring", []byte{0x81}, "Å"},      // Å, table[1]
		{"bullet", []byte{0xA5}, "•"},    // •, table[0x25]
		{"mixed", []byte{'A', 0x81, 'B'}, "AÅB"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Decode(c.b); got != c.s {
				t.Fatalf("Decode(%v) = %q, want %q", c.b, got, c.s)
			}
			enc, ok := Encode(c.s)
			if !ok {
				t.Fatalf("Encode(%q) not ok", c.s)
			}
			if string(enc) != string(c.b) {
				t.Fatalf("Encode(%q) = %v, want %v", c.s, enc, c.b)
			}
		})
	}
}

func TestEncodeUnrepresentable(t *testing.T) {
	if _, ok := Encode("中文"); ok {
		t.Fatal("Encode of CJK text unexpectedly succeeded")
	}
}

func TestCompareCaseInsensitiveASCII(t *testing.T) {
	if !Equal([]byte("README"), []byte("readme")) {
		t.Fatal("README should fold-equal readme")
	}
	if Compare([]byte("apple"), []byte("banana")) >= 0 {
		t.Fatal("apple should sort before banana")
	}
}

func TestCompareNoUnicodeFoldOfExtendedGlyphs(t *testing.T) {
	// table[0] is Ä (0x80), table[0x0A] is ä (0x8A). A Unicode case
	// fold would pair them, but classic HFS does not case-fold outside
	// ASCII, so these must never compare equal.
	if Equal([]byte{0x80}, []byte{0x8A}) {
		t.Fatal("distinct extended Roman glyphs must not fold-equal")
	}
}

func TestComparePrefixOrdering(t *testing.T) {
	if Compare([]byte("Folder"), []byte("Folder 2")) >= 0 {
		t.Fatal("shorter prefix should sort before its extension")
	}
}
