package hfserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(NotFound, "catalog.Lookup", nil)
	if KindOf(err) != NotFound {
		t.Fatalf("KindOf = %v, want NotFound", KindOf(err))
	}
	if !Of(err, NotFound) {
		t.Fatal("Of(err, NotFound) = false")
	}
	if Of(err, InvalidData) {
		t.Fatal("Of(err, InvalidData) = true, want false")
	}
}

func TestKindOfUnwrappedError(t *testing.T) {
	if KindOf(errors.New("plain")) != 0 {
		t.Fatal("KindOf of a plain error should be the zero Kind")
	}
}

func TestWrapPreservesKind(t *testing.T) {
	leaf := New(InvalidData, "btree.parseNode", errors.New("short buffer"))
	wrapped := Wrap("catalog.Lookup", leaf)
	if KindOf(wrapped) != InvalidData {
		t.Fatalf("Wrap changed Kind to %v, want InvalidData", KindOf(wrapped))
	}
	if !errors.Is(wrapped, leaf) {
		t.Fatal("wrapped error should satisfy errors.Is against the same-Kind leaf")
	}
}

func TestWrapOfPlainErrorDefaultsToInvalidData(t *testing.T) {
	wrapped := Wrap("op", errors.New("boom"))
	if KindOf(wrapped) != InvalidData {
		t.Fatalf("Wrap of a bare error = %v, want InvalidData", KindOf(wrapped))
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Fatal("Wrap(op, nil) should return nil")
	}
}

func TestUnwrapChain(t *testing.T) {
	leaf := errors.New("disk read failed")
	err := New(Io, "extentreader.ReadAt", leaf)
	if !errors.Is(err, leaf) {
		t.Fatal("errors.Is should see through to the wrapped leaf error")
	}
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New(OutOfBounds, "extentreader.ReadAt", nil)
	got := err.Error()
	want := fmt.Sprintf("%s: %s", "extentreader.ReadAt", OutOfBounds)
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
