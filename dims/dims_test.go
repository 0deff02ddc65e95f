package dims

import (
	"errors"
	"testing"
)

func TestParseOrder(t *testing.T) {
	got, err := ParseOrder("tczyx")
	if err != nil {
		t.Fatalf("Error parsing lowercase order: %v\n", err)
	}
	if got != "TCZYX" {
		t.Errorf("Expected normalized order TCZYX, got %q\n", got)
	}

	if _, err := ParseOrder("AYXQ"); !errors.Is(err, ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for unknown axis Q, got %v\n", err)
	}
	if _, err := ParseOrder("TT"); !errors.Is(err, ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for duplicate axis, got %v\n", err)
	}
	if got, err := ParseOrder(""); err != nil || got != "" {
		t.Errorf("Expected empty order to parse to empty string, got %q, %v\n", got, err)
	}
}

func TestNewShape(t *testing.T) {
	s, err := NewShape("TCZYX", 2, 3, 5, 100, 200)
	if err != nil {
		t.Fatalf("Error creating shape: %v\n", err)
	}
	if s.Order() != "TCZYX" {
		t.Errorf("Bad shape order %q\n", s.Order())
	}
	if n := s.NumElements(); n != 2*3*5*100*200 {
		t.Errorf("Bad element count %d\n", n)
	}
	if i := s.Index("Z"); i != 2 {
		t.Errorf("Expected axis Z at position 2, got %d\n", i)
	}
	if size, found := s.Size("C"); !found || size != 3 {
		t.Errorf("Expected axis C of size 3, got %d (found %t)\n", size, found)
	}
	if _, found := s.Size("M"); found {
		t.Errorf("Found axis M in shape without one\n")
	}

	if _, err := NewShape("TCZ", 1, 2); !errors.Is(err, ErrUnexpectedShape) {
		t.Errorf("Expected ErrUnexpectedShape for order/size mismatch, got %v\n", err)
	}
	if _, err := NewShape("YX", -1, 5); !errors.Is(err, ErrUnexpectedShape) {
		t.Errorf("Expected ErrUnexpectedShape for negative size, got %v\n", err)
	}
}

func TestCanonicalize(t *testing.T) {
	s, err := NewShape("ZYX", 5, 100, 100)
	if err != nil {
		t.Fatalf("Error creating shape: %v\n", err)
	}
	canon, err := Canonicalize(s)
	if err != nil {
		t.Fatalf("Error canonicalizing ZYX shape: %v\n", err)
	}
	if canon.Order() != CanonicalOrder {
		t.Errorf("Expected canonical order %q, got %q\n", CanonicalOrder, canon.Order())
	}
	want := []int{1, 1, 1, 5, 100, 100}
	for i, size := range canon.Sizes() {
		if size != want[i] {
			t.Errorf("Canonical axis %q has size %d, expected %d\n",
				canon[i].Name, size, want[i])
		}
	}

	// A trivial mosaic axis can be dropped, a non-trivial one cannot.
	s, _ = NewShape("MTCZYX", 1, 2, 3, 4, 5, 6)
	if _, err := Canonicalize(s); err != nil {
		t.Errorf("Error canonicalizing shape with size-1 mosaic axis: %v\n", err)
	}
	s, _ = NewShape("MTCZYX", 4, 2, 3, 4, 5, 6)
	if _, err := Canonicalize(s); !errors.Is(err, ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering dropping 4-tile mosaic axis, got %v\n", err)
	}
}
