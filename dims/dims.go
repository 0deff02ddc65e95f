/*
	Package dims implements the canonical axis model shared by every bioimg
	source: a fixed dimension vocabulary, ordered shapes, axis-order strings,
	and the pure reorder/validate algebra used on both eager and lazy paths.
*/
package dims

import (
	"fmt"
	"strings"
)

// Single-letter axis tokens.  Axis-order strings are sequences of these,
// case-insensitive on input.
const (
	Scene      = "S"
	Time       = "T"
	Channel    = "C"
	SpatialZ   = "Z"
	SpatialY   = "Y"
	SpatialX   = "X"
	Samples    = "A"
	MosaicTile = "M"
)

// CanonicalOrder is the fixed 6-axis order used for cross-format uniformity.
const CanonicalOrder = Scene + Time + Channel + SpatialZ + SpatialY + SpatialX

// fullOrder gives every known axis a fixed insertion rank.  Missing axes are
// inserted at this position when a caller asks for an order containing them.
const fullOrder = Scene + MosaicTile + Time + Channel + SpatialZ + SpatialY + SpatialX + Samples

// KnownAxis returns true if the given letter is in the axis vocabulary.
func KnownAxis(letter byte) bool {
	return strings.IndexByte(fullOrder, upper(letter)) >= 0
}

// axisRank returns the canonical insertion rank of an axis letter.
func axisRank(letter byte) int {
	return strings.IndexByte(fullOrder, letter)
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// ParseOrder validates an axis-order string: every letter must be in the
// fixed vocabulary and appear at most once.  The normalized (uppercased)
// order is returned.
func ParseOrder(order string) (string, error) {
	var seen [256]bool
	buf := make([]byte, len(order))
	for i := 0; i < len(order); i++ {
		c := upper(order[i])
		if !KnownAxis(c) {
			return "", fmt.Errorf("%w: unknown axis %q in order %q, expected letters from %q",
				ErrInvalidDimensionOrdering, string(order[i]), order, fullOrder)
		}
		if seen[c] {
			return "", fmt.Errorf("%w: axis %q appears more than once in order %q",
				ErrInvalidDimensionOrdering, string(c), order)
		}
		seen[c] = true
		buf[i] = c
	}
	return string(buf), nil
}

// Dim is one named axis with its extent.
type Dim struct {
	Name string
	Size int
}

// Shape is an ordered sequence of named axes.  Order is meaningful: it is the
// axis order of the data it describes.  Names are unique within a Shape.
type Shape []Dim

// NewShape pairs an axis-order string with per-axis sizes.
func NewShape(order string, sizes ...int) (Shape, error) {
	order, err := ParseOrder(order)
	if err != nil {
		return nil, err
	}
	if len(order) != len(sizes) {
		return nil, fmt.Errorf("%w: order %q names %d axes but %d sizes given",
			ErrUnexpectedShape, order, len(order), len(sizes))
	}
	s := make(Shape, len(order))
	for i := range order {
		if sizes[i] < 0 {
			return nil, fmt.Errorf("%w: axis %q has negative size %d",
				ErrUnexpectedShape, order[i:i+1], sizes[i])
		}
		s[i] = Dim{Name: order[i : i+1], Size: sizes[i]}
	}
	return s, nil
}

// Order returns the axis-order string of this shape.
func (s Shape) Order() string {
	var b strings.Builder
	for _, d := range s {
		b.WriteString(d.Name)
	}
	return b.String()
}

// Sizes returns the per-axis extents in shape order.
func (s Shape) Sizes() []int {
	sizes := make([]int, len(s))
	for i, d := range s {
		sizes[i] = d.Size
	}
	return sizes
}

// Index returns the position of the named axis, or -1 if absent.
func (s Shape) Index(name string) int {
	for i, d := range s {
		if d.Name == name {
			return i
		}
	}
	return -1
}

// Size returns the extent of the named axis and whether it is present.
func (s Shape) Size(name string) (int, bool) {
	if i := s.Index(name); i >= 0 {
		return s[i].Size, true
	}
	return 0, false
}

// NumElements returns the total element count implied by the shape.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= int64(d.Size)
	}
	return n
}

func (s Shape) String() string {
	var b strings.Builder
	b.WriteString(s.Order())
	b.WriteString(" (")
	for i, d := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", d.Size)
	}
	b.WriteByte(')')
	return b.String()
}

// Canonicalize rewrites a shape into CanonicalOrder, inserting size-1
// placeholders for absent axes.  A non-trivial axis outside the canonical
// six (e.g. a MosaicTile axis of size > 1 that was not resolved upstream)
// cannot be dropped and fails with ErrInvalidDimensionOrdering.
func Canonicalize(s Shape) (Shape, error) {
	out := make(Shape, 0, len(CanonicalOrder))
	for i := 0; i < len(CanonicalOrder); i++ {
		name := CanonicalOrder[i : i+1]
		size, ok := s.Size(name)
		if !ok {
			size = 1
		}
		out = append(out, Dim{Name: name, Size: size})
	}
	for _, d := range s {
		if !strings.Contains(CanonicalOrder, d.Name) && d.Size > 1 {
			return nil, fmt.Errorf("%w: axis %q has size %d and cannot be dropped when canonicalizing %s",
				ErrInvalidDimensionOrdering, d.Name, d.Size, s)
		}
	}
	return out, nil
}
