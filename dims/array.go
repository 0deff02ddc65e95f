/*
	This file holds the Array value type and the axis permutation routine
	underlying every reorder that crosses a format boundary.  Arrays are flat
	row-major buffers; reordering only indexes and copies, it never reinterprets
	pixel values.
*/

package dims

import (
	"fmt"
	"strings"
)

// Array is a concrete multi-dimensional block of elements in row-major layout.
// The Shape carries both the axis order and the per-axis extents.
type Array struct {
	DType DataType
	Shape Shape
	Data  []byte
}

// NewArray allocates a zeroed array for the given element type and shape.
func NewArray(t DataType, shape Shape) *Array {
	n := shape.NumElements() * int64(t.BytesPerElement())
	return &Array{
		DType: t,
		Shape: append(Shape(nil), shape...),
		Data:  make([]byte, n),
	}
}

// WrapArray wraps an existing buffer.  The buffer length must match the shape.
func WrapArray(t DataType, shape Shape, data []byte) (*Array, error) {
	want := shape.NumElements() * int64(t.BytesPerElement())
	if int64(len(data)) != want {
		return nil, fmt.Errorf("%w: buffer is %d bytes but shape %s with %s elements requires %d",
			ErrUnexpectedShape, len(data), shape, t, want)
	}
	return &Array{DType: t, Shape: append(Shape(nil), shape...), Data: data}, nil
}

// Rank returns the number of axes.
func (a *Array) Rank() int {
	return len(a.Shape)
}

// ElementOffset returns the byte offset of the element at the given coordinates.
// Coordinates are in shape order and are not bounds checked.
func (a *Array) ElementOffset(coords ...int) int64 {
	strides := elementStrides(a.Shape.Sizes())
	off := int64(0)
	for i, c := range coords {
		off += int64(c) * int64(strides[i])
	}
	return off * int64(a.DType.BytesPerElement())
}

// elementStrides returns row-major strides in element units.
func elementStrides(sizes []int) []int {
	strides := make([]int, len(sizes))
	stride := 1
	for i := len(sizes) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= sizes[i]
	}
	return strides
}

// Reshape produces an array laid out per targetOrder from an array described
// by givenOrder.  Axes named by targetOrder but absent from givenOrder are
// inserted with size 1 at their canonical position; axes of size 1 absent
// from targetOrder are dropped.  Dropping an axis of size > 1 fails with
// ErrInvalidDimensionOrdering.  The input array is never modified, and the
// operation round-trips: Reshape(Reshape(a, A, B), B, A) reconstructs a.
func Reshape(a *Array, givenOrder, targetOrder string) (*Array, error) {
	given, err := ParseOrder(givenOrder)
	if err != nil {
		return nil, err
	}
	if len(given) != a.Rank() {
		return nil, fmt.Errorf("%w: order %q names %d axes but array has rank %d",
			ErrUnexpectedShape, givenOrder, len(given), a.Rank())
	}
	want := a.Shape.NumElements() * int64(a.DType.BytesPerElement())
	if int64(len(a.Data)) != want {
		return nil, fmt.Errorf("%w: array data is %d bytes but shape %s requires %d",
			ErrUnexpectedShape, len(a.Data), a.Shape, want)
	}
	target, err := ParseOrder(targetOrder)
	if err != nil {
		return nil, err
	}

	srcSizes := a.Shape.Sizes()
	for i := 0; i < len(given); i++ {
		name := given[i : i+1]
		if !strings.Contains(target, name) && srcSizes[i] > 1 {
			return nil, fmt.Errorf("%w: axis %q has size %d and is not in target order %q",
				ErrInvalidDimensionOrdering, name, srcSizes[i], target)
		}
	}

	outShape := make(Shape, len(target))
	srcAxis := make([]int, len(target))
	for j := 0; j < len(target); j++ {
		name := target[j : j+1]
		i := strings.Index(given, name)
		srcAxis[j] = i
		size := 1
		if i >= 0 {
			size = srcSizes[i]
		}
		outShape[j] = Dim{Name: name, Size: size}
	}

	out := NewArray(a.DType, outShape)
	copyPermuted(out, a, srcAxis)
	return out, nil
}

// copyPermuted fills dst from src where srcAxis maps each dst axis to a src
// axis, or -1 for an inserted size-1 axis.
func copyPermuted(dst, src *Array, srcAxis []int) {
	// If the surviving src axes appear in dst in their original order, the
	// flat layouts coincide and a single copy suffices.
	monotonic := true
	last := -1
	for _, i := range srcAxis {
		if i >= 0 {
			if i < last {
				monotonic = false
				break
			}
			last = i
		}
	}
	if monotonic {
		copy(dst.Data, src.Data)
		return
	}

	es := src.DType.BytesPerElement()
	srcStrides := elementStrides(src.Shape.Sizes())
	outSizes := dst.Shape.Sizes()
	n := len(outSizes)

	// Copy whole rows when the innermost dst axis is also innermost in src.
	run := 1
	inner := n
	if n > 0 && srcAxis[n-1] == src.Rank()-1 {
		run = outSizes[n-1]
		inner = n - 1
	}

	total := dst.Shape.NumElements()
	if run > 0 {
		total /= int64(run)
	}
	coords := make([]int, n)
	dstOff := 0
	runBytes := run * es
	for cnt := int64(0); cnt < total; cnt++ {
		off := 0
		for j := 0; j < n; j++ {
			if srcAxis[j] >= 0 {
				off += coords[j] * srcStrides[srcAxis[j]]
			}
		}
		copy(dst.Data[dstOff:dstOff+runBytes], src.Data[off*es:off*es+runBytes])
		dstOff += runBytes
		for j := inner - 1; j >= 0; j-- {
			coords[j]++
			if coords[j] < outSizes[j] {
				break
			}
			coords[j] = 0
		}
	}
}
