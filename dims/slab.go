/*
	This file holds strided slab extraction and insertion: copying a selected
	region out of an array, or writing a block into a region of a larger one.
	Both directions share one stride walk so gather and scatter stay symmetric.
*/

package dims

import "fmt"

// Slab extracts the region described by spans (one per axis, in shape order)
// into a new array with the same axis order and the span counts as extents.
func Slab(a *Array, spans []AxisSpan) (*Array, error) {
	if len(spans) != a.Rank() {
		return nil, fmt.Errorf("%w: %d spans for array of rank %d",
			ErrUnexpectedShape, len(spans), a.Rank())
	}
	outShape := make(Shape, a.Rank())
	for i, d := range a.Shape {
		if err := checkSpan(spans[i], d); err != nil {
			return nil, err
		}
		outShape[i] = Dim{Name: d.Name, Size: spans[i].Count}
	}
	out := NewArray(a.DType, outShape)
	copySlab(out, a, spans, true)
	return out, nil
}

// SetSlab writes src into the region of dst described by spans.  The span
// counts must equal src's extents.
func SetSlab(dst *Array, spans []AxisSpan, src *Array) error {
	if len(spans) != dst.Rank() || src.Rank() != dst.Rank() {
		return fmt.Errorf("%w: rank mismatch writing slab: dst %d, src %d, spans %d",
			ErrUnexpectedShape, dst.Rank(), src.Rank(), len(spans))
	}
	if dst.DType != src.DType {
		return fmt.Errorf("%w: writing %s slab into %s array",
			ErrUnexpectedShape, src.DType, dst.DType)
	}
	for i, d := range dst.Shape {
		if err := checkSpan(spans[i], d); err != nil {
			return err
		}
		if spans[i].Count != src.Shape[i].Size {
			return fmt.Errorf("%w: span on axis %q covers %d elements but source has %d",
				ErrUnexpectedShape, d.Name, spans[i].Count, src.Shape[i].Size)
		}
	}
	copySlab(src, dst, spans, false)
	return nil
}

func checkSpan(s AxisSpan, d Dim) error {
	if s.Step <= 0 {
		return fmt.Errorf("%w: step %d on axis %q", ErrOutOfBounds, s.Step, d.Name)
	}
	if s.Start < 0 || s.Count < 0 || (s.Count > 0 && s.Start+(s.Count-1)*s.Step >= d.Size) {
		return fmt.Errorf("%w: span start %d count %d step %d on axis %q of size %d",
			ErrOutOfBounds, s.Start, s.Count, s.Step, d.Name, d.Size)
	}
	return nil
}

// copySlab walks the dense side (the slab) in row-major order while striding
// the full-size side per spans.  gather copies full->slab, otherwise
// slab->full.
func copySlab(slab, full *Array, spans []AxisSpan, gather bool) {
	n := slab.Rank()
	es := slab.DType.BytesPerElement()
	sizes := slab.Shape.Sizes()
	fullStrides := elementStrides(full.Shape.Sizes())

	run := 1
	inner := n
	if n > 0 && spans[n-1].Step == 1 {
		run = sizes[n-1]
		inner = n - 1
	}
	total := slab.Shape.NumElements()
	if total == 0 {
		return
	}
	total /= int64(run)

	coords := make([]int, n)
	slabOff := 0
	runBytes := run * es
	for cnt := int64(0); cnt < total; cnt++ {
		off := 0
		for i := 0; i < n; i++ {
			off += (spans[i].Start + coords[i]*spans[i].Step) * fullStrides[i]
		}
		fullOff := off * es
		if gather {
			copy(slab.Data[slabOff:slabOff+runBytes], full.Data[fullOff:fullOff+runBytes])
		} else {
			copy(full.Data[fullOff:fullOff+runBytes], slab.Data[slabOff:slabOff+runBytes])
		}
		slabOff += runBytes
		for i := inner - 1; i >= 0; i-- {
			coords[i]++
			if coords[i] < sizes[i] {
				break
			}
			coords[i] = 0
		}
	}
}
