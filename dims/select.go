/*
	This file holds per-axis selection specifiers: a fixed index, a half-open
	range, or an "every Nth" stride.  Selections are validated fully before any
	I/O is scheduled; out-of-range requests fail instead of clamping.
*/

package dims

import "fmt"

// Selector restricts one axis of a read request.  The zero value selects the
// whole axis.  Setting both Idx and a range on the same axis is a conflict.
type Selector struct {
	// Idx selects a single position along the axis.
	Idx *int

	// Start and Stop bound a half-open range [Start, Stop).  Nil means the
	// axis boundary.
	Start *int
	Stop  *int

	// Step takes every Step-th element of the range.  Zero means 1.
	Step int

	// Collapse removes the axis from the result shape.  Only meaningful with
	// Idx, where the axis necessarily collapses to size 1.
	Collapse bool
}

// All selects every element of an axis.
func All() Selector {
	return Selector{}
}

// Index selects a single position, keeping the axis in the result with size 1.
func Index(i int) Selector {
	return Selector{Idx: &i}
}

// CollapsedIndex selects a single position and removes the axis from the result.
func CollapsedIndex(i int) Selector {
	return Selector{Idx: &i, Collapse: true}
}

// Range selects the half-open range [start, stop).
func Range(start, stop int) Selector {
	return Selector{Start: &start, Stop: &stop}
}

// Strided selects every step-th element of [start, stop).
func Strided(start, stop, step int) Selector {
	return Selector{Start: &start, Stop: &stop, Step: step}
}

// AxisSpan is a resolved selector: the concrete start, count, and step for
// one axis of known size.
type AxisSpan struct {
	Start    int
	Count    int
	Step     int
	Collapse bool
}

// Resolve checks a selector against an axis of the given size and name,
// returning the concrete span.
func (sel Selector) Resolve(name string, size int) (AxisSpan, error) {
	if sel.Idx != nil && (sel.Start != nil || sel.Stop != nil || sel.Step > 1) {
		return AxisSpan{}, fmt.Errorf("%w: axis %q has both a fixed index and a range/stride",
			ErrConflictingArguments, name)
	}
	if sel.Collapse && sel.Idx == nil {
		return AxisSpan{}, fmt.Errorf("%w: axis %q requests collapse without a fixed index",
			ErrConflictingArguments, name)
	}
	if sel.Idx != nil {
		i := *sel.Idx
		if i < 0 || i >= size {
			return AxisSpan{}, fmt.Errorf("%w: index %d on axis %q of size %d",
				ErrOutOfBounds, i, name, size)
		}
		return AxisSpan{Start: i, Count: 1, Step: 1, Collapse: sel.Collapse}, nil
	}
	start, stop := 0, size
	if sel.Start != nil {
		start = *sel.Start
	}
	if sel.Stop != nil {
		stop = *sel.Stop
	}
	step := sel.Step
	if step == 0 {
		step = 1
	}
	if step < 0 {
		return AxisSpan{}, fmt.Errorf("%w: step %d on axis %q, steps must be positive",
			ErrOutOfBounds, step, name)
	}
	if start < 0 || stop > size || start > stop {
		return AxisSpan{}, fmt.Errorf("%w: range [%d,%d) on axis %q of size %d",
			ErrOutOfBounds, start, stop, name, size)
	}
	count := (stop - start + step - 1) / step
	return AxisSpan{Start: start, Count: count, Step: step}, nil
}

// Selection maps axis letters to selectors.  Axes of the request order not
// named here default to All.
type Selection map[string]Selector

// ResolveSelection validates a selection against a shape, producing one span
// per shape axis in shape order.  Selecting an axis the shape does not carry
// fails with ErrInvalidDimensionOrdering.
func ResolveSelection(shape Shape, sel Selection) ([]AxisSpan, error) {
	for name := range sel {
		norm, err := ParseOrder(name)
		if err != nil {
			return nil, err
		}
		if shape.Index(norm) < 0 {
			return nil, fmt.Errorf("%w: selection names axis %q not present in shape %s",
				ErrInvalidDimensionOrdering, norm, shape)
		}
	}
	spans := make([]AxisSpan, len(shape))
	for i, d := range shape {
		s, ok := sel[d.Name]
		if !ok {
			// Accept lowercase keys the same way order strings do.
			s, ok = sel[string(d.Name[0]|0x20)]
		}
		if !ok {
			s = All()
		}
		span, err := s.Resolve(d.Name, d.Size)
		if err != nil {
			return nil, err
		}
		spans[i] = span
	}
	return spans, nil
}
