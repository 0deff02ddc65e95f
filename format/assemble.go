package format

import (
	"fmt"

	"github.com/bioimg-io/bioimg/dims"
)

// BlockLoader reads one stored block.  blockIndex has one coordinate per
// stored axis; shape is the exact shape the block must have.
type BlockLoader func(blockIndex []int, shape dims.Shape) (*dims.Array, error)

// AssembleBlocks fills a requested region from a source that stores data as
// a grid of blocks along storedAxes (block length per stored axis in
// blockLens, full extent on every other axis).  The requested region may cut
// across stored block boundaries; each intersecting block is loaded once and
// the overlap copied into place.  spans must have step 1.
func AssembleBlocks(native dims.Shape, dtype dims.DataType, storedAxes string, blockLens []int,
	spans []dims.AxisSpan, load BlockLoader) (*dims.Array, error) {

	if len(spans) != len(native) {
		return nil, fmt.Errorf("%w: %d spans for native shape %s",
			dims.ErrUnexpectedShape, len(spans), native)
	}
	outShape := make(dims.Shape, len(native))
	for i, d := range native {
		if spans[i].Step != 1 {
			return nil, fmt.Errorf("%w: strided span on axis %q in block assembly",
				dims.ErrUnexpectedShape, d.Name)
		}
		outShape[i] = dims.Dim{Name: d.Name, Size: spans[i].Count}
	}
	out := dims.NewArray(dtype, outShape)
	if out.Shape.NumElements() == 0 {
		return out, nil
	}

	// Native axis position and block range per stored axis.
	storedIdx := make([]int, len(storedAxes))
	bFrom := make([]int, len(storedAxes))
	bTo := make([]int, len(storedAxes))
	for j := 0; j < len(storedAxes); j++ {
		name := storedAxes[j : j+1]
		ci := native.Index(name)
		if ci < 0 {
			return nil, fmt.Errorf("%w: stored axis %q not in native shape %s",
				dims.ErrInvalidDimensionOrdering, name, native)
		}
		storedIdx[j] = ci
		lo := spans[ci].Start
		hi := spans[ci].Start + spans[ci].Count - 1
		bFrom[j] = lo / blockLens[j]
		bTo[j] = hi / blockLens[j]
	}

	block := append([]int(nil), bFrom...)
	for {
		// Shape of this stored block, clipped at the grid edge.
		blockShape := append(dims.Shape(nil), native...)
		for j, ci := range storedIdx {
			remaining := native[ci].Size - block[j]*blockLens[j]
			if remaining > blockLens[j] {
				remaining = blockLens[j]
			}
			blockShape[ci].Size = remaining
		}
		arr, err := load(append([]int(nil), block...), blockShape)
		if err != nil {
			return nil, err
		}
		if arr.DType != dtype {
			return nil, fmt.Errorf("%w: stored block has element type %s, scene declares %s",
				dims.ErrUnexpectedShape, arr.DType, dtype)
		}
		if arr.Shape.String() != blockShape.String() {
			return nil, fmt.Errorf("%w: stored block has shape %s, expected %s",
				dims.ErrUnexpectedShape, arr.Shape, blockShape)
		}

		// Overlap of block extent and requested region, per axis.
		fromBlock := make([]dims.AxisSpan, len(native))
		intoOut := make([]dims.AxisSpan, len(native))
		for i := range native {
			blockStart, blockSize := 0, blockShape[i].Size
			for j, ci := range storedIdx {
				if ci == i {
					blockStart = block[j] * blockLens[j]
				}
			}
			lo := spans[i].Start
			if blockStart > lo {
				lo = blockStart
			}
			hi := spans[i].Start + spans[i].Count
			if blockStart+blockSize < hi {
				hi = blockStart + blockSize
			}
			fromBlock[i] = dims.AxisSpan{Start: lo - blockStart, Count: hi - lo, Step: 1}
			intoOut[i] = dims.AxisSpan{Start: lo - spans[i].Start, Count: hi - lo, Step: 1}
		}
		piece, err := dims.Slab(arr, fromBlock)
		if err != nil {
			return nil, err
		}
		if err := dims.SetSlab(out, intoOut, piece); err != nil {
			return nil, err
		}

		// Next block in the intersecting range.
		j := len(block) - 1
		for ; j >= 0; j-- {
			block[j]++
			if block[j] <= bTo[j] {
				break
			}
			block[j] = bFrom[j]
		}
		if j < 0 {
			break
		}
	}
	return out, nil
}
