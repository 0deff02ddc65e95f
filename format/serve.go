package format

import (
	"fmt"
	"strings"

	"github.com/bioimg-io/bioimg/dims"
)

// RegionReader reads the native-order region described by spans, one span per
// native axis with step 1.  Format plugins implement region reads; ServeChunk
// adapts them to the FetchChunk block contract.
type RegionReader func(spans []dims.AxisSpan) (*dims.Array, error)

// ServeChunk resolves a block request into a region read.  blockIndex holds
// one coordinate per chunked axis; each chunked axis covers
// [i*ChunkLen, min((i+1)*ChunkLen, size)) and every other axis is full.
// Out-of-range block coordinates fail before any read is attempted.
func ServeChunk(native dims.Shape, chunkAxes string, chunkLen func(axis string) int,
	blockIndex []int, read RegionReader) (*dims.Array, error) {

	axes, err := dims.ParseOrder(chunkAxes)
	if err != nil {
		return nil, err
	}
	if len(blockIndex) != len(axes) {
		return nil, fmt.Errorf("%w: %d block coordinates for %d chunked axes %q",
			dims.ErrUnexpectedShape, len(blockIndex), len(axes), axes)
	}

	spans := make([]dims.AxisSpan, len(native))
	for i, d := range native {
		spans[i] = dims.AxisSpan{Start: 0, Count: d.Size, Step: 1}
	}
	for j := 0; j < len(axes); j++ {
		name := axes[j : j+1]
		ci := native.Index(name)
		if ci < 0 {
			return nil, fmt.Errorf("%w: chunk axis %q not in native shape %s",
				dims.ErrInvalidDimensionOrdering, name, native)
		}
		bl := chunkLen(name)
		if bl <= 0 {
			bl = 1
		}
		size := native[ci].Size
		grid := (size + bl - 1) / bl
		b := blockIndex[j]
		if b < 0 || b >= grid {
			return nil, fmt.Errorf("%w: block %d on axis %q with %d blocks",
				dims.ErrOutOfBounds, b, name, grid)
		}
		count := size - b*bl
		if count > bl {
			count = bl
		}
		spans[ci] = dims.AxisSpan{Start: b * bl, Count: count, Step: 1}
	}
	return read(spans)
}

// UnitAxes returns the native axes conventionally fetched one index at a
// time: everything except the spatial plane and sample axes.
func UnitAxes(native dims.Shape) string {
	var b strings.Builder
	for _, d := range native {
		switch d.Name {
		case dims.SpatialY, dims.SpatialX, dims.Samples:
		default:
			b.WriteString(d.Name)
		}
	}
	return b.String()
}
