/*
	This file executes a View: fetch every constituent chunk not yet cached,
	assemble them into one array in native order, then permute to the target
	order.  Two Materialize calls on the same unmodified view are value-equal
	regardless of worker count or fetch completion order.
*/

package lazy

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/dims"
)

// Materialize fetches, assembles, and reorders the view's data, returning a
// concrete array whose shape equals View.Shape().  Chunks already cached from
// earlier calls are served from the cache; chunks cached before a failed call
// remain valid.
func (v *View) Materialize(ctx context.Context) (*dims.Array, error) {
	tlog := bioimg.NewTimeLog()

	if v.budget > 0 && v.SizeBytes() > v.budget {
		return nil, fmt.Errorf("materialize request of %s exceeds budget of %s; restrict the selection",
			humanize.IBytes(uint64(v.SizeBytes())), humanize.IBytes(uint64(v.budget)))
	}

	blocks := v.neededBlocks()
	chunks := make(map[string]*dims.Array, len(blocks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.fetchers)
	for _, b := range blocks {
		b := b
		g.Go(func() error {
			arr, err := v.fetchBlock(gctx, b)
			if err != nil {
				return err
			}
			mu.Lock()
			chunks[ChunkKey(b)] = arr
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	assembled := v.assemble(chunks)
	out, err := dims.Reshape(assembled, v.native.Order(), v.target)
	if err != nil {
		return nil, err
	}
	tlog.Debugf("Materialized %d chunks into %s", len(blocks), out.Shape)
	return out, nil
}

// neededBlocks returns the block coordinates intersecting the selection, in a
// fixed deterministic order.
func (v *View) neededBlocks() [][]int {
	if len(v.chunkIdx) == 0 {
		return [][]int{nil}
	}
	perAxis := make([][]int, len(v.chunkIdx))
	for j, ci := range v.chunkIdx {
		span := v.spans[ci]
		seen := make(map[int]bool)
		var list []int
		for k := 0; k < span.Count; k++ {
			b := (span.Start + k*span.Step) / v.blockLens[j]
			if !seen[b] {
				seen[b] = true
				list = append(list, b)
			}
		}
		perAxis[j] = list
	}
	var out [][]int
	cur := make([]int, len(perAxis))
	var walk func(j int)
	walk = func(j int) {
		if j == len(perAxis) {
			out = append(out, append([]int(nil), cur...))
			return
		}
		for _, b := range perAxis[j] {
			cur[j] = b
			walk(j + 1)
		}
	}
	walk(0)
	return out
}

// expectedChunkShape gives the shape FetchChunk must return for a block:
// native order, chunked axes clipped to the block extent.
func (v *View) expectedChunkShape(blockIndex []int) dims.Shape {
	shape := append(dims.Shape(nil), v.native...)
	for j, ci := range v.chunkIdx {
		remaining := v.native[ci].Size - blockIndex[j]*v.blockLens[j]
		if remaining > v.blockLens[j] {
			remaining = v.blockLens[j]
		}
		shape[ci].Size = remaining
	}
	return shape
}

func (v *View) fetchBlock(ctx context.Context, blockIndex []int) (*dims.Array, error) {
	want := v.expectedChunkShape(blockIndex)
	key := cacheKey(v.cachePrefix, v.scene, v.chunkAxes, blockIndex)
	if data, found := v.cache.get(key); found {
		arr, err := dims.WrapArray(v.dtype, want, data)
		if err == nil {
			return arr, nil
		}
		bioimg.Errorf("Discarding cached chunk %q with stale shape: %v\n", key, err)
	}

	if v.gate != nil {
		if err := v.gate.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer v.gate.Release(1)
	}
	arr, err := v.src.FetchChunk(ctx, v.scene, v.chunkAxes, blockIndex)
	if err != nil {
		return nil, fmt.Errorf("error fetching chunk %s of scene %d: %w",
			ChunkKey(blockIndex), v.scene, err)
	}
	if arr.DType != v.dtype {
		return nil, fmt.Errorf("%w: chunk %s has element type %s, scene declares %s",
			dims.ErrUnexpectedShape, ChunkKey(blockIndex), arr.DType, v.dtype)
	}
	if arr.Shape.Order() != want.Order() || arr.Shape.String() != want.String() {
		return nil, fmt.Errorf("%w: chunk %s has shape %s, expected %s",
			dims.ErrUnexpectedShape, ChunkKey(blockIndex), arr.Shape, want)
	}
	v.cache.set(key, arr.Data)
	return arr, nil
}

// assemble copies the selected region of each chunk into one array laid out
// in native order.  Collapsed axes are kept with extent 1 here; the final
// reshape removes them.
func (v *View) assemble(chunks map[string]*dims.Array) *dims.Array {
	asmShape := make(dims.Shape, len(v.native))
	for i, d := range v.native {
		asmShape[i] = dims.Dim{Name: d.Name, Size: v.spans[i].Count}
	}
	out := dims.NewArray(v.dtype, asmShape)
	n := len(v.native)
	if n == 0 || out.Shape.NumElements() == 0 {
		return out
	}
	es := v.dtype.BytesPerElement()

	chunkedAxis := make([]int, n) // native axis -> chunk axis position, or -1
	for i := range chunkedAxis {
		chunkedAxis[i] = -1
	}
	for j, ci := range v.chunkIdx {
		chunkedAxis[ci] = j
	}

	// Copy whole rows when the innermost axis is unchunked and unstrided.
	run := 1
	inner := n
	if chunkedAxis[n-1] < 0 && v.spans[n-1].Step == 1 {
		run = v.spans[n-1].Count
		inner = n - 1
	}

	total := out.Shape.NumElements() / int64(run)
	coords := make([]int, n)
	global := make([]int, n)
	local := make([]int, n)
	block := make([]int, len(v.chunkIdx))
	dstOff := 0
	runBytes := run * es
	for cnt := int64(0); cnt < total; cnt++ {
		for i := 0; i < n; i++ {
			global[i] = v.spans[i].Start + coords[i]*v.spans[i].Step
			if j := chunkedAxis[i]; j >= 0 {
				block[j] = global[i] / v.blockLens[j]
				local[i] = global[i] - block[j]*v.blockLens[j]
			} else {
				local[i] = global[i]
			}
		}
		chunk := chunks[ChunkKey(block)]
		srcOff := chunk.ElementOffset(local...)
		copy(out.Data[dstOff:dstOff+runBytes], chunk.Data[srcOff:srcOff+int64(runBytes)])
		dstOff += runBytes
		for i := inner - 1; i >= 0; i-- {
			coords[i]++
			if coords[i] < v.spans[i].Count {
				break
			}
			coords[i] = 0
		}
	}
	return out
}
