/*
	Package lazy builds chunk-addressable, deferred views over one scene of a
	bioimage source.  A View describes a region plus the reorder needed to
	produce a concrete array; no I/O happens until Materialize.  Chunk fetches
	for disjoint blocks run in parallel and results are independent of fetch
	order.
*/
package lazy

import (
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// Options tune view construction.  The zero value is usable.
type Options struct {
	// Cache receives fetched chunks.  Nil disables caching.
	Cache *Cache

	// CachePrefix namespaces this source's entries within the cache, e.g. a
	// per-handle UUID.  Required when Cache is shared across handles.
	CachePrefix string

	// Fetchers bounds concurrent chunk fetches during one Materialize.
	Fetchers int

	// BudgetBytes fails a Materialize whose decoded result would exceed this
	// size.  Zero means no budget.
	BudgetBytes int64

	// Gate serializes fetches for capabilities that are not safe for
	// concurrent reads.  One gate should be shared per source handle; if nil
	// and the capability is not concurrent-read safe, a private gate is made.
	Gate *semaphore.Weighted
}

// View is a deferred computation over one scene's pixel data.
type View struct {
	src       format.Reader
	scene     int
	native    dims.Shape
	dtype     dims.DataType
	chunkAxes string // chunked axis letters, in native axis order
	chunkIdx  []int  // native axis position per chunked axis
	blockLens []int  // block length per chunked axis
	grid      []int  // block count per chunked axis

	spans     []dims.AxisSpan // per native axis
	collapsed []bool          // per native axis
	target    string

	cache       *Cache
	cachePrefix string
	gate        *semaphore.Weighted
	fetchers    int
	budget      int64
}

// Build constructs a View over a scene's full native shape.  chunkAxes names
// the axes fetched block-by-block; every other axis is resolved whole within
// each chunk.
func Build(src format.Reader, scene int, chunkAxes string, opts Options) (*View, error) {
	numScenes := len(src.Scenes())
	if scene < 0 || scene >= numScenes {
		return nil, fmt.Errorf("%w: scene index %d, source has %d scenes",
			dims.ErrOutOfBounds, scene, numScenes)
	}
	native, err := src.NativeShape(scene)
	if err != nil {
		return nil, err
	}
	dtype, err := src.DataType(scene)
	if err != nil {
		return nil, err
	}
	requested, err := dims.ParseOrder(chunkAxes)
	if err != nil {
		return nil, err
	}
	for i := 0; i < len(requested); i++ {
		if native.Index(requested[i:i+1]) < 0 {
			return nil, fmt.Errorf("%w: chunk axis %q not in native shape %s",
				dims.ErrInvalidDimensionOrdering, requested[i:i+1], native)
		}
	}

	v := &View{
		src:         src,
		scene:       scene,
		native:      native,
		dtype:       dtype,
		spans:       make([]dims.AxisSpan, len(native)),
		collapsed:   make([]bool, len(native)),
		target:      native.Order(),
		cache:       opts.Cache,
		cachePrefix: opts.CachePrefix,
		gate:        opts.Gate,
		fetchers:    opts.Fetchers,
		budget:      opts.BudgetBytes,
	}
	if v.fetchers <= 0 {
		v.fetchers = bioimg.DefaultNumFetchers
	}
	if v.gate == nil && !src.ConcurrentReadSafe() {
		v.gate = semaphore.NewWeighted(1)
	}

	// Normalize chunked axes to native order so block identity is stable no
	// matter how the caller spelled the request.
	var axes strings.Builder
	for i, d := range native {
		if strings.Contains(requested, d.Name) {
			axes.WriteString(d.Name)
			v.chunkIdx = append(v.chunkIdx, i)
			bl := src.ChunkLen(scene, d.Name)
			if bl <= 0 {
				bl = 1
			}
			if bl > d.Size && d.Size > 0 {
				bl = d.Size
			}
			v.blockLens = append(v.blockLens, bl)
		}
		span, err := dims.All().Resolve(d.Name, d.Size)
		if err != nil {
			return nil, err
		}
		v.spans[i] = span
	}
	v.chunkAxes = axes.String()

	chunkSizes := make([]int, len(v.chunkIdx))
	for j, ci := range v.chunkIdx {
		chunkSizes[j] = native[ci].Size
	}
	v.grid = GridShape(chunkSizes, v.blockLens)
	return v, nil
}

// Get returns a derived View restricted to sel and reordered to targetOrder.
// No I/O is performed; all validation happens here so a malformed request
// never schedules a fetch.
func (v *View) Get(targetOrder string, sel dims.Selection) (*View, error) {
	target, err := dims.ParseOrder(targetOrder)
	if err != nil {
		return nil, err
	}

	// Resolve the new selection against the current result extents.
	cur := v.resultNativeShape()
	subSpans, err := dims.ResolveSelection(cur, sel)
	if err != nil {
		return nil, err
	}

	nv := v.clone()
	nv.target = target
	// Compose each sub-span onto the existing span for its native axis.
	k := 0
	for i := range nv.spans {
		if nv.collapsed[i] {
			continue
		}
		sub := subSpans[k]
		k++
		old := nv.spans[i]
		nv.spans[i] = dims.AxisSpan{
			Start: old.Start + sub.Start*old.Step,
			Count: sub.Count,
			Step:  old.Step * sub.Step,
		}
		if sub.Collapse {
			nv.collapsed[i] = true
		}
	}

	// The target order must keep every surviving axis with extent > 1 and must
	// not resurrect an axis the caller just collapsed.
	for i, d := range nv.native {
		inTarget := strings.Contains(target, d.Name)
		switch {
		case nv.collapsed[i] && inTarget:
			return nil, fmt.Errorf("%w: axis %q is both collapsed and named in target order %q",
				dims.ErrConflictingArguments, d.Name, target)
		case !nv.collapsed[i] && !inTarget && nv.spans[i].Count > 1:
			return nil, fmt.Errorf("%w: axis %q has size %d and is missing from target order %q",
				dims.ErrInvalidDimensionOrdering, d.Name, nv.spans[i].Count, target)
		}
	}
	return nv, nil
}

// Shape returns the result shape this view materializes to, in target order.
func (v *View) Shape() dims.Shape {
	out := make(dims.Shape, 0, len(v.target))
	for i := 0; i < len(v.target); i++ {
		name := v.target[i : i+1]
		size := 1
		if ni := v.native.Index(name); ni >= 0 && !v.collapsed[ni] {
			size = v.spans[ni].Count
		}
		out = append(out, dims.Dim{Name: name, Size: size})
	}
	return out
}

// DataType returns the element type of the materialized result.
func (v *View) DataType() dims.DataType {
	return v.dtype
}

// Order returns the target axis order of this view.
func (v *View) Order() string {
	return v.target
}

// SizeBytes returns the decoded size of the materialized result.
func (v *View) SizeBytes() int64 {
	return v.Shape().NumElements() * int64(v.dtype.BytesPerElement())
}

// resultNativeShape is the current selection's shape in native order with
// collapsed axes removed.
func (v *View) resultNativeShape() dims.Shape {
	out := make(dims.Shape, 0, len(v.native))
	for i, d := range v.native {
		if v.collapsed[i] {
			continue
		}
		out = append(out, dims.Dim{Name: d.Name, Size: v.spans[i].Count})
	}
	return out
}

func (v *View) clone() *View {
	nv := *v
	nv.spans = append([]dims.AxisSpan(nil), v.spans...)
	nv.collapsed = append([]bool(nil), v.collapsed...)
	return &nv
}
