/*
	Package reader is the front door: it detects which format capability can
	serve a path, opens it, and exposes scene navigation, dimension-normalized
	reads, and mosaic reconstruction over one handle.

	A handle tracks a current scene.  Reads are always against the current
	scene; switching scenes clears the handle's chunk cache since block
	coordinates are only meaningful within a scene.
*/
package reader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/twinj/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
	"github.com/bioimg-io/bioimg/format/blockdb"
	"github.com/bioimg-io/bioimg/format/blockvol"
	"github.com/bioimg-io/bioimg/format/imgseq"
	"github.com/bioimg-io/bioimg/lazy"
	"github.com/bioimg-io/bioimg/mosaic"
)

// Options tune an image handle.  The zero value uses process defaults.
type Options struct {
	// CacheMBytes sizes the handle's chunk cache.  Negative disables caching.
	CacheMBytes int

	// NumFetchers bounds concurrent chunk fetches per materialize.
	NumFetchers int

	// MaterializeBudgetMB caps the decoded size of one materialize call.
	// Negative disables the budget.
	MaterializeBudgetMB int

	// Candidates overrides the format detection list.  Nil means
	// DefaultCandidates.
	Candidates []format.Candidate
}

// DefaultCandidates lists the built-in format capabilities in probe order,
// most specific sniff first.
func DefaultCandidates() []format.Candidate {
	return []format.Candidate{
		blockdb.Candidate(),
		blockvol.Candidate(),
		imgseq.Candidate(),
	}
}

// Image is an open bioimage source with a current scene.
type Image struct {
	mu     sync.RWMutex
	src    format.Reader
	scenes []string
	cur    int

	cache       *lazy.Cache
	cachePrefix string
	gate        *semaphore.Weighted
	fetchers    int
	budget      int64
}

// Open detects the format of path and returns a handle on it, positioned at
// the first scene.
func Open(path string, opts Options) (*Image, error) {
	candidates := opts.Candidates
	if candidates == nil {
		candidates = DefaultCandidates()
	}
	src := format.Source{Path: path}
	c, err := format.Determine(src, candidates)
	if err != nil {
		return nil, err
	}
	r, err := c.Open(src)
	if err != nil {
		return nil, fmt.Errorf("error opening %q as %s: %v", path, c.Info, err)
	}
	img, err := OpenReader(r, opts)
	if err != nil {
		r.Close()
		return nil, err
	}
	return img, nil
}

// OpenReader wraps an already-open format capability in a handle.  The handle
// owns the reader and closes it on Close.
func OpenReader(src format.Reader, opts Options) (*Image, error) {
	scenes := src.Scenes()
	if len(scenes) == 0 {
		return nil, fmt.Errorf("source %s has no scenes", src.Info())
	}
	img := &Image{
		src:         src,
		scenes:      scenes,
		cachePrefix: uuid.NewV4().String(),
		fetchers:    opts.NumFetchers,
		budget:      int64(opts.MaterializeBudgetMB) << 20,
	}
	if opts.CacheMBytes >= 0 {
		img.cache = lazy.NewCache(opts.CacheMBytes)
	}
	if opts.MaterializeBudgetMB == 0 {
		img.budget = int64(bioimg.DefaultMaterializeBudgetMB) << 20
	} else if opts.MaterializeBudgetMB < 0 {
		img.budget = 0
	}
	if !src.ConcurrentReadSafe() {
		img.gate = semaphore.NewWeighted(1)
	}
	bioimg.Infof("Opened %s with %d scene(s), starting at %q\n",
		src.Info(), len(scenes), scenes[0])
	return img, nil
}

// Scenes returns the ordered scene identifiers established at open time.
func (img *Image) Scenes() []string {
	return append([]string(nil), img.scenes...)
}

// CurrentIndex returns the index of the current scene.
func (img *Image) CurrentIndex() int {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.cur
}

// CurrentScene returns the identifier of the current scene.
func (img *Image) CurrentScene() string {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.scenes[img.cur]
}

// SetScene switches the handle to the named scene.  An unknown identifier
// fails and leaves the current scene untouched.
func (img *Image) SetScene(id string) error {
	for i, name := range img.scenes {
		if name == id {
			return img.SetSceneIndex(i)
		}
	}
	return fmt.Errorf("%w: no scene %q, have %v", dims.ErrOutOfBounds, id, img.scenes)
}

// SetSceneIndex switches the handle to the scene at the given index.  Cached
// chunks are dropped on an actual switch since block coordinates are scene
// relative.
func (img *Image) SetSceneIndex(i int) error {
	if i < 0 || i >= len(img.scenes) {
		return fmt.Errorf("%w: scene index %d, source has %d scenes",
			dims.ErrOutOfBounds, i, len(img.scenes))
	}
	img.mu.Lock()
	defer img.mu.Unlock()
	if i == img.cur {
		return nil
	}
	img.cur = i
	img.cache.Clear()
	bioimg.Debugf("Switched to scene %d (%q); chunk cache cleared\n", i, img.scenes[i])
	return nil
}

// Shape returns the current scene's shape in its native axis order.
func (img *Image) Shape() (dims.Shape, error) {
	return img.src.NativeShape(img.CurrentIndex())
}

// Order returns the current scene's native axis order string.
func (img *Image) Order() (string, error) {
	shape, err := img.Shape()
	if err != nil {
		return "", err
	}
	return shape.Order(), nil
}

// CanonicalShape returns the current scene's shape padded to the canonical
// STCZYX order, with size-1 entries for absent canonical axes.
func (img *Image) CanonicalShape() (dims.Shape, error) {
	shape, err := img.Shape()
	if err != nil {
		return nil, err
	}
	return dims.Canonicalize(shape)
}

// DataType returns the element type of the current scene.
func (img *Image) DataType() (dims.DataType, error) {
	return img.src.DataType(img.CurrentIndex())
}

// defaultChunkAxes defers the non-spatial axes, keeping each Z stack, plane,
// and sample run contiguous per fetched chunk.
func defaultChunkAxes(native dims.Shape) string {
	var b strings.Builder
	for _, d := range native {
		switch d.Name {
		case dims.Scene, dims.MosaicTile, dims.Time, dims.Channel:
			b.WriteString(d.Name)
		}
	}
	return b.String()
}

// Lazy builds a deferred view over the current scene's full extent.  Empty
// chunkAxes defers the scene, tile, time, and channel axes the source carries.
func (img *Image) Lazy(chunkAxes string) (*lazy.View, error) {
	scene := img.CurrentIndex()
	if chunkAxes == "" {
		native, err := img.src.NativeShape(scene)
		if err != nil {
			return nil, err
		}
		chunkAxes = defaultChunkAxes(native)
	}
	return lazy.Build(img.src, scene, chunkAxes, lazy.Options{
		Cache:       img.cache,
		CachePrefix: img.cachePrefix,
		Fetchers:    img.fetchers,
		BudgetBytes: img.budget,
		Gate:        img.gate,
	})
}

// Get reads a region of the current scene as a concrete array in targetOrder.
// It is the eager one-shot form of Lazy().Get().Materialize().
func (img *Image) Get(ctx context.Context, targetOrder string, sel dims.Selection) (*dims.Array, error) {
	view, err := img.Lazy("")
	if err != nil {
		return nil, err
	}
	view, err = view.Get(targetOrder, sel)
	if err != nil {
		return nil, err
	}
	return view.Materialize(ctx)
}

// PhysicalPixelSize returns the current scene's physical pixel scale, or nil
// when the source carries none.
func (img *Image) PhysicalPixelSize() (*format.PixelSize, error) {
	return img.src.PhysicalPixelSize(img.CurrentIndex())
}

// StagePositions returns the current scene's tile stage coordinates.
func (img *Image) StagePositions() (map[int]format.StagePosition, error) {
	return img.src.StagePositions(img.CurrentIndex())
}

// MosaicTileCount returns the extent of the current scene's MosaicTile axis,
// or 1 when the scene carries none.
func (img *Image) MosaicTileCount() (int, error) {
	shape, err := img.Shape()
	if err != nil {
		return 0, err
	}
	if size, found := shape.Size(dims.MosaicTile); found {
		return size, nil
	}
	return 1, nil
}

// MosaicTilePosition returns the absolute pixel offset of one tile of the
// current scene.
func (img *Image) MosaicTilePosition(tile int) (mosaic.TileOffset, error) {
	count, err := img.MosaicTileCount()
	if err != nil {
		return mosaic.TileOffset{}, err
	}
	positions, err := img.StagePositions()
	if err != nil {
		return mosaic.TileOffset{}, err
	}
	px, err := img.PhysicalPixelSize()
	if err != nil {
		return mosaic.TileOffset{}, err
	}
	return mosaic.TilePosition(tile, count, positions, px)
}

// ReconstructMosaic stitches every tile of the current scene into one YX
// canvas.  Non-spatial axes are read at index 0; tiles overlapping on the
// canvas resolve last-write-wins in ascending tile order.
func (img *Image) ReconstructMosaic(ctx context.Context) (*dims.Array, error) {
	shape, err := img.Shape()
	if err != nil {
		return nil, err
	}
	count, found := shape.Size(dims.MosaicTile)
	if !found || count < 1 {
		return nil, fmt.Errorf("%w: scene %q has no mosaic tile axis",
			dims.ErrInvalidDimensionOrdering, img.CurrentScene())
	}
	tileH, _ := shape.Size(dims.SpatialY)
	tileW, _ := shape.Size(dims.SpatialX)

	base, err := img.Lazy("")
	if err != nil {
		return nil, err
	}
	tiles := make([]*dims.Array, count)
	for i := 0; i < count; i++ {
		sel := dims.Selection{dims.MosaicTile: dims.CollapsedIndex(i)}
		for _, d := range shape {
			switch d.Name {
			case dims.MosaicTile, dims.SpatialY, dims.SpatialX:
			default:
				sel[d.Name] = dims.CollapsedIndex(0)
			}
		}
		view, err := base.Get(dims.SpatialY+dims.SpatialX, sel)
		if err != nil {
			return nil, err
		}
		tile, err := view.Materialize(ctx)
		if err != nil {
			return nil, fmt.Errorf("error reading mosaic tile %d: %v", i, err)
		}
		tiles[i] = tile
	}

	positions, err := img.StagePositions()
	if err != nil {
		return nil, err
	}
	px, err := img.PhysicalPixelSize()
	if err != nil {
		return nil, err
	}
	return mosaic.Reconstruct(tiles, tileH, tileW, positions, px)
}

// Info returns the detected format capability description.
func (img *Image) Info() format.TypeInfo {
	return img.src.Info()
}

// Close releases the underlying source.  The handle must not be used after.
func (img *Image) Close() error {
	return img.src.Close()
}
