/*
	Package memgrid serves scenes held fully in memory.  It backs tests and
	callers that already hold pixel data as arrays but want the same lazy,
	scene-aware access model as file-backed sources.
*/
package memgrid

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// TypeInfo describes this capability.
var TypeInfo = format.TypeInfo{
	Name:    "memgrid",
	URL:     "github.com/bioimg-io/bioimg/format/memgrid",
	Version: semver.MustParse("1.0.0"),
}

type scene struct {
	name      string
	arr       *dims.Array
	positions map[int]format.StagePosition
	pixelSize *format.PixelSize
	chunkLens map[string]int
}

// Grid is an in-memory format.Reader.
type Grid struct {
	scenes     []scene
	fetchCount int64 // guarded by the lazy layer's fetch gate in tests
}

// New creates a Grid with one scene per array.  Scene names follow the
// "Image:<n>" convention when names is nil.
func New(names []string, arrays []*dims.Array) (*Grid, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("memgrid needs at least one scene array")
	}
	if names != nil && len(names) != len(arrays) {
		return nil, fmt.Errorf("memgrid given %d names for %d arrays", len(names), len(arrays))
	}
	g := &Grid{scenes: make([]scene, len(arrays))}
	for i, arr := range arrays {
		name := fmt.Sprintf("Image:%d", i)
		if names != nil {
			name = names[i]
		}
		g.scenes[i] = scene{name: name, arr: arr, chunkLens: make(map[string]int)}
	}
	return g, nil
}

// SetStagePositions attaches mosaic tile coordinates to a scene.
func (g *Grid) SetStagePositions(scene int, pos map[int]format.StagePosition) {
	g.scenes[scene].positions = pos
}

// SetPixelSize attaches a physical pixel size to a scene.
func (g *Grid) SetPixelSize(scene int, px *format.PixelSize) {
	g.scenes[scene].pixelSize = px
}

// SetChunkLen sets the preferred block length along an axis of a scene.
func (g *Grid) SetChunkLen(scene int, axis string, n int) {
	g.scenes[scene].chunkLens[axis] = n
}

// FetchCount reports how many chunk fetches reached this source, letting
// tests verify cache hits.
func (g *Grid) FetchCount() int64 {
	return g.fetchCount
}

// --- format.Reader implementation ---

func (g *Grid) Info() format.TypeInfo { return TypeInfo }

func (g *Grid) Scenes() []string {
	names := make([]string, len(g.scenes))
	for i, s := range g.scenes {
		names[i] = s.name
	}
	return names
}

func (g *Grid) sceneAt(i int) (*scene, error) {
	if i < 0 || i >= len(g.scenes) {
		return nil, fmt.Errorf("%w: scene index %d, memgrid has %d scenes",
			dims.ErrOutOfBounds, i, len(g.scenes))
	}
	return &g.scenes[i], nil
}

func (g *Grid) NativeShape(i int) (dims.Shape, error) {
	s, err := g.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return append(dims.Shape(nil), s.arr.Shape...), nil
}

func (g *Grid) DataType(i int) (dims.DataType, error) {
	s, err := g.sceneAt(i)
	if err != nil {
		return 0, err
	}
	return s.arr.DType, nil
}

func (g *Grid) ChunkLen(i int, axis string) int {
	s, err := g.sceneAt(i)
	if err != nil {
		return 1
	}
	if n, found := s.chunkLens[axis]; found {
		return n
	}
	return 1
}

func (g *Grid) FetchChunk(ctx context.Context, i int, chunkAxes string, blockIndex []int) (*dims.Array, error) {
	s, err := g.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.fetchCount++
	return format.ServeChunk(s.arr.Shape, chunkAxes,
		func(axis string) int { return g.ChunkLen(i, axis) },
		blockIndex,
		func(spans []dims.AxisSpan) (*dims.Array, error) {
			return dims.Slab(s.arr, spans)
		})
}

func (g *Grid) StagePositions(i int) (map[int]format.StagePosition, error) {
	s, err := g.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return s.positions, nil
}

func (g *Grid) PhysicalPixelSize(i int) (*format.PixelSize, error) {
	s, err := g.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return s.pixelSize, nil
}

func (g *Grid) ConcurrentReadSafe() bool { return false }

func (g *Grid) Close() error { return nil }
