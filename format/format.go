/*
	Package format defines the narrow capability interface every bioimage
	format plugin implements, plus detection of which plugin handles a given
	source.  All shape and axis logic lives outside this package; a plugin
	only supplies metadata and a chunk-fetch primitive.
*/
package format

import (
	"context"
	"fmt"

	"github.com/blang/semver"

	"github.com/bioimg-io/bioimg/dims"
)

// TypeInfo uniquely identifies a format capability and its code version.
type TypeInfo struct {
	// Name describes the format, e.g. "blockvol".
	Name string

	// URL specifies the package that fulfills the Reader interface.
	URL string

	// Version is the version of this format capability code.
	Version semver.Version
}

func (t TypeInfo) String() string {
	return fmt.Sprintf("%s (%s) version %s", t.Name, t.URL, t.Version)
}

// Source names the thing being opened.  Plugins interpret the path themselves:
// a file, a directory, or a glob pattern.
type Source struct {
	Path string
}

// StagePosition is the physical (Y, X) stage coordinate of one mosaic tile.
type StagePosition struct {
	Y float64
	X float64
}

// PixelSize is the optional physical pixel scale per spatial axis.
type PixelSize struct {
	X float64
	Y float64
	Z float64
}

// Reader is the capability interface consumed by the lazy-access core.
// Chunk fetching is the only required I/O primitive; everything else is
// metadata for the currently open source.
//
// For FetchChunk, chunkAxes names the deferred axes and blockIndex carries one
// block coordinate per chunked axis, in chunkAxes order.  The returned array
// covers [i*ChunkLen, min((i+1)*ChunkLen, size)) along each chunked axis and
// the full extent of every other axis, in native axis order.
type Reader interface {
	Info() TypeInfo

	// Scenes returns the immutable ordered scene identifiers established at
	// open time.
	Scenes() []string

	// NativeShape returns the scene's shape in the source's native axis order.
	NativeShape(scene int) (dims.Shape, error)

	// DataType returns the element type of the scene's pixel data.
	DataType(scene int) (dims.DataType, error)

	// ChunkLen returns the native block length along the named axis for the
	// scene, or 1 if the source has no preferred blocking for that axis.
	ChunkLen(scene int, axis string) int

	// FetchChunk reads one block of pixel data.
	FetchChunk(ctx context.Context, scene int, chunkAxes string, blockIndex []int) (*dims.Array, error)

	// StagePositions maps tile index to physical coordinate.  Required only
	// when NativeShape reports a MosaicTile axis > 1; others may return nil.
	StagePositions(scene int) (map[int]StagePosition, error)

	// PhysicalPixelSize returns the physical pixel scale, or nil if unknown.
	PhysicalPixelSize(scene int) (*PixelSize, error)

	// ConcurrentReadSafe reports whether FetchChunk may be invoked from
	// multiple goroutines at once.  If false, fetches are serialized.
	ConcurrentReadSafe() bool

	Close() error
}
