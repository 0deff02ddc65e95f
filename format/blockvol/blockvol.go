/*
	Package blockvol reads and writes the BVOL container: a single file
	holding one or more scenes of multi-dimensional pixel data as a grid of
	independently framed blocks, each optionally compressed and checksummed.
	The block index lives in a footer so writers stream payloads without
	knowing offsets up front.

	Layout:

		"BVOL" magic (4 bytes)
		format version (1 byte)
		framed block payloads ...
		gob-encoded file metadata
		metadata length (8 bytes, little endian)
*/
package blockvol

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/blang/semver"

	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

const (
	magic       = "BVOL"
	fileVersion = 1
)

// TypeInfo describes this capability.
var TypeInfo = format.TypeInfo{
	Name:    "blockvol",
	URL:     "github.com/bioimg-io/bioimg/format/blockvol",
	Version: semver.MustParse("1.0.0"),
}

type blockEntry struct {
	Offset int64
	Length int64
}

type sceneMeta struct {
	Name      string
	Order     string
	Sizes     []int
	DType     uint8
	ChunkAxes string // axes the file blocks along, in native order
	BlockLens []int  // one per chunk axis
	Blocks    []blockEntry
	Positions map[int]format.StagePosition
	PixelSize []float64 // X, Y, Z when present
}

type fileMeta struct {
	Scenes []sceneMeta
}

// Volume is an open BVOL file implementing format.Reader.
type Volume struct {
	f    *os.File
	meta fileMeta
}

// Supports sniffs the BVOL magic.  Cheap and side-effect free.
func Supports(src format.Source) bool {
	f, err := os.Open(src.Path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(magic))
	if _, err := f.ReadAt(buf, 0); err != nil {
		return false
	}
	return string(buf) == magic
}

// Open reads the footer metadata and returns a Volume.
func Open(src format.Source) (*Volume, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, err
	}
	v := &Volume{f: f}
	if err := v.readMeta(); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to open BVOL file %q: %v", src.Path, err)
	}
	return v, nil
}

// Candidate returns the detection entry for this format.
func Candidate() format.Candidate {
	return format.Candidate{
		Info:     TypeInfo,
		Supports: Supports,
		Open: func(src format.Source) (format.Reader, error) {
			return Open(src)
		},
	}
}

func (v *Volume) readMeta() error {
	head := make([]byte, len(magic)+1)
	if _, err := v.f.ReadAt(head, 0); err != nil {
		return err
	}
	if string(head[:len(magic)]) != magic {
		return fmt.Errorf("bad magic %q", head[:len(magic)])
	}
	if head[len(magic)] != fileVersion {
		return fmt.Errorf("unsupported BVOL version %d", head[len(magic)])
	}
	fi, err := v.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() < int64(len(magic)+1+8) {
		return fmt.Errorf("file truncated at %d bytes", fi.Size())
	}
	tail := make([]byte, 8)
	if _, err := v.f.ReadAt(tail, fi.Size()-8); err != nil {
		return err
	}
	metaLen := int64(binary.LittleEndian.Uint64(tail))
	metaStart := fi.Size() - 8 - metaLen
	if metaLen <= 0 || metaStart < int64(len(magic)+1) {
		return fmt.Errorf("corrupt metadata length %d", metaLen)
	}
	buf := make([]byte, metaLen)
	if _, err := v.f.ReadAt(buf, metaStart); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(&v.meta)
}

func (v *Volume) sceneAt(i int) (*sceneMeta, error) {
	if i < 0 || i >= len(v.meta.Scenes) {
		return nil, fmt.Errorf("%w: scene index %d, BVOL file has %d scenes",
			dims.ErrOutOfBounds, i, len(v.meta.Scenes))
	}
	return &v.meta.Scenes[i], nil
}

func (s *sceneMeta) shape() (dims.Shape, error) {
	return dims.NewShape(s.Order, s.Sizes...)
}

func (s *sceneMeta) grid() []int {
	sizes := make([]int, len(s.ChunkAxes))
	for j := 0; j < len(s.ChunkAxes); j++ {
		for i := 0; i < len(s.Order); i++ {
			if s.Order[i] == s.ChunkAxes[j] {
				sizes[j] = s.Sizes[i]
			}
		}
	}
	out := make([]int, len(sizes))
	for j := range sizes {
		out[j] = (sizes[j] + s.BlockLens[j] - 1) / s.BlockLens[j]
	}
	return out
}

// --- format.Reader implementation ---

func (v *Volume) Info() format.TypeInfo { return TypeInfo }

func (v *Volume) Scenes() []string {
	names := make([]string, len(v.meta.Scenes))
	for i, s := range v.meta.Scenes {
		names[i] = s.Name
	}
	return names
}

func (v *Volume) NativeShape(i int) (dims.Shape, error) {
	s, err := v.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return s.shape()
}

func (v *Volume) DataType(i int) (dims.DataType, error) {
	s, err := v.sceneAt(i)
	if err != nil {
		return 0, err
	}
	return dims.DataType(s.DType), nil
}

func (v *Volume) ChunkLen(i int, axis string) int {
	s, err := v.sceneAt(i)
	if err != nil {
		return 1
	}
	for j := 0; j < len(s.ChunkAxes); j++ {
		if s.ChunkAxes[j:j+1] == axis {
			return s.BlockLens[j]
		}
	}
	return 1
}

func (v *Volume) FetchChunk(ctx context.Context, i int, chunkAxes string, blockIndex []int) (*dims.Array, error) {
	s, err := v.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, err := s.shape()
	if err != nil {
		return nil, err
	}
	dtype := dims.DataType(s.DType)
	grid := s.grid()
	return format.ServeChunk(native, chunkAxes,
		func(axis string) int { return v.ChunkLen(i, axis) },
		blockIndex,
		func(spans []dims.AxisSpan) (*dims.Array, error) {
			return format.AssembleBlocks(native, dtype, s.ChunkAxes, s.BlockLens, spans,
				func(block []int, shape dims.Shape) (*dims.Array, error) {
					return v.loadBlock(s, grid, block, shape, dtype)
				})
		})
}

func (v *Volume) loadBlock(s *sceneMeta, grid, block []int, shape dims.Shape, dtype dims.DataType) (*dims.Array, error) {
	flat := 0
	for j := range block {
		flat = flat*grid[j] + block[j]
	}
	if flat < 0 || flat >= len(s.Blocks) {
		return nil, fmt.Errorf("%w: block %v outside stored grid of %d blocks",
			dims.ErrOutOfBounds, block, len(s.Blocks))
	}
	entry := s.Blocks[flat]
	buf := make([]byte, entry.Length)
	if _, err := v.f.ReadAt(buf, entry.Offset); err != nil {
		return nil, fmt.Errorf("error reading block %v of scene %q: %v", block, s.Name, err)
	}
	data, err := codec.Deserialize(buf)
	if err != nil {
		return nil, fmt.Errorf("error decoding block %v of scene %q: %v", block, s.Name, err)
	}
	return dims.WrapArray(dtype, shape, data)
}

func (v *Volume) StagePositions(i int) (map[int]format.StagePosition, error) {
	s, err := v.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return s.Positions, nil
}

func (v *Volume) PhysicalPixelSize(i int) (*format.PixelSize, error) {
	s, err := v.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if len(s.PixelSize) != 3 {
		return nil, nil
	}
	return &format.PixelSize{X: s.PixelSize[0], Y: s.PixelSize[1], Z: s.PixelSize[2]}, nil
}

// ConcurrentReadSafe is true: all reads go through ReadAt on one descriptor.
func (v *Volume) ConcurrentReadSafe() bool { return true }

func (v *Volume) Close() error { return v.f.Close() }
