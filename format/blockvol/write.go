/*
	This file holds the BVOL writer, used to export materialized data and to
	build fixtures.  Blocks are framed and appended as scenes are written; the
	metadata footer goes out on Close.
*/

package blockvol

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"strings"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// SceneConfig describes one scene to be written.
type SceneConfig struct {
	Name string

	// ChunkAxes names the axes to block along.  Empty means every axis
	// outside the spatial plane and sample axes.
	ChunkAxes string

	// BlockLens overrides the block length per chunked axis.  Default 1.
	BlockLens map[string]int

	Compression codec.Compression
	Checksum    codec.Checksum

	Positions map[int]format.StagePosition
	PixelSize *format.PixelSize
}

// Writer builds a BVOL file scene by scene.
type Writer struct {
	f      *os.File
	off    int64
	meta   fileMeta
	closed bool
}

// Create starts a new BVOL file, truncating any existing file at path.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	head := append([]byte(magic), fileVersion)
	if _, err := f.Write(head); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f, off: int64(len(head))}, nil
}

// WriteScene appends one scene.  The array's shape order becomes the scene's
// native order.
func (w *Writer) WriteScene(cfg SceneConfig, arr *dims.Array) error {
	if w.closed {
		return fmt.Errorf("BVOL writer is closed")
	}
	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("Image:%d", len(w.meta.Scenes))
	}
	chunkAxes := cfg.ChunkAxes
	if chunkAxes == "" {
		chunkAxes = format.UnitAxes(arr.Shape)
	}
	chunkAxes, err := dims.ParseOrder(chunkAxes)
	if err != nil {
		return err
	}
	compression := cfg.Compression
	if compression == 0 {
		compression = codec.Snappy
	}
	checksum := cfg.Checksum
	if checksum == 0 {
		checksum = codec.CRC32
	}

	// Normalize chunk axes to native order and fix block lengths.
	var axes strings.Builder
	var blockLens []int
	var chunkIdx []int
	for i, d := range arr.Shape {
		if !strings.Contains(chunkAxes, d.Name) {
			continue
		}
		axes.WriteString(d.Name)
		chunkIdx = append(chunkIdx, i)
		bl := cfg.BlockLens[d.Name]
		if bl <= 0 {
			bl = 1
		}
		if bl > d.Size && d.Size > 0 {
			bl = d.Size
		}
		blockLens = append(blockLens, bl)
	}
	for j := 0; j < len(chunkAxes); j++ {
		if arr.Shape.Index(chunkAxes[j:j+1]) < 0 {
			return fmt.Errorf("%w: chunk axis %q not in scene shape %s",
				dims.ErrInvalidDimensionOrdering, chunkAxes[j:j+1], arr.Shape)
		}
	}

	sm := sceneMeta{
		Name:      name,
		Order:     arr.Shape.Order(),
		Sizes:     arr.Shape.Sizes(),
		DType:     uint8(arr.DType),
		ChunkAxes: axes.String(),
		BlockLens: blockLens,
		Positions: cfg.Positions,
	}
	if cfg.PixelSize != nil {
		sm.PixelSize = []float64{cfg.PixelSize.X, cfg.PixelSize.Y, cfg.PixelSize.Z}
	}

	// Walk the block grid row-major, framing and appending each slab.
	grid := make([]int, len(chunkIdx))
	for j, ci := range chunkIdx {
		grid[j] = (arr.Shape[ci].Size + blockLens[j] - 1) / blockLens[j]
	}
	block := make([]int, len(chunkIdx))
	for {
		spans := make([]dims.AxisSpan, len(arr.Shape))
		for i, d := range arr.Shape {
			spans[i] = dims.AxisSpan{Start: 0, Count: d.Size, Step: 1}
		}
		for j, ci := range chunkIdx {
			count := arr.Shape[ci].Size - block[j]*blockLens[j]
			if count > blockLens[j] {
				count = blockLens[j]
			}
			spans[ci] = dims.AxisSpan{Start: block[j] * blockLens[j], Count: count, Step: 1}
		}
		slab, err := dims.Slab(arr, spans)
		if err != nil {
			return err
		}
		framed, err := codec.Serialize(slab.Data, compression, checksum)
		if err != nil {
			return err
		}
		if _, err := w.f.Write(framed); err != nil {
			return err
		}
		sm.Blocks = append(sm.Blocks, blockEntry{Offset: w.off, Length: int64(len(framed))})
		w.off += int64(len(framed))

		j := len(block) - 1
		for ; j >= 0; j-- {
			block[j]++
			if block[j] < grid[j] {
				break
			}
			block[j] = 0
		}
		if j < 0 {
			break
		}
	}

	w.meta.Scenes = append(w.meta.Scenes, sm)
	bioimg.Debugf("Wrote BVOL scene %q: %s, %d blocks\n", name, arr.Shape, len(sm.Blocks))
	return nil
}

// Close writes the metadata footer and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w.meta); err != nil {
		w.f.Close()
		return err
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		w.f.Close()
		return err
	}
	tail := make([]byte, 8)
	binary.LittleEndian.PutUint64(tail, uint64(buf.Len()))
	if _, err := w.f.Write(tail); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
