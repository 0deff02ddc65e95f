/*
	This file holds the block store writer.  Scenes are split into unit
	blocks along their chunk axes and stored one key per block; Close writes
	the metadata record.
*/

package blockdb

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// SceneConfig mirrors the blockvol writer configuration.
type SceneConfig struct {
	Name        string
	ChunkAxes   string
	BlockLens   map[string]int
	Compression codec.Compression
	Checksum    codec.Checksum
	Positions   map[int]format.StagePosition
	PixelSize   *format.PixelSize
}

// Writer builds a block store scene by scene.
type Writer struct {
	db     *badger.DB
	meta   storeMeta
	closed bool
}

// Create opens (or creates) a Badger store for writing.
func Create(path string) (*Writer, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to create block store %q: %v", path, err)
	}
	return &Writer{db: db}, nil
}

// WriteScene appends one scene, storing one key per block.
func (w *Writer) WriteScene(cfg SceneConfig, arr *dims.Array) error {
	if w.closed {
		return fmt.Errorf("block store writer is closed")
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
	for j := 0; j < len(chunkAxes); j++ {
		if arr.Shape.Index(chunkAxes[j:j+1]) < 0 {
			return fmt.Errorf("%w: chunk axis %q not in scene shape %s",
				dims.ErrInvalidDimensionOrdering, chunkAxes[j:j+1], arr.Shape)
		}
	}
	compression := cfg.Compression
	if compression == 0 {
		compression = codec.Snappy
	}
	checksum := cfg.Checksum
	if checksum == 0 {
		checksum = codec.CRC32
	}

	var axes strings.Builder
	var blockLens, chunkIdx []int
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

	scene := len(w.meta.Scenes)
	grid := make([]int, len(chunkIdx))
	for j, ci := range chunkIdx {
		grid[j] = (arr.Shape[ci].Size + blockLens[j] - 1) / blockLens[j]
	}
	numBlocks := 0
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
		err = w.db.Update(func(txn *badger.Txn) error {
			return txn.Set(blockKey(scene, block), framed)
		})
		if err != nil {
			return err
		}
		numBlocks++

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
	w.meta.Scenes = append(w.meta.Scenes, sm)
	bioimg.Debugf("Wrote block store scene %q: %s, %d blocks\n", name, arr.Shape, numBlocks)
	return nil
}

// Close writes the metadata record and closes the store.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w.meta); err != nil {
		w.db.Close()
		return err
	}
	err := w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey, buf.Bytes())
	})
	if err != nil {
		w.db.Close()
		return err
	}
	return w.db.Close()
}
