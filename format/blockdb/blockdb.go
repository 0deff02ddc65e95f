/*
	Package blockdb serves chunked scenes out of an embedded Badger key-value
	store.  Block keys pack the scene index and the block coordinates so a
	fetch is a single point lookup; scene metadata lives under a reserved key.
*/
package blockdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blang/semver"
	"github.com/dgraph-io/badger/v3"

	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// TypeInfo describes this capability.
var TypeInfo = format.TypeInfo{
	Name:    "blockdb",
	URL:     "github.com/bioimg-io/bioimg/format/blockdb",
	Version: semver.MustParse("1.0.0"),
}

var metaKey = []byte{0x00, 'm', 'e', 't', 'a'}

const blockKeyPrefix = 0x01

type sceneMeta struct {
	Name      string
	Order     string
	Sizes     []int
	DType     uint8
	ChunkAxes string
	BlockLens []int
	Positions map[int]format.StagePosition
	PixelSize []float64
}

type storeMeta struct {
	Scenes []sceneMeta
}

// blockKey packs scene index plus per-axis block coordinates.
func blockKey(scene int, block []int) []byte {
	key := make([]byte, 2+4*len(block))
	key[0] = blockKeyPrefix
	key[1] = uint8(scene)
	for j, b := range block {
		binary.BigEndian.PutUint32(key[2+4*j:], uint32(b))
	}
	return key
}

// Store is an open block store implementing format.Reader.
type Store struct {
	db   *badger.DB
	meta storeMeta
}

// Supports claims directories that look like a Badger store holding our
// metadata marker.  The MANIFEST check keeps the probe cheap.
func Supports(src format.Source) bool {
	fi, err := os.Stat(src.Path)
	if err != nil || !fi.IsDir() {
		return false
	}
	if _, err := os.Stat(filepath.Join(src.Path, "MANIFEST")); err != nil {
		return false
	}
	return true
}

// Open opens the store and loads scene metadata.
func Open(src format.Source) (*Store, error) {
	opts := badger.DefaultOptions(src.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open block store %q: %v", src.Path, err)
	}
	s := &Store{db: db}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&s.meta)
		})
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to read block store metadata from %q: %v", src.Path, err)
	}
	return s, nil
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

func (s *Store) sceneAt(i int) (*sceneMeta, error) {
	if i < 0 || i >= len(s.meta.Scenes) {
		return nil, fmt.Errorf("%w: scene index %d, block store has %d scenes",
			dims.ErrOutOfBounds, i, len(s.meta.Scenes))
	}
	return &s.meta.Scenes[i], nil
}

// --- format.Reader implementation ---

func (s *Store) Info() format.TypeInfo { return TypeInfo }

func (s *Store) Scenes() []string {
	names := make([]string, len(s.meta.Scenes))
	for i, sm := range s.meta.Scenes {
		names[i] = sm.Name
	}
	return names
}

func (s *Store) NativeShape(i int) (dims.Shape, error) {
	sm, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return dims.NewShape(sm.Order, sm.Sizes...)
}

func (s *Store) DataType(i int) (dims.DataType, error) {
	sm, err := s.sceneAt(i)
	if err != nil {
		return 0, err
	}
	return dims.DataType(sm.DType), nil
}

func (s *Store) ChunkLen(i int, axis string) int {
	sm, err := s.sceneAt(i)
	if err != nil {
		return 1
	}
	for j := 0; j < len(sm.ChunkAxes); j++ {
		if sm.ChunkAxes[j:j+1] == axis {
			return sm.BlockLens[j]
		}
	}
	return 1
}

func (s *Store) FetchChunk(ctx context.Context, i int, chunkAxes string, blockIndex []int) (*dims.Array, error) {
	sm, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, err := dims.NewShape(sm.Order, sm.Sizes...)
	if err != nil {
		return nil, err
	}
	dtype := dims.DataType(sm.DType)
	return format.ServeChunk(native, chunkAxes,
		func(axis string) int { return s.ChunkLen(i, axis) },
		blockIndex,
		func(spans []dims.AxisSpan) (*dims.Array, error) {
			return format.AssembleBlocks(native, dtype, sm.ChunkAxes, sm.BlockLens, spans,
				func(block []int, shape dims.Shape) (*dims.Array, error) {
					return s.loadBlock(i, sm, block, shape, dtype)
				})
		})
}

func (s *Store) loadBlock(scene int, sm *sceneMeta, block []int, shape dims.Shape, dtype dims.DataType) (*dims.Array, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(scene, block))
		if err != nil {
			return err
		}
		framed, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		data, err = codec.Deserialize(framed)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, fmt.Errorf("%w: no stored block %v in scene %q",
			dims.ErrOutOfBounds, block, sm.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading block %v of scene %q: %v", block, sm.Name, err)
	}
	return dims.WrapArray(dtype, shape, data)
}

func (s *Store) StagePositions(i int) (map[int]format.StagePosition, error) {
	sm, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return sm.Positions, nil
}

func (s *Store) PhysicalPixelSize(i int) (*format.PixelSize, error) {
	sm, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if len(sm.PixelSize) != 3 {
		return nil, nil
	}
	return &format.PixelSize{X: sm.PixelSize[0], Y: sm.PixelSize[1], Z: sm.PixelSize[2]}, nil
}

// ConcurrentReadSafe is true: Badger read transactions are independent.
func (s *Store) ConcurrentReadSafe() bool { return true }

func (s *Store) Close() error { return s.db.Close() }
