package blockvol

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

func testArray(t *testing.T, order string, sizes ...int) *dims.Array {
	shape, err := dims.NewShape(order, sizes...)
	if err != nil {
		t.Fatalf("Error creating shape: %v\n", err)
	}
	arr := dims.NewArray(dims.T_uint8, shape)
	for i := range arr.Data {
		arr.Data[i] = byte(i * 17)
	}
	return arr
}

func writeTestFile(t *testing.T, path string, cfg SceneConfig, arr *dims.Array) {
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Error creating BVOL file: %v\n", err)
	}
	if err := w.WriteScene(cfg, arr); err != nil {
		t.Fatalf("Error writing scene: %v\n", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Error closing writer: %v\n", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.bvol")
	arr := testArray(t, "TCZYX", 2, 3, 4, 6, 6)
	positions := map[int]format.StagePosition{0: {Y: 1, X: 2}}
	writeTestFile(t, path, SceneConfig{
		Name:        "roundtrip",
		BlockLens:   map[string]int{"Z": 2},
		Compression: codec.Gzip,
		Checksum:    codec.CRC32,
		Positions:   positions,
		PixelSize:   &format.PixelSize{X: 0.5, Y: 0.5, Z: 1.2},
	}, arr)

	if !Supports(format.Source{Path: path}) {
		t.Fatalf("BVOL file not claimed by its own sniff\n")
	}
	v, err := Open(format.Source{Path: path})
	if err != nil {
		t.Fatalf("Error opening BVOL file: %v\n", err)
	}
	defer v.Close()

	if names := v.Scenes(); len(names) != 1 || names[0] != "roundtrip" {
		t.Errorf("Bad scene list %v\n", names)
	}
	shape, err := v.NativeShape(0)
	if err != nil {
		t.Fatalf("Error getting shape: %v\n", err)
	}
	if shape.String() != arr.Shape.String() {
		t.Errorf("Shape %s did not round trip, got %s\n", arr.Shape, shape)
	}
	dtype, err := v.DataType(0)
	if err != nil || dtype != dims.T_uint8 {
		t.Errorf("Element type did not round trip: %s, %v\n", dtype, err)
	}
	if bl := v.ChunkLen(0, "Z"); bl != 2 {
		t.Errorf("Expected stored block length 2 on Z, got %d\n", bl)
	}
	pos, err := v.StagePositions(0)
	if err != nil || pos[0] != positions[0] {
		t.Errorf("Stage positions did not round trip: %v, %v\n", pos, err)
	}
	px, err := v.PhysicalPixelSize(0)
	if err != nil || px == nil || px.Z != 1.2 {
		t.Errorf("Pixel size did not round trip: %+v, %v\n", px, err)
	}

	// Reading with the stored chunking reconstructs the original bytes.
	full, err := v.FetchChunk(context.Background(), 0, "", nil)
	if err != nil {
		t.Fatalf("Error fetching whole scene: %v\n", err)
	}
	if !bytes.Equal(full.Data, arr.Data) {
		t.Errorf("Whole-scene fetch does not equal written data\n")
	}
}

func TestFetchChunkRechunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.bvol")
	arr := testArray(t, "CZYX", 3, 4, 5, 5)
	// Stored blocking is C and Z; ask for chunks along Z only.
	writeTestFile(t, path, SceneConfig{BlockLens: map[string]int{"Z": 2}}, arr)

	v, err := Open(format.Source{Path: path})
	if err != nil {
		t.Fatalf("Error opening BVOL file: %v\n", err)
	}
	defer v.Close()

	chunk, err := v.FetchChunk(context.Background(), 0, "Z", []int{1})
	if err != nil {
		t.Fatalf("Error fetching rechunked block: %v\n", err)
	}
	want, err := dims.Slab(arr, []dims.AxisSpan{
		{Start: 0, Count: 3, Step: 1},
		{Start: 2, Count: 2, Step: 1},
		{Start: 0, Count: 5, Step: 1},
		{Start: 0, Count: 5, Step: 1},
	})
	if err != nil {
		t.Fatalf("Error slicing reference data: %v\n", err)
	}
	if chunk.Shape.String() != want.Shape.String() || !bytes.Equal(chunk.Data, want.Data) {
		t.Errorf("Rechunked fetch %s does not match reference %s\n", chunk.Shape, want.Shape)
	}

	if _, err := v.FetchChunk(context.Background(), 0, "Z", []int{5}); !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for block past grid, got %v\n", err)
	}
	if _, err := v.FetchChunk(context.Background(), 3, "Z", []int{0}); !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for bad scene, got %v\n", err)
	}
}

func TestMultipleScenes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.bvol")
	first := testArray(t, "ZYX", 2, 4, 4)
	second := testArray(t, "CYX", 3, 5, 5)

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Error creating BVOL file: %v\n", err)
	}
	if err := w.WriteScene(SceneConfig{}, first); err != nil {
		t.Fatalf("Error writing first scene: %v\n", err)
	}
	if err := w.WriteScene(SceneConfig{}, second); err != nil {
		t.Fatalf("Error writing second scene: %v\n", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Error closing writer: %v\n", err)
	}

	v, err := Open(format.Source{Path: path})
	if err != nil {
		t.Fatalf("Error opening BVOL file: %v\n", err)
	}
	defer v.Close()
	names := v.Scenes()
	if len(names) != 2 || names[0] != "Image:0" || names[1] != "Image:1" {
		t.Errorf("Bad default scene names %v\n", names)
	}
	got, err := v.FetchChunk(context.Background(), 1, "", nil)
	if err != nil {
		t.Fatalf("Error fetching second scene: %v\n", err)
	}
	if !bytes.Equal(got.Data, second.Data) {
		t.Errorf("Second scene data does not round trip\n")
	}
}

func TestSupportsRejectsOtherFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.bvol")
	if err := os.WriteFile(path, []byte("BOGUS data"), 0o644); err != nil {
		t.Fatalf("Error writing file: %v\n", err)
	}
	if Supports(format.Source{Path: path}) {
		t.Errorf("Sniff claimed a non-BVOL file\n")
	}
	if _, err := Open(format.Source{Path: path}); err == nil {
		t.Errorf("Expected error opening a non-BVOL file\n")
	}
}
