package reader

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
	"github.com/bioimg-io/bioimg/format/blockvol"
	"github.com/bioimg-io/bioimg/format/memgrid"
)

var testOpts = Options{CacheMBytes: 1}

func testScenes(t *testing.T) (*memgrid.Grid, []*dims.Array) {
	shapes := [][]int{{3, 8, 8}, {2, 6, 6}}
	arrays := make([]*dims.Array, len(shapes))
	for i, sizes := range shapes {
		shape, err := dims.NewShape("ZYX", sizes...)
		if err != nil {
			t.Fatalf("Error creating shape: %v\n", err)
		}
		arrays[i] = dims.NewArray(dims.T_uint8, shape)
		for j := range arrays[i].Data {
			arrays[i].Data[j] = byte(i*100 + j)
		}
	}
	g, err := memgrid.New([]string{"first", "second"}, arrays)
	if err != nil {
		t.Fatalf("Error creating memgrid: %v\n", err)
	}
	return g, arrays
}

func TestSceneRegistry(t *testing.T) {
	g, _ := testScenes(t)
	img, err := OpenReader(g, testOpts)
	if err != nil {
		t.Fatalf("Error opening handle: %v\n", err)
	}
	defer img.Close()

	if img.CurrentScene() != "first" || img.CurrentIndex() != 0 {
		t.Errorf("Handle did not start at first scene: %q (%d)\n",
			img.CurrentScene(), img.CurrentIndex())
	}
	if err := img.SetScene("second"); err != nil {
		t.Fatalf("Error switching scene: %v\n", err)
	}
	if img.CurrentScene() != "second" {
		t.Errorf("Scene switch did not take: %q\n", img.CurrentScene())
	}

	// A failed switch must leave the current scene untouched.
	if err := img.SetScene("absent"); !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for absent scene, got %v\n", err)
	}
	if img.CurrentScene() != "second" {
		t.Errorf("Failed switch moved current scene to %q\n", img.CurrentScene())
	}
	if err := img.SetSceneIndex(-1); !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for negative index, got %v\n", err)
	}
	if img.CurrentIndex() != 1 {
		t.Errorf("Failed switch moved current index to %d\n", img.CurrentIndex())
	}

	shape, err := img.Shape()
	if err != nil {
		t.Fatalf("Error getting shape: %v\n", err)
	}
	if shape.String() != "ZYX (2,6,6)" {
		t.Errorf("Shape tracks wrong scene: %s\n", shape)
	}
}

func TestCanonicalShape(t *testing.T) {
	g, _ := testScenes(t)
	img, err := OpenReader(g, testOpts)
	if err != nil {
		t.Fatalf("Error opening handle: %v\n", err)
	}
	defer img.Close()

	canon, err := img.CanonicalShape()
	if err != nil {
		t.Fatalf("Error canonicalizing: %v\n", err)
	}
	if canon.String() != "STCZYX (1,1,1,3,8,8)" {
		t.Errorf("Bad canonical shape %s\n", canon)
	}
}

func TestGetAcrossScenes(t *testing.T) {
	g, arrays := testScenes(t)
	img, err := OpenReader(g, testOpts)
	if err != nil {
		t.Fatalf("Error opening handle: %v\n", err)
	}
	defer img.Close()

	out, err := img.Get(context.Background(), "ZYX", nil)
	if err != nil {
		t.Fatalf("Error reading scene 0: %v\n", err)
	}
	if !bytes.Equal(out.Data, arrays[0].Data) {
		t.Errorf("Scene 0 read does not match source\n")
	}

	if err := img.SetSceneIndex(1); err != nil {
		t.Fatalf("Error switching scene: %v\n", err)
	}
	out, err = img.Get(context.Background(), "ZYX", nil)
	if err != nil {
		t.Fatalf("Error reading scene 1: %v\n", err)
	}
	if !bytes.Equal(out.Data, arrays[1].Data) {
		t.Errorf("Scene 1 read does not match source; stale chunks served?\n")
	}

	// Reorder with selection through the eager path.
	out, err = img.Get(context.Background(), "XYZ", dims.Selection{"Z": dims.Index(1)})
	if err != nil {
		t.Fatalf("Error reading reordered region: %v\n", err)
	}
	if out.Shape.String() != "XYZ (6,6,1)" {
		t.Errorf("Bad reordered shape %s\n", out.Shape)
	}
}

func TestOpenDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bvol")

	shape, _ := dims.NewShape("ZYX", 2, 4, 4)
	arr := dims.NewArray(dims.T_uint8, shape)
	for i := range arr.Data {
		arr.Data[i] = byte(i)
	}
	w, err := blockvol.Create(path)
	if err != nil {
		t.Fatalf("Error creating BVOL file: %v\n", err)
	}
	if err := w.WriteScene(blockvol.SceneConfig{Name: "detected"}, arr); err != nil {
		t.Fatalf("Error writing scene: %v\n", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Error closing writer: %v\n", err)
	}

	img, err := Open(path, testOpts)
	if err != nil {
		t.Fatalf("Error opening via detection: %v\n", err)
	}
	defer img.Close()
	if img.Info().Name != "blockvol" {
		t.Errorf("Expected blockvol capability, got %s\n", img.Info())
	}
	out, err := img.Get(context.Background(), "ZYX", nil)
	if err != nil {
		t.Fatalf("Error reading detected source: %v\n", err)
	}
	if !bytes.Equal(out.Data, arr.Data) {
		t.Errorf("Detected source read does not match written data\n")
	}

	// A file no capability claims fails with the sentinel.
	junk := filepath.Join(dir, "junk.bin")
	if err := os.WriteFile(junk, []byte("nothing recognizable"), 0o644); err != nil {
		t.Fatalf("Error writing junk file: %v\n", err)
	}
	if _, err := Open(junk, testOpts); !errors.Is(err, format.ErrUnsupportedFileFormat) {
		t.Errorf("Expected ErrUnsupportedFileFormat, got %v\n", err)
	}
}

func TestMosaicReconstruction(t *testing.T) {
	shape, err := dims.NewShape("MYX", 4, 50, 50)
	if err != nil {
		t.Fatalf("Error creating shape: %v\n", err)
	}
	arr := dims.NewArray(dims.T_uint8, shape)
	for m := 0; m < 4; m++ {
		tileBytes := 50 * 50
		for j := 0; j < tileBytes; j++ {
			arr.Data[m*tileBytes+j] = byte(m + 1)
		}
	}
	g, err := memgrid.New([]string{"tiled"}, []*dims.Array{arr})
	if err != nil {
		t.Fatalf("Error creating memgrid: %v\n", err)
	}
	g.SetStagePositions(0, map[int]format.StagePosition{
		0: {Y: 0, X: 0},
		1: {Y: 0, X: 50},
		2: {Y: 50, X: 0},
		3: {Y: 50, X: 50},
	})

	img, err := OpenReader(g, testOpts)
	if err != nil {
		t.Fatalf("Error opening handle: %v\n", err)
	}
	defer img.Close()

	count, err := img.MosaicTileCount()
	if err != nil || count != 4 {
		t.Errorf("Expected 4 mosaic tiles, got %d, %v\n", count, err)
	}
	off, err := img.MosaicTilePosition(2)
	if err != nil || off.Y != 50 || off.X != 0 {
		t.Errorf("Tile 2 offset %+v, %v\n", off, err)
	}

	canvas, err := img.ReconstructMosaic(context.Background())
	if err != nil {
		t.Fatalf("Error reconstructing mosaic: %v\n", err)
	}
	if canvas.Shape.String() != "YX (100,100)" {
		t.Fatalf("Bad canvas shape %s\n", canvas.Shape)
	}
	if got := canvas.Data[canvas.ElementOffset(75, 25)]; got != 3 {
		t.Errorf("Canvas (75,25) = %d, expected tile 2 fill of 3\n", got)
	}
}

func TestMosaicWithoutTiles(t *testing.T) {
	g, _ := testScenes(t)
	img, err := OpenReader(g, testOpts)
	if err != nil {
		t.Fatalf("Error opening handle: %v\n", err)
	}
	defer img.Close()

	if count, err := img.MosaicTileCount(); err != nil || count != 1 {
		t.Errorf("Expected tile count 1 for non-mosaic scene, got %d, %v\n", count, err)
	}
	if _, err := img.ReconstructMosaic(context.Background()); err == nil {
		t.Errorf("Expected error reconstructing a scene with no tile axis\n")
	}
}
