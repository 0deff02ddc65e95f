package lazy

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format/memgrid"
)

// testGrid returns an in-memory TCZYX scene with identifiable element values.
func testGrid(t *testing.T) (*memgrid.Grid, *dims.Array) {
	shape, err := dims.NewShape("TCZYX", 2, 3, 4, 8, 8)
	if err != nil {
		t.Fatalf("Error creating shape: %v\n", err)
	}
	arr := dims.NewArray(dims.T_uint8, shape)
	for i := range arr.Data {
		arr.Data[i] = byte(i * 31)
	}
	g, err := memgrid.New(nil, []*dims.Array{arr})
	if err != nil {
		t.Fatalf("Error creating memgrid: %v\n", err)
	}
	return g, arr
}

func TestMaterializeFullView(t *testing.T) {
	g, arr := testGrid(t)
	v, err := Build(g, 0, "TC", Options{Fetchers: 4})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	if v.Shape().String() != arr.Shape.String() {
		t.Fatalf("View shape %s does not match native %s\n", v.Shape(), arr.Shape)
	}
	out, err := v.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Error materializing full view: %v\n", err)
	}
	if !bytes.Equal(out.Data, arr.Data) {
		t.Errorf("Full materialize does not equal source data\n")
	}
}

func TestMaterializeDeterministic(t *testing.T) {
	g, _ := testGrid(t)
	v, err := Build(g, 0, "TCZ", Options{Fetchers: 8})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	first, err := v.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Error on first materialize: %v\n", err)
	}
	for i := 0; i < 5; i++ {
		again, err := v.Materialize(context.Background())
		if err != nil {
			t.Fatalf("Error on materialize %d: %v\n", i, err)
		}
		if !bytes.Equal(again.Data, first.Data) {
			t.Fatalf("Materialize %d differs from first result\n", i)
		}
	}
}

func TestGetSelectionAndReorder(t *testing.T) {
	g, arr := testGrid(t)
	v, err := Build(g, 0, "TC", Options{})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	view, err := v.Get("ZYX", dims.Selection{
		"T": dims.CollapsedIndex(1),
		"C": dims.CollapsedIndex(2),
		"Z": dims.Range(1, 3),
	})
	if err != nil {
		t.Fatalf("Error deriving view: %v\n", err)
	}
	if view.Shape().String() != "ZYX (2,8,8)" {
		t.Fatalf("Bad derived shape %s\n", view.Shape())
	}
	out, err := view.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Error materializing derived view: %v\n", err)
	}

	slab, err := dims.Slab(arr, []dims.AxisSpan{
		{Start: 1, Count: 1, Step: 1},
		{Start: 2, Count: 1, Step: 1},
		{Start: 1, Count: 2, Step: 1},
		{Start: 0, Count: 8, Step: 1},
		{Start: 0, Count: 8, Step: 1},
	})
	if err != nil {
		t.Fatalf("Error slicing reference data: %v\n", err)
	}
	want, err := dims.Reshape(slab, "TCZYX", "ZYX")
	if err != nil {
		t.Fatalf("Error reshaping reference data: %v\n", err)
	}
	if !bytes.Equal(out.Data, want.Data) {
		t.Errorf("Derived view data does not match reference slice\n")
	}
}

func TestDerivedViewComposition(t *testing.T) {
	g, arr := testGrid(t)
	v, err := Build(g, 0, "T", Options{})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	// Every other Z plane, then index 1 of the restriction: global Z = 2.
	strided, err := v.Get("TCZYX", dims.Selection{"Z": dims.Strided(0, 4, 2)})
	if err != nil {
		t.Fatalf("Error building strided view: %v\n", err)
	}
	composed, err := strided.Get("TCZYX", dims.Selection{"Z": dims.Index(1)})
	if err != nil {
		t.Fatalf("Error composing selection: %v\n", err)
	}
	out, err := composed.Materialize(context.Background())
	if err != nil {
		t.Fatalf("Error materializing composed view: %v\n", err)
	}

	direct, err := dims.Slab(arr, []dims.AxisSpan{
		{Start: 0, Count: 2, Step: 1},
		{Start: 0, Count: 3, Step: 1},
		{Start: 2, Count: 1, Step: 1},
		{Start: 0, Count: 8, Step: 1},
		{Start: 0, Count: 8, Step: 1},
	})
	if err != nil {
		t.Fatalf("Error slicing reference data: %v\n", err)
	}
	if !bytes.Equal(out.Data, direct.Data) {
		t.Errorf("Composed selection does not address global Z=2\n")
	}
}

func TestCacheServesRepeatFetches(t *testing.T) {
	g, _ := testGrid(t)
	cache := NewCache(16)
	v, err := Build(g, 0, "TC", Options{Cache: cache, CachePrefix: "handle0", Fetchers: 2})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	if _, err := v.Materialize(context.Background()); err != nil {
		t.Fatalf("Error on first materialize: %v\n", err)
	}
	fetched := g.FetchCount()
	if fetched != 2*3 {
		t.Errorf("Expected 6 chunk fetches for a 2x3 TC grid, got %d\n", fetched)
	}
	if _, err := v.Materialize(context.Background()); err != nil {
		t.Fatalf("Error on second materialize: %v\n", err)
	}
	if g.FetchCount() != fetched {
		t.Errorf("Second materialize fetched from source despite warm cache: %d -> %d\n",
			fetched, g.FetchCount())
	}

	cache.Clear()
	if _, err := v.Materialize(context.Background()); err != nil {
		t.Fatalf("Error on post-clear materialize: %v\n", err)
	}
	if g.FetchCount() != 2*fetched {
		t.Errorf("Expected %d fetches after cache clear, got %d\n", 2*fetched, g.FetchCount())
	}
}

func TestMaterializeBudget(t *testing.T) {
	g, _ := testGrid(t)
	v, err := Build(g, 0, "TC", Options{BudgetBytes: 64})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}
	_, err = v.Materialize(context.Background())
	if err == nil || !strings.Contains(err.Error(), "budget") {
		t.Errorf("Expected budget error for oversized materialize, got %v\n", err)
	}

	// A restricted selection under budget still works.
	small, err := v.Get("YX", dims.Selection{
		"T": dims.CollapsedIndex(0),
		"C": dims.CollapsedIndex(0),
		"Z": dims.CollapsedIndex(0),
	})
	if err != nil {
		t.Fatalf("Error restricting view: %v\n", err)
	}
	if _, err := small.Materialize(context.Background()); err != nil {
		t.Errorf("Error materializing under-budget view: %v\n", err)
	}
}

func TestBuildErrors(t *testing.T) {
	g, _ := testGrid(t)
	if _, err := Build(g, 5, "T", Options{}); !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for bad scene, got %v\n", err)
	}
	if _, err := Build(g, 0, "Q", Options{}); !errors.Is(err, dims.ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for unknown chunk axis, got %v\n", err)
	}
	if _, err := Build(g, 0, "M", Options{}); !errors.Is(err, dims.ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for absent chunk axis, got %v\n", err)
	}
}

func TestGetErrors(t *testing.T) {
	g, _ := testGrid(t)
	v, err := Build(g, 0, "T", Options{})
	if err != nil {
		t.Fatalf("Error building view: %v\n", err)
	}

	// Collapsing an axis and naming it in the target is contradictory.
	_, err = v.Get("TCZYX", dims.Selection{"T": dims.CollapsedIndex(0)})
	if !errors.Is(err, dims.ErrConflictingArguments) {
		t.Errorf("Expected ErrConflictingArguments for collapsed axis in target, got %v\n", err)
	}

	// Dropping a size > 1 axis from the target is not allowed.
	_, err = v.Get("YX", dims.Selection{"T": dims.CollapsedIndex(0)})
	if !errors.Is(err, dims.ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for dropped sized axis, got %v\n", err)
	}

	// Selecting an axis this scene does not carry fails before any fetch.
	_, err = v.Get("TCZYX", dims.Selection{"M": dims.Index(0)})
	if !errors.Is(err, dims.ErrInvalidDimensionOrdering) {
		t.Errorf("Expected ErrInvalidDimensionOrdering for absent axis, got %v\n", err)
	}

	// Out-of-range selections fail instead of clamping.
	_, err = v.Get("TCZYX", dims.Selection{"Z": dims.Range(0, 5)})
	if !errors.Is(err, dims.ErrOutOfBounds) {
		t.Errorf("Expected ErrOutOfBounds for range past extent, got %v\n", err)
	}
}

func TestGridShape(t *testing.T) {
	grid := GridShape([]int{10, 4, 1}, []int{3, 4, 2})
	want := []int{4, 1, 1}
	for i := range want {
		if grid[i] != want[i] {
			t.Errorf("GridShape[%d] = %d, expected %d\n", i, grid[i], want[i])
		}
	}
	if key := ChunkKey([]int{1, 0, 2}); key != "1.0.2" {
		t.Errorf("Bad chunk key %q\n", key)
	}
	if key := ChunkKey(nil); key != "0" {
		t.Errorf("Bad empty chunk key %q\n", key)
	}
}
