/*
	Package mosaic computes absolute pixel placement for mosaic tiles from
	stage coordinates and stitches tiles into one logical canvas.  Offsets are
	deterministic given unchanged stage metadata; overlapping pixels resolve
	last-write-wins in ascending tile index order.
*/
package mosaic

import (
	"errors"
	"fmt"
	"math"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// ErrMissingStagePositions means a source advertises a MosaicTile axis > 1
// but supplies no stage coordinates to place the tiles.
var ErrMissingStagePositions = errors.New("missing stage positions")

// TileOffset is a tile's absolute, zero-based pixel offset into the canvas.
type TileOffset struct {
	Y int
	X int
}

// HasPositions reports whether stage metadata covers every tile in [0, count).
func HasPositions(count int, positions map[int]format.StagePosition) bool {
	for i := 0; i < count; i++ {
		if _, found := positions[i]; !found {
			return false
		}
	}
	return count > 0
}

// canvasOrigin is the minimum stage position across all tiles, so offsets are
// non-negative and zero-based.  Established once per stitch request.
func canvasOrigin(positions map[int]format.StagePosition) (minY, minX float64) {
	first := true
	for _, p := range positions {
		if first || p.Y < minY {
			minY = p.Y
		}
		if first || p.X < minX {
			minX = p.X
		}
		first = false
	}
	return
}

// pixelScale falls back to 1.0 physical units per pixel when the source
// carries no pixel size, matching how unscaled microscopy data is treated.
func pixelScale(px *format.PixelSize) (sy, sx float64) {
	if px == nil || px.Y == 0 || px.X == 0 {
		bioimg.Warningf("No physical pixel size for mosaic; assuming 1.0 units per pixel\n")
		return 1.0, 1.0
	}
	return px.Y, px.X
}

// TilePosition returns the absolute (Y, X) pixel offset of one tile.  The
// tile index is validated against count before any computation, so a failed
// call never returns a partial offset.
func TilePosition(tileIndex, count int, positions map[int]format.StagePosition, px *format.PixelSize) (TileOffset, error) {
	if tileIndex < 0 || tileIndex >= count {
		return TileOffset{}, fmt.Errorf("%w: mosaic tile index %d, scene has %d tiles",
			dims.ErrOutOfBounds, tileIndex, count)
	}
	if len(positions) == 0 {
		return TileOffset{}, fmt.Errorf("%w: scene advertises %d mosaic tiles",
			ErrMissingStagePositions, count)
	}
	pos, found := positions[tileIndex]
	if !found {
		return TileOffset{}, fmt.Errorf("%w: no stage position for tile %d",
			ErrMissingStagePositions, tileIndex)
	}
	minY, minX := canvasOrigin(positions)
	sy, sx := pixelScale(px)
	return TileOffset{
		Y: int(math.Round((pos.Y - minY) / sy)),
		X: int(math.Round((pos.X - minX) / sx)),
	}, nil
}

// Reconstruct stitches YX tiles into one canvas.  The canvas is the smallest
// rectangle covering every tile's offset plus the tile shape.  Tiles are
// written in ascending index order; where tiles overlap, the later tile wins.
func Reconstruct(tiles []*dims.Array, tileH, tileW int, positions map[int]format.StagePosition, px *format.PixelSize) (*dims.Array, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("%w: no tiles to reconstruct", dims.ErrOutOfBounds)
	}
	offsets := make([]TileOffset, len(tiles))
	canvasH, canvasW := 0, 0
	for i, tile := range tiles {
		if tile.Rank() != 2 || tile.Shape[0].Size != tileH || tile.Shape[1].Size != tileW {
			return nil, fmt.Errorf("%w: tile %d has shape %s, expected YX (%d,%d)",
				dims.ErrUnexpectedShape, i, tile.Shape, tileH, tileW)
		}
		if tile.DType != tiles[0].DType {
			return nil, fmt.Errorf("%w: tile %d has element type %s, tile 0 has %s",
				dims.ErrUnexpectedShape, i, tile.DType, tiles[0].DType)
		}
		off, err := TilePosition(i, len(tiles), positions, px)
		if err != nil {
			return nil, err
		}
		offsets[i] = off
		if off.Y+tileH > canvasH {
			canvasH = off.Y + tileH
		}
		if off.X+tileW > canvasW {
			canvasW = off.X + tileW
		}
	}

	shape, err := dims.NewShape("YX", canvasH, canvasW)
	if err != nil {
		return nil, err
	}
	canvas := dims.NewArray(tiles[0].DType, shape)
	es := canvas.DType.BytesPerElement()
	rowBytes := tileW * es
	for i, tile := range tiles {
		off := offsets[i]
		for y := 0; y < tileH; y++ {
			dst := ((off.Y+y)*canvasW + off.X) * es
			src := y * rowBytes
			copy(canvas.Data[dst:dst+rowBytes], tile.Data[src:src+rowBytes])
		}
	}
	bioimg.Debugf("Reconstructed %d mosaic tiles into %s canvas\n", len(tiles), canvas.Shape)
	return canvas, nil
}
