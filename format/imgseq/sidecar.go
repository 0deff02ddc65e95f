/*
	This file holds the optional metadata sidecar.  A "bioimg.toml" next to the
	planes carries what TIFF filenames cannot: stage positions and the physical
	pixel size.

		[pixel_size]
		x = 0.65
		y = 0.65
		z = 1.0

		[[tile]]
		index = 0
		y = 0.0
		x = 0.0
*/

package imgseq

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/format"
)

// SidecarName is the metadata filename looked for next to the planes.
const SidecarName = "bioimg.toml"

type sidecarTile struct {
	Index int
	Y     float64
	X     float64
}

type sidecarPixelSize struct {
	X float64
	Y float64
	Z float64
}

type sidecar struct {
	PixelSize *sidecarPixelSize `toml:"pixel_size"`
	Tiles     []sidecarTile     `toml:"tile"`
}

// sidecarDir is the directory the sidecar lives in for a given source path,
// which may be a directory or a glob.
func sidecarDir(path string) string {
	if strings.ContainsAny(path, "*?[") {
		return filepath.Dir(path)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return path
	}
	return filepath.Dir(path)
}

// loadSidecar reads optional metadata.  A missing file is not an error; a
// malformed one is logged and ignored so bad metadata cannot block pixel reads.
func loadSidecar(srcPath string) (map[int]format.StagePosition, *format.PixelSize) {
	path := filepath.Join(sidecarDir(srcPath), SidecarName)
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	var sc sidecar
	if _, err := toml.DecodeFile(path, &sc); err != nil {
		bioimg.Errorf("Ignoring malformed sidecar %q: %v\n", path, err)
		return nil, nil
	}
	var positions map[int]format.StagePosition
	if len(sc.Tiles) > 0 {
		positions = make(map[int]format.StagePosition, len(sc.Tiles))
		for _, tile := range sc.Tiles {
			positions[tile.Index] = format.StagePosition{Y: tile.Y, X: tile.X}
		}
	}
	var px *format.PixelSize
	if sc.PixelSize != nil {
		px = &format.PixelSize{X: sc.PixelSize.X, Y: sc.PixelSize.Y, Z: sc.PixelSize.Z}
	}
	if positions != nil || px != nil {
		bioimg.Debugf("Loaded sidecar %q: %d tile positions, pixel size %v\n",
			path, len(positions), px)
	}
	return positions, px
}
