/*
	bioimg is the command-line front end: inspect sources, extract regions in
	a chosen axis order, and stitch mosaic scenes, all through the same
	detection and lazy-read path the library exposes.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bioimg-io/bioimg/bioimg"
	"github.com/bioimg-io/bioimg/codec"
	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format/blockvol"
	"github.com/bioimg-io/bioimg/reader"
)

var (
	configPath string
	verbose    bool

	sceneFlag  string
	orderFlag  string
	selFlag    string
	outFlag    string
	blocksFlag string
)

func main() {
	root := &cobra.Command{
		Use:           "bioimg",
		Short:         "Inspect and read multi-dimensional bioimage data",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bioimg.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg.Apply()
			if verbose {
				bioimg.SetLogMode(bioimg.DebugMode)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	info := &cobra.Command{
		Use:   "info <source>",
		Short: "Show format, scenes, shapes, and physical metadata",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	scenes := &cobra.Command{
		Use:   "scenes <source>",
		Short: "List scene identifiers",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenes,
	}

	extract := &cobra.Command{
		Use:   "extract <source>",
		Short: "Read a region in a chosen axis order and write it as a BVOL file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExtract,
	}
	extract.Flags().StringVarP(&sceneFlag, "scene", "s", "", "scene identifier or index (default first)")
	extract.Flags().StringVar(&orderFlag, "order", "", "target axis order, e.g. CZYX (default canonical)")
	extract.Flags().StringVar(&selFlag, "select", "", "per-axis selection, e.g. \"C=0,Z=2:5,T=0:10:2\"")
	extract.Flags().StringVarP(&outFlag, "out", "o", "", "output BVOL path (required)")
	extract.Flags().StringVar(&blocksFlag, "blocks", "", "output block lengths, e.g. \"Z=16,C=1\"")
	extract.MarkFlagRequired("out")

	stitch := &cobra.Command{
		Use:   "stitch <source>",
		Short: "Reconstruct a mosaic scene into one YX canvas BVOL file",
		Args:  cobra.ExactArgs(1),
		RunE:  runStitch,
	}
	stitch.Flags().StringVarP(&sceneFlag, "scene", "s", "", "scene identifier or index (default first)")
	stitch.Flags().StringVarP(&outFlag, "out", "o", "", "output BVOL path (required)")
	stitch.MarkFlagRequired("out")

	root.AddCommand(info, scenes, extract, stitch)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bioimg: %v\n", err)
		os.Exit(1)
	}
}

func open(path string) (*reader.Image, error) {
	img, err := reader.Open(path, reader.Options{})
	if err != nil {
		return nil, err
	}
	if sceneFlag != "" {
		if err := setScene(img, sceneFlag); err != nil {
			img.Close()
			return nil, err
		}
	}
	return img, nil
}

// setScene accepts either a scene identifier or a numeric index.
func setScene(img *reader.Image, scene string) error {
	if err := img.SetScene(scene); err == nil {
		return nil
	}
	i, convErr := strconv.Atoi(scene)
	if convErr != nil {
		return fmt.Errorf("no scene named %q, have %v", scene, img.Scenes())
	}
	return img.SetSceneIndex(i)
}

func runInfo(cmd *cobra.Command, args []string) error {
	img, err := open(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	fmt.Printf("Source:  %s\n", args[0])
	fmt.Printf("Format:  %s\n", img.Info())
	names := img.Scenes()
	fmt.Printf("Scenes:  %d\n", len(names))
	for i, name := range names {
		if err := img.SetSceneIndex(i); err != nil {
			return err
		}
		shape, err := img.Shape()
		if err != nil {
			return err
		}
		dtype, err := img.DataType()
		if err != nil {
			return err
		}
		size := uint64(shape.NumElements()) * uint64(dtype.BytesPerElement())
		fmt.Printf("  [%d] %-12s %s %s (%s decoded)\n", i, name, shape, dtype, humanize.IBytes(size))
		if px, _ := img.PhysicalPixelSize(); px != nil {
			fmt.Printf("      pixel size X=%g Y=%g Z=%g\n", px.X, px.Y, px.Z)
		}
		if n, _ := img.MosaicTileCount(); n > 1 {
			fmt.Printf("      mosaic of %d tiles\n", n)
		}
	}
	return nil
}

func runScenes(cmd *cobra.Command, args []string) error {
	img, err := open(args[0])
	if err != nil {
		return err
	}
	defer img.Close()
	for _, name := range img.Scenes() {
		fmt.Println(name)
	}
	return nil
}

// parseSelection turns "C=0,Z=2:5,T=0:10:2" into per-axis selectors.  A bare
// index keeps the axis at size 1; ranges are half-open.
func parseSelection(s string) (dims.Selection, error) {
	sel := make(dims.Selection)
	if s == "" {
		return sel, nil
	}
	for _, part := range strings.Split(s, ",") {
		axis, spec, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || axis == "" {
			return nil, fmt.Errorf("bad selection %q, expect axis=index or axis=start:stop[:step]", part)
		}
		fields := strings.Split(spec, ":")
		nums := make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("bad selection %q: %v", part, err)
			}
			nums[i] = v
		}
		switch len(fields) {
		case 1:
			sel[axis] = dims.Index(nums[0])
		case 2:
			sel[axis] = dims.Range(nums[0], nums[1])
		case 3:
			sel[axis] = dims.Strided(nums[0], nums[1], nums[2])
		default:
			return nil, fmt.Errorf("bad selection %q, too many colons", part)
		}
	}
	return sel, nil
}

// parseBlockLens turns "Z=16,C=1" into per-axis block lengths.
func parseBlockLens(s string) (map[string]int, error) {
	if s == "" {
		return nil, nil
	}
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		axis, spec, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return nil, fmt.Errorf("bad block length %q, expect axis=length", part)
		}
		v, err := strconv.Atoi(spec)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("bad block length %q", part)
		}
		out[axis] = v
	}
	return out, nil
}

func runExtract(cmd *cobra.Command, args []string) error {
	img, err := open(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	order := orderFlag
	if order == "" {
		shape, err := img.CanonicalShape()
		if err != nil {
			return err
		}
		order = shape.Order()
	}
	sel, err := parseSelection(selFlag)
	if err != nil {
		return err
	}
	blockLens, err := parseBlockLens(blocksFlag)
	if err != nil {
		return err
	}

	timelog := bioimg.NewTimeLog()
	arr, err := img.Get(context.Background(), order, sel)
	if err != nil {
		return err
	}
	timelog.Infof("Read %s %s from scene %q", arr.Shape, arr.DType, img.CurrentScene())

	return writeBVOL(outFlag, img.CurrentScene(), arr, blockLens)
}

func runStitch(cmd *cobra.Command, args []string) error {
	img, err := open(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	timelog := bioimg.NewTimeLog()
	canvas, err := img.ReconstructMosaic(context.Background())
	if err != nil {
		return err
	}
	timelog.Infof("Stitched scene %q into %s canvas", img.CurrentScene(), canvas.Shape)

	return writeBVOL(outFlag, img.CurrentScene()+" stitched", canvas, nil)
}

func writeBVOL(path, scene string, arr *dims.Array, blockLens map[string]int) error {
	w, err := blockvol.Create(path)
	if err != nil {
		return err
	}
	err = w.WriteScene(blockvol.SceneConfig{
		Name:        scene,
		BlockLens:   blockLens,
		Compression: codec.Snappy,
		Checksum:    codec.CRC32,
	}, arr)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%s)\n", path, humanize.IBytes(uint64(fi.Size())))
	return nil
}
