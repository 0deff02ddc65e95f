/*
	Package imgseq reads a set of single-plane TIFF files as one logical
	multi-dimensional source.  Scene, Time, Channel, and Z coordinates of each
	plane are parsed out of its filename by an Indexer; the default pulls the
	first four numbers and uses them as S, T, C, and Z.  Per-scene native
	order is TCZYX with one file per (T, C, Z) index.
*/
package imgseq

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/blang/semver"
	"github.com/mdouchement/tiff"

	"github.com/bioimg-io/bioimg/dims"
	"github.com/bioimg-io/bioimg/format"
)

// TypeInfo describes this capability.
var TypeInfo = format.TypeInfo{
	Name:    "imgseq",
	URL:     "github.com/bioimg-io/bioimg/format/imgseq",
	Version: semver.MustParse("1.0.0"),
}

// PlaneIndex locates one file within the logical array.
type PlaneIndex struct {
	S, T, C, Z int
}

// Indexer extracts a PlaneIndex from a filename.
type Indexer func(filename string) (PlaneIndex, error)

var numberRe = regexp.MustCompile(`\d+`)

// DefaultIndexer parses the first four numbers of the base filename as the
// S, T, C, and Z indices.  So "S0_T1_C2_Z3.tif" maps to scene 0, time 1,
// channel 2, z 3.
func DefaultIndexer(filename string) (PlaneIndex, error) {
	nums, err := filenameNumbers(filename, 4)
	if err != nil {
		return PlaneIndex{}, err
	}
	return PlaneIndex{S: nums[0], T: nums[1], C: nums[2], Z: nums[3]}, nil
}

// MicroManagerIndexer handles MicroManager MDA naming, where the numbers run
// channel, position, time, z:
//	img_channel000_position001_time000000003_z004.tif
func MicroManagerIndexer(filename string) (PlaneIndex, error) {
	nums, err := filenameNumbers(filename, 4)
	if err != nil {
		return PlaneIndex{}, err
	}
	return PlaneIndex{C: nums[0], S: nums[1], T: nums[2], Z: nums[3]}, nil
}

func filenameNumbers(filename string, n int) ([]int, error) {
	matches := numberRe.FindAllString(filepath.Base(filename), -1)
	if len(matches) < n {
		return nil, fmt.Errorf("filename %q has %d numbers, need %d for plane indexing",
			filepath.Base(filename), len(matches), n)
	}
	nums := make([]int, n)
	for i := 0; i < n; i++ {
		v, err := strconv.Atoi(matches[i])
		if err != nil {
			return nil, fmt.Errorf("bad number %q in filename %q: %v", matches[i], filename, err)
		}
		nums[i] = v
	}
	return nums, nil
}

type sceneData struct {
	name    string
	files   map[PlaneIndex]string // S normalized to 0
	sizes   [3]int                // T, C, Z
	height  int
	width   int
	dtype   dims.DataType
	probed  bool
}

// Sequence is an open TIFF file set implementing format.Reader.
type Sequence struct {
	scenes    []*sceneData
	positions map[int]format.StagePosition
	pixelSize *format.PixelSize
}

// expand resolves a glob pattern or directory into candidate TIFF paths.
func expand(path string) []string {
	var candidates []string
	if strings.ContainsAny(path, "*?[") {
		candidates, _ = filepath.Glob(path)
	} else if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		entries, _ := os.ReadDir(path)
		for _, e := range entries {
			if !e.IsDir() {
				candidates = append(candidates, filepath.Join(path, e.Name()))
			}
		}
	}
	var out []string
	for _, c := range candidates {
		switch strings.ToLower(filepath.Ext(c)) {
		case ".tif", ".tiff":
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Supports claims globs or directories holding at least one TIFF plane with
// an indexable filename.
func Supports(src format.Source) bool {
	files := expand(src.Path)
	if len(files) == 0 {
		return false
	}
	if _, err := DefaultIndexer(files[0]); err != nil {
		return false
	}
	f, err := os.Open(files[0])
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := f.Read(head); err != nil {
		return false
	}
	le := string(head) == "II\x2A\x00"
	be := string(head) == "MM\x00\x2A"
	return le || be
}

// Open builds a Sequence with the default filename indexer.
func Open(src format.Source) (*Sequence, error) {
	return OpenWith(src, DefaultIndexer)
}

// OpenWith builds a Sequence using a caller-supplied indexer.
func OpenWith(src format.Source, indexer Indexer) (*Sequence, error) {
	files := expand(src.Path)
	if len(files) == 0 {
		return nil, fmt.Errorf("no TIFF files found matching %q", src.Path)
	}

	bySceneID := make(map[int]map[PlaneIndex]string)
	for _, path := range files {
		idx, err := indexer(path)
		if err != nil {
			return nil, err
		}
		planes := bySceneID[idx.S]
		if planes == nil {
			planes = make(map[PlaneIndex]string)
			bySceneID[idx.S] = planes
		}
		key := PlaneIndex{T: idx.T, C: idx.C, Z: idx.Z}
		if prev, dup := planes[key]; dup {
			return nil, fmt.Errorf("%w: files %q and %q both map to scene %d T=%d C=%d Z=%d",
				dims.ErrConflictingArguments, prev, path, idx.S, idx.T, idx.C, idx.Z)
		}
		planes[key] = path
	}

	sceneIDs := make([]int, 0, len(bySceneID))
	for id := range bySceneID {
		sceneIDs = append(sceneIDs, id)
	}
	sort.Ints(sceneIDs)

	seq := &Sequence{}
	seq.positions, seq.pixelSize = loadSidecar(src.Path)
	for n, id := range sceneIDs {
		planes := bySceneID[id]
		sd := &sceneData{
			name:  fmt.Sprintf("Image:%d", n),
			files: planes,
		}
		for key := range planes {
			if key.T >= sd.sizes[0] {
				sd.sizes[0] = key.T + 1
			}
			if key.C >= sd.sizes[1] {
				sd.sizes[1] = key.C + 1
			}
			if key.Z >= sd.sizes[2] {
				sd.sizes[2] = key.Z + 1
			}
		}
		if want := sd.sizes[0] * sd.sizes[1] * sd.sizes[2]; want != len(planes) {
			return nil, fmt.Errorf("%w: scene %d has %d planes but a full %dx%dx%d TCZ grid needs %d",
				dims.ErrUnexpectedShape, id, len(planes), sd.sizes[0], sd.sizes[1], sd.sizes[2], want)
		}
		seq.scenes = append(seq.scenes, sd)
	}

	// Probe one plane per scene for the single-file YX shape and element
	// type; every other file in the scene must agree at fetch time.
	for _, sd := range seq.scenes {
		if err := sd.probe(); err != nil {
			return nil, err
		}
	}
	return seq, nil
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

func (sd *sceneData) probe() error {
	if sd.probed {
		return nil
	}
	var first string
	for _, path := range sd.files {
		first = path
		break
	}
	plane, err := decodePlane(first)
	if err != nil {
		return err
	}
	sd.height = plane.Shape[0].Size
	sd.width = plane.Shape[1].Size
	sd.dtype = plane.DType
	sd.probed = true
	return nil
}

// decodePlane reads one TIFF file as a YX array.
func decodePlane(path string) (*dims.Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := tiff.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error decoding TIFF %q: %v", path, err)
	}
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	switch im := img.(type) {
	case *image.Gray:
		shape, err := dims.NewShape("YX", h, w)
		if err != nil {
			return nil, err
		}
		arr := dims.NewArray(dims.T_uint8, shape)
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+w]
			copy(arr.Data[y*w:], row)
		}
		return arr, nil
	case *image.Gray16:
		shape, err := dims.NewShape("YX", h, w)
		if err != nil {
			return nil, err
		}
		arr := dims.NewArray(dims.T_uint16, shape)
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride : y*im.Stride+2*w]
			copy(arr.Data[y*2*w:], row)
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("TIFF %q decodes to unsupported pixel layout %T; need 8 or 16 bit grayscale planes",
			path, img)
	}
}

func (s *Sequence) sceneAt(i int) (*sceneData, error) {
	if i < 0 || i >= len(s.scenes) {
		return nil, fmt.Errorf("%w: scene index %d, sequence has %d scenes",
			dims.ErrOutOfBounds, i, len(s.scenes))
	}
	return s.scenes[i], nil
}

// --- format.Reader implementation ---

func (s *Sequence) Info() format.TypeInfo { return TypeInfo }

func (s *Sequence) Scenes() []string {
	names := make([]string, len(s.scenes))
	for i, sd := range s.scenes {
		names[i] = sd.name
	}
	return names
}

func (s *Sequence) NativeShape(i int) (dims.Shape, error) {
	sd, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	return dims.NewShape("TCZYX", sd.sizes[0], sd.sizes[1], sd.sizes[2], sd.height, sd.width)
}

func (s *Sequence) DataType(i int) (dims.DataType, error) {
	sd, err := s.sceneAt(i)
	if err != nil {
		return 0, err
	}
	return sd.dtype, nil
}

// ChunkLen is 1 everywhere: one file per T/C/Z index, and no sub-plane tiling.
func (s *Sequence) ChunkLen(i int, axis string) int { return 1 }

func (s *Sequence) FetchChunk(ctx context.Context, i int, chunkAxes string, blockIndex []int) (*dims.Array, error) {
	sd, err := s.sceneAt(i)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	native, err := s.NativeShape(i)
	if err != nil {
		return nil, err
	}
	return format.ServeChunk(native, chunkAxes,
		func(axis string) int { return 1 },
		blockIndex,
		func(spans []dims.AxisSpan) (*dims.Array, error) {
			return format.AssembleBlocks(native, sd.dtype, "TCZ", []int{1, 1, 1}, spans,
				func(block []int, shape dims.Shape) (*dims.Array, error) {
					return sd.loadPlane(block[0], block[1], block[2], shape)
				})
		})
}

func (sd *sceneData) loadPlane(t, c, z int, shape dims.Shape) (*dims.Array, error) {
	path, found := sd.files[PlaneIndex{T: t, C: c, Z: z}]
	if !found {
		return nil, fmt.Errorf("%w: no plane for T=%d C=%d Z=%d", dims.ErrOutOfBounds, t, c, z)
	}
	plane, err := decodePlane(path)
	if err != nil {
		return nil, err
	}
	if plane.Shape[0].Size != sd.height || plane.Shape[1].Size != sd.width || plane.DType != sd.dtype {
		return nil, fmt.Errorf("%w: plane %q is %s %s, set was probed as %s YX (%d,%d)",
			dims.ErrUnexpectedShape, path, plane.Shape, plane.DType, sd.dtype, sd.height, sd.width)
	}
	// The plane becomes a TCZYX block with unit leading axes.
	return dims.WrapArray(plane.DType, shape, plane.Data)
}

func (s *Sequence) StagePositions(i int) (map[int]format.StagePosition, error) {
	if _, err := s.sceneAt(i); err != nil {
		return nil, err
	}
	return s.positions, nil
}

func (s *Sequence) PhysicalPixelSize(i int) (*format.PixelSize, error) {
	if _, err := s.sceneAt(i); err != nil {
		return nil, err
	}
	return s.pixelSize, nil
}

// ConcurrentReadSafe is true: every fetch opens its plane file independently.
func (s *Sequence) ConcurrentReadSafe() bool { return true }

func (s *Sequence) Close() error { return nil }
