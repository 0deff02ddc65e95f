package format

import (
	"errors"
	"fmt"

	"github.com/bioimg-io/bioimg/bioimg"
)

// ErrUnsupportedFileFormat means no candidate capability claims a source.
var ErrUnsupportedFileFormat = errors.New("unsupported file format")

// Candidate couples a cheap, side-effect-free sniff with an opener.  Lists of
// candidates are ordered most format-specific first so a permissive generic
// fallback cannot shadow a precise match.
type Candidate struct {
	Info TypeInfo

	// Supports is the sniff.  It must not mutate the source.
	Supports func(src Source) bool

	// Open constructs the Reader once the sniff has claimed the source.
	Open func(src Source) (Reader, error)
}

// Determine probes candidates in order and returns the first that claims the
// source.  A probe that panics is logged and treated as "does not support" so
// one broken candidate cannot block detection via the remaining list.
func Determine(src Source, candidates []Candidate) (Candidate, error) {
	for _, c := range candidates {
		if probe(src, c) {
			bioimg.Debugf("Source %q claimed by %s\n", src.Path, c.Info)
			return c, nil
		}
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Info.Name
	}
	return Candidate{}, fmt.Errorf("%w: no capability claims %q, tried %v",
		ErrUnsupportedFileFormat, src.Path, names)
}

func probe(src Source, c Candidate) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			bioimg.Errorf("Probe %s failed on %q: %v; treating as unsupported\n",
				c.Info, src.Path, r)
			claimed = false
		}
	}()
	return c.Supports(src)
}
