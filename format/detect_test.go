package format

import (
	"errors"
	"testing"

	"github.com/blang/semver"
)

func namedCandidate(name string, supports func(Source) bool) Candidate {
	return Candidate{
		Info:     TypeInfo{Name: name, URL: "test/" + name, Version: semver.MustParse("1.0.0")},
		Supports: supports,
	}
}

func TestDetermineOrder(t *testing.T) {
	// Both claim the source; the earlier, more specific candidate must win.
	specific := namedCandidate("specific", func(Source) bool { return true })
	generic := namedCandidate("generic", func(Source) bool { return true })

	c, err := Determine(Source{Path: "anything"}, []Candidate{specific, generic})
	if err != nil {
		t.Fatalf("Error determining format: %v\n", err)
	}
	if c.Info.Name != "specific" {
		t.Errorf("Expected first claiming candidate to win, got %q\n", c.Info.Name)
	}
}

func TestDetermineUnsupported(t *testing.T) {
	never := namedCandidate("never", func(Source) bool { return false })
	_, err := Determine(Source{Path: "mystery.bin"}, []Candidate{never})
	if !errors.Is(err, ErrUnsupportedFileFormat) {
		t.Errorf("Expected ErrUnsupportedFileFormat, got %v\n", err)
	}
}

func TestDeterminePanicDowngrade(t *testing.T) {
	// A broken probe must not block detection via the remaining candidates.
	broken := namedCandidate("broken", func(Source) bool { panic("probe exploded") })
	fallback := namedCandidate("fallback", func(Source) bool { return true })

	c, err := Determine(Source{Path: "anything"}, []Candidate{broken, fallback})
	if err != nil {
		t.Fatalf("Error determining format past panicking probe: %v\n", err)
	}
	if c.Info.Name != "fallback" {
		t.Errorf("Expected fallback candidate, got %q\n", c.Info.Name)
	}
}
