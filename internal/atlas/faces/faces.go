package faces

import (
	"errors"
	"fmt"
)

var ErrUnsupportedFaceCount = errors.New("unsupported face count")

// Count is the number of distinct textured faces a block declares.
type Count int

const (
	One   Count = 1
	Two   Count = 2
	Three Count = 3
	Six   Count = 6
)

var suffixes = map[Count][]string{
	One:   {""},
	Two:   {"_vertical", "_side"},
	Three: {"_top", "_bottom", "_side"},
	Six:   {"_top", "_bottom", "_left", "_right", "_front", "_back"},
}

// Valid reports whether c has a suffix table entry.
func (c Count) Valid() bool {
	_, ok := suffixes[c]
	return ok
}

// Suffixes returns the ordered face-name suffixes for c.
func Suffixes(c Count) ([]string, error) {
	s, ok := suffixes[c]
	if !ok {
		return nil, fmt.Errorf("%w: %d (want 1, 2, 3 or 6)", ErrUnsupportedFaceCount, int(c))
	}
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// Resolve returns the ordered texture names composing block. The row span is len(names).
func Resolve(block string, c Count) ([]string, error) {
	s, err := Suffixes(c)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(s))
	for i, suffix := range s {
		names[i] = block + suffix
	}
	return names, nil
}

// Label returns a face's name without the leading underscore ("side", "top"),
// or "all" for single-face blocks.
func Label(suffix string) string {
	if suffix == "" {
		return "all"
	}
	return suffix[1:]
}
