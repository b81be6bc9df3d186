package animation

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// MaxSlots is the number of animation ticks (output atlases) a cycle is tiled across.
const MaxSlots = 32

// Transparent marks a slot whose pixels are left empty.
const Transparent = -1

var (
	ErrTooManyFrames  = errors.New("too many animation frames")
	ErrInvalidFrames  = errors.New("invalid animation frames")
	ErrNotImplemented = errors.New("animation frame lists not implemented")
)

type Kind uint8

const (
	KindStatic Kind = iota
	KindFixedCount
	KindExplicitList
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindFixedCount:
		return "count"
	case KindExplicitList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Spec is a block's declared animation: Static, FixedCount(n) or ExplicitList(frames).
type Spec struct {
	Kind  Kind
	Count int
	List  []int
}

func Static() Spec { return Spec{Kind: KindStatic} }

func FixedCount(n int) Spec { return Spec{Kind: KindFixedCount, Count: n} }

func ExplicitList(frames []int) Spec {
	list := make([]int, len(frames))
	copy(list, frames)
	return Spec{Kind: KindExplicitList, List: list}
}

func (s Spec) Animated() bool { return s.Kind != KindStatic }

func (s Spec) String() string {
	switch s.Kind {
	case KindFixedCount:
		return fmt.Sprintf("frames=%d", s.Count)
	case KindExplicitList:
		parts := make([]string, len(s.List))
		for i, f := range s.List {
			parts[i] = fmt.Sprint(f)
		}
		return "frames=[" + strings.Join(parts, ",") + "]"
	default:
		return "static"
	}
}

// PadPolicy selects the source frame for cycle entries past the declared frames.
type PadPolicy string

const (
	// PadClamp repeats the last real frame.
	PadClamp PadPolicy = "clamp"
	// PadTrailing selects the row right after the last real frame; the source
	// image must carry that extra row.
	PadTrailing PadPolicy = "trailing"
	// PadTransparent leaves padded slots empty.
	PadTransparent PadPolicy = "transparent"
)

func ParsePadPolicy(s string) (PadPolicy, error) {
	switch p := PadPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PadClamp, nil
	case PadClamp, PadTrailing, PadTransparent:
		return p, nil
	default:
		return "", fmt.Errorf("unknown padding policy %q", s)
	}
}

// ListPolicy decides what happens to ExplicitList specs.
type ListPolicy string

const (
	ListCompose ListPolicy = "compose"
	ListReject  ListPolicy = "reject"
)

func ParseListPolicy(s string) (ListPolicy, error) {
	switch p := ListPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ListCompose, nil
	case ListCompose, ListReject:
		return p, nil
	default:
		return "", fmt.Errorf("unknown frame list policy %q", s)
	}
}

type Options struct {
	Padding PadPolicy
	Lists   ListPolicy
}

// Cycle is a declared frame count padded to a power of two and the number of
// times it repeats across MaxSlots.
type Cycle struct {
	Declared int
	Padded   int
	Repeat   int
}

// NextPowerOfTwo rounds n up to a power of two, never below 1.
func NextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

func Normalize(declared int) (Cycle, error) {
	if declared < 1 {
		return Cycle{}, fmt.Errorf("%w: frame count %d", ErrInvalidFrames, declared)
	}
	if declared > MaxSlots {
		return Cycle{}, fmt.Errorf("%w: %d exceeds %d slots", ErrTooManyFrames, declared, MaxSlots)
	}
	padded := NextPowerOfTwo(declared)
	return Cycle{
		Declared: declared,
		Padded:   padded,
		Repeat:   MaxSlots / padded,
	}, nil
}

// Mapping assigns a source frame to every slot.
type Mapping struct {
	Frames [MaxSlots]int
	// Required is the number of stacked frames the source image must carry.
	Required int
}

func Map(spec Spec, opts Options) (Mapping, error) {
	switch spec.Kind {
	case KindStatic:
		return Mapping{Required: 1}, nil
	case KindFixedCount:
		if _, err := Normalize(spec.Count); err != nil {
			return Mapping{}, err
		}
		frames := make([]int, spec.Count)
		for i := range frames {
			frames[i] = i
		}
		return mapFrames(frames, opts.Padding)
	case KindExplicitList:
		if opts.Lists == ListReject {
			return Mapping{}, fmt.Errorf("%w: %s", ErrNotImplemented, spec)
		}
		if len(spec.List) == 0 {
			return Mapping{}, fmt.Errorf("%w: empty frame list", ErrInvalidFrames)
		}
		for _, f := range spec.List {
			if f < 0 {
				return Mapping{}, fmt.Errorf("%w: negative frame index %d", ErrInvalidFrames, f)
			}
		}
		return mapFrames(spec.List, opts.Padding)
	default:
		return Mapping{}, fmt.Errorf("%w: unknown kind %s", ErrInvalidFrames, spec.Kind)
	}
}

func mapFrames(frames []int, pad PadPolicy) (Mapping, error) {
	cyc, err := Normalize(len(frames))
	if err != nil {
		return Mapping{}, err
	}

	highest := 0
	for _, f := range frames {
		if f > highest {
			highest = f
		}
	}
	m := Mapping{Required: highest + 1}

	padFrame := frames[len(frames)-1]
	if cyc.Padded > cyc.Declared {
		switch pad {
		case PadTrailing:
			padFrame = highest + 1
			m.Required = highest + 2
		case PadTransparent:
			padFrame = Transparent
		}
	}

	for slot := 0; slot < MaxSlots; slot++ {
		i := slot % cyc.Padded
		if i < cyc.Declared {
			m.Frames[slot] = frames[i]
		} else {
			m.Frames[slot] = padFrame
		}
	}
	return m, nil
}
