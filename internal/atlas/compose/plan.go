package compose

import (
	"errors"
	"fmt"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/faces"
)

var ErrDuplicateBlock = errors.New("duplicate block")

// Block is one manifest entry.
type Block struct {
	ID    string
	Faces faces.Count
	Anim  animation.Spec
}

type Options struct {
	Animation animation.Options
}

// Placement is a block pinned to its first atlas row.
type Placement struct {
	Block    Block
	Row      int
	Textures []string
	Faces    []string

	Animated bool
	Mapping  animation.Mapping
	// AnimationIgnored is set for multi-face blocks that declare frames; they
	// are composed as static.
	AnimationIgnored bool
}

func (p Placement) Span() int { return len(p.Textures) }

type Layout struct {
	Placements []Placement
	TotalRows  int
}

// Textures returns every texture name the layout references, in row order.
func (l Layout) Textures() []string {
	out := make([]string, 0, l.TotalRows)
	for _, p := range l.Placements {
		out = append(out, p.Textures...)
	}
	return out
}

// Plan folds blocks in manifest order into row placements. Later rows depend
// on every earlier block, so this pass is sequential; composition can then
// run per slot independently.
func Plan(blocks []Block, opts Options) (Layout, error) {
	var layout Layout
	seen := make(map[string]struct{}, len(blocks))
	row := 0
	for _, b := range blocks {
		if _, dup := seen[b.ID]; dup {
			return Layout{}, fmt.Errorf("block %s: %w", b.ID, ErrDuplicateBlock)
		}
		seen[b.ID] = struct{}{}

		names, err := faces.Resolve(b.ID, b.Faces)
		if err != nil {
			return Layout{}, fmt.Errorf("block %s: %w", b.ID, err)
		}
		suffixes, _ := faces.Suffixes(b.Faces)
		p := Placement{
			Block:    b,
			Row:      row,
			Textures: names,
			Faces:    make([]string, len(suffixes)),
			Mapping:  animation.Mapping{Required: 1},
		}
		for i, s := range suffixes {
			p.Faces[i] = faces.Label(s)
		}

		if b.Anim.Animated() {
			if b.Faces == faces.One {
				m, err := animation.Map(b.Anim, opts.Animation)
				if err != nil {
					return Layout{}, fmt.Errorf("block %s: %w", b.ID, err)
				}
				p.Animated = true
				p.Mapping = m
			} else {
				p.AnimationIgnored = true
			}
		}

		layout.Placements = append(layout.Placements, p)
		row += p.Span()
	}
	layout.TotalRows = row
	return layout, nil
}
