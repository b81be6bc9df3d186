package compose

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"runtime"
	"sync"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/textures"
)

var (
	ErrFrameOutOfRange = errors.New("animation frame out of range")
	ErrEmptyLayout     = errors.New("layout has no rows")
)

// RowInfo describes which block face occupies a row. It is the same in every slot.
type RowInfo struct {
	Row      int    `json:"row"`
	Block    string `json:"block"`
	Face     string `json:"face"`
	Texture  string `json:"texture"`
	Animated bool   `json:"animated,omitempty"`
}

// Set is the composed output: one atlas buffer per animation slot.
type Set struct {
	Rows  []RowInfo
	Slots [animation.MaxSlots]*image.RGBA
}

func (s *Set) Width() int  { return textures.TileSize }
func (s *Set) Height() int { return len(s.Rows) * textures.TileSize }

type Compositor struct {
	reg     *textures.Registry
	workers int
}

// New returns a compositor reading textures from reg. workers <= 0 uses GOMAXPROCS.
func New(reg *textures.Registry, workers int) *Compositor {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > animation.MaxSlots {
		workers = animation.MaxSlots
	}
	return &Compositor{reg: reg, workers: workers}
}

type rowJob struct {
	row    int
	img    *textures.Image
	frames *[animation.MaxSlots]int
}

// Compose renders layout into MaxSlots buffers. Every texture is resolved and
// checked before any pixels are written; the first failure aborts the run.
func (c *Compositor) Compose(layout Layout) (*Set, error) {
	if layout.TotalRows <= 0 {
		return nil, ErrEmptyLayout
	}

	jobs := make([]rowJob, 0, layout.TotalRows)
	rows := make([]RowInfo, 0, layout.TotalRows)
	for _, p := range layout.Placements {
		for i, name := range p.Textures {
			img, err := c.reg.Load(name)
			if err != nil {
				return nil, fmt.Errorf("block %s: %w", p.Block.ID, err)
			}
			job := rowJob{row: p.Row + i, img: img}
			if p.Animated {
				if img.Frames() < p.Mapping.Required {
					return nil, fmt.Errorf("block %s: %w: %s has %d frames, %s needs %d",
						p.Block.ID, ErrFrameOutOfRange, name, img.Frames(), p.Block.Anim, p.Mapping.Required)
				}
				m := p.Mapping
				job.frames = &m.Frames
			}
			jobs = append(jobs, job)
			rows = append(rows, RowInfo{
				Row:      job.row,
				Block:    p.Block.ID,
				Face:     p.Faces[i],
				Texture:  name,
				Animated: p.Animated,
			})
		}
	}
	if len(jobs) != layout.TotalRows {
		return nil, fmt.Errorf("layout covers %d rows, placements cover %d", layout.TotalRows, len(jobs))
	}

	set := &Set{Rows: rows}
	bounds := image.Rect(0, 0, textures.TileSize, layout.TotalRows*textures.TileSize)
	for slot := range set.Slots {
		set.Slots[slot] = image.NewRGBA(bounds)
	}

	workers := c.workers
	if workers <= 0 {
		workers = 1
	}
	slots := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range slots {
				paintSlot(set.Slots[slot], slot, jobs)
			}
		}()
	}
	for slot := range set.Slots {
		slots <- slot
	}
	close(slots)
	wg.Wait()

	return set, nil
}

func paintSlot(dst *image.RGBA, slot int, jobs []rowJob) {
	for _, j := range jobs {
		frame := 0
		if j.frames != nil {
			frame = j.frames[slot]
		}
		if frame == animation.Transparent {
			continue
		}
		src := j.img.Frame(frame)
		y := j.row * textures.TileSize
		r := image.Rect(0, y, textures.TileSize, y+textures.TileSize)
		draw.Draw(dst, r, j.img.Src, src.Min, draw.Src)
	}
}
