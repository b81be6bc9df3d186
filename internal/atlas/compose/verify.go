package compose

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"voxelatlas/internal/atlas/textures"
)

var ErrInconsistent = errors.New("inconsistent atlas set")

// Verify checks that every slot has the same geometry and that static rows
// carry identical pixels in every slot.
func Verify(set *Set) error {
	if set == nil {
		return fmt.Errorf("%w: nil set", ErrInconsistent)
	}
	for i, r := range set.Rows {
		if r.Row != i {
			return fmt.Errorf("%w: row table entry %d claims row %d", ErrInconsistent, i, r.Row)
		}
	}
	want := set.Slots[0]
	if want == nil {
		return fmt.Errorf("%w: slot 0 missing", ErrInconsistent)
	}
	if want.Bounds().Dx() != set.Width() || want.Bounds().Dy() != set.Height() {
		return fmt.Errorf("%w: slot 0 is %dx%d, want %dx%d",
			ErrInconsistent, want.Bounds().Dx(), want.Bounds().Dy(), set.Width(), set.Height())
	}
	for slot, img := range set.Slots {
		if img == nil {
			return fmt.Errorf("%w: slot %d missing", ErrInconsistent, slot)
		}
		if img.Bounds() != want.Bounds() {
			return fmt.Errorf("%w: slot %d bounds %v, slot 0 bounds %v", ErrInconsistent, slot, img.Bounds(), want.Bounds())
		}
	}
	for _, r := range set.Rows {
		if r.Animated {
			continue
		}
		for slot := 1; slot < len(set.Slots); slot++ {
			if !sameRow(want, set.Slots[slot], r.Row) {
				return fmt.Errorf("%w: static row %d (%s) differs between slot 0 and slot %d",
					ErrInconsistent, r.Row, r.Texture, slot)
			}
		}
	}
	return nil
}

func sameRow(a, b *image.RGBA, row int) bool {
	n := textures.TileSize * 4
	y0 := row * textures.TileSize
	for y := y0; y < y0+textures.TileSize; y++ {
		oa, ob := a.PixOffset(0, y), b.PixOffset(0, y)
		if !bytes.Equal(a.Pix[oa:oa+n], b.Pix[ob:ob+n]) {
			return false
		}
	}
	return true
}
