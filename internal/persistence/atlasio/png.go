package atlasio

import (
	"bufio"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
)

// SlotPath is the file name a slot's atlas is written to: <prefix>_<slot>.png.
func SlotPath(dir, prefix string, slot int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%02d.png", prefix, slot))
}

// Staged holds encoded outputs under temporary names. Nothing is visible at
// the final paths until Commit; Discard removes every temporary file.
type Staged struct {
	mu     sync.Mutex
	pngs   []string
	finals []string
	tmps   []string
}

// Paths returns the final PNG paths in slot order.
func (s *Staged) Paths() []string {
	return append([]string(nil), s.pngs...)
}

func (s *Staged) add(tmp, final string) {
	s.mu.Lock()
	s.tmps = append(s.tmps, tmp)
	s.finals = append(s.finals, final)
	s.mu.Unlock()
}

// StagePNGs encodes every slot of set in parallel to <path>.tmp. If any slot
// fails, the temporary files already written are removed.
func StagePNGs(dir, prefix string, set *compose.Set, workers int) (*Staged, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if workers <= 0 || workers > animation.MaxSlots {
		workers = animation.MaxSlots
	}

	s := &Staged{pngs: make([]string, animation.MaxSlots)}
	tmps := make([]string, animation.MaxSlots)
	errs := make([]error, animation.MaxSlots)
	slots := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range slots {
				s.pngs[slot] = SlotPath(dir, prefix, slot)
				tmp := s.pngs[slot] + ".tmp"
				if errs[slot] = writePNG(tmp, set.Slots[slot]); errs[slot] == nil {
					tmps[slot] = tmp
				}
			}
		}()
	}
	for slot := 0; slot < animation.MaxSlots; slot++ {
		slots <- slot
	}
	close(slots)
	wg.Wait()

	for slot, tmp := range tmps {
		if tmp != "" {
			s.add(tmp, s.pngs[slot])
		}
	}
	for slot, err := range errs {
		if err != nil {
			s.Discard()
			return nil, fmt.Errorf("slot %d: %w", slot, err)
		}
	}
	return s, nil
}

// StageBundle writes the bundle for set next to path and adds it to s.
func (s *Staged) StageBundle(path, buildID string, set *compose.Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeBundle(tmp, buildID, set); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.add(tmp, path)
	return nil
}

// Commit renames every staged file into place. If a rename fails, every final
// path is removed as well so no mix of old and new outputs is left behind.
func (s *Staged) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, tmp := range s.tmps {
		if err := os.Rename(tmp, s.finals[i]); err != nil {
			name := filepath.Base(s.finals[i])
			for _, f := range s.finals {
				_ = os.Remove(f)
			}
			for _, t := range s.tmps[i:] {
				_ = os.Remove(t)
			}
			s.tmps, s.finals = nil, nil
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	s.tmps, s.finals = nil, nil
	return nil
}

// Discard removes every staged temporary file.
func (s *Staged) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tmps {
		_ = os.Remove(t)
	}
	s.tmps, s.finals = nil, nil
}

// WritePNGs encodes every slot of set and returns the written paths in slot
// order. Either all slots replace their files or none do.
func WritePNGs(dir, prefix string, set *compose.Set, workers int) ([]string, error) {
	s, err := StagePNGs(dir, prefix, set, workers)
	if err != nil {
		return nil, err
	}
	if err := s.Commit(); err != nil {
		return nil, err
	}
	return s.Paths(), nil
}

func writePNG(tmp string, img image.Image) error {
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if err := png.Encode(bw, img); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// ReadPNG decodes one slot file back into RGBA.
func ReadPNG(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := png.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			rgba.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return rgba, nil
}
