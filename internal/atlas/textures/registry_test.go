package textures

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

type mapLoader map[string]image.Image

func (m mapLoader) Load(name string) (image.Image, error) {
	img, ok := m[name]
	if !ok {
		return nil, ErrNotFound
	}
	return img, nil
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestRegistry_LoadAndGet(t *testing.T) {
	r := NewRegistry(mapLoader{
		"stone": solid(TileSize, TileSize, color.NRGBA{R: 128, A: 255}),
		"water": solid(TileSize, 3*TileSize, color.NRGBA{B: 255, A: 255}),
	})

	if _, err := r.Get("stone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get before Load: want ErrNotFound, got %v", err)
	}
	if err := r.LoadAll([]string{"stone", "water"}); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	water, err := r.Get("water")
	if err != nil {
		t.Fatalf("Get water: %v", err)
	}
	if water.Frames() != 3 {
		t.Fatalf("frames=%d want 3", water.Frames())
	}
	if got := water.Frame(2); got != image.Rect(0, 32, 16, 48) {
		t.Fatalf("Frame(2)=%v", got)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "stone" || names[1] != "water" {
		t.Fatalf("names=%v", names)
	}
}

func TestRegistry_MissingTexture(t *testing.T) {
	r := NewRegistry(mapLoader{})
	_, err := r.Load("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if err := r.LoadAll([]string{"nope"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadAll: want ErrNotFound, got %v", err)
	}
}

func TestRegistry_RejectsBadSizes(t *testing.T) {
	cases := []struct {
		name string
		w, h int
	}{
		{name: "too wide", w: 32, h: 16},
		{name: "short", w: 16, h: 8},
		{name: "ragged", w: 16, h: 20},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry(nil)
			_, err := r.Add("x", solid(tc.w, tc.h, color.NRGBA{A: 255}))
			if !errors.Is(err, ErrBadSize) {
				t.Fatalf("want ErrBadSize, got %v", err)
			}
		})
	}
}

func TestDirLoader_ReadsPNG(t *testing.T) {
	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, "dirt.png"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, solid(TileSize, TileSize, color.NRGBA{R: 90, G: 60, B: 30, A: 255})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()

	r := NewRegistry(DirLoader{Dir: dir})
	img, err := r.Load("dirt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Frames() != 1 {
		t.Fatalf("frames=%d want 1", img.Frames())
	}
	if _, err := r.Load("grass_top"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file: want ErrNotFound, got %v", err)
	}
}

func TestDirLoader_RejectsNamesOutsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "block")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(filepath.Join(root, "secret.png"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := png.Encode(f, solid(TileSize, TileSize, color.NRGBA{A: 255})); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_ = f.Close()

	l := DirLoader{Dir: dir}
	for _, name := range []string{"../secret", "..", "a/b", `a\b`, "/etc/passwd", ""} {
		if _, err := l.Load(name); !errors.Is(err, ErrBadName) {
			t.Fatalf("%q: want ErrBadName, got %v", name, err)
		}
	}
}
