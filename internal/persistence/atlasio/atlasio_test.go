package atlasio

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/faces"
	"voxelatlas/internal/atlas/textures"
)

func composedSet(t *testing.T) *compose.Set {
	t.Helper()
	reg := textures.NewRegistry(nil)
	stone := image.NewRGBA(image.Rect(0, 0, textures.TileSize, textures.TileSize))
	water := image.NewRGBA(image.Rect(0, 0, textures.TileSize, 2*textures.TileSize))
	for y := 0; y < textures.TileSize; y++ {
		for x := 0; x < textures.TileSize; x++ {
			stone.SetRGBA(x, y, color.RGBA{R: 120, G: 120, B: 120, A: 255})
			water.SetRGBA(x, y, color.RGBA{B: 200, A: 255})
			water.SetRGBA(x, y+textures.TileSize, color.RGBA{B: 250, A: 255})
		}
	}
	if _, err := reg.Add("stone", stone); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := reg.Add("water", water); err != nil {
		t.Fatalf("Add: %v", err)
	}
	layout, err := compose.Plan([]compose.Block{
		{ID: "stone", Faces: faces.One},
		{ID: "water", Faces: faces.One, Anim: animation.FixedCount(2)},
	}, compose.Options{})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	set, err := compose.New(reg, 2).Compose(layout)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	return set
}

func TestWritePNGs(t *testing.T) {
	set := composedSet(t)
	dir := filepath.Join(t.TempDir(), "out")
	paths, err := WritePNGs(dir, "atlas", set, 4)
	if err != nil {
		t.Fatalf("WritePNGs: %v", err)
	}
	if len(paths) != animation.MaxSlots {
		t.Fatalf("paths=%d want %d", len(paths), animation.MaxSlots)
	}
	if filepath.Base(paths[7]) != "atlas_07.png" {
		t.Fatalf("slot 7 path %s", paths[7])
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(ents) != animation.MaxSlots {
		t.Fatalf("dir has %d entries, want %d (no temp files)", len(ents), animation.MaxSlots)
	}

	img, err := ReadPNG(paths[1])
	if err != nil {
		t.Fatalf("ReadPNG: %v", err)
	}
	if img.Bounds().Dy() != 2*textures.TileSize {
		t.Fatalf("height %d", img.Bounds().Dy())
	}
	if got := img.RGBAAt(1, textures.TileSize+1); got != (color.RGBA{B: 250, A: 255}) {
		t.Fatalf("slot 1 water pixel %v", got)
	}
}

func TestBundle_RoundTrip(t *testing.T) {
	set := composedSet(t)
	path := BundlePath(t.TempDir(), "atlas")
	if err := WriteBundle(path, "build-1", set); err != nil {
		t.Fatalf("WriteBundle: %v", err)
	}

	h, err := ReadBundleHeader(path)
	if err != nil {
		t.Fatalf("ReadBundleHeader: %v", err)
	}
	if h.BuildID != "build-1" || h.Width != textures.TileSize || h.Height != 2*textures.TileSize || len(h.Rows) != 2 {
		t.Fatalf("header=%+v", h)
	}

	_, got, err := ReadBundle(path)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	for slot := range set.Slots {
		if string(got.Slots[slot].Pix) != string(set.Slots[slot].Pix) {
			t.Fatalf("slot %d pixels differ after round trip", slot)
		}
	}
	if err := compose.Verify(got); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestWriteBundle_RejectsMismatchedSlot(t *testing.T) {
	set := composedSet(t)
	set.Slots[31] = image.NewRGBA(image.Rect(0, 0, 1, 1))
	path := BundlePath(t.TempDir(), "atlas")
	if err := WriteBundle(path, "", set); err == nil {
		t.Fatalf("expected size mismatch error")
	}
}

func TestWritePNGs_FailedSlotKeepsPreviousSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	old := composedSet(t)
	if _, err := WritePNGs(dir, "atlas", old, 4); err != nil {
		t.Fatalf("first WritePNGs: %v", err)
	}
	before := make(map[string][]byte)
	for slot := 0; slot < animation.MaxSlots; slot++ {
		b, err := os.ReadFile(SlotPath(dir, "atlas", slot))
		if err != nil {
			t.Fatalf("read slot %d: %v", slot, err)
		}
		before[SlotPath(dir, "atlas", slot)] = b
	}

	// A directory in place of slot 5's temporary file makes that slot fail.
	blocker := SlotPath(dir, "atlas", 5) + ".tmp"
	if err := os.Mkdir(blocker, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	next := composedSet(t)
	for _, img := range next.Slots {
		for i := range img.Pix {
			img.Pix[i] = 7
		}
	}
	if _, err := WritePNGs(dir, "atlas", next, 4); err == nil {
		t.Fatalf("expected slot 5 to fail")
	}

	for path, want := range before {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", filepath.Base(path), err)
		}
		if string(got) != string(want) {
			t.Fatalf("%s was replaced by a failed write", filepath.Base(path))
		}
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range ents {
		if filepath.Ext(e.Name()) == ".tmp" && e.Name() != filepath.Base(blocker) {
			t.Fatalf("temporary file %s left behind", e.Name())
		}
	}
}

func TestWritePNGs_FailedSlotWritesNothing(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(SlotPath(dir, "atlas", 5)+".tmp", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := WritePNGs(dir, "atlas", composedSet(t), 4); err == nil {
		t.Fatalf("expected slot 5 to fail")
	}
	for slot := 0; slot < animation.MaxSlots; slot++ {
		if _, err := os.Stat(SlotPath(dir, "atlas", slot)); !os.IsNotExist(err) {
			t.Fatalf("slot %d file exists after failed write: %v", slot, err)
		}
	}
}

func TestStaged_DiscardLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	set := composedSet(t)
	s, err := StagePNGs(dir, "atlas", set, 0)
	if err != nil {
		t.Fatalf("StagePNGs: %v", err)
	}
	if err := s.StageBundle(BundlePath(dir, "atlas"), "b1", set); err != nil {
		t.Fatalf("StageBundle: %v", err)
	}
	s.Discard()
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(ents) != 0 {
		t.Fatalf("dir has %d entries after Discard, first %s", len(ents), ents[0].Name())
	}
}
