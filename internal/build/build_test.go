package build

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/textures"
	"voxelatlas/internal/config"
	"voxelatlas/internal/persistence/atlasio"
	"voxelatlas/internal/persistence/indexdb"
	persistlog "voxelatlas/internal/persistence/log"
)

func writeTexture(t *testing.T, dir, name string, shades ...uint8) {
	t.Helper()
	ts := textures.TileSize
	img := image.NewNRGBA(image.Rect(0, 0, ts, ts*len(shades)))
	for i, v := range shades {
		for y := i * ts; y < (i+1)*ts; y++ {
			for x := 0; x < ts; x++ {
				img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
			}
		}
	}
	f, err := os.Create(filepath.Join(dir, name+".png"))
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
}

func fixture(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	texDir := filepath.Join(root, "textures", "block")
	if err := os.MkdirAll(texDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifestPath := filepath.Join(root, "blocks.yml")
	doc := "stone:\n  unique_faces: 1\ngrass:\n  unique_faces: 3\nwater:\n  unique_faces: 1\n  frames: 3\n"
	if err := os.WriteFile(manifestPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	writeTexture(t, texDir, "stone", 10)
	writeTexture(t, texDir, "grass_top", 20)
	writeTexture(t, texDir, "grass_bottom", 30)
	writeTexture(t, texDir, "grass_side", 40)
	writeTexture(t, texDir, "water", 100, 110, 120)

	cfg := config.Defaults()
	cfg.Manifest = manifestPath
	cfg.TexturesDir = texDir
	cfg.OutDir = filepath.Join(root, "out")
	cfg.Workers = 3
	return cfg
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := fixture(t)
	cfg.Bundle = true
	cfg.BuildLogDir = filepath.Join(cfg.OutDir, "logs")
	cfg.IndexDB = filepath.Join(cfg.OutDir, "atlas.db")

	res, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Blocks != 3 || res.Rows != 5 || res.Textures != 5 {
		t.Fatalf("result=%+v", res)
	}
	if len(res.PNGs) != animation.MaxSlots || res.PNGBytes <= 0 {
		t.Fatalf("pngs=%d bytes=%d", len(res.PNGs), res.PNGBytes)
	}

	cycle := []uint8{100, 110, 120, 120}
	for slot, p := range res.PNGs {
		img, err := atlasio.ReadPNG(p)
		if err != nil {
			t.Fatalf("ReadPNG: %v", err)
		}
		if img.Bounds().Dy() != 5*textures.TileSize {
			t.Fatalf("slot %d height %d", slot, img.Bounds().Dy())
		}
		for row, v := range []uint8{10, 20, 30, 40, cycle[slot%4]} {
			got := img.RGBAAt(8, row*textures.TileSize+8)
			if got.R != v || got.A != 255 {
				t.Fatalf("slot %d row %d = %v want shade %d", slot, row, got, v)
			}
		}
	}

	_, set, err := atlasio.ReadBundle(res.Bundle)
	if err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	if err := compose.Verify(set); err != nil {
		t.Fatalf("Verify bundle: %v", err)
	}

	entries, err := persistlog.ReadPlacements(res.BuildLog)
	if err != nil {
		t.Fatalf("ReadPlacements: %v", err)
	}
	if len(entries) != 3 || entries[2].Block != "water" || entries[2].Row != 4 {
		t.Fatalf("build log=%+v", entries)
	}

	idx, err := indexdb.OpenSQLite(cfg.IndexDB)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer idx.Close()
	water, err := idx.LookupBlock(context.Background(), "water")
	if err != nil {
		t.Fatalf("LookupBlock: %v", err)
	}
	if water.BuildID != res.BuildID || water.RowStart != 4 {
		t.Fatalf("water=%+v", water)
	}
}

func TestRun_MissingTextureWritesNothing(t *testing.T) {
	cfg := fixture(t)
	if err := os.Remove(filepath.Join(cfg.TexturesDir, "grass_side.png")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err := Run(context.Background(), cfg, nil)
	if !errors.Is(err, textures.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := os.Stat(cfg.OutDir); !os.IsNotExist(err) {
		t.Fatalf("output dir should not exist after a failed build: %v", err)
	}
}

func TestRun_TooManyFrames(t *testing.T) {
	cfg := fixture(t)
	doc := "water:\n  unique_faces: 1\n  frames: 33\n"
	if err := os.WriteFile(cfg.Manifest, []byte(doc), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, err := Run(context.Background(), cfg, nil); !errors.Is(err, animation.ErrTooManyFrames) {
		t.Fatalf("want ErrTooManyFrames, got %v", err)
	}
}

func TestRun_Canceled(t *testing.T) {
	cfg := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Run(ctx, cfg, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func slotFilesLeft(t *testing.T, cfg config.Config) int {
	t.Helper()
	n := 0
	for slot := 0; slot < animation.MaxSlots; slot++ {
		if _, err := os.Stat(atlasio.SlotPath(cfg.OutDir, cfg.OutPrefix, slot)); err == nil {
			n++
		}
	}
	return n
}

func TestRun_SlotWriteFailureWritesNothing(t *testing.T) {
	cfg := fixture(t)
	cfg.Bundle = true
	cfg.BuildLogDir = filepath.Join(cfg.OutDir, "logs")
	if err := os.MkdirAll(atlasio.SlotPath(cfg.OutDir, cfg.OutPrefix, 5)+".tmp", 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected write failure")
	}
	if n := slotFilesLeft(t, cfg); n != 0 {
		t.Fatalf("%d slot files left after failed write", n)
	}
	if _, err := os.Stat(atlasio.BundlePath(cfg.OutDir, cfg.OutPrefix)); !os.IsNotExist(err) {
		t.Fatalf("bundle exists after failed write: %v", err)
	}
}

func TestRun_IndexFailureKeepsPreviousBuild(t *testing.T) {
	cfg := fixture(t)
	cfg.Bundle = true
	cfg.BuildLogDir = filepath.Join(cfg.OutDir, "logs")
	first, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstBundle, err := atlasio.ReadBundleHeader(first.Bundle)
	if err != nil {
		t.Fatalf("ReadBundleHeader: %v", err)
	}

	// The index path sits under a regular file, so opening it fails after the
	// atlases and bundle have been staged.
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.IndexDB = filepath.Join(blocker, "atlas.db")
	if _, err := Run(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected index failure")
	}

	if n := slotFilesLeft(t, cfg); n != animation.MaxSlots {
		t.Fatalf("previous build has %d slot files, want %d", n, animation.MaxSlots)
	}
	h, err := atlasio.ReadBundleHeader(first.Bundle)
	if err != nil {
		t.Fatalf("ReadBundleHeader: %v", err)
	}
	if h.BuildID != firstBundle.BuildID {
		t.Fatalf("bundle build=%s want %s", h.BuildID, firstBundle.BuildID)
	}
	logs, err := os.ReadDir(cfg.BuildLogDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("build logs=%d want 1", len(logs))
	}
	ents, err := os.ReadDir(cfg.OutDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range ents {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temporary file %s left behind", e.Name())
		}
	}
}
