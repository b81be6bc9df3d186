package build

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/textures"
	"voxelatlas/internal/config"
	"voxelatlas/internal/manifest"
	"voxelatlas/internal/persistence/atlasio"
	"voxelatlas/internal/persistence/indexdb"
	persistlog "voxelatlas/internal/persistence/log"
)

type Result struct {
	BuildID  string
	Blocks   int
	Rows     int
	Textures int

	PNGs     []string
	PNGBytes int64
	Bundle   string
	BuildLog string

	Elapsed time.Duration
}

// Run performs one full build. Atlases, bundle, build log and index entry are
// all written or none are; a failed run leaves the previous outputs in place.
func Run(ctx context.Context, cfg config.Config, logger *log.Logger) (Result, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	start := time.Now()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	res := Result{BuildID: uuid.NewString()}

	m, err := manifest.Load(cfg.Manifest)
	if err != nil {
		return res, fmt.Errorf("load manifest: %w", err)
	}
	res.Blocks = len(m.Blocks)
	logger.Printf("manifest %s: %d blocks digest=%s", cfg.Manifest, len(m.Blocks), m.Digest[:12])

	layout, err := compose.Plan(m.Blocks, compose.Options{Animation: cfg.AnimationOptions()})
	if err != nil {
		return res, fmt.Errorf("plan: %w", err)
	}
	res.Rows = layout.TotalRows
	for _, p := range layout.Placements {
		if p.AnimationIgnored {
			logger.Printf("block %s: %d faces do not animate; %s ignored", p.Block.ID, p.Span(), p.Block.Anim)
		}
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	reg := textures.NewRegistry(textures.DirLoader{Dir: cfg.TexturesDir})
	if err := reg.LoadAll(layout.Textures()); err != nil {
		return res, fmt.Errorf("load textures: %w", err)
	}
	res.Textures = len(reg.Names())
	logger.Printf("textures %s: %d loaded", cfg.TexturesDir, res.Textures)

	set, err := compose.New(reg, cfg.Workers).Compose(layout)
	if err != nil {
		return res, fmt.Errorf("compose: %w", err)
	}
	if err := compose.Verify(set); err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Every output is staged first. Nothing replaces the previous build until
	// all of them have been written.
	staged, err := atlasio.StagePNGs(cfg.OutDir, cfg.OutPrefix, set, cfg.Workers)
	if err != nil {
		return res, fmt.Errorf("write atlases: %w", err)
	}
	committed, indexed := false, false
	defer func() {
		if committed {
			return
		}
		staged.Discard()
		if res.BuildLog != "" {
			_ = os.Remove(res.BuildLog)
		}
		if indexed {
			if err := forgetIndex(cfg.IndexDB, res.BuildID); err != nil {
				logger.Printf("index: drop build %s: %v", res.BuildID, err)
			}
		}
	}()

	if cfg.Bundle {
		bundle := atlasio.BundlePath(cfg.OutDir, cfg.OutPrefix)
		if err := staged.StageBundle(bundle, res.BuildID, set); err != nil {
			return res, fmt.Errorf("write bundle: %w", err)
		}
		res.Bundle = bundle
	}

	if cfg.BuildLogDir != "" {
		res.BuildLog, err = writeBuildLog(cfg.BuildLogDir, res.BuildID, layout)
		if err != nil {
			return res, fmt.Errorf("write build log: %w", err)
		}
	}

	if cfg.IndexDB != "" {
		if err := recordIndex(ctx, cfg.IndexDB, indexdb.BuildRecord{
			BuildID:        res.BuildID,
			ManifestDigest: m.Digest,
			Layout:         layout,
			Rows:           set.Rows,
		}); err != nil {
			return res, fmt.Errorf("index: %w", err)
		}
		indexed = true
	}

	if err := ctx.Err(); err != nil {
		return res, err
	}
	if err := staged.Commit(); err != nil {
		return res, fmt.Errorf("write atlases: %w", err)
	}
	committed = true

	res.PNGs = staged.Paths()
	for _, p := range res.PNGs {
		if st, err := os.Stat(p); err == nil {
			res.PNGBytes += st.Size()
		}
	}
	logger.Printf("wrote %d atlases %dx%d to %s (%s)",
		len(res.PNGs), set.Width(), set.Height(), cfg.OutDir, humanize.Bytes(uint64(res.PNGBytes)))
	if res.Bundle != "" {
		if st, err := os.Stat(res.Bundle); err == nil {
			logger.Printf("bundle %s (%s)", res.Bundle, humanize.Bytes(uint64(st.Size())))
		}
	}
	if indexed {
		logger.Printf("indexed build %s in %s", res.BuildID, cfg.IndexDB)
	}

	res.Elapsed = time.Since(start)
	return res, nil
}

func writeBuildLog(dir, buildID string, layout compose.Layout) (string, error) {
	l := persistlog.NewBuildLogger(dir, buildID)
	for _, p := range layout.Placements {
		if err := l.WritePlacement(persistlog.NewPlacementEntry(buildID, p)); err != nil {
			_ = l.Close()
			_ = os.Remove(l.Path())
			return "", err
		}
	}
	if err := l.Close(); err != nil {
		_ = os.Remove(l.Path())
		return "", err
	}
	return l.Path(), nil
}

func recordIndex(ctx context.Context, path string, rec indexdb.BuildRecord) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	if err := idx.RecordBuild(ctx, rec); err != nil {
		_ = idx.Close()
		return err
	}
	return idx.Close()
}

func forgetIndex(path, buildID string) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	return idx.DeleteBuild(context.Background(), buildID)
}
