package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/build"
	"voxelatlas/internal/config"
	"voxelatlas/internal/persistence/atlasio"
	"voxelatlas/internal/persistence/indexdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "build":
			buildCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "lookup":
			lookupCmd(os.Args[2:])
			return
		}
	}
	buildCmd(os.Args[1:])
}

func buildCmd(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	cfgPath := fs.String("config", "", "atlas.yaml path (optional)")
	manifestPath := fs.String("manifest", "", "blocks manifest (overrides config)")
	texDir := fs.String("textures", "", "source texture directory (overrides config)")
	outDir := fs.String("out", "", "output directory (overrides config)")
	prefix := fs.String("prefix", "", "output file prefix (overrides config)")
	padding := fs.String("padding", "", "animation padding: clamp|trailing|transparent (overrides config)")
	frameLists := fs.String("frame_lists", "", "frame list animations: compose|reject (overrides config)")
	workers := fs.Int("workers", -1, "parallel workers, 0 = GOMAXPROCS (overrides config)")
	bundle := fs.Bool("bundle", false, "also write <prefix>.bundle.zst")
	logDir := fs.String("build_log", "", "directory for build-<id>.jsonl.zst (optional)")
	indexDB := fs.String("db", "", "sqlite build index path (optional)")
	_ = fs.Parse(args)

	logger := log.New(os.Stdout, "[atlas] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	override := func(dst *string, v string) {
		if strings.TrimSpace(v) != "" {
			*dst = v
		}
	}
	override(&cfg.Manifest, *manifestPath)
	override(&cfg.TexturesDir, *texDir)
	override(&cfg.OutDir, *outDir)
	override(&cfg.OutPrefix, *prefix)
	override(&cfg.Padding, *padding)
	override(&cfg.FrameLists, *frameLists)
	override(&cfg.BuildLogDir, *logDir)
	override(&cfg.IndexDB, *indexDB)
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if *bundle {
		cfg.Bundle = true
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	res, err := build.Run(context.Background(), cfg, logger)
	if err != nil {
		logger.Printf("build failed: %v", err)
		os.Exit(1)
	}
	logger.Printf("build %s ok: blocks=%d rows=%d textures=%d in %s",
		res.BuildID, res.Blocks, res.Rows, res.Textures, res.Elapsed.Round(time.Millisecond))
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	bundlePath := fs.String("bundle", "", "path to .bundle.zst")
	_ = fs.Parse(args)

	if *bundlePath == "" {
		fmt.Fprintln(os.Stderr, "missing -bundle")
		os.Exit(2)
	}
	h, err := atlasio.ReadBundleHeader(*bundlePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read bundle:", err)
		os.Exit(1)
	}
	fmt.Printf("bundle v%d build=%s tile=%d slots=%d size=%dx%d rows=%d\n",
		h.Version, h.BuildID, h.TileSize, h.Slots, h.Width, h.Height, len(h.Rows))
	printRows(h.Rows)
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	bundlePath := fs.String("bundle", "", "path to .bundle.zst")
	_ = fs.Parse(args)

	if *bundlePath == "" {
		fmt.Fprintln(os.Stderr, "missing -bundle")
		os.Exit(2)
	}
	h, set, err := atlasio.ReadBundle(*bundlePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read bundle:", err)
		os.Exit(1)
	}
	if err := compose.Verify(set); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	animated := 0
	for _, r := range h.Rows {
		if r.Animated {
			animated++
		}
	}
	fmt.Printf("verify ok: build=%s rows=%d animated=%d slots=%d\n", h.BuildID, len(h.Rows), animated, h.Slots)
}

func lookupCmd(args []string) {
	fs := flag.NewFlagSet("lookup", flag.ExitOnError)
	dbPath := fs.String("db", "", "sqlite build index path")
	block := fs.String("block", "", "block id")
	_ = fs.Parse(args)

	if *dbPath == "" || *block == "" {
		fmt.Fprintln(os.Stderr, "missing -db or -block")
		os.Exit(2)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer idx.Close()

	br, err := idx.LookupBlock(context.Background(), *block)
	if err != nil {
		if !errors.Is(err, indexdb.ErrNotIndexed) {
			fmt.Fprint(os.Stderr, "lookup: ")
		}
		fmt.Fprintln(os.Stderr, err)
		_ = idx.Close()
		os.Exit(1)
	}
	fmt.Printf("%s build=%s rows=%d..%d animation=%s\n",
		br.Block, br.BuildID, br.RowStart, br.RowStart+br.RowSpan-1, br.Animation)
	printRows(br.Rows)
}

func printRows(rows []compose.RowInfo) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tBLOCK\tFACE\tTEXTURE\tANIMATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%v\n", r.Row, r.Block, r.Face, r.Texture, r.Animated)
	}
	_ = tw.Flush()
}
