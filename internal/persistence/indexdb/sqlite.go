package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/textures"
)

var ErrNotIndexed = errors.New("not indexed")

// SQLiteIndex records where every block landed in each build so tooling can
// look up atlas rows without decoding the atlases.
type SQLiteIndex struct {
	db   *sql.DB
	once sync.Once
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteIndex{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS builds (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			build_id TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			manifest_digest TEXT NOT NULL,
			tile_size INTEGER NOT NULL,
			slots INTEGER NOT NULL,
			total_rows INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS blocks (
			build_id TEXT NOT NULL REFERENCES builds(build_id) ON DELETE CASCADE,
			block TEXT NOT NULL,
			row_start INTEGER NOT NULL,
			row_span INTEGER NOT NULL,
			animation TEXT NOT NULL,
			PRIMARY KEY (build_id, block)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_block ON blocks(block);`,
		`CREATE TABLE IF NOT EXISTS atlas_rows (
			build_id TEXT NOT NULL REFERENCES builds(build_id) ON DELETE CASCADE,
			row_index INTEGER NOT NULL,
			block TEXT NOT NULL,
			face TEXT NOT NULL,
			texture TEXT NOT NULL,
			animated INTEGER NOT NULL,
			PRIMARY KEY (build_id, row_index)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		err = s.db.Close()
	})
	return err
}

type BuildRecord struct {
	BuildID        string
	ManifestDigest string
	Layout         compose.Layout
	Rows           []compose.RowInfo
}

// RecordBuild stores one build in a single transaction.
func (s *SQLiteIndex) RecordBuild(ctx context.Context, rec BuildRecord) error {
	if rec.BuildID == "" {
		return fmt.Errorf("empty build id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO builds(build_id,created_at,manifest_digest,tile_size,slots,total_rows) VALUES(?,?,?,?,?,?)`,
		rec.BuildID,
		time.Now().UTC().Format(time.RFC3339Nano),
		rec.ManifestDigest,
		textures.TileSize,
		animation.MaxSlots,
		rec.Layout.TotalRows,
	); err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	insertBlock, err := tx.PrepareContext(ctx, `INSERT INTO blocks(build_id,block,row_start,row_span,animation) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insertBlock.Close()
	for _, p := range rec.Layout.Placements {
		anim := "static"
		if p.Animated {
			anim = p.Block.Anim.String()
		}
		if _, err := insertBlock.ExecContext(ctx, rec.BuildID, p.Block.ID, p.Row, p.Span(), anim); err != nil {
			return fmt.Errorf("insert block %s: %w", p.Block.ID, err)
		}
	}

	insertRow, err := tx.PrepareContext(ctx, `INSERT INTO atlas_rows(build_id,row_index,block,face,texture,animated) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer insertRow.Close()
	for _, r := range rec.Rows {
		animated := 0
		if r.Animated {
			animated = 1
		}
		if _, err := insertRow.ExecContext(ctx, rec.BuildID, r.Row, r.Block, r.Face, r.Texture, animated); err != nil {
			return fmt.Errorf("insert row %d: %w", r.Row, err)
		}
	}
	return tx.Commit()
}

// DeleteBuild removes a build and its block and row records.
func (s *SQLiteIndex) DeleteBuild(ctx context.Context, buildID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM builds WHERE build_id = ?`, buildID)
	return err
}

type BuildInfo struct {
	BuildID        string
	CreatedAt      string
	ManifestDigest string
	TileSize       int
	Slots          int
	TotalRows      int
}

func (s *SQLiteIndex) LatestBuild(ctx context.Context) (BuildInfo, error) {
	var b BuildInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT build_id,created_at,manifest_digest,tile_size,slots,total_rows FROM builds ORDER BY seq DESC LIMIT 1`,
	).Scan(&b.BuildID, &b.CreatedAt, &b.ManifestDigest, &b.TileSize, &b.Slots, &b.TotalRows)
	if errors.Is(err, sql.ErrNoRows) {
		return b, fmt.Errorf("%w: no builds", ErrNotIndexed)
	}
	return b, err
}

type BlockRows struct {
	BuildID   string
	Block     string
	RowStart  int
	RowSpan   int
	Animation string
	Rows      []compose.RowInfo
}

// LookupBlock returns the block's rows in the latest build that contains it.
func (s *SQLiteIndex) LookupBlock(ctx context.Context, block string) (BlockRows, error) {
	out := BlockRows{Block: block}
	err := s.db.QueryRowContext(ctx, `
		SELECT b.build_id, b.row_start, b.row_span, b.animation
		FROM blocks b JOIN builds d ON d.build_id = b.build_id
		WHERE b.block = ?
		ORDER BY d.seq DESC LIMIT 1`, block,
	).Scan(&out.BuildID, &out.RowStart, &out.RowSpan, &out.Animation)
	if errors.Is(err, sql.ErrNoRows) {
		return out, fmt.Errorf("%w: block %s", ErrNotIndexed, block)
	}
	if err != nil {
		return out, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index,block,face,texture,animated FROM atlas_rows WHERE build_id = ? AND block = ? ORDER BY row_index`,
		out.BuildID, block)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r        compose.RowInfo
			animated int
		)
		if err := rows.Scan(&r.Row, &r.Block, &r.Face, &r.Texture, &animated); err != nil {
			return out, err
		}
		r.Animated = animated != 0
		out.Rows = append(out.Rows, r)
	}
	return out, rows.Err()
}
