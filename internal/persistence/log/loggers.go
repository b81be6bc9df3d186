package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"voxelatlas/internal/atlas/compose"
)

// JSONLZstdWriter appends one JSON document per line to a zstd-compressed file.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) *JSONLZstdWriter {
	return &JSONLZstdWriter{path: path}
}

func (w *JSONLZstdWriter) Path() string { return w.path }

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.w == nil {
		if err := w.openLocked(); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

func (w *JSONLZstdWriter) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		err1 = w.w.Flush()
	}
	if w.enc != nil {
		if err := w.enc.Close(); err1 == nil {
			err1 = err
		}
		w.enc = nil
	}
	if w.f != nil {
		if err := w.f.Close(); err1 == nil {
			err1 = err
		}
		w.f = nil
	}
	w.w = nil
	return err1
}

// PlacementEntry records where one block landed in the atlas set.
type PlacementEntry struct {
	BuildID  string   `json:"build_id"`
	Block    string   `json:"block"`
	Row      int      `json:"row"`
	Span     int      `json:"span"`
	Faces    []string `json:"faces"`
	Textures []string `json:"textures"`
	Anim     string   `json:"animation"`
	// SlotFrames is the source frame per slot; only set for animated blocks.
	SlotFrames       []int `json:"slot_frames,omitempty"`
	AnimationIgnored bool  `json:"animation_ignored,omitempty"`
}

func NewPlacementEntry(buildID string, p compose.Placement) PlacementEntry {
	e := PlacementEntry{
		BuildID:          buildID,
		Block:            p.Block.ID,
		Row:              p.Row,
		Span:             p.Span(),
		Faces:            p.Faces,
		Textures:         p.Textures,
		Anim:             p.Block.Anim.String(),
		AnimationIgnored: p.AnimationIgnored,
	}
	if p.Animated {
		e.SlotFrames = append([]int(nil), p.Mapping.Frames[:]...)
	}
	return e
}

// BuildLogger writes one JSONL entry per placement (compressed).
type BuildLogger struct{ w *JSONLZstdWriter }

// BuildLogPath is <dir>/build-<id>.jsonl.zst.
func BuildLogPath(dir, buildID string) string {
	return filepath.Join(dir, fmt.Sprintf("build-%s.jsonl.zst", buildID))
}

func NewBuildLogger(dir, buildID string) *BuildLogger {
	return &BuildLogger{w: NewJSONLZstdWriter(BuildLogPath(dir, buildID))}
}

func (l *BuildLogger) WritePlacement(v PlacementEntry) error { return l.w.Write(v) }
func (l *BuildLogger) Path() string                          { return l.w.Path() }
func (l *BuildLogger) Close() error                          { return l.w.Close() }

// ReadPlacements decodes a build log written by BuildLogger.
func ReadPlacements(path string) ([]PlacementEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	var out []PlacementEntry
	for sc.Scan() {
		var e PlacementEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
