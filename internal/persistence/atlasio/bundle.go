package atlasio

import (
	"bufio"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/textures"
)

const BundleVersion = 1

type BundleHeader struct {
	Version  int               `json:"version"`
	BuildID  string            `json:"build_id,omitempty"`
	TileSize int               `json:"tile_size"`
	Slots    int               `json:"slots"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Rows     []compose.RowInfo `json:"rows"`
}

// BundlePath is <dir>/<prefix>.bundle.zst.
func BundlePath(dir, prefix string) string {
	return filepath.Join(dir, prefix+".bundle.zst")
}

// WriteBundle stores all slots in one zstd stream: a JSON header line
// followed by each slot's raw RGBA pixels in slot order. The file is written
// under a temporary name and renamed once complete.
func WriteBundle(path, buildID string, set *compose.Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeBundle(tmp, buildID, set); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeBundle(path, buildID string, set *compose.Set) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	h := BundleHeader{
		Version:  BundleVersion,
		BuildID:  buildID,
		TileSize: textures.TileSize,
		Slots:    animation.MaxSlots,
		Width:    set.Width(),
		Height:   set.Height(),
		Rows:     set.Rows,
	}
	hb, err := json.Marshal(h)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	for slot, img := range set.Slots {
		if len(img.Pix) != h.Width*h.Height*4 {
			_ = enc.Close()
			return fmt.Errorf("slot %d: %d pixel bytes, want %d", slot, len(img.Pix), h.Width*h.Height*4)
		}
		if _, err := bw.Write(img.Pix); err != nil {
			_ = enc.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadBundleHeader reads only the header line.
func ReadBundleHeader(path string) (BundleHeader, error) {
	var h BundleHeader
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	return readHeader(bufio.NewReaderSize(dec, 64*1024))
}

func ReadBundle(path string) (BundleHeader, *compose.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return BundleHeader{}, nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return BundleHeader{}, nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	h, err := readHeader(br)
	if err != nil {
		return h, nil, err
	}
	set := &compose.Set{Rows: h.Rows}
	for slot := range set.Slots {
		img := image.NewRGBA(image.Rect(0, 0, h.Width, h.Height))
		if _, err := io.ReadFull(br, img.Pix); err != nil {
			return h, nil, fmt.Errorf("slot %d: %w", slot, err)
		}
		set.Slots[slot] = img
	}
	return h, set, nil
}

func readHeader(br *bufio.Reader) (BundleHeader, error) {
	var h BundleHeader
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("bundle header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("bundle header: %w", err)
	}
	if h.Version != BundleVersion {
		return h, fmt.Errorf("bundle version %d not supported", h.Version)
	}
	if h.TileSize != textures.TileSize || h.Slots != animation.MaxSlots {
		return h, fmt.Errorf("bundle geometry tile=%d slots=%d, want tile=%d slots=%d",
			h.TileSize, h.Slots, textures.TileSize, animation.MaxSlots)
	}
	if h.Width <= 0 || h.Height <= 0 {
		return h, fmt.Errorf("bundle size %dx%d", h.Width, h.Height)
	}
	return h, nil
}
