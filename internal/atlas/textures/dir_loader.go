package textures

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var sourceExts = []string{".png", ".bmp", ".tif", ".tiff"}

// DirLoader reads `<Dir>/<name>.<ext>` for the first supported extension that
// exists. Names must be plain file names inside Dir.
type DirLoader struct {
	Dir string
}

func (l DirLoader) Load(name string) (image.Image, error) {
	if name == "" || name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrBadName, name)
	}
	for _, ext := range sourceExts {
		path := filepath.Join(l.Dir, name+ext)
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		img, _, err := image.Decode(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: decode: %w", filepath.Base(path), err)
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: %s (looked in %s)", ErrNotFound, name, l.Dir)
}
