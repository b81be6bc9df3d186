package textures

import (
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"
)

// TileSize is the edge length in pixels of one texture tile.
const TileSize = 16

var (
	ErrNotFound = errors.New("texture not found")
	ErrBadSize  = errors.New("bad texture size")
	ErrBadName  = errors.New("invalid texture name")
)

// Loader decodes the source image for a texture name.
type Loader interface {
	Load(name string) (image.Image, error)
}

// Image is a decoded texture. It is never mutated after it enters the registry.
type Image struct {
	Name string
	Src  image.Image
}

// Frames is the number of tile-sized frames stacked vertically in the image.
func (img *Image) Frames() int {
	return img.Src.Bounds().Dy() / TileSize
}

// Frame returns the source rectangle of stacked frame i.
func (img *Image) Frame(i int) image.Rectangle {
	b := img.Src.Bounds()
	y := b.Min.Y + i*TileSize
	return image.Rect(b.Min.X, y, b.Min.X+TileSize, y+TileSize)
}

type Registry struct {
	loader Loader

	mu     sync.RWMutex
	images map[string]*Image
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader: loader,
		images: map[string]*Image{},
	}
}

// Load decodes name through the loader and stores it. Loading a name twice
// returns the stored image.
func (r *Registry) Load(name string) (*Image, error) {
	if img, err := r.Get(name); err == nil {
		return img, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	src, err := r.loader.Load(name)
	if err != nil {
		return nil, err
	}
	img, err := r.Add(name, src)
	if err != nil {
		return nil, err
	}
	return img, nil
}

// Add stores an already decoded image under name.
func (r *Registry) Add(name string, src image.Image) (*Image, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	b := src.Bounds()
	if b.Dx() != TileSize {
		return nil, fmt.Errorf("%w: %s is %d px wide, want %d", ErrBadSize, name, b.Dx(), TileSize)
	}
	if b.Dy() < TileSize || b.Dy()%TileSize != 0 {
		return nil, fmt.Errorf("%w: %s is %d px high, want a multiple of %d", ErrBadSize, name, b.Dy(), TileSize)
	}
	img := &Image{Name: name, Src: src}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.images[name]; ok {
		return prev, nil
	}
	r.images[name] = img
	return img, nil
}

func (r *Registry) Get(name string) (*Image, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return img, nil
}

// LoadAll loads every name and stops at the first failure.
func (r *Registry) LoadAll(names []string) error {
	for _, name := range names {
		if _, err := r.Load(name); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the loaded texture names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.images))
	for name := range r.images {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
