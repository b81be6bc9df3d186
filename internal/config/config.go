package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"voxelatlas/internal/atlas/animation"
)

// Config drives one atlas build. Tile size and slot count are fixed and not
// part of it.
type Config struct {
	Manifest    string `yaml:"manifest"`
	TexturesDir string `yaml:"textures_dir"`
	OutDir      string `yaml:"out_dir"`
	OutPrefix   string `yaml:"out_prefix"`

	Padding    string `yaml:"padding"`     // clamp | trailing | transparent
	FrameLists string `yaml:"frame_lists"` // compose | reject
	Workers    int    `yaml:"workers"`     // 0 = GOMAXPROCS

	Bundle      bool   `yaml:"bundle"`
	BuildLogDir string `yaml:"build_log_dir"`
	IndexDB     string `yaml:"index_db"`
}

func Defaults() Config {
	return Config{
		Manifest:    "res/blocks.yml",
		TexturesDir: "res/textures/block",
		OutDir:      "res/textures",
		OutPrefix:   "atlas",
		Padding:     string(animation.PadClamp),
		FrameLists:  string(animation.ListCompose),
	}
}

// Load reads a YAML config on top of the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	d := Defaults()
	c.Manifest = strings.TrimSpace(c.Manifest)
	c.TexturesDir = strings.TrimSpace(c.TexturesDir)
	c.OutDir = strings.TrimSpace(c.OutDir)
	c.OutPrefix = strings.TrimSpace(c.OutPrefix)
	if c.Manifest == "" {
		c.Manifest = d.Manifest
	}
	if c.TexturesDir == "" {
		c.TexturesDir = d.TexturesDir
	}
	if c.OutDir == "" {
		c.OutDir = d.OutDir
	}
	if c.OutPrefix == "" {
		c.OutPrefix = d.OutPrefix
	}
	c.Padding = strings.ToLower(strings.TrimSpace(c.Padding))
	if c.Padding == "" {
		c.Padding = d.Padding
	}
	c.FrameLists = strings.ToLower(strings.TrimSpace(c.FrameLists))
	if c.FrameLists == "" {
		c.FrameLists = d.FrameLists
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
}

func (c Config) Validate() error {
	if _, err := animation.ParsePadPolicy(c.Padding); err != nil {
		return err
	}
	if _, err := animation.ParseListPolicy(c.FrameLists); err != nil {
		return err
	}
	if strings.ContainsAny(c.OutPrefix, `/\`) {
		return fmt.Errorf("out_prefix must not contain path separators: %q", c.OutPrefix)
	}
	return nil
}

// AnimationOptions converts the policy strings. Call Validate first.
func (c Config) AnimationOptions() animation.Options {
	pad, _ := animation.ParsePadPolicy(c.Padding)
	lists, _ := animation.ParseListPolicy(c.FrameLists)
	return animation.Options{Padding: pad, Lists: lists}
}
