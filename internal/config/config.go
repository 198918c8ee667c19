// Package config loads the disview configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"disview/internal/arch"
	"disview/internal/decoder"
)

// Config is the file format. Command line flags override every field.
type Config struct {
	Arch     string   `yaml:"arch" json:"arch,omitempty" jsonschema:"title=Architecture,description=Architecture name or alias,example=x86,example=arm64"`
	Mode     string   `yaml:"mode" json:"mode,omitempty" jsonschema:"title=Mode,description=Primary mode of the architecture,example=64"`
	Features []string `yaml:"features" json:"features,omitempty" jsonschema:"title=Features,description=Feature flags such as big-endian or thumb extensions"`
	Window   int      `yaml:"window" json:"window,omitempty" jsonschema:"title=Window,description=Bytes decoded per iteration,minimum=16,default=2048"`
	Syntax   string   `yaml:"syntax" json:"syntax,omitempty" jsonschema:"title=Syntax,description=Assembly syntax,enum=gnu,enum=intel,enum=go"`
	SkipData bool     `yaml:"skip_data" json:"skip_data,omitempty" jsonschema:"title=Skip data,description=Emit .byte for undecodable bytes instead of stopping"`
	Base     string   `yaml:"base" json:"base,omitempty" jsonschema:"title=Base address,description=Virtual address of the first region byte,example=0x400000"`
	Backend  string   `yaml:"backend" json:"backend,omitempty" jsonschema:"title=Backend,description=Decoder backend to force,enum=xarch,enum=capstone"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Arch:   "x86",
		Mode:   "64",
		Window: 2048,
		Syntax: string(decoder.SyntaxGNU),
	}
}

// DefaultPath returns $DISVIEW_CONFIG, or disview/config.yaml under the user
// config directory.
func DefaultPath() string {
	if p := os.Getenv("DISVIEW_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "disview", "config.yaml")
}

// Load reads the configuration at path on top of the defaults. A missing file
// is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	// The default mode belongs to the default arch.
	var set struct {
		Arch *string `yaml:"arch"`
		Mode *string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &set); err == nil && set.Arch != nil && set.Mode == nil {
		cfg.Mode = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that has a constrained value.
func (c *Config) Validate() error {
	if _, err := c.ArchConfig(); err != nil {
		return err
	}
	if _, err := decoder.ParseSyntax(c.Syntax); err != nil {
		return err
	}
	if c.Window < 0 {
		return fmt.Errorf("window must not be negative, got %d", c.Window)
	}
	if _, err := c.BaseAddress(); err != nil {
		return err
	}
	return nil
}

// ArchConfig parses the architecture fields.
func (c *Config) ArchConfig() (arch.Config, error) {
	return arch.Parse(c.Arch, c.Mode, c.Features)
}

// BaseAddress parses Base, accepting decimal, 0x hex and 0o octal.
func (c *Config) BaseAddress() (uint64, error) {
	if c.Base == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(c.Base, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid base address %q: %w", c.Base, err)
	}
	return v, nil
}

// DecoderOptions converts the decoding fields to decoder options.
func (c *Config) DecoderOptions() ([]decoder.Option, error) {
	syntax, err := decoder.ParseSyntax(c.Syntax)
	if err != nil {
		return nil, err
	}
	opts := []decoder.Option{decoder.WithSyntax(syntax), decoder.WithSkipData(c.SkipData)}
	if c.Backend != "" {
		opts = append(opts, decoder.WithBackend(c.Backend))
	}
	return opts, nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
