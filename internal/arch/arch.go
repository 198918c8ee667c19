// Package arch models the closed set of instruction-set architectures the
// disassembler can be pointed at. Each architecture carries its own legal
// primary modes and independent feature flags; a Config is one architecture,
// exactly one primary mode and any subset of that architecture's features.
package arch

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

var (
	ErrUnknownArchitecture = errors.New("unknown architecture")
	ErrUnknownMode         = errors.New("unknown mode")
	ErrUnknownFeature      = errors.New("unknown feature")
)

// Architecture identifies an instruction-set family.
type Architecture int

const (
	X86 Architecture = iota
	ARM
	ARM64
	MIPS
	PPC
	SPARC
	SYSZ
	XCORE
	M68K
	TMS320C64X
	M680X
	EVM
	RISCV
	MOS65XX
	WASM
	BPF
	SH
	TRICORE
)

// Feature is a bitset of independent, architecture specific switches.
type Feature uint32

const (
	FeatureBigEndian Feature = 1 << iota
	FeatureMClass
	FeatureV8
	FeatureMicro
	FeatureQPX
	FeatureSPE
	FeatureBookE
	FeatureV9
	FeatureCompressed
	FeatureFPU
	FeatureDSP
)

var featureNames = []struct {
	f    Feature
	name string
}{
	{FeatureBigEndian, "big-endian"},
	{FeatureMClass, "mclass"},
	{FeatureV8, "v8"},
	{FeatureMicro, "micro"},
	{FeatureQPX, "qpx"},
	{FeatureSPE, "spe"},
	{FeatureBookE, "booke"},
	{FeatureV9, "v9"},
	{FeatureCompressed, "compressed"},
	{FeatureFPU, "fpu"},
	{FeatureDSP, "dsp"},
}

// Has reports whether every bit of x is set in f.
func (f Feature) Has(x Feature) bool { return f&x == x }

// Names returns the flag names set in f, in declaration order.
func (f Feature) Names() []string {
	var names []string
	for _, fn := range featureNames {
		if f.Has(fn.f) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Feature) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), ",")
}

// ParseFeature resolves a single feature flag name.
func ParseFeature(name string) (Feature, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "be", "bigendian", "big_endian":
		name = "big-endian"
	}
	for _, fn := range featureNames {
		if fn.name == name {
			return fn.f, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
}

// Mode is a primary mode selector, e.g. "64" or "thumb". The empty mode
// selects the architecture's default.
type Mode string

// Config is one architecture together with its primary mode and features.
type Config struct {
	Arch     Architecture
	Mode     Mode
	Features Feature
}

func (c Config) String() string {
	s := c.Arch.String()
	if c.Mode != "" {
		s += ":" + string(c.Mode)
	}
	if c.Features != 0 {
		s += "+" + strings.ReplaceAll(c.Features.String(), ",", "+")
	}
	return s
}

// Normalize fills in the default mode.
func (c Config) Normalize() Config {
	if c.Mode == "" {
		if v, ok := Lookup(c.Arch); ok && len(v.Modes) > 0 {
			c.Mode = v.Modes[0].Name
		}
	}
	return c
}

// Validate checks the mode and features against the variant's legal set.
func (c Config) Validate() error {
	v, ok := Lookup(c.Arch)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownArchitecture, int(c.Arch))
	}
	c = c.Normalize()
	if len(v.Modes) == 0 {
		if c.Mode != "" {
			return fmt.Errorf("%w: %s has no modes, got %q", ErrUnknownMode, v.Name, c.Mode)
		}
	} else if v.modeIndex(c.Mode) < 0 {
		return fmt.Errorf("%w: %q for %s", ErrUnknownMode, c.Mode, v.Name)
	}
	if extra := c.Features &^ v.Features; extra != 0 {
		return fmt.Errorf("%w: %s not available for %s", ErrUnknownFeature, extra, v.Name)
	}
	return nil
}

// Bits packs the primary mode index (low byte) and the feature set into a
// single value. It is stable for a given Config and usable as a map key.
func (c Config) Bits() uint64 {
	c = c.Normalize()
	idx := 0
	if v, ok := Lookup(c.Arch); ok {
		if i := v.modeIndex(c.Mode); i > 0 {
			idx = i
		}
	}
	return uint64(c.Arch)<<48 | uint64(c.Features)<<8 | uint64(idx)&0xff
}

// FeatureCount returns the number of feature flags set.
func (c Config) FeatureCount() int { return bits.OnesCount32(uint32(c.Features)) }

// Parse builds a Config from textual architecture, mode and feature names.
func Parse(archName, mode string, features []string) (Config, error) {
	a, err := ParseArchitecture(archName)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{Arch: a, Mode: Mode(strings.ToLower(strings.TrimSpace(mode)))}
	for _, name := range features {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			f, err := ParseFeature(part)
			if err != nil {
				return Config{}, err
			}
			cfg.Features |= f
		}
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseSpec parses the compact "arch[:mode][+feature...]" form produced by
// Config.String.
func ParseSpec(spec string) (Config, error) {
	parts := strings.Split(spec, "+")
	archMode := parts[0]
	name, mode, _ := strings.Cut(archMode, ":")
	return Parse(name, mode, parts[1:])
}
