//go:build capstone

package decoder

import (
	"fmt"

	gs "github.com/knightsc/gapstone"

	"disview/internal/arch"
)

// CapstoneBackend decodes through libcapstone. It is only compiled with the
// capstone build tag since it needs the C library at link time.
const CapstoneBackend = "capstone"

func init() {
	Register(capstoneBackend{}, 20)
}

type capstoneBackend struct{}

func (capstoneBackend) Name() string { return CapstoneBackend }

func (capstoneBackend) Supports(cfg arch.Config) error {
	_, _, err := capstoneMode(cfg)
	return err
}

func (capstoneBackend) Open(cfg arch.Config, opts Options) (Decoder, error) {
	csArch, csMode, err := capstoneMode(cfg)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Syntax == SyntaxGo:
		return nil, fmt.Errorf("go syntax is not available from capstone")
	case opts.Syntax == SyntaxIntel && cfg.Arch != arch.X86:
		return nil, fmt.Errorf("intel syntax is only available for x86")
	}
	e, err := gs.New(csArch, csMode)
	if err != nil {
		return nil, fmt.Errorf("open capstone: %w", err)
	}
	if cfg.Arch == arch.X86 {
		syntax := uint(gs.CS_OPT_SYNTAX_ATT)
		if opts.Syntax == SyntaxIntel {
			syntax = gs.CS_OPT_SYNTAX_INTEL
		}
		if err := e.SetOption(gs.CS_OPT_SYNTAX, syntax); err != nil {
			e.Close()
			return nil, fmt.Errorf("set syntax: %w", err)
		}
	}
	if opts.SkipData {
		if err := e.SetOption(gs.CS_OPT_SKIPDATA, gs.CS_OPT_ON); err != nil {
			e.Close()
			return nil, fmt.Errorf("enable skipdata: %w", err)
		}
	}
	return &capstoneDecoder{e: e, skipData: opts.SkipData, maxLen: capstoneMaxLen(cfg.Arch)}, nil
}

type capstoneDecoder struct {
	e        gs.Engine
	skipData bool
	maxLen   int
}

func (d *capstoneDecoder) Decode(code []byte, addr uint64) ([]Instruction, int) {
	ret, err := d.e.Disasm(code, addr, 0)
	if err != nil && len(ret) == 0 {
		return nil, 0
	}
	insts := make([]Instruction, 0, len(ret))
	used := 0
	for _, in := range ret {
		insts = append(insts, Instruction{
			Offset:   used,
			Size:     int(in.Size),
			Mnemonic: in.Mnemonic,
			Operands: in.OpStr,
		})
		used += int(in.Size)
	}
	// skipdata turns an instruction cut by the window edge into ".byte" rows
	if d.skipData {
		return trimPartialData(insts, len(code), d.maxLen)
	}
	return insts, used
}

func (d *capstoneDecoder) Close() error {
	return d.e.Close()
}

// capstoneMaxLen is the longest instruction capstone decodes for a.
func capstoneMaxLen(a arch.Architecture) int {
	switch a {
	case arch.X86:
		return 15
	case arch.M68K:
		return 22
	case arch.SYSZ:
		return 6
	}
	return 4
}

func capstoneMode(cfg arch.Config) (int, int, error) {
	endian := 0
	if cfg.Features.Has(arch.FeatureBigEndian) {
		endian = gs.CS_MODE_BIG_ENDIAN
	}
	unsupported := func(f arch.Feature) error {
		if extra := cfg.Features &^ f; extra != 0 {
			return fmt.Errorf("features %s not supported by capstone", extra)
		}
		return nil
	}

	switch cfg.Arch {
	case arch.X86:
		modes := map[arch.Mode]int{"16": gs.CS_MODE_16, "32": gs.CS_MODE_32, "64": gs.CS_MODE_64}
		return gs.CS_ARCH_X86, modes[cfg.Mode], unsupported(0)
	case arch.ARM:
		mode := gs.CS_MODE_ARM
		if cfg.Mode == "thumb" {
			mode = gs.CS_MODE_THUMB
		}
		if cfg.Features.Has(arch.FeatureMClass) {
			mode |= gs.CS_MODE_MCLASS
		}
		if cfg.Features.Has(arch.FeatureV8) {
			mode |= gs.CS_MODE_V8
		}
		return gs.CS_ARCH_ARM, mode | endian, nil
	case arch.ARM64:
		return gs.CS_ARCH_ARM64, gs.CS_MODE_ARM | endian, nil
	case arch.MIPS:
		modes := map[arch.Mode]int{
			"mips32": gs.CS_MODE_MIPS32, "mips64": gs.CS_MODE_MIPS64, "mips32r6": gs.CS_MODE_MIPS32R6,
			"mips2": gs.CS_MODE_MIPS2, "mips3": gs.CS_MODE_MIPS3,
		}
		mode := modes[cfg.Mode]
		if cfg.Features.Has(arch.FeatureMicro) {
			mode |= gs.CS_MODE_MICRO
		}
		return gs.CS_ARCH_MIPS, mode | endian, nil
	case arch.PPC:
		mode := gs.CS_MODE_32
		if cfg.Mode == "64" {
			mode = gs.CS_MODE_64
		}
		if cfg.Features.Has(arch.FeatureQPX) {
			mode |= gs.CS_MODE_QPX
		}
		return gs.CS_ARCH_PPC, mode | endian, unsupported(arch.FeatureBigEndian | arch.FeatureQPX)
	case arch.SPARC:
		mode := gs.CS_MODE_BIG_ENDIAN
		if cfg.Features.Has(arch.FeatureV9) {
			mode |= gs.CS_MODE_V9
		}
		return gs.CS_ARCH_SPARC, mode, nil
	case arch.SYSZ:
		return gs.CS_ARCH_SYSZ, gs.CS_MODE_BIG_ENDIAN, nil
	case arch.XCORE:
		return gs.CS_ARCH_XCORE, gs.CS_MODE_BIG_ENDIAN, nil
	case arch.M68K:
		modes := map[arch.Mode]int{
			"000": gs.CS_MODE_M68K_000, "010": gs.CS_MODE_M68K_010, "020": gs.CS_MODE_M68K_020,
			"030": gs.CS_MODE_M68K_030, "040": gs.CS_MODE_M68K_040, "060": gs.CS_MODE_M68K_060,
		}
		return gs.CS_ARCH_M68K, modes[cfg.Mode] | gs.CS_MODE_BIG_ENDIAN, nil
	}
	return 0, 0, fmt.Errorf("%s is not supported by capstone", cfg.Arch)
}
