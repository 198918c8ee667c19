package arch

import (
	"fmt"
	"strings"
)

// ModeOption is one legal primary mode of a variant.
type ModeOption struct {
	Name  Mode
	Label string
}

// Variant describes what can be selected for one architecture.
type Variant struct {
	Arch     Architecture
	Name     string
	Label    string
	Aliases  []string
	Modes    []ModeOption // first entry is the default
	Features Feature
}

func (v Variant) modeIndex(m Mode) int {
	for i, o := range v.Modes {
		if o.Name == m {
			return i
		}
	}
	return -1
}

// ModeNames lists the legal primary modes.
func (v Variant) ModeNames() []string {
	names := make([]string, 0, len(v.Modes))
	for _, o := range v.Modes {
		names = append(names, string(o.Name))
	}
	return names
}

var variants = []Variant{
	{
		Arch: X86, Name: "x86", Label: "Intel x86", Aliases: []string{"i386", "amd64", "x86_64", "x64"},
		Modes: []ModeOption{{"32", "32-bit"}, {"16", "16-bit"}, {"64", "64-bit"}},
	},
	{
		Arch: ARM, Name: "arm", Label: "ARM",
		Modes:    []ModeOption{{"arm", "ARM"}, {"thumb", "Thumb"}},
		Features: FeatureBigEndian | FeatureMClass | FeatureV8,
	},
	{
		Arch: ARM64, Name: "arm64", Label: "AArch64", Aliases: []string{"aarch64"},
		Features: FeatureBigEndian,
	},
	{
		Arch: MIPS, Name: "mips", Label: "MIPS",
		Modes: []ModeOption{
			{"mips32", "MIPS32"}, {"mips64", "MIPS64"}, {"mips32r6", "MIPS32R6"},
			{"mips2", "MIPS II"}, {"mips3", "MIPS III"},
		},
		Features: FeatureBigEndian | FeatureMicro,
	},
	{
		Arch: PPC, Name: "ppc", Label: "PowerPC", Aliases: []string{"powerpc", "ppc64"},
		Modes:    []ModeOption{{"32", "32-bit"}, {"64", "64-bit"}},
		Features: FeatureBigEndian | FeatureQPX | FeatureSPE | FeatureBookE,
	},
	{
		Arch: SPARC, Name: "sparc", Label: "SPARC",
		Features: FeatureBigEndian | FeatureV9,
	},
	{Arch: SYSZ, Name: "sysz", Label: "IBM SystemZ", Aliases: []string{"s390x"}},
	{Arch: XCORE, Name: "xcore", Label: "XCore"},
	{
		Arch: M68K, Name: "m68k", Label: "Motorola 68000",
		Modes: []ModeOption{
			{"000", "68000"}, {"010", "68010"}, {"020", "68020"},
			{"030", "68030"}, {"040", "68040"}, {"060", "68060"},
		},
	},
	{Arch: TMS320C64X, Name: "tms320c64x", Label: "TMS320C64x"},
	{
		Arch: M680X, Name: "m680x", Label: "Motorola 680X",
		Modes: []ModeOption{
			{"6301", "6301"}, {"6309", "6309"}, {"6800", "6800"}, {"6801", "6801"},
			{"6805", "6805"}, {"6808", "6808"}, {"6809", "6809"}, {"6811", "6811"},
			{"cpu12", "CPU12"}, {"hcs08", "HCS08"},
		},
	},
	{Arch: EVM, Name: "evm", Label: "Ethereum VM"},
	{
		Arch: RISCV, Name: "riscv", Label: "RISC-V", Aliases: []string{"riscv64", "rv64"},
		Modes:    []ModeOption{{"64", "64-bit"}, {"32", "32-bit"}},
		Features: FeatureCompressed,
	},
	{
		Arch: MOS65XX, Name: "mos65xx", Label: "MOS 65xx", Aliases: []string{"6502"},
		Modes: []ModeOption{
			{"6502", "6502"}, {"65c02", "65C02"}, {"w65c02", "W65C02"}, {"65816", "65816"},
			{"65816-long-m", "65816 long M"}, {"65816-long-x", "65816 long X"},
			{"65816-long-mx", "65816 long MX"},
		},
	},
	{Arch: WASM, Name: "wasm", Label: "WebAssembly"},
	{
		Arch: BPF, Name: "bpf", Label: "BPF", Aliases: []string{"ebpf"},
		Modes:    []ModeOption{{"classic", "Classic"}, {"extended", "Extended"}},
		Features: FeatureBigEndian,
	},
	{
		Arch: SH, Name: "sh", Label: "SuperH",
		Modes: []ModeOption{
			{"sh2", "SH2"}, {"sh2a", "SH2A"}, {"sh3", "SH3"}, {"sh4", "SH4"}, {"sh4a", "SH4A"},
		},
		Features: FeatureBigEndian | FeatureFPU | FeatureDSP,
	},
	{
		Arch: TRICORE, Name: "tricore", Label: "TriCore",
		Modes: []ModeOption{
			{"110", "1.1"}, {"120", "1.2"}, {"130", "1.3"}, {"131", "1.3.1"},
			{"160", "1.6"}, {"161", "1.6.1"}, {"162", "1.6.2"},
		},
	},
}

// Variants returns every known architecture in display order.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	copy(out, variants)
	return out
}

// Lookup returns the variant for a.
func Lookup(a Architecture) (Variant, bool) {
	for _, v := range variants {
		if v.Arch == a {
			return v, true
		}
	}
	return Variant{}, false
}

func (a Architecture) String() string {
	if v, ok := Lookup(a); ok {
		return v.Name
	}
	return fmt.Sprintf("arch(%d)", int(a))
}

// ParseArchitecture resolves a name or alias, case-insensitively.
func ParseArchitecture(name string) (Architecture, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, v := range variants {
		if v.Name == name {
			return v.Arch, nil
		}
		for _, alias := range v.Aliases {
			if alias == name {
				return v.Arch, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownArchitecture, name)
}

// Next returns the mode following c.Mode, wrapping around. Architectures
// without modes return c unchanged.
func (c Config) Next() Config {
	v, ok := Lookup(c.Arch)
	if !ok || len(v.Modes) == 0 {
		return c
	}
	i := v.modeIndex(c.Normalize().Mode)
	c.Mode = v.Modes[(i+1)%len(v.Modes)].Name
	return c
}
