// Package elfx provides helpers for opening ELF binaries, locating sections,
// mapping virtual addresses to file offsets and naming code addresses.
package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ianlancetaylor/demangle"

	"disview/internal/arch"
)

// ErrNoSection is returned when a section cannot be found.
var ErrNoSection = errors.New("section not found")

type Image struct {
	Path     string
	File     *elf.File
	Loads    []Seg
	Sections []Section
	Symbols  []Symbol // function symbols sorted by address
	Flags    uint32   // e_flags
	f        *os.File
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
	Exec          bool
}

type Symbol struct {
	Name      string // demangled
	Raw       string
	Addr      uint64
	Size      uint64
	IsDynamic bool
}

func Open(path string) (*Image, error) {
	of, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	f, err := elf.NewFile(of)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("open elf: %w", err)
	}

	im := &Image{Path: path, File: f, f: of}
	im.Flags = readFlags(of, f.FileHeader)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	for _, s := range f.Sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL || s.Size == 0 {
			continue
		}
		im.Sections = append(im.Sections, Section{
			Name: s.Name,
			VA:   s.Addr,
			Off:  s.Offset,
			Size: s.Size,
			Exec: s.Flags&elf.SHF_EXECINSTR != 0,
		})
	}

	im.loadSymbols()
	return im, nil
}

// readFlags reads e_flags, which debug/elf does not expose.
func readFlags(r *os.File, h elf.FileHeader) uint32 {
	off := int64(0x24)
	if h.Class == elf.ELFCLASS64 {
		off = 0x30
	}
	var b [4]byte
	if _, err := r.ReadAt(b[:], off); err != nil {
		return 0
	}
	if h.Data == elf.ELFDATA2MSB {
		return binary.BigEndian.Uint32(b[:])
	}
	return binary.LittleEndian.Uint32(b[:])
}

// Close closes the underlying file.
func (im *Image) Close() error {
	im.File = nil
	if im.f == nil {
		return nil
	}
	err := im.f.Close()
	im.f = nil
	return err
}

// Section returns the named section. Stripped binaries without a section
// table fall back to the first executable PT_LOAD segment for ".text".
func (im *Image) Section(name string) (Section, error) {
	for _, s := range im.Sections {
		if s.Name == name {
			return s, nil
		}
	}
	if name == ".text" {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				return Section{Name: "LOAD(exec)", VA: l.Vaddr, Off: l.Off, Size: l.Filesz, Exec: true}, nil
			}
		}
	}
	return Section{}, fmt.Errorf("%w: %s in %s", ErrNoSection, name, im.Path)
}

// ExecSections returns the sections holding instructions.
func (im *Image) ExecSections() []Section {
	var out []Section
	for _, s := range im.Sections {
		if s.Exec {
			out = append(out, s)
		}
	}
	return out
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// Off2VA is the inverse of VA2Off.
func (im *Image) Off2VA(off uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if off >= l.Off && off < l.Off+l.Filesz {
			return l.Vaddr + (off - l.Off), true
		}
	}
	return 0, false
}

// Config guesses the architecture configuration from the ELF header.
func (im *Image) Config() (arch.Config, bool) {
	if im.File == nil {
		return arch.Config{}, false
	}
	h := im.File.FileHeader
	is64 := h.Class == elf.ELFCLASS64
	var cfg arch.Config
	switch h.Machine {
	case elf.EM_X86_64:
		cfg = arch.Config{Arch: arch.X86, Mode: "64"}
	case elf.EM_386:
		cfg = arch.Config{Arch: arch.X86, Mode: "32"}
	case elf.EM_ARM:
		cfg = arch.Config{Arch: arch.ARM, Mode: "arm"}
	case elf.EM_AARCH64:
		cfg = arch.Config{Arch: arch.ARM64}
	case elf.EM_PPC64:
		cfg = arch.Config{Arch: arch.PPC, Mode: "64"}
	case elf.EM_PPC:
		cfg = arch.Config{Arch: arch.PPC, Mode: "32"}
	case elf.EM_MIPS:
		cfg = arch.Config{Arch: arch.MIPS, Mode: "mips32"}
		if is64 {
			cfg.Mode = "mips64"
		}
	case elf.EM_RISCV:
		cfg = arch.Config{Arch: arch.RISCV, Mode: "32"}
		if is64 {
			cfg.Mode = "64"
		}
		// EF_RISCV_RVC
		if im.Flags&0x1 != 0 {
			cfg.Features |= arch.FeatureCompressed
		}
	case elf.EM_SPARC:
		cfg = arch.Config{Arch: arch.SPARC}
	case elf.EM_SPARCV9:
		cfg = arch.Config{Arch: arch.SPARC, Features: arch.FeatureV9}
	case elf.EM_S390:
		cfg = arch.Config{Arch: arch.SYSZ}
	case elf.EM_68K:
		cfg = arch.Config{Arch: arch.M68K}
	case elf.EM_BPF:
		cfg = arch.Config{Arch: arch.BPF, Mode: "extended"}
	case elf.EM_SH:
		cfg = arch.Config{Arch: arch.SH}
	default:
		return arch.Config{}, false
	}

	if h.Data == elf.ELFDATA2MSB {
		if v, ok := arch.Lookup(cfg.Arch); ok && v.Features.Has(arch.FeatureBigEndian) {
			cfg.Features |= arch.FeatureBigEndian
		}
	}
	return cfg.Normalize(), true
}

// Lookup names the function containing addr. It matches decoder.SymLookup.
func (im *Image) Lookup(addr uint64) (string, uint64) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr > addr }) - 1
	if i < 0 {
		return "", 0
	}
	s := im.Symbols[i]
	if addr == s.Addr || addr < s.Addr+s.Size {
		return s.Name, s.Addr
	}
	return "", 0
}

// SymbolAt returns the symbol that starts exactly at addr.
func (im *Image) SymbolAt(addr uint64) (Symbol, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr >= addr })
	if i < len(im.Symbols) && im.Symbols[i].Addr == addr {
		return im.Symbols[i], true
	}
	return Symbol{}, false
}

// FindFunctionByName searches for a function by raw or demangled name.
func (im *Image) FindFunctionByName(name string) (Symbol, bool) {
	for _, s := range im.Symbols {
		if s.Raw == name || s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// loadSymbols collects defined function symbols from .symtab and .dynsym.
// Static symbols win over dynamic ones at the same address.
func (im *Image) loadSymbols() {
	byAddr := map[uint64]Symbol{}
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, sym := range syms {
			if sym.Value == 0 || sym.Name == "" || elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
				continue
			}
			if _, exists := byAddr[sym.Value]; exists {
				continue
			}
			byAddr[sym.Value] = Symbol{
				Name:      demangle.Filter(strings.TrimSuffix(sym.Name, "@plt")),
				Raw:       sym.Name,
				Addr:      sym.Value,
				Size:      sym.Size,
				IsDynamic: dynamic,
			}
		}
	}
	if syms, err := im.File.Symbols(); err == nil {
		add(syms, false)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms, true)
	}

	im.Symbols = make([]Symbol, 0, len(byAddr))
	for _, s := range byAddr {
		im.Symbols = append(im.Symbols, s)
	}
	sort.Slice(im.Symbols, func(i, j int) bool { return im.Symbols[i].Addr < im.Symbols[j].Addr })
}
