package decoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/ppc64/ppc64asm"
	"golang.org/x/arch/riscv64/riscv64asm"
	"golang.org/x/arch/x86/x86asm"

	"disview/internal/arch"
)

// XArchBackend is the pure Go backend built on golang.org/x/arch.
const XArchBackend = "xarch"

func init() {
	Register(xarchBackend{}, 10)
}

var (
	errCompressed = errors.New("compressed instruction without compressed extension")
	errPrefixOnly = errors.New("prefix without instruction")
)

// decodeFunc decodes the instruction at the start of code, which lives at pc.
type decodeFunc func(code []byte, pc uint64, text io.ReaderAt) (f string, size int, err error)

type xarchBackend struct{}

func (xarchBackend) Name() string { return XArchBackend }

func (xarchBackend) Supports(cfg arch.Config) error {
	switch cfg.Arch {
	case arch.X86:
		if cfg.Features != 0 {
			return fmt.Errorf("x86 takes no features, got %s", cfg.Features)
		}
		return nil
	case arch.ARM:
		if cfg.Mode != "arm" {
			return fmt.Errorf("%s mode is not decodable", cfg.Mode)
		}
		if extra := cfg.Features &^ arch.FeatureBigEndian; extra != 0 {
			return fmt.Errorf("features %s not decodable", extra)
		}
		return nil
	case arch.ARM64:
		return nil
	case arch.PPC:
		if extra := cfg.Features &^ arch.FeatureBigEndian; extra != 0 {
			return fmt.Errorf("features %s not decodable", extra)
		}
		return nil
	case arch.RISCV:
		if cfg.Mode != "64" {
			return fmt.Errorf("%s-bit mode is not decodable", cfg.Mode)
		}
		return nil
	}
	return fmt.Errorf("%s is not decodable", cfg.Arch)
}

func (b xarchBackend) Open(cfg arch.Config, opts Options) (Decoder, error) {
	if err := b.Supports(cfg); err != nil {
		return nil, err
	}
	if opts.Syntax == SyntaxIntel && cfg.Arch != arch.X86 {
		return nil, fmt.Errorf("intel syntax is only available for x86")
	}
	d := &xarchDecoder{cfg: cfg, opts: opts, unit: 4, maxLen: 4}
	sym := opts.Symbols
	if sym == nil {
		sym = noSymbols
	}
	var order binary.ByteOrder = binary.LittleEndian
	if cfg.Features.Has(arch.FeatureBigEndian) {
		order = binary.BigEndian
	}

	switch cfg.Arch {
	case arch.X86:
		mode := 32
		switch cfg.Mode {
		case "16":
			mode = 16
		case "64":
			mode = 64
		}
		d.unit, d.maxLen = 1, 15
		d.decode = func(code []byte, pc uint64, _ io.ReaderAt) (string, int, error) {
			inst, err := x86asm.Decode(code, mode)
			if err != nil {
				return "", 0, err
			}
			// x86asm reports a truncated or unintelligible sequence as a bare
			// prefix byte with no opcode.
			if inst.Op == 0 {
				return "", 0, errPrefixOnly
			}
			lookup := x86asm.SymLookup(sym)
			switch opts.Syntax {
			case SyntaxIntel:
				return x86asm.IntelSyntax(inst, pc, lookup), inst.Len, nil
			case SyntaxGo:
				return x86asm.GoSyntax(inst, pc, lookup), inst.Len, nil
			}
			return x86asm.GNUSyntax(inst, pc, lookup), inst.Len, nil
		}
	case arch.ARM:
		d.decode = func(code []byte, pc uint64, text io.ReaderAt) (string, int, error) {
			inst, err := armasm.Decode(wordOrder(code, order), armasm.ModeARM)
			if err != nil {
				return "", 0, err
			}
			if opts.Syntax == SyntaxGo {
				return armasm.GoSyntax(inst, pc, sym, text), inst.Len, nil
			}
			return armasm.GNUSyntax(inst), inst.Len, nil
		}
	case arch.ARM64:
		d.decode = func(code []byte, pc uint64, text io.ReaderAt) (string, int, error) {
			inst, err := arm64asm.Decode(wordOrder(code, order))
			if err != nil {
				return "", 0, err
			}
			if opts.Syntax == SyntaxGo {
				return arm64asm.GoSyntax(inst, pc, sym, text), 4, nil
			}
			return arm64asm.GNUSyntax(inst), 4, nil
		}
	case arch.PPC:
		// prefixed instructions take two words
		d.maxLen = 8
		d.decode = func(code []byte, pc uint64, _ io.ReaderAt) (string, int, error) {
			inst, err := ppc64asm.Decode(code, order)
			if err != nil {
				return "", 0, err
			}
			if opts.Syntax == SyntaxGo {
				return ppc64asm.GoSyntax(inst, pc, sym), inst.Len, nil
			}
			return ppc64asm.GNUSyntax(inst, pc), inst.Len, nil
		}
	case arch.RISCV:
		compressed := cfg.Features.Has(arch.FeatureCompressed)
		if compressed {
			d.unit = 2
		}
		d.decode = func(code []byte, pc uint64, text io.ReaderAt) (string, int, error) {
			inst, err := riscv64asm.Decode(code)
			if err != nil {
				return "", 0, err
			}
			if inst.Len == 2 && !compressed {
				return "", 0, errCompressed
			}
			if opts.Syntax == SyntaxGo {
				return riscv64asm.GoSyntax(inst, pc, sym, text), inst.Len, nil
			}
			return riscv64asm.GNUSyntax(inst), inst.Len, nil
		}
	}
	return d, nil
}

type xarchDecoder struct {
	cfg    arch.Config
	opts   Options
	decode decodeFunc
	// unit is the skip-data granule, maxLen the longest encoding.
	unit   int
	maxLen int
}

func (d *xarchDecoder) Decode(code []byte, addr uint64) ([]Instruction, int) {
	var (
		insts []Instruction
		i     int
	)
	text := windowReader{code: code, pc: addr}
	for i < len(code) {
		pc := addr + uint64(i)
		f, size, err := d.decode(code[i:], pc, text)
		if err == nil && size > 0 && size <= len(code)-i {
			mnemonic, operands := splitText(f)
			insts = append(insts, Instruction{Offset: i, Size: size, Mnemonic: mnemonic, Operands: operands})
			i += size
			continue
		}
		// A failure with fewer than maxLen bytes left may just be a truncated
		// instruction; leave it for the next window.
		if !d.opts.SkipData || len(code)-i < d.maxLen {
			break
		}
		insts = append(insts, dataInstruction(code[i:i+d.unit], i))
		i += d.unit
	}
	return insts, i
}

func (d *xarchDecoder) Close() error { return nil }

func noSymbols(uint64) (string, uint64) { return "", 0 }

func dataInstruction(b []byte, off int) Instruction {
	parts := make([]string, len(b))
	for j, c := range b {
		parts[j] = fmt.Sprintf("0x%02x", c)
	}
	return Instruction{Offset: off, Size: len(b), Mnemonic: ".byte", Operands: strings.Join(parts, ", ")}
}

// wordOrder returns code with its first 32-bit word in little-endian order,
// which is what armasm and arm64asm expect.
func wordOrder(code []byte, order binary.ByteOrder) []byte {
	if order == binary.LittleEndian || len(code) < 4 {
		return code
	}
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], binary.BigEndian.Uint32(code))
	return w[:]
}

// windowReader exposes the window to syntax printers that dereference
// PC-relative loads. Offsets are virtual addresses.
type windowReader struct {
	code []byte
	pc   uint64
}

func (r windowReader) ReadAt(data []byte, off int64) (n int, err error) {
	if off < 0 || uint64(off) < r.pc {
		return 0, io.EOF
	}
	d := uint64(off) - r.pc
	if d >= uint64(len(r.code)) {
		return 0, io.EOF
	}
	n = copy(data, r.code[d:])
	if n < len(data) {
		err = io.ErrUnexpectedEOF
	}
	return
}
