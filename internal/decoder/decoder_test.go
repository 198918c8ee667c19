package decoder

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disview/internal/arch"
)

// push %rbp; mov %rsp,%rbp; mov $0x10f447,%eax; pop %rbp; ret
var amd64Subr = []byte{0x55, 0x48, 0x89, 0xe5, 0xb8, 0x47, 0xf4, 0x10, 0x00, 0x5d, 0xc3}

func openX86(t *testing.T, opts ...Option) Decoder {
	t.Helper()
	d, err := Open(arch.Config{Arch: arch.X86, Mode: "64"}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDecodeX86Block(t *testing.T) {
	d := openX86(t, WithSyntax(SyntaxIntel))

	insts, consumed := d.Decode(amd64Subr, 0x1000)
	require.Equal(t, len(amd64Subr), consumed)
	require.Len(t, insts, 5)

	wantSizes := []int{1, 3, 5, 1, 1}
	off := 0
	for i, inst := range insts {
		assert.Equal(t, off, inst.Offset, "instruction %d", i)
		assert.Equal(t, wantSizes[i], inst.Size, "instruction %d", i)
		off += inst.Size
	}
	assert.Equal(t, "push", insts[0].Mnemonic)
	assert.Equal(t, "rbp", insts[0].Operands)
	assert.Equal(t, "mov", insts[1].Mnemonic)
	assert.Equal(t, "ret", insts[4].Mnemonic)
}

func TestDecodeLeavesTruncatedTail(t *testing.T) {
	d := openX86(t)

	// push %rbp followed by the first two bytes of mov %rsp,%rbp
	insts, consumed := d.Decode(amd64Subr[:3], 0)
	assert.Equal(t, 1, consumed)
	require.Len(t, insts, 1)
	assert.Contains(t, insts[0].Mnemonic, "push")

	insts, consumed = d.Decode(amd64Subr[1:3], 1)
	assert.Zero(t, consumed)
	assert.Empty(t, insts)
}

func TestDecodeX86PartialAtWindowEdge(t *testing.T) {
	// nop followed by the first four bytes of movabs $imm64,%rax
	movabs := []byte{0x90, 0x48, 0xb8, 0x88, 0x77}

	tests := []struct {
		name     string
		skipData bool
		code     []byte
		consumed int
		count    int
	}{
		{name: "movabs head", code: movabs, consumed: 1, count: 1},
		{name: "movabs head skipping", skipData: true, code: movabs, consumed: 1, count: 1},
		{name: "lone rex", code: []byte{0x90, 0x48}, consumed: 1, count: 1},
		{name: "lone rex skipping", skipData: true, code: []byte{0x90, 0x48}, consumed: 1, count: 1},
		{name: "operand size prefix", skipData: true, code: []byte{0x66}, consumed: 0, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := openX86(t, WithSkipData(tt.skipData))
			insts, consumed := d.Decode(tt.code, 0)
			assert.Equal(t, tt.consumed, consumed)
			require.Len(t, insts, tt.count)
			for _, inst := range insts {
				assert.NotContains(t, inst.Mnemonic, "rex")
				assert.NotEqual(t, ".byte", inst.Mnemonic)
			}
		})
	}
}

func TestDecodeX86PrefixWithoutOpcode(t *testing.T) {
	// rex.w followed by an opcode invalid in 64-bit mode, then padding
	code := append([]byte{0x48, 0x06}, []byte(strings.Repeat("\x90", 16))...)

	d := openX86(t, WithSkipData(true))
	insts, consumed := d.Decode(code, 0)
	assert.Equal(t, len(code), consumed)
	require.GreaterOrEqual(t, len(insts), 2)
	assert.Equal(t, ".byte", insts[0].Mnemonic)
	assert.Equal(t, "0x48", insts[0].Operands)
	assert.Equal(t, 1, insts[0].Size)

	plain := openX86(t)
	insts, consumed = plain.Decode(code, 0)
	assert.Zero(t, consumed)
	assert.Empty(t, insts)
}

func TestDecodeSkipData(t *testing.T) {
	window := append([]byte{0x06}, []byte(strings.Repeat("\x90", 16))...)

	plain := openX86(t)
	insts, consumed := plain.Decode(window, 0)
	assert.Zero(t, consumed)
	assert.Empty(t, insts)

	skipping := openX86(t, WithSkipData(true))
	insts, consumed = skipping.Decode(window, 0)
	assert.Equal(t, len(window), consumed)
	require.Len(t, insts, 17)
	assert.Equal(t, ".byte", insts[0].Mnemonic)
	assert.Equal(t, "0x06", insts[0].Operands)
	assert.Equal(t, 1, insts[1].Offset)
}

func TestDecodeARM64(t *testing.T) {
	d, err := Open(arch.Config{Arch: arch.ARM64})
	require.NoError(t, err)
	defer d.Close()

	// ret; ret; two stray bytes
	code := []byte{0xc0, 0x03, 0x5f, 0xd6, 0xc0, 0x03, 0x5f, 0xd6, 0x00, 0x00}
	insts, consumed := d.Decode(code, 0x400000)
	assert.Equal(t, 8, consumed)
	require.Len(t, insts, 2)
	for i, inst := range insts {
		assert.Equal(t, "ret", strings.ToLower(inst.Mnemonic))
		assert.Equal(t, 4*i, inst.Offset)
		assert.Equal(t, 4, inst.Size)
	}
}

func TestDecodeARM64BigEndian(t *testing.T) {
	d, err := Open(arch.Config{Arch: arch.ARM64, Features: arch.FeatureBigEndian})
	require.NoError(t, err)
	defer d.Close()

	insts, consumed := d.Decode([]byte{0xd6, 0x5f, 0x03, 0xc0}, 0)
	assert.Equal(t, 4, consumed)
	require.Len(t, insts, 1)
	assert.Equal(t, "ret", strings.ToLower(insts[0].Mnemonic))
}

func TestOpenRejectsConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		cfg     arch.Config
		opts    []Option
		wantErr error
	}{
		{
			name:    "thumb has no backend",
			cfg:     arch.Config{Arch: arch.ARM, Mode: "thumb"},
			wantErr: ErrUnsupported,
		},
		{
			name:    "illegal mode for variant",
			cfg:     arch.Config{Arch: arch.X86, Mode: "128"},
			wantErr: arch.ErrUnknownMode,
		},
		{
			name:    "illegal feature for variant",
			cfg:     arch.Config{Arch: arch.X86, Features: arch.FeatureQPX},
			wantErr: arch.ErrUnknownFeature,
		},
		{
			name:    "unknown backend",
			cfg:     arch.Config{Arch: arch.X86},
			opts:    []Option{WithBackend("objdump")},
			wantErr: ErrUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Open(tt.cfg, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, d)
			assert.True(t, IsConfigError(err))
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestOpenIntelSyntaxOnlyForX86(t *testing.T) {
	_, err := Open(arch.Config{Arch: arch.ARM64}, WithSyntax(SyntaxIntel))
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, XArchBackend, ce.Backend)
}

func TestParseSyntax(t *testing.T) {
	for in, want := range map[string]Syntax{"": SyntaxGNU, "att": SyntaxGNU, "Intel": SyntaxIntel, "plan9": SyntaxGo} {
		got, err := ParseSyntax(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSyntax("masm")
	assert.Error(t, err)
}

func TestSplitText(t *testing.T) {
	tests := []struct {
		in       string
		mnemonic string
		operands string
	}{
		{"ret", "ret", ""},
		{"mov %rsp,%rbp", "mov", "%rsp,%rbp"},
		{"lock add %eax,(%rbx)", "lock add", "%eax,(%rbx)"},
		{"rep movsb", "rep movsb", ""},
		{"  nop  ", "nop", ""},
	}
	for _, tt := range tests {
		m, o := splitText(tt.in)
		assert.Equal(t, tt.mnemonic, m, tt.in)
		assert.Equal(t, tt.operands, o, tt.in)
	}
}

func TestBackendsIncludeXArch(t *testing.T) {
	assert.Contains(t, Backends(), XArchBackend)
}

func TestSupporting(t *testing.T) {
	assert.Contains(t, Supporting(arch.Config{Arch: arch.X86, Mode: "32"}), XArchBackend)
	assert.NotContains(t, Supporting(arch.Config{Arch: arch.ARM, Mode: "thumb"}), XArchBackend)
}

func TestTrimPartialData(t *testing.T) {
	nop := func(off int) Instruction { return Instruction{Offset: off, Size: 1, Mnemonic: "nop"} }
	data := func(off int) Instruction { return dataInstruction([]byte{0x48}, off) }

	tests := []struct {
		name  string
		insts []Instruction
		n     int
		kept  int
		used  int
	}{
		{name: "no data", insts: []Instruction{nop(0), nop(1), nop(2)}, n: 3, kept: 3, used: 3},
		{name: "data before the edge", insts: []Instruction{data(0), nop(1), nop(2), nop(3), nop(4)}, n: 5, kept: 5, used: 5},
		{name: "trailing data", insts: []Instruction{nop(0), nop(1), data(2), data(3)}, n: 4, kept: 2, used: 2},
		{name: "code after edge data", insts: []Instruction{nop(0), nop(1), data(2), nop(3)}, n: 4, kept: 2, used: 2},
		{name: "all data", insts: []Instruction{data(0), data(1)}, n: 2, kept: 0, used: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts, used := trimPartialData(tt.insts, tt.n, 2)
			assert.Len(t, insts, tt.kept)
			assert.Equal(t, tt.used, used)
		})
	}
}
