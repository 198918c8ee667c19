package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disview/internal/arch"
	"disview/internal/decoder"
	"disview/internal/disasm"
	"disview/internal/source"
)

var push = disasm.Instruction{
	Address:  0x401000,
	Offset:   0x10,
	Size:     1,
	Mnemonic: "push",
	Operands: "rbp",
	Bytes:    []byte{0x55},
}

func TestLine(t *testing.T) {
	tests := []struct {
		name string
		cols Columns
		want string
	}{
		{"address only", Columns{}, "0000000000401000  push rbp"},
		{"offset", Columns{Offset: true}, "0000000000401000  00000010  push rbp"},
		{"bytes", Columns{Bytes: true}, "0000000000401000  55                 push rbp"},
		{
			"styled",
			Columns{
				Highlight: strings.ToUpper,
				Address:   func(s string) string { return "<" + s + ">" },
			},
			"<0000000000401000>  PUSH RBP",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Line(push, tt.cols))
		})
	}
}

func TestTextLabels(t *testing.T) {
	ret := disasm.Instruction{Address: 0x401001, Offset: 0x11, Size: 1, Mnemonic: "ret", Bytes: []byte{0xc3}}
	var buf bytes.Buffer
	err := Text(&buf, []disasm.Instruction{push, ret}, Columns{}, func(addr uint64) (string, bool) {
		return "main", addr == 0x401000
	})
	require.NoError(t, err)
	assert.Equal(t, "\nmain:\n0000000000401000  push rbp\n0000000000401001  ret\n", buf.String())
}

func TestJSONOutput(t *testing.T) {
	e := disasm.New(disasm.WithDecoderOptions(decoder.WithSyntax(decoder.SyntaxIntel)))
	defer e.Close()
	require.NoError(t, e.Configure(arch.Config{Arch: arch.X86, Mode: "64"}))

	code := []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}
	tk, err := e.Disassemble(context.Background(), source.NewBytes(code), disasm.Region{Size: 5}, 0x1000)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tk.Wait(ctx))

	out := NewJSONOutput("code.bin", tk, func(addr uint64) (string, bool) { return "entry", addr == 0x1000 })
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, out))

	var got JSONOutput
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "x86:64", got.Config)
	assert.Equal(t, "completed", got.State)
	assert.Equal(t, "0x1000", got.Base)
	assert.False(t, got.Partial)
	require.Len(t, got.Instructions, 3)
	assert.Equal(t, JSONInstruction{
		Address: "0x1001", Offset: 1, Size: 3, Bytes: "4889E5", Mnemonic: "mov", Operands: "rbp, rsp",
	}, got.Instructions[1])
	assert.Equal(t, "entry", got.Instructions[0].Symbol)
}

func brackets(s string) string { return "[" + s + "]" }

func TestHexdumpHighlightsSelection(t *testing.T) {
	data := make([]byte, 64)
	for i := range data {
		data[i] = byte(i)
	}
	data[0x13] = 'A'

	out, err := Hexdump(source.NewBytes(data), 0x12, 0x15, 3, brackets)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "00000000  00 01"))
	assert.Equal(t, "00000010  10 11 [12] [41] [14] 15 16 17  18 19 1A 1B 1C 1D 1E 1F  |..[.][A][.]...........|", lines[1])
	assert.NotContains(t, lines[0], "[")
	assert.NotContains(t, lines[2], "[")
}

func TestHexdumpEndOfSource(t *testing.T) {
	data := []byte("0123456789abcdefXYZ!")
	out, err := Hexdump(source.NewBytes(data), 18, 20, 4, nil)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	want := fmt.Sprintf("00000010  58 59 5A 21 %s |XYZ!|", strings.Repeat("   ", 12)+" ")
	assert.Equal(t, want, lines[1])
}

func TestHexdumpEmpty(t *testing.T) {
	out, err := Hexdump(source.NewBytes(nil), 0, 0, 4, nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = Hexdump(source.NewBytes([]byte{1}), 0, 1, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
