package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disview/internal/arch"
	"disview/internal/decoder"
	"disview/internal/disasm"
)

// prologue is nop; nop; push rbp; mov rbp, rsp; pop rbp; ret
var prologue = []byte{0x90, 0x90, 0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3}

func writeRaw(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "code.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// parsedRoot returns the root command with args parsed and the config file
// pointed at a path that does not exist, unless args name one.
func parsedRoot(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	c := newRootCmd()
	require.NoError(t, c.ParseFlags(args))
	if !c.Flags().Changed("config") {
		require.NoError(t, c.Flags().Set("config", filepath.Join(t.TempDir(), "missing.yaml")))
	}
	return c
}

func openTestSession(t *testing.T, path string, args ...string) *session {
	t.Helper()
	s, err := openSession(parsedRoot(t, args...), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSessionRaw(t *testing.T) {
	path := writeRaw(t, prologue)

	tests := []struct {
		name   string
		args   []string
		cfg    arch.Config
		region disasm.Region
		base   uint64
		window int
		syntax decoder.Syntax
	}{
		{
			name:   "defaults",
			cfg:    arch.Config{Arch: arch.X86, Mode: "64"},
			region: disasm.Region{Size: 8},
			window: disasm.DefaultWindowSize,
			syntax: decoder.SyntaxGNU,
		},
		{
			name:   "offset and size",
			args:   []string{"--offset", "2", "--size", "4"},
			cfg:    arch.Config{Arch: arch.X86, Mode: "64"},
			region: disasm.Region{Start: 2, Size: 4},
			window: disasm.DefaultWindowSize,
			syntax: decoder.SyntaxGNU,
		},
		{
			name:   "base and window",
			args:   []string{"-b", "0x401000", "-w", "64", "--syntax", "intel"},
			cfg:    arch.Config{Arch: arch.X86, Mode: "64"},
			region: disasm.Region{Size: 8},
			base:   0x401000,
			window: 64,
			syntax: decoder.SyntaxIntel,
		},
		{
			name:   "mode only",
			args:   []string{"-m", "32"},
			cfg:    arch.Config{Arch: arch.X86, Mode: "32"},
			region: disasm.Region{Size: 8},
			window: disasm.DefaultWindowSize,
			syntax: decoder.SyntaxGNU,
		},
		{
			name:   "arch with features",
			args:   []string{"-a", "arm", "-m", "arm", "-F", "big-endian"},
			cfg:    arch.Config{Arch: arch.ARM, Mode: "arm", Features: arch.FeatureBigEndian},
			region: disasm.Region{Size: 8},
			window: disasm.DefaultWindowSize,
			syntax: decoder.SyntaxGNU,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openTestSession(t, path, tt.args...)
			assert.Equal(t, tt.cfg, s.cfg)
			assert.Equal(t, tt.region, s.region)
			assert.Equal(t, tt.base, s.base)
			assert.Equal(t, tt.window, s.window)
			assert.Equal(t, tt.syntax, s.syntax)
			assert.Nil(t, s.img)
			assert.Empty(t, s.section)
		})
	}
}

func TestOpenSessionErrors(t *testing.T) {
	path := writeRaw(t, prologue)

	tests := []struct {
		name      string
		args      []string
		configErr bool
		is        error
	}{
		{name: "unknown arch", args: []string{"--arch", "vax"}, configErr: true},
		{name: "unknown mode", args: []string{"--mode", "128"}, configErr: true},
		{name: "offset past end", args: []string{"--offset", "9"}, is: disasm.ErrInvalidRegion},
		{name: "size past end", args: []string{"--offset", "4", "--size", "5"}, is: disasm.ErrInvalidRegion},
		{name: "section on raw file", args: []string{"--section", ".text"}},
		{name: "bad base", args: []string{"--base", "zz"}},
		{name: "negative window", args: []string{"--window", "-1"}},
		{name: "bad syntax", args: []string{"--syntax", "pdp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := openSession(parsedRoot(t, tt.args...), path)
			require.Error(t, err)
			if tt.configErr {
				assert.True(t, decoder.IsConfigError(err), "%v", err)
			}
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestOpenSessionConfigFile(t *testing.T) {
	path := writeRaw(t, prologue)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("arch: arm64\nbase: \"0x1000\"\nwindow: 32\n"), 0o644))

	s := openTestSession(t, path, "--config", cfgPath)
	assert.Equal(t, arch.Config{Arch: arch.ARM64}, s.cfg)
	assert.EqualValues(t, 0x1000, s.base)
	assert.Equal(t, 32, s.window)

	// flags win over the file
	s = openTestSession(t, path, "--config", cfgPath, "--arch", "x86", "--base", "0")
	assert.Equal(t, arch.X86, s.cfg.Arch)
	assert.Zero(t, s.base)
}

func TestOpenSessionELF(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF on " + runtime.GOOS)
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	s := openTestSession(t, exe)
	require.NotNil(t, s.img)
	text, err := s.img.Section(".text")
	require.NoError(t, err)
	assert.Equal(t, ".text", s.section)
	assert.Equal(t, disasm.Region{Start: text.Off, Size: text.Size}, s.region)
	assert.Equal(t, text.VA, s.base)
	if detected, ok := s.img.Config(); ok {
		assert.Equal(t, detected, s.cfg)
	}

	// an explicit offset maps back through the load segments
	s = openTestSession(t, exe, "--offset", fmt.Sprintf("%#x", text.Off), "--size", "16")
	assert.Empty(t, s.section)
	assert.Equal(t, text.VA, s.base)
}
