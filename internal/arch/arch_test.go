package arch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		arch     string
		mode     string
		features []string
		want     Config
		wantErr  error
	}{
		{
			name: "x86 default mode",
			arch: "x86",
			want: Config{Arch: X86, Mode: "32"},
		},
		{
			name: "alias and explicit mode",
			arch: "AMD64",
			mode: "64",
			want: Config{Arch: X86, Mode: "64"},
		},
		{
			name:     "arm thumb with flags",
			arch:     "arm",
			mode:     "thumb",
			features: []string{"mclass", "be"},
			want:     Config{Arch: ARM, Mode: "thumb", Features: FeatureMClass | FeatureBigEndian},
		},
		{
			name:     "comma separated features",
			arch:     "sh",
			mode:     "sh4a",
			features: []string{"fpu,dsp"},
			want:     Config{Arch: SH, Mode: "sh4a", Features: FeatureFPU | FeatureDSP},
		},
		{
			name: "modeless architecture",
			arch: "arm64",
			want: Config{Arch: ARM64},
		},
		{
			name:    "unknown architecture",
			arch:    "vax",
			wantErr: ErrUnknownArchitecture,
		},
		{
			name:    "illegal mode",
			arch:    "x86",
			mode:    "8",
			wantErr: ErrUnknownMode,
		},
		{
			name:    "mode on modeless architecture",
			arch:    "evm",
			mode:    "64",
			wantErr: ErrUnknownMode,
		},
		{
			name:     "feature not available for variant",
			arch:     "x86",
			features: []string{"qpx"},
			wantErr:  ErrUnknownFeature,
		},
		{
			name:     "unknown feature",
			arch:     "arm",
			features: []string{"neon"},
			wantErr:  ErrUnknownFeature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.arch, tt.mode, tt.features)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSpecRoundTrip(t *testing.T) {
	cfg := Config{Arch: PPC, Mode: "64", Features: FeatureBigEndian | FeatureQPX}
	assert.Equal(t, "ppc:64+big-endian+qpx", cfg.String())

	got, err := ParseSpec(cfg.String())
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestBitsDistinguishesModesAndFeatures(t *testing.T) {
	seen := map[uint64]Config{}
	for _, v := range Variants() {
		modes := v.Modes
		if len(modes) == 0 {
			modes = []ModeOption{{}}
		}
		for _, m := range modes {
			for _, f := range []Feature{0, v.Features} {
				cfg := Config{Arch: v.Arch, Mode: m.Name, Features: f}
				bits := cfg.Bits()
				if prev, dup := seen[bits]; dup {
					if prev == cfg {
						continue
					}
					t.Fatalf("%s and %s share bits %#x", prev, cfg, bits)
				}
				seen[bits] = cfg
			}
		}
	}
}

func TestNextCyclesModes(t *testing.T) {
	cfg := Config{Arch: X86}
	cfg = cfg.Next()
	assert.Equal(t, Mode("16"), cfg.Mode)
	cfg = cfg.Next().Next()
	assert.Equal(t, Mode("32"), cfg.Mode)

	modeless := Config{Arch: EVM}
	assert.Equal(t, modeless, modeless.Next())
}

func TestVariantsAreValidByDefault(t *testing.T) {
	for _, v := range Variants() {
		cfg := Config{Arch: v.Arch}.Normalize()
		assert.NoError(t, cfg.Validate(), v.Name)
		assert.Equal(t, v.Name, v.Arch.String())
	}
}
