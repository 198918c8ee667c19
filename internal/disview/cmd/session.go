package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"disview/internal/arch"
	"disview/internal/config"
	"disview/internal/decoder"
	"disview/internal/disasm"
	"disview/internal/elfx"
	"disview/internal/source"
	"disview/internal/task"
)

// session is everything resolved from flags, the config file and the input
// file before decoding starts.
type session struct {
	path    string
	src     *source.File
	img     *elfx.Image // nil for raw files
	section string
	cfg     arch.Config
	region  disasm.Region
	base    uint64
	window  int
	syntax  decoder.Syntax
	decOpts []decoder.Option
}

func (s *session) Close() error {
	if s.img != nil {
		s.img.Close()
	}
	return s.src.Close()
}

// label names addresses that start a function symbol.
func (s *session) label(addr uint64) (string, bool) {
	if s.img == nil {
		return "", false
	}
	sym, ok := s.img.SymbolAt(addr)
	return sym.Name, ok
}

func (s *session) newEngine(logger *log.Logger, opts ...disasm.Option) (*disasm.Engine, error) {
	opts = append([]disasm.Option{
		disasm.WithLogger(logger),
		disasm.WithHost(task.NewManager(logger)),
		disasm.WithWindowSize(s.window),
		disasm.WithDecoderOptions(s.decOpts...),
	}, opts...)
	e := disasm.New(opts...)
	if err := e.Configure(s.cfg); err != nil {
		return nil, err
	}
	return e, nil
}

func parseUint(name, value string) (uint64, error) {
	v, err := strconv.ParseUint(value, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid --%s %q: %w", name, value, err)
	}
	return v, nil
}

// openSession resolves the session for path. Flags win over the ELF header,
// which wins over the config file.
func openSession(cmd *cobra.Command, path string) (*session, error) {
	flags := cmd.Flags()

	cfgPath, _ := flags.GetString("config")
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	file, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	s := &session{path: path, src: src}
	if img, err := elfx.Open(path); err == nil {
		s.img = img
	}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	if err := s.resolveArch(cmd, file); err != nil {
		return nil, err
	}
	if err := s.resolveRegion(cmd, file); err != nil {
		return nil, err
	}
	if err := s.resolveDecoding(cmd, file); err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

func (s *session) resolveArch(cmd *cobra.Command, file *config.Config) error {
	flags := cmd.Flags()
	archName, _ := flags.GetString("arch")
	mode, _ := flags.GetString("mode")
	features, _ := flags.GetStringSlice("feature")

	cfg, err := file.ArchConfig()
	if err != nil {
		return err
	}
	if s.img != nil && !flags.Changed("arch") {
		if detected, found := s.img.Config(); found {
			cfg = detected
		}
	}

	switch {
	case flags.Changed("arch"):
		cfg, err = arch.Parse(archName, mode, features)
	case flags.Changed("mode") || flags.Changed("feature"):
		if !flags.Changed("mode") {
			mode = string(cfg.Mode)
		}
		if !flags.Changed("feature") {
			features = cfg.Features.Names()
		}
		cfg, err = arch.Parse(cfg.Arch.String(), mode, features)
	}
	if err != nil {
		return &decoder.ConfigError{Config: cfg, Err: err}
	}
	s.cfg = cfg
	return nil
}

func (s *session) resolveRegion(cmd *cobra.Command, file *config.Config) error {
	flags := cmd.Flags()
	size := uint64(s.src.Size())

	var (
		region   disasm.Region
		base     uint64
		haveBase bool
	)
	section, _ := flags.GetString("section")
	switch {
	case section != "":
		if s.img == nil {
			return fmt.Errorf("--section needs an ELF file: %s", s.path)
		}
		sec, err := s.img.Section(section)
		if err != nil {
			return err
		}
		region = disasm.Region{Start: sec.Off, Size: sec.Size}
		base, haveBase = sec.VA, true
		s.section = sec.Name
	case s.img != nil && !flags.Changed("offset") && !flags.Changed("size"):
		if sec, err := s.img.Section(".text"); err == nil {
			region = disasm.Region{Start: sec.Off, Size: sec.Size}
			base, haveBase = sec.VA, true
			s.section = sec.Name
		} else {
			region = disasm.Region{Size: size}
		}
	default:
		region = disasm.Region{Size: size}
	}

	if v, _ := flags.GetString("offset"); v != "" {
		off, err := parseUint("offset", v)
		if err != nil {
			return err
		}
		if off > size {
			return fmt.Errorf("%w: offset %#x past end of file (%#x)", disasm.ErrInvalidRegion, off, size)
		}
		region = disasm.Region{Start: off, Size: size - off}
		haveBase = false
		s.section = ""
	}
	if v, _ := flags.GetString("size"); v != "" {
		n, err := parseUint("size", v)
		if err != nil {
			return err
		}
		region.Size = n
	}
	if err := region.Check(size); err != nil {
		return err
	}

	switch v, _ := flags.GetString("base"); {
	case v != "":
		b, err := parseUint("base", v)
		if err != nil {
			return err
		}
		base = b
	case haveBase:
		// section address
	case s.img != nil:
		if va, mapped := s.img.Off2VA(region.Start); mapped {
			base = va
		} else {
			base = region.Start
		}
	default:
		b, err := file.BaseAddress()
		if err != nil {
			return err
		}
		base = b
	}

	s.region = region
	s.base = base
	return nil
}

func (s *session) resolveDecoding(cmd *cobra.Command, file *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("window") {
		file.Window, _ = flags.GetInt("window")
	}
	if flags.Changed("syntax") {
		file.Syntax, _ = flags.GetString("syntax")
	}
	if flags.Changed("skip-data") {
		file.SkipData, _ = flags.GetBool("skip-data")
	}
	if flags.Changed("backend") {
		file.Backend, _ = flags.GetString("backend")
	}
	if file.Window < 0 {
		return errors.New("--window must not be negative")
	}

	opts, err := file.DecoderOptions()
	if err != nil {
		return err
	}
	if s.img != nil {
		opts = append(opts, decoder.WithSymbols(s.img.Lookup))
	}
	s.syntax, _ = decoder.ParseSyntax(file.Syntax)
	s.window = file.Window
	if s.window == 0 {
		s.window = disasm.DefaultWindowSize
	}
	s.decOpts = opts
	return nil
}
