// Package decoder is the narrow capability the disassembly engine uses to turn
// bytes into instructions. A Decoder is opened for one arch.Config and then
// asked to decode as many whole instructions as fit at the start of a window.
package decoder

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"disview/internal/arch"
)

var (
	// ErrUnsupported is returned when no backend handles a configuration.
	ErrUnsupported = errors.New("unsupported architecture configuration")
	// ErrNotConfigured is returned when decoding is requested before Open.
	ErrNotConfigured = errors.New("decoder not configured")
)

// ConfigError reports that an architecture configuration was rejected or a
// backend failed to initialise.
type ConfigError struct {
	Config  arch.Config
	Backend string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("configure %s (%s): %v", e.Config, e.Backend, e.Err)
	}
	return fmt.Sprintf("configure %s: %v", e.Config, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Instruction is one decoded instruction, positioned relative to the window
// passed to Decode.
type Instruction struct {
	Offset   int
	Size     int
	Mnemonic string
	Operands string
}

// Decoder decodes whole instructions from the front of a window. Decode returns
// the instructions found, in order, and the number of bytes they cover.
// Trailing bytes that do not form a whole instruction are never consumed.
type Decoder interface {
	Decode(code []byte, addr uint64) ([]Instruction, int)
	Close() error
}

// SymLookup resolves an address to a symbol name and the symbol's base.
type SymLookup func(addr uint64) (name string, base uint64)

// Syntax selects how instructions are rendered.
type Syntax string

const (
	SyntaxGNU   Syntax = "gnu"
	SyntaxIntel Syntax = "intel"
	SyntaxGo    Syntax = "go"
)

// ParseSyntax validates a syntax name. The empty string selects GNU syntax.
func ParseSyntax(s string) (Syntax, error) {
	switch Syntax(strings.ToLower(s)) {
	case "", SyntaxGNU, "att":
		return SyntaxGNU, nil
	case SyntaxIntel:
		return SyntaxIntel, nil
	case SyntaxGo, "plan9":
		return SyntaxGo, nil
	}
	return "", fmt.Errorf("unknown syntax %q", s)
}

// Options tune how a backend decodes and renders.
type Options struct {
	Syntax   Syntax
	SkipData bool
	Symbols  SymLookup
	Backend  string
}

// Option mutates Options.
type Option func(*Options)

func WithSyntax(s Syntax) Option { return func(o *Options) { o.Syntax = s } }

// WithSkipData makes undecodable units come back as ".byte" pseudo
// instructions instead of ending the decode.
func WithSkipData(on bool) Option { return func(o *Options) { o.SkipData = on } }

func WithSymbols(fn SymLookup) Option { return func(o *Options) { o.Symbols = fn } }

// WithBackend forces a specific backend by name.
func WithBackend(name string) Option { return func(o *Options) { o.Backend = name } }

// Backend opens decoders for the configurations it supports.
type Backend interface {
	Name() string
	Supports(cfg arch.Config) error
	Open(cfg arch.Config, opts Options) (Decoder, error)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
	// lower runs first
	priority = map[string]int{}
)

// Register makes a backend available to Open. Backends with a lower priority
// are tried first.
func Register(b Backend, prio int) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[b.Name()] = b
	priority[b.Name()] = prio
}

// Backends lists registered backend names in the order Open tries them.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if priority[names[i]] != priority[names[j]] {
			return priority[names[i]] < priority[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

func backend(name string) (Backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// Supporting lists the backends that accept cfg, in Open order.
func Supporting(cfg arch.Config) []string {
	var out []string
	for _, name := range Backends() {
		if b, ok := backend(name); ok && b.Supports(cfg.Normalize()) == nil {
			out = append(out, name)
		}
	}
	return out
}

// Open validates cfg and opens a decoder from the first backend that supports
// it. Every failure is a *ConfigError.
func Open(cfg arch.Config, opts ...Option) (Decoder, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Config: cfg, Err: err}
	}
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.Syntax == "" {
		o.Syntax = SyntaxGNU
	}

	names := Backends()
	if o.Backend != "" {
		if _, ok := backend(o.Backend); !ok {
			return nil, &ConfigError{Config: cfg, Backend: o.Backend, Err: fmt.Errorf("%w: backend not available", ErrUnsupported)}
		}
		names = []string{o.Backend}
	}

	var reasons []string
	for _, name := range names {
		b, _ := backend(name)
		if err := b.Supports(cfg); err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		d, err := b.Open(cfg, o)
		if err != nil {
			return nil, &ConfigError{Config: cfg, Backend: name, Err: err}
		}
		return d, nil
	}
	err := ErrUnsupported
	if len(reasons) > 0 {
		err = fmt.Errorf("%w (%s)", ErrUnsupported, strings.Join(reasons, "; "))
	}
	return nil, &ConfigError{Config: cfg, Err: err}
}

// splitText separates a rendered instruction into mnemonic and operands,
// keeping x86 prefixes attached to the mnemonic.
func splitText(text string) (string, string) {
	text = strings.TrimSpace(text)
	var mnemonic []string
	for {
		head, rest, found := strings.Cut(text, " ")
		mnemonic = append(mnemonic, head)
		if !found || !isPrefix(head) {
			return strings.Join(mnemonic, " "), strings.TrimSpace(rest)
		}
		text = strings.TrimSpace(rest)
	}
}

func isPrefix(s string) bool {
	switch strings.ToLower(s) {
	case "lock", "rep", "repe", "repz", "repne", "repnz", "data16", "addr16", "addr32", "xacquire", "xrelease", "bnd", "notrack":
		return true
	}
	return false
}

// trimPartialData cuts insts at the first ".byte" entry that starts within
// the last maxLen bytes of an n byte window. Such data may be the head of an
// instruction the next window completes. It returns the kept instructions and
// the bytes they cover.
func trimPartialData(insts []Instruction, n, maxLen int) ([]Instruction, int) {
	for k, inst := range insts {
		if inst.Mnemonic == ".byte" && inst.Offset >= n-maxLen {
			insts = insts[:k]
			break
		}
	}
	if len(insts) == 0 {
		return nil, 0
	}
	last := insts[len(insts)-1]
	return insts, last.Offset + last.Size
}
