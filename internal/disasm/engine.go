package disasm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"disview/internal/arch"
	"disview/internal/decoder"
	"disview/internal/logging"
	"disview/internal/source"
	"disview/internal/task"
)

const (
	// DefaultWindowSize bounds the bytes held per decode call.
	DefaultWindowSize = 2048
	// MinWindowSize fits the longest x86 instruction.
	MinWindowSize = 16
)

// OpenFunc opens a decoder for a configuration.
type OpenFunc func(cfg arch.Config, opts ...decoder.Option) (decoder.Decoder, error)

// Task is the handle of one disassembly run.
type Task struct {
	*task.Task

	result *Result
	region Region
	base   uint64
	cfg    arch.Config

	stalled   atomic.Bool
	remainder atomic.Uint64
}

// Result returns the growing instruction sequence of this run.
func (t *Task) Result() *Result { return t.result }

func (t *Task) Region() Region { return t.region }

func (t *Task) Base() uint64 { return t.base }

func (t *Task) Config() arch.Config { return t.cfg }

// Partial reports whether the run stopped because the decoder could not make
// progress, leaving Remainder bytes of the region undecoded.
func (t *Task) Partial() bool { return t.stalled.Load() }

func (t *Task) Remainder() uint64 { return t.remainder.Load() }

// Engine drives decoding of a region through a configured decoder. At most one
// run is active per engine; starting another cancels the previous one.
type Engine struct {
	mu      sync.Mutex
	cfg     arch.Config
	dec     decoder.Decoder
	current *Task

	open       OpenFunc
	decOpts    []decoder.Option
	host       *task.Manager
	window     int
	logger     *log.Logger
	onProgress func(processed, total uint64)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWindowSize sets the window size, raised to MinWindowSize if smaller.
func WithWindowSize(n int) Option {
	return func(e *Engine) {
		if n < MinWindowSize {
			n = MinWindowSize
		}
		e.window = n
	}
}

func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithHost(m *task.Manager) Option { return func(e *Engine) { e.host = m } }

// WithProgressFunc observes progress of every run.
func WithProgressFunc(fn func(processed, total uint64)) Option {
	return func(e *Engine) { e.onProgress = fn }
}

// WithDecoderOptions are passed to every decoder the engine opens.
func WithDecoderOptions(opts ...decoder.Option) Option {
	return func(e *Engine) { e.decOpts = append(e.decOpts, opts...) }
}

// WithOpener replaces decoder.Open.
func WithOpener(fn OpenFunc) Option { return func(e *Engine) { e.open = fn } }

// New returns an unconfigured engine.
func New(opts ...Option) *Engine {
	e := &Engine{open: decoder.Open, window: DefaultWindowSize}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.host == nil {
		e.host = task.NewManager(e.logger)
	}
	return e
}

// WindowSize returns the configured window size.
func (e *Engine) WindowSize() int { return e.window }

// Configure opens a decoder for cfg. On failure the engine keeps its previous
// configuration and the error is a *decoder.ConfigError.
func (e *Engine) Configure(cfg arch.Config) error {
	cfg = cfg.Normalize()
	dec, err := e.open(cfg, e.decOpts...)
	if err != nil {
		if !decoder.IsConfigError(err) {
			err = &decoder.ConfigError{Config: cfg, Err: err}
		}
		e.logger.Warn("Configuration rejected", "config", cfg, "error", err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.dec != nil {
		if err := e.dec.Close(); err != nil {
			e.logger.Warn("Failed to close decoder", "config", e.cfg, "error", err)
		}
	}
	e.dec = dec
	e.cfg = cfg
	e.logger.Debug("Configured", "config", cfg, "bits", fmt.Sprintf("%#x", cfg.Bits()))
	return nil
}

// Config returns the active configuration, if any.
func (e *Engine) Config() (arch.Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg, e.dec != nil
}

// Disassemble cancels any previous run and starts decoding region of src in
// the background. Addresses start at base. The returned task is Running.
func (e *Engine) Disassemble(ctx context.Context, src source.Source, region Region, base uint64) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dec == nil {
		return nil, &decoder.ConfigError{Err: decoder.ErrNotConfigured}
	}
	size := src.Size()
	if size < 0 {
		return nil, fmt.Errorf("%w: source size %d", ErrInvalidRegion, size)
	}
	if err := region.Check(uint64(size)); err != nil {
		return nil, err
	}

	e.stopLocked()

	t := &Task{result: newResult(), region: region, base: base, cfg: e.cfg}
	dec, window := e.dec, e.window
	e.logger.Debug("Disassembling", "config", e.cfg, "region", region, "base", fmt.Sprintf("%#x", base), "window", window)
	t.Task = e.host.Submit(ctx, "disassemble", region.Size, func(ctx context.Context, ht *task.Task) error {
		return e.run(ctx, ht, t, src, dec, window)
	}, task.WithProgressFunc(e.onProgress))
	e.current = t
	return t, nil
}

// Current returns the most recent run, or nil.
func (e *Engine) Current() *Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Cancel requests the current run to stop at its next window boundary.
func (e *Engine) Cancel() {
	if t := e.Current(); t != nil {
		t.Cancel()
	}
}

// Close stops the current run and releases the decoder.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	if e.dec == nil {
		return nil
	}
	err := e.dec.Close()
	e.dec = nil
	return err
}

// stopLocked cancels the current run and waits for it to leave the decoder.
func (e *Engine) stopLocked() {
	if e.current == nil {
		return
	}
	e.current.Cancel()
	<-e.current.Done()
	e.current = nil
}

func (e *Engine) run(ctx context.Context, ht *task.Task, t *Task, src source.Source, dec decoder.Decoder, window int) error {
	cur := newCursor(t.region, t.base, window)
	res := t.result

	for !cur.done() {
		if err := ctx.Err(); err != nil {
			return err
		}

		code, err := cur.read(src)
		if err != nil {
			return fmt.Errorf("read window: %w", err)
		}
		if len(code) == 0 {
			e.logger.Warn("Source exhausted before region end", "offset", fmt.Sprintf("%#x", cur.offset), "remaining", cur.remaining())
			break
		}

		insts, consumed := dec.Decode(code, cur.address())
		if consumed <= 0 {
			t.remainder.Store(cur.remaining())
			t.stalled.Store(true)
			e.logger.Info("Decoder stalled", "offset", fmt.Sprintf("%#x", cur.offset), "remaining", cur.remaining())
			break
		}
		if consumed > len(code) {
			consumed = len(code)
		}

		for _, in := range insts {
			if in.Offset < 0 || in.Size <= 0 || in.Offset+in.Size > consumed {
				break
			}
			raw := make([]byte, in.Size)
			copy(raw, code[in.Offset:in.Offset+in.Size])
			res.append(Instruction{
				Address:  cur.address() + uint64(in.Offset),
				Offset:   cur.offset + uint64(in.Offset),
				Size:     uint32(in.Size),
				Mnemonic: in.Mnemonic,
				Operands: in.Operands,
				Bytes:    raw,
			})
		}
		res.publish()

		cur.advance(consumed)
		ht.Update(cur.processed())
	}
	return nil
}
