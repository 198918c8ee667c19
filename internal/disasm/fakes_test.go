package disasm

import (
	"fmt"
	"io"
	"sync/atomic"

	"disview/internal/arch"
	"disview/internal/decoder"
)

// fixedDecoder decodes every size bytes as one instruction and consumes only
// whole instructions.
type fixedDecoder struct {
	size   int
	limit  int // instructions per call, 0 for unlimited
	closed atomic.Bool
}

func (d *fixedDecoder) Decode(code []byte, addr uint64) ([]decoder.Instruction, int) {
	var out []decoder.Instruction
	i := 0
	for i+d.size <= len(code) {
		if d.limit > 0 && len(out) == d.limit {
			break
		}
		out = append(out, decoder.Instruction{
			Offset:   i,
			Size:     d.size,
			Mnemonic: "op",
			Operands: fmt.Sprintf("%#x", addr+uint64(i)),
		})
		i += d.size
	}
	return out, i
}

func (d *fixedDecoder) Close() error {
	d.closed.Store(true)
	return nil
}

// lengthDecoder derives each instruction length from its first byte, like a
// variable-length ISA.
type lengthDecoder struct{}

func (lengthDecoder) Decode(code []byte, addr uint64) ([]decoder.Instruction, int) {
	var out []decoder.Instruction
	i := 0
	for i < len(code) {
		n := int(code[i]%5) + 1
		if i+n > len(code) {
			break
		}
		out = append(out, decoder.Instruction{
			Offset:   i,
			Size:     n,
			Mnemonic: fmt.Sprintf("op%d", n),
			Operands: fmt.Sprintf("%#x", addr+uint64(i)),
		})
		i += n
	}
	return out, i
}

func (lengthDecoder) Close() error { return nil }

type stallDecoder struct{ calls atomic.Int32 }

func (d *stallDecoder) Decode([]byte, uint64) ([]decoder.Instruction, int) {
	d.calls.Add(1)
	return nil, 0
}

func (d *stallDecoder) Close() error { return nil }

type panicDecoder struct{}

func (panicDecoder) Decode([]byte, uint64) ([]decoder.Instruction, int) {
	panic("native decoder crashed")
}

func (panicDecoder) Close() error { return nil }

// gatedDecoder announces each call on entered and then waits for release
// before decoding with next.
type gatedDecoder struct {
	next    decoder.Decoder
	entered chan struct{}
	release chan struct{}

	active    atomic.Int32
	overlaps  atomic.Int32
	gateCalls int
}

func newGatedDecoder(next decoder.Decoder, gateCalls int) *gatedDecoder {
	return &gatedDecoder{
		next:      next,
		entered:   make(chan struct{}, 64),
		release:   make(chan struct{}),
		gateCalls: gateCalls,
	}
}

func (d *gatedDecoder) Decode(code []byte, addr uint64) ([]decoder.Instruction, int) {
	if d.active.Add(1) > 1 {
		d.overlaps.Add(1)
	}
	defer d.active.Add(-1)

	if d.gateCalls > 0 {
		d.gateCalls--
		d.entered <- struct{}{}
		<-d.release
	}
	return d.next.Decode(code, addr)
}

func (d *gatedDecoder) Close() error { return d.next.Close() }

// staticOpener returns the decoder registered for an architecture.
func staticOpener(decs map[arch.Architecture]decoder.Decoder) OpenFunc {
	return func(cfg arch.Config, opts ...decoder.Option) (decoder.Decoder, error) {
		if err := cfg.Validate(); err != nil {
			return nil, &decoder.ConfigError{Config: cfg, Err: err}
		}
		d, ok := decs[cfg.Arch]
		if !ok {
			return nil, fmt.Errorf("%w: %s", decoder.ErrUnsupported, cfg)
		}
		return d, nil
	}
}

// faultySource fails every read at or past failAt.
type faultySource struct {
	data   []byte
	failAt int64
	err    error
}

func (s *faultySource) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.failAt {
		return 0, s.err
	}
	return copy(p, s.data[off:]), nil
}

func (s *faultySource) Size() int64 { return int64(len(s.data)) }

// truncatedSource claims size bytes but holds only data.
type truncatedSource struct {
	data []byte
	size int64
}

func (s *truncatedSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *truncatedSource) Size() int64 { return s.size }

// pattern returns n deterministic pseudo-random bytes.
func pattern(n int) []byte {
	b := make([]byte, n)
	x := uint32(2463534242)
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}
