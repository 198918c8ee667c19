// Package disasm defines the decoded instruction stream and the streaming
// engine that produces it from a byte source, one bounded window at a time.
package disasm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrInvalidRegion is returned for regions that do not fit in the source.
var ErrInvalidRegion = errors.New("invalid region")

// Region is a span of the source, by physical offset.
type Region struct {
	Start uint64
	Size  uint64
}

// End returns the first offset past the region.
func (r Region) End() uint64 { return r.Start + r.Size }

// Check verifies that r lies within a source of the given size.
func (r Region) Check(sourceSize uint64) error {
	if r.Start+r.Size < r.Start {
		return fmt.Errorf("%w: [%#x, +%#x) overflows", ErrInvalidRegion, r.Start, r.Size)
	}
	if r.End() > sourceSize {
		return fmt.Errorf("%w: [%#x, %#x) exceeds source size %#x", ErrInvalidRegion, r.Start, r.End(), sourceSize)
	}
	return nil
}

func (r Region) String() string { return fmt.Sprintf("[%#x, %#x)", r.Start, r.End()) }

// Instruction is a decoded instruction.
type Instruction struct {
	Address  uint64 // virtual address
	Offset   uint64 // physical offset in the source
	Size     uint32
	Mnemonic string
	Operands string
	Bytes    []byte
}

// Range returns the source byte range [start, end) the instruction occupies.
func (i Instruction) Range() (start, end uint64) {
	return i.Offset, i.Offset + uint64(i.Size)
}

// Text returns mnemonic and operands separated by a space.
func (i Instruction) Text() string {
	if i.Operands == "" {
		return i.Mnemonic
	}
	return i.Mnemonic + " " + i.Operands
}

const hexDigits = "0123456789ABCDEF"

// HexBytes renders the raw bytes as space separated two-digit hex octets.
func (i Instruction) HexBytes() string {
	if len(i.Bytes) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(i.Bytes)*3 - 1)
	for j, c := range i.Bytes {
		if j > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

// Result is the append-only instruction sequence of one run. A single writer
// appends; any number of readers may observe it concurrently. Entries are
// never modified once published.
type Result struct {
	published atomic.Pointer[[]Instruction]
	// writer-owned
	pending []Instruction
}

func newResult() *Result {
	r := &Result{}
	empty := []Instruction{}
	r.published.Store(&empty)
	return r
}

func (r *Result) append(in Instruction) {
	r.pending = append(r.pending, in)
}

// publish makes everything appended so far visible to readers.
func (r *Result) publish() {
	s := r.pending
	r.published.Store(&s)
}

// Snapshot returns the published entries. The slice is capacity clipped, so
// appending to it never touches the result.
func (r *Result) Snapshot() []Instruction {
	s := *r.published.Load()
	return s[:len(s):len(s)]
}

// Len returns the number of published entries.
func (r *Result) Len() int { return len(*r.published.Load()) }

// At returns entry i of the current snapshot.
func (r *Result) At(i int) Instruction { return (*r.published.Load())[i] }

// Find returns the index of the instruction covering the source offset off.
func (r *Result) Find(off uint64) (int, bool) {
	s := r.Snapshot()
	i := sort.Search(len(s), func(i int) bool {
		return s[i].Offset+uint64(s[i].Size) > off
	})
	if i < len(s) && s[i].Offset <= off {
		return i, true
	}
	return i, false
}
