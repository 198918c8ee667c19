package disasm

import (
	"disview/internal/source"
)

// cursor walks a region window by window. offset is the next physical offset
// to read; the matching virtual address is derived from base.
type cursor struct {
	region Region
	base   uint64
	offset uint64
	buf    []byte
}

func newCursor(region Region, base uint64, window int) *cursor {
	return &cursor{region: region, base: base, offset: region.Start, buf: make([]byte, window)}
}

func (c *cursor) done() bool { return c.offset >= c.region.End() }

func (c *cursor) address() uint64 { return c.base + (c.offset - c.region.Start) }

// processed is the number of region bytes behind the cursor.
func (c *cursor) processed() uint64 { return c.offset - c.region.Start }

// remaining is the number of region bytes not yet consumed.
func (c *cursor) remaining() uint64 { return c.region.End() - c.offset }

// read fills the window from the current offset. The window is shorter than
// the buffer near the end of the region or the source.
func (c *cursor) read(src source.Source) ([]byte, error) {
	n := uint64(len(c.buf))
	if rem := c.remaining(); rem < n {
		n = rem
	}
	got, err := source.ReadFull(src, c.buf[:n], int64(c.offset))
	if err != nil {
		return nil, err
	}
	return c.buf[:got], nil
}

// advance moves past the consumed bytes only. Unconsumed bytes at the end of
// the window are read again at the start of the next one.
func (c *cursor) advance(consumed int) {
	c.offset += uint64(consumed)
}
