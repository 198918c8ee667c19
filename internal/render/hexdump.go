package render

import (
	"fmt"
	"strings"

	"disview/internal/source"
)

const hexRow = 16

// Hexdump renders rows of 16 bytes around the selection [selStart, selEnd)
// read from src. Bytes inside the selection pass through highlight. The
// selection is centred when possible and rows are aligned to 16 bytes.
func Hexdump(src source.Source, selStart, selEnd uint64, rows int, highlight func(string) string) (string, error) {
	if rows <= 0 {
		return "", nil
	}
	if highlight == nil {
		highlight = func(s string) string { return s }
	}
	size := uint64(src.Size())
	if size == 0 {
		return "", nil
	}

	selRows := int((alignUp(selEnd) - alignDown(selStart)) / hexRow)
	before := uint64(0)
	if rows > selRows {
		before = uint64((rows - selRows) / 2)
	}
	start := alignDown(selStart)
	if back := before * hexRow; back < start {
		start -= back
	} else {
		start = 0
	}
	if start >= size {
		start = alignDown(size - 1)
	}

	buf := make([]byte, rows*hexRow)
	n, err := source.ReadFull(src, buf, int64(start))
	if err != nil {
		return "", err
	}
	buf = buf[:n]

	inSel := func(off uint64) bool { return off >= selStart && off < selEnd }

	var b strings.Builder
	for row := 0; row*hexRow < len(buf); row++ {
		line := buf[row*hexRow : min((row+1)*hexRow, len(buf))]
		base := start + uint64(row*hexRow)
		if row > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%08x  ", base)

		for i := 0; i < hexRow; i++ {
			if i == 8 {
				b.WriteByte(' ')
			}
			if i >= len(line) {
				b.WriteString("   ")
				continue
			}
			cell := fmt.Sprintf("%02X", line[i])
			if inSel(base + uint64(i)) {
				cell = highlight(cell)
			}
			b.WriteString(cell)
			b.WriteByte(' ')
		}

		b.WriteString(" |")
		for i, c := range line {
			ch := "."
			if c >= 0x20 && c < 0x7f {
				ch = string(rune(c))
			}
			if inSel(base + uint64(i)) {
				ch = highlight(ch)
			}
			b.WriteString(ch)
		}
		b.WriteByte('|')
	}
	return b.String(), nil
}

func alignDown(off uint64) uint64 { return off &^ (hexRow - 1) }

func alignUp(off uint64) uint64 { return alignDown(off + hexRow - 1) }
