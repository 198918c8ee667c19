// Package render formats decoded instructions as text, JSON and hex dumps.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"disview/internal/disasm"
)

// BytesWidth is the column width of the instruction bytes, enough for six
// octets. Longer encodings overflow the column.
const BytesWidth = 17

// Columns configures Line.
type Columns struct {
	Offset bool
	Bytes  bool
	// Highlight colours the instruction text; nil leaves it plain.
	Highlight func(string) string
	// Address styles the address column; nil leaves it plain.
	Address func(string) string
}

// Line formats one instruction as "address  offset  bytes  text".
func Line(in disasm.Instruction, c Columns) string {
	var b strings.Builder
	addr := fmt.Sprintf("%016x", in.Address)
	if c.Address != nil {
		addr = c.Address(addr)
	}
	b.WriteString(addr)
	if c.Offset {
		fmt.Fprintf(&b, "  %08x", in.Offset)
	}
	if c.Bytes {
		fmt.Fprintf(&b, "  %-*s", BytesWidth, in.HexBytes())
	}
	text := in.Text()
	if c.Highlight != nil {
		text = c.Highlight(text)
	}
	b.WriteString("  ")
	b.WriteString(text)
	return b.String()
}

// Labeler names an address that starts a symbol.
type Labeler func(addr uint64) (string, bool)

// Text writes one line per instruction, with a "name:" line before every
// labelled address.
func Text(w io.Writer, insts []disasm.Instruction, c Columns, label Labeler) error {
	for _, in := range insts {
		if label != nil {
			if name, ok := label(in.Address); ok {
				if _, err := fmt.Fprintf(w, "\n%s:\n", name); err != nil {
					return err
				}
			}
		}
		if _, err := fmt.Fprintln(w, Line(in, c)); err != nil {
			return err
		}
	}
	return nil
}

// JSONInstruction is the JSON form of one instruction.
type JSONInstruction struct {
	Address  string `json:"address"`
	Offset   uint64 `json:"offset"`
	Size     uint32 `json:"size"`
	Bytes    string `json:"bytes"`
	Mnemonic string `json:"mnemonic"`
	Operands string `json:"operands,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
}

// JSONOutput is the document written by --json.
type JSONOutput struct {
	Source       string            `json:"source"`
	Config       string            `json:"config"`
	Start        uint64            `json:"start"`
	Size         uint64            `json:"size"`
	Base         string            `json:"base"`
	State        string            `json:"state"`
	Partial      bool              `json:"partial"`
	Remainder    uint64            `json:"remainder,omitempty"`
	Error        string            `json:"error,omitempty"`
	Instructions []JSONInstruction `json:"instructions"`
}

// NewJSONOutput builds the document for a finished run.
func NewJSONOutput(sourceName string, t *disasm.Task, label Labeler) JSONOutput {
	region := t.Region()
	out := JSONOutput{
		Source:    sourceName,
		Config:    t.Config().String(),
		Start:     region.Start,
		Size:      region.Size,
		Base:      fmt.Sprintf("%#x", t.Base()),
		State:     t.State().String(),
		Partial:   t.Partial(),
		Remainder: t.Remainder(),
	}
	if err := t.Err(); err != nil {
		out.Error = err.Error()
	}
	insts := t.Result().Snapshot()
	out.Instructions = make([]JSONInstruction, 0, len(insts))
	for _, in := range insts {
		ji := JSONInstruction{
			Address:  fmt.Sprintf("%#x", in.Address),
			Offset:   in.Offset,
			Size:     in.Size,
			Bytes:    strings.ReplaceAll(in.HexBytes(), " ", ""),
			Mnemonic: in.Mnemonic,
			Operands: in.Operands,
		}
		if label != nil {
			ji.Symbol, _ = label(in.Address)
		}
		out.Instructions = append(out.Instructions, ji)
	}
	return out
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
