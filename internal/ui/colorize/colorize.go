// Package colorize highlights assembly text for the terminal.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"disview/internal/arch"
	"disview/internal/decoder"
)

// Disabled reports whether DISVIEW_NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("DISVIEW_NO_COLOR") != ""
}

// Highlighter colours instruction text with one lexer.
type Highlighter struct {
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter chroma.Formatter
}

// lexerNames picks lexer candidates in order of preference.
func lexerNames(a arch.Architecture, syntax decoder.Syntax) []string {
	switch {
	case a == arch.X86 && syntax == decoder.SyntaxIntel:
		return []string{"nasm", "gas"}
	case a == arch.ARM || a == arch.ARM64:
		return []string{"armasm", "gas"}
	}
	return []string{"gas", "GAS", "nasm"}
}

// New returns a highlighter for the architecture and syntax. A nil
// Highlighter leaves text unchanged.
func New(a arch.Architecture, syntax decoder.Syntax) *Highlighter {
	if Disabled() {
		return nil
	}
	var lexer chroma.Lexer
	for _, name := range lexerNames(a, syntax) {
		if lexer = lexers.Get(name); lexer != nil {
			break
		}
	}
	if lexer == nil {
		return nil
	}
	return &Highlighter{
		lexer:     chroma.Coalesce(lexer),
		style:     getDisasmStyle(),
		formatter: getTerminalFormatter(),
	}
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	_ = DisviewDark
	for _, name := range []string{StyleName, "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Instruction colours one instruction. Errors fall back to the plain text.
func (h *Highlighter) Instruction(text string) string {
	if h == nil || text == "" {
		return text
	}
	iterator, err := h.lexer.Tokenise(nil, text)
	if err != nil {
		return text
	}
	var buf strings.Builder
	if err := h.formatter.Format(&buf, h.style, iterator); err != nil {
		return text
	}
	return strings.TrimRight(buf.String(), "\n")
}

// Address renders an address in gray.
func Address(s string) string {
	if Disabled() {
		return s
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m", s)
}

// StripANSI removes ANSI escape sequences.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false

	for _, r := range s {
		if r == '\x1b' {
			inEscape = true
		} else if inEscape {
			if r == 'm' {
				inEscape = false
			}
		} else {
			result.WriteRune(r)
		}
	}

	return result.String()
}
