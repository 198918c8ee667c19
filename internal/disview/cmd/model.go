package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/textinput"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/log"

	"disview/internal/decoder"
	"disview/internal/disasm"
	"disview/internal/disview/styles"
	"disview/internal/render"
	"disview/internal/task"
	"disview/internal/ui/colorize"
)

const (
	pollInterval = 100 * time.Millisecond
	hexRows      = 4
)

type viewMode int

const (
	viewListing viewMode = iota
	viewSymbols
	viewInfo
)

type promptKind int

const (
	promptNone promptKind = iota
	promptBase
	promptGoto
)

var errNoRun = errors.New("nothing disassembled yet")

// startMsg starts a run from inside Update, where the model may change.
type startMsg struct{}

// pollMsg asks the model to look at task again. Polls for a replaced task
// are dropped.
type pollMsg struct{ task *disasm.Task }

func pollCmd(tk *disasm.Task) tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{task: tk} })
}

type symbolItem struct {
	address uint64
	name    string
}

func (i symbolItem) FilterValue() string { return i.name }

type symbolDelegate struct{}

func (d symbolDelegate) Height() int                               { return 1 }
func (d symbolDelegate) Spacing() int                              { return 0 }
func (d symbolDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d symbolDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(symbolItem)
	if !ok {
		return
	}
	indicator := " "
	addr := styles.Address.Render(fmt.Sprintf("%016x", i.address))
	if index == m.Index() {
		indicator = ">"
		addr = styles.Spinner.Render(fmt.Sprintf("%016x", i.address))
	}
	fmt.Fprintf(w, " %s  %s  %s", indicator, addr, i.name)
}

type model struct {
	ctx    context.Context
	engine *disasm.Engine
	sess   *session
	logger *log.Logger
	task   *disasm.Task

	info    viewport.Model
	symbols list.Model
	spinner spinner.Model
	input   textinput.Model

	mode   viewMode
	prompt promptKind
	cursor int
	top    int
	status string
	errMsg string
	width  int
	height int

	highlight *colorize.Highlighter
}

func newModel(ctx context.Context, s *session, logger *log.Logger) (model, error) {
	e, err := s.newEngine(logger)
	if err != nil {
		return model{}, err
	}

	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(23)

	var items []list.Item
	if s.img != nil {
		for _, sym := range s.img.Symbols {
			items = append(items, symbolItem{address: sym.Addr, name: sym.Name})
		}
	}
	symbols := list.New(items, symbolDelegate{}, 80, 23)
	symbols.SetShowStatusBar(false)
	symbols.SetFilteringEnabled(true)
	symbols.Title = "Symbols"
	symbols.Styles.Title = styles.Title

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	ti := textinput.New()
	ti.CharLimit = 18

	return model{
		ctx:       ctx,
		engine:    e,
		sess:      s,
		logger:    logger,
		info:      vp,
		symbols:   symbols,
		spinner:   sp,
		input:     ti,
		width:     80,
		height:    24,
		highlight: colorize.New(s.cfg.Arch, s.syntax),
	}, nil
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg { return startMsg{} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case startMsg:
		cmd = m.start()
		return m, cmd

	case pollMsg:
		if m.task == nil || msg.task != m.task {
			return m, nil
		}
		m.scroll()
		if m.task.Running() {
			return m, pollCmd(m.task)
		}
		m.status = summaryLine(m.task)
		if m.task.State() == task.Failed {
			m.errMsg = m.task.Err().Error()
		}
		m.updateInfo()
		return m, nil

	case spinner.TickMsg:
		if m.task == nil || !m.task.Running() {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.info.SetWidth(msg.Width)
		m.info.SetHeight(msg.Height - 1)
		m.symbols.SetWidth(msg.Width)
		m.symbols.SetHeight(msg.Height - 1)
		m.scroll()
		m.updateInfo()
		return m, nil

	case tea.KeyMsg:
		if m.prompt != promptNone {
			switch msg.String() {
			case "enter":
				return m.submitPrompt()
			case "esc":
				m.closePrompt()
				return m, nil
			}
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		if m.mode == viewSymbols && m.symbols.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		if next, cmd, handled := m.handleKey(msg.String()); handled {
			return next, cmd
		}
	}

	switch m.mode {
	case viewSymbols:
		m.symbols, cmd = m.symbols.Update(msg)
	case viewInfo:
		m.info, cmd = m.info.Update(msg)
	}
	return m, cmd
}

// handleKey applies a key press. Keys it does not handle are left to the
// active pane.
func (m model) handleKey(key string) (model, tea.Cmd, bool) {
	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit, true
	case "tab":
		next := (m.mode + 1) % 3
		if next == viewSymbols && len(m.symbols.Items()) == 0 {
			next = viewInfo
		}
		m.setMode(next)
		return m, nil, true
	case "i":
		if m.mode == viewInfo {
			m.setMode(viewListing)
		} else {
			m.setMode(viewInfo)
		}
		return m, nil, true
	case "s":
		if m.mode == viewSymbols {
			m.setMode(viewListing)
		} else {
			m.setMode(viewSymbols)
		}
		return m, nil, true
	case "c":
		m.cancel()
		return m, nil, true
	case "r":
		cmd := m.start()
		return m, cmd, true
	case "m":
		cmd := m.cycleMode()
		return m, cmd, true
	case "b":
		cmd := m.openPrompt(promptBase, fmt.Sprintf("%#x", m.sess.base))
		return m, cmd, true
	case "g":
		cmd := m.openPrompt(promptGoto, "")
		return m, cmd, true
	}

	switch m.mode {
	case viewSymbols:
		if key == "enter" {
			if it, ok := m.symbols.SelectedItem().(symbolItem); ok {
				m.jump(it.address)
				m.setMode(viewListing)
			}
			return m, nil, true
		}
		return m, nil, false
	case viewInfo:
		if key == "esc" {
			m.setMode(viewListing)
			return m, nil, true
		}
		return m, nil, false
	}

	rows := m.listRows()
	switch key {
	case "esc":
		m.cancel()
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "pgup":
		m.move(-rows)
	case "pgdown", "space", " ":
		m.move(rows)
	case "home":
		m.move(-m.count())
	case "end", "G":
		m.move(m.count())
	default:
		return m, nil, false
	}
	return m, nil, true
}

func (m *model) setMode(v viewMode) {
	if v == viewSymbols && len(m.symbols.Items()) == 0 {
		v = viewListing
		m.errMsg = "no symbols"
	}
	m.mode = v
	if v == viewInfo {
		m.updateInfo()
	}
}

// start replaces the current run with a fresh one over the session region.
func (m *model) start() tea.Cmd {
	tk, err := m.engine.Disassemble(m.ctx, m.sess.src, m.sess.region, m.sess.base)
	if err != nil {
		m.errMsg = err.Error()
		return nil
	}
	m.task = tk
	m.cursor, m.top = 0, 0
	m.errMsg = ""
	m.status = "disassembling " + m.sess.region.String()
	return tea.Batch(m.spinner.Tick, pollCmd(tk))
}

func (m *model) cancel() {
	if m.task == nil || !m.task.Running() {
		return
	}
	m.engine.Cancel()
	m.status = "cancelling"
}

// cycleMode switches to the next mode of the current architecture and
// restarts. A rejected mode leaves the old decoder in place.
func (m *model) cycleMode() tea.Cmd {
	next := m.sess.cfg.Next()
	if next == m.sess.cfg {
		m.errMsg = fmt.Sprintf("%s has no other mode", m.sess.cfg.Arch)
		return nil
	}
	if err := m.engine.Configure(next); err != nil {
		m.errMsg = err.Error()
		m.logger.Warn("Mode switch failed", "config", next, "error", err)
		return nil
	}
	m.sess.cfg = next
	m.highlight = colorize.New(next.Arch, m.sess.syntax)
	return m.start()
}

func (m *model) openPrompt(kind promptKind, value string) tea.Cmd {
	m.prompt = kind
	m.errMsg = ""
	if kind == promptBase {
		m.input.Prompt = "base: "
	} else {
		m.input.Prompt = "goto: "
	}
	m.input.Placeholder = "0x..."
	m.input.SetValue(value)
	return m.input.Focus()
}

func (m *model) closePrompt() {
	m.prompt = promptNone
	m.input.Blur()
	m.input.SetValue("")
}

func (m model) submitPrompt() (tea.Model, tea.Cmd) {
	kind, value := m.prompt, strings.TrimSpace(m.input.Value())
	m.closePrompt()

	name := "base"
	if kind == promptGoto {
		name = "goto"
	}
	v, err := parseUint(name, value)
	if err != nil {
		m.errMsg = err.Error()
		return m, nil
	}
	if kind == promptBase {
		m.sess.base = v
		cmd := m.start()
		return m, cmd
	}
	m.jump(v)
	return m, nil
}

// jump moves the cursor to the instruction covering addr.
func (m *model) jump(addr uint64) {
	if err := m.gotoAddress(addr); err != nil {
		m.errMsg = err.Error()
	}
}

func (m *model) gotoAddress(addr uint64) error {
	if m.task == nil {
		return errNoRun
	}
	r, base := m.task.Region(), m.task.Base()
	if addr < base || addr-base >= r.Size {
		return fmt.Errorf("address %#x outside %#x..%#x", addr, base, base+r.Size)
	}
	i, ok := m.task.Result().Find(r.Start + (addr - base))
	if !ok {
		return fmt.Errorf("address %#x not decoded", addr)
	}
	m.cursor = i
	m.scroll()
	return nil
}

func (m *model) count() int {
	if m.task == nil {
		return 0
	}
	return m.task.Result().Len()
}

// listRows is the height of the listing pane: everything except the header,
// column titles, hex pane, status line and menu bar.
func (m *model) listRows() int {
	return max(m.height-(2+hexRows+1+2), 1)
}

func (m *model) move(delta int) {
	m.cursor += delta
	m.scroll()
}

// scroll clamps the cursor and keeps it inside the visible rows.
func (m *model) scroll() {
	n := m.count()
	m.cursor = min(m.cursor, n-1)
	m.cursor = max(m.cursor, 0)
	rows := m.listRows()
	if m.cursor < m.top {
		m.top = m.cursor
	}
	if m.cursor >= m.top+rows {
		m.top = m.cursor - rows + 1
	}
}

func summaryLine(tk *disasm.Task) string {
	processed, total := tk.Progress()
	s := fmt.Sprintf("%s: %d instructions, %d/%d bytes in %s",
		tk.State(), tk.Result().Len(), processed, total, tk.Elapsed().Round(time.Millisecond))
	if tk.Partial() {
		s += fmt.Sprintf(", %d bytes left undecoded", tk.Remainder())
	}
	return s
}

func (m *model) updateInfo() {
	var b strings.Builder
	b.WriteString("# disview\n\n```\n")
	b.WriteString(strings.Join(m.sess.header(), "\n"))
	b.WriteString("\n```\n\n")

	if m.task != nil {
		processed, total := m.task.Progress()
		b.WriteString("## Run\n\n| | |\n|---|---|\n")
		fmt.Fprintf(&b, "| State | %s |\n", m.task.State())
		fmt.Fprintf(&b, "| Instructions | %d |\n", m.task.Result().Len())
		fmt.Fprintf(&b, "| Progress | %d / %d bytes (%.0f%%) |\n", processed, total, m.task.Fraction()*100)
		fmt.Fprintf(&b, "| Elapsed | %s |\n", m.task.Elapsed().Round(time.Millisecond))
		if m.task.Partial() {
			fmt.Fprintf(&b, "| Undecoded | %d bytes |\n", m.task.Remainder())
		}
		if err := m.task.Err(); err != nil && m.task.State() == task.Failed {
			fmt.Fprintf(&b, "| Error | `%s` |\n", err)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Decoder\n\n")
	fmt.Fprintf(&b, "- Config: `%s`\n", m.sess.cfg)
	fmt.Fprintf(&b, "- Syntax: `%s`\n", m.sess.syntax)
	fmt.Fprintf(&b, "- Window: %d bytes\n", m.engine.WindowSize())
	fmt.Fprintf(&b, "- Backends: %s\n", supportingBackends(m.sess.cfg))
	if m.sess.img != nil {
		fmt.Fprintf(&b, "\n## Image\n\n- Sections: %d executable\n- Symbols: %d\n",
			len(m.sess.img.ExecSections()), len(m.sess.img.Symbols))
	}

	rendered := styles.RenderMarkdown(b.String(), max(m.width-2, 20))
	m.info.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewSymbols:
		content = m.symbols.View()
	case viewInfo:
		content = m.info.View()
	default:
		content = m.listingView()
	}
	return content + "\n" + m.menuBar()
}

func (m model) listingView() string {
	clip := lipgloss.NewStyle().MaxWidth(max(m.width, 1))
	lines := make([]string, 0, m.height)

	lines = append(lines, clip.Render(m.headerLine()))
	cols := "address           offset    bytes              instruction"
	lines = append(lines, clip.Render(styles.Header.Render(cols)))

	var insts []disasm.Instruction
	if m.task != nil {
		insts = m.task.Result().Snapshot()
	}
	rows := m.listRows()
	for i := m.top; i < m.top+rows; i++ {
		if i >= len(insts) {
			lines = append(lines, "")
			continue
		}
		in := insts[i]
		var line string
		if i == m.cursor {
			line = styles.Selected.Render(render.Line(in, render.Columns{Offset: true, Bytes: true}))
		} else {
			line = render.Line(in, render.Columns{
				Offset:    true,
				Bytes:     true,
				Highlight: m.highlight.Instruction,
				Address:   func(s string) string { return styles.Address.Render(s) },
			})
		}
		if name, ok := m.sess.label(in.Address); ok {
			line += styles.Muted.Render("  <" + name + ">")
		}
		lines = append(lines, clip.Render(line))
	}

	lines = append(lines, clip.Render(styles.Header.Render(m.hexTitle(insts))))
	lines = append(lines, m.hexPane(insts)...)
	lines = append(lines, clip.Render(m.statusLine()))
	return strings.Join(lines, "\n")
}

func (m model) headerLine() string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("disview"))
	fmt.Fprintf(&b, " %s  %s  base %#x", m.sess.cfg, m.sess.region, m.sess.base)
	if m.sess.section != "" {
		fmt.Fprintf(&b, " (%s)", m.sess.section)
	}
	if m.task != nil {
		if m.task.Running() {
			fmt.Fprintf(&b, "  %s %3.0f%%", m.spinner.View(), m.task.Fraction()*100)
		} else {
			fmt.Fprintf(&b, "  %s", m.task.State())
		}
		fmt.Fprintf(&b, "  %d insns", m.task.Result().Len())
	}
	return b.String()
}

func (m model) hexTitle(insts []disasm.Instruction) string {
	if m.cursor >= len(insts) {
		return "bytes"
	}
	start, end := insts[m.cursor].Range()
	return fmt.Sprintf("bytes [%#x, %#x)", start, end)
}

func (m model) hexPane(insts []disasm.Instruction) []string {
	lines := make([]string, hexRows)
	if m.cursor >= len(insts) {
		return lines
	}
	start, end := insts[m.cursor].Range()
	dump, err := render.Hexdump(m.sess.src, start, end, hexRows, func(s string) string { return styles.HexSelection.Render(s) })
	if err != nil {
		lines[0] = styles.Error.Render(err.Error())
		return lines
	}
	copy(lines, strings.Split(strings.TrimSuffix(dump, "\n"), "\n"))
	return lines
}

func (m model) statusLine() string {
	switch {
	case m.prompt != promptNone:
		return m.input.View()
	case m.errMsg != "":
		return styles.Error.Render(m.errMsg)
	default:
		return styles.Muted.Render(m.status)
	}
}

func (m model) menuBar() string {
	var menu string
	switch m.mode {
	case viewSymbols:
		menu = "Enter: jump • /: filter • S: listing • Tab: cycle • Q: quit"
	case viewInfo:
		menu = "I: listing • Tab: cycle • Q: quit"
	default:
		menu = "↑/↓ move • G: goto • B: base • M: mode • R: restart • C: cancel • S: symbols • I: info • Q: quit"
		if m.sess.syntax == decoder.SyntaxIntel {
			menu = "Intel • " + menu
		}
	}
	return styles.MenuBar.Width(m.width).Render(menu)
}
