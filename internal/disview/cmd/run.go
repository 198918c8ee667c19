package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"disview/internal/disasm"
	"disview/internal/render"
	"disview/internal/task"
)

// flushInterval paces how often the non-interactive listing drains new rows.
const flushInterval = 50 * time.Millisecond

func (s *session) header() []string {
	lines := []string{
		fmt.Sprintf("; %s", s.path),
		fmt.Sprintf("; %s", s.cfg),
	}
	region := fmt.Sprintf("; region %s base %#x", s.region, s.base)
	if s.section != "" {
		region += " (" + s.section + ")"
	}
	return append(lines, region)
}

// runNoTUI streams the listing to w while the engine decodes.
func runNoTUI(ctx context.Context, s *session, logger *log.Logger, w io.Writer) error {
	e, err := s.newEngine(logger)
	if err != nil {
		return err
	}
	defer e.Close()

	tk, err := e.Disassemble(ctx, s.src, s.region, s.base)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(w)
	defer out.Flush()
	for _, line := range s.header() {
		fmt.Fprintln(out, line)
	}

	cols := render.Columns{Offset: true, Bytes: true}
	printed := 0
	flush := func() error {
		snap := tk.Result().Snapshot()
		if err := render.Text(out, snap[printed:], cols, s.label); err != nil {
			return err
		}
		printed = len(snap)
		return nil
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-tk.Done():
			break loop
		case <-ticker.C:
			if err := flush(); err != nil {
				e.Cancel()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return summarize(out, tk)
}

// summarize writes the terminal state of tk as trailing comment lines and
// returns the failure, if any.
func summarize(w io.Writer, tk *disasm.Task) error {
	processed, total := tk.Progress()
	fmt.Fprintf(w, "; %s: %d instructions, %d/%d bytes in %s\n",
		tk.State(), tk.Result().Len(), processed, total, tk.Elapsed().Round(time.Millisecond))
	if tk.Partial() {
		fmt.Fprintf(w, "; %d bytes left undecoded\n", tk.Remainder())
	}
	if tk.State() == task.Failed {
		return fmt.Errorf("disassembly failed: %w", tk.Err())
	}
	return nil
}

// runJSON waits for the run to finish and writes it as one JSON document.
func runJSON(ctx context.Context, s *session, logger *log.Logger, w io.Writer) error {
	e, err := s.newEngine(logger)
	if err != nil {
		return err
	}
	defer e.Close()

	tk, err := e.Disassemble(ctx, s.src, s.region, s.base)
	if err != nil {
		return err
	}
	<-tk.Done()

	if err := render.WriteJSON(w, render.NewJSONOutput(s.path, tk, s.label)); err != nil {
		return err
	}
	if tk.State() == task.Failed {
		return fmt.Errorf("disassembly failed: %w", tk.Err())
	}
	return nil
}
