package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	dlog "disview/internal/disview/log"
	"disview/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "disview [file]",
		Short: "Terminal disassembly viewer",
		Long: `Disview decodes a region of a file into instructions and shows them as they
are decoded. ELF files are recognised: the architecture comes from the header and
the region defaults to .text. Any other file is treated as raw machine code.`,
		Example: `
# Browse the .text section of a binary
disview /bin/ls

# Raw AArch64 big-endian code loaded at 0x80000
disview --arch arm64 --feature big-endian --base 0x80000 kernel.bin

# Print 64 bytes from offset 0x1000 without the TUI
disview --no-tui --offset 0x1000 --size 64 firmware.bin

# Emit JSON
disview --json --section .init /bin/true
  `,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runRoot,
	}

	root.PersistentFlags().BoolP("debug", "d", false, "Debug")

	root.Flags().BoolP("help", "h", false, "Help")
	root.Flags().StringP("arch", "a", "", "Architecture (see 'disview archs')")
	root.Flags().StringP("mode", "m", "", "Primary mode of the architecture")
	root.Flags().StringSliceP("feature", "F", nil, "Feature flag, repeatable or comma separated")
	root.Flags().StringP("offset", "o", "", "Region start offset in the file")
	root.Flags().StringP("size", "s", "", "Region size in bytes (default: to end of file or section)")
	root.Flags().StringP("base", "b", "", "Virtual address of the first region byte")
	root.Flags().String("section", "", "ELF section to decode")
	root.Flags().IntP("window", "w", 0, "Bytes decoded per iteration")
	root.Flags().String("syntax", "", "Assembly syntax: gnu, intel or go")
	root.Flags().Bool("skip-data", false, "Emit .byte for undecodable bytes instead of stopping")
	root.Flags().String("backend", "", "Force a decoder backend")
	root.Flags().BoolP("no-tui", "n", false, "Print the listing without TUI")
	root.Flags().BoolP("json", "j", false, "Output the listing as JSON")
	root.Flags().StringP("config", "c", "", "Config file (default $DISVIEW_CONFIG or the user config dir)")
	root.Flags().String("cpuprofile", "", "Write CPU profile to file")
	root.Flags().String("memprofile", "", "Write memory profile to file")

	root.AddCommand(newArchsCmd(), newSchemaCmd(), newLogsCmd())
	return root
}

var rootCmd = newRootCmd()

func runRoot(cmd *cobra.Command, args []string) error {
	// Setup CPU profiling if requested
	cpuprofile, _ := cmd.Flags().GetString("cpuprofile")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	// Setup memory profiling if requested
	memprofile, _ := cmd.Flags().GetString("memprofile")
	if memprofile != "" {
		defer func() {
			f, err := os.Create(memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		}()
	}

	absPath, err := pathpkg.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	noTUI, _ := cmd.Flags().GetBool("no-tui")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	debug, _ := cmd.Flags().GetBool("debug")

	// Also use no-tui mode when output is being piped
	if !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}
	// Disable coloring when using --no-tui to avoid garbled output
	if noTUI || jsonOutput {
		os.Setenv("DISVIEW_NO_COLOR", "1")
	}
	if debug {
		os.Setenv("DISVIEW_LOG_LEVEL", "debug")
	}

	interactive := !noTUI && !jsonOutput
	logger := logging.NewLogger(interactive)
	defer logger.Close()
	if !interactive {
		dlog.Setup(os.Stderr, debug)
	}

	s, err := openSession(cmd, absPath)
	if err != nil {
		return err
	}
	defer s.Close()
	logger.Debug("Session", "file", s.path, "config", s.cfg, "region", s.region, "base", fmt.Sprintf("%#x", s.base), "elf", s.img != nil)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch {
	case jsonOutput:
		return runJSON(ctx, s, logger.Logger, cmd.OutOrStdout())
	case noTUI:
		return runNoTUI(ctx, s, logger.Logger, cmd.OutOrStdout())
	}

	m, err := newModel(ctx, s, logger.Logger)
	if err != nil {
		return err
	}
	defer m.engine.Close()

	// Set up the TUI.
	program := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil {
		slog.Error("TUI run error", "error", err)
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func Execute() {
	// Check if --no-tui or --json is present, or if output is being piped,
	// to bypass fang's markdown rendering
	noTUI := false
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			noTUI = true
			break
		}
	}
	if !noTUI && !term.IsTerminal(os.Stdout.Fd()) {
		noTUI = true
	}

	if noTUI {
		// Use cobra directly to avoid fang's automatic markdown rendering
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
	} else {
		if err := fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		); err != nil {
			os.Exit(1)
		}
	}
}
