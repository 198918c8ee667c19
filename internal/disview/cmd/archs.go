package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"disview/internal/arch"
	"disview/internal/decoder"
	"disview/internal/disview/styles"
)

func newArchsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archs",
		Short: "List architectures, modes and features",
		Long:  "List every architecture with its modes, feature flags and the decoder backends that can open its default configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeArchs(cmd.OutOrStdout(), term.IsTerminal(os.Stdout.Fd()))
		},
	}
}

// archsMarkdown builds the architecture table.
func archsMarkdown() string {
	var b strings.Builder
	b.WriteString("# Architectures\n\n")
	b.WriteString("| Arch | Aliases | Modes | Features | Backends |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, v := range arch.Variants() {
		modes := "-"
		if names := v.ModeNames(); len(names) > 0 {
			modes = strings.Join(names, ", ")
		}
		features := "-"
		if v.Features != 0 {
			features = strings.Join(v.Features.Names(), ", ")
		}
		aliases := "-"
		if len(v.Aliases) > 0 {
			aliases = strings.Join(v.Aliases, ", ")
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
			v.Name, aliases, modes, features, supportingBackends(arch.Config{Arch: v.Arch}.Normalize()))
	}
	b.WriteString("\nSelect with `--arch NAME --mode MODE --feature FLAG` or in the config file.\n")
	return b.String()
}

func supportingBackends(cfg arch.Config) string {
	names := decoder.Supporting(cfg)
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

func writeArchs(w io.Writer, styled bool) error {
	md := archsMarkdown()
	if styled {
		md = styles.RenderMarkdown(md, 100)
	}
	_, err := io.WriteString(w, md)
	return err
}
