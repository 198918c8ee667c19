package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Table and pane styles for the viewer.
var (
	Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(charmtone.Zest.Hex())).
		Background(lipgloss.Color(charmtone.Charple.Hex())).
		Bold(true).
		Padding(0, 1)

	Address  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4F4F4F"))
	Offset   = lipgloss.NewStyle().Foreground(lipgloss.Color(LineNumber))
	Bytes    = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Squid.Hex()))
	Header   = lipgloss.NewStyle().Foreground(lipgloss.Color(Heading)).Bold(true)
	Selected = lipgloss.NewStyle().Background(lipgloss.Color("#264F78"))

	// HexSelection marks the bytes of the selected instruction in the hex pane.
	HexSelection = lipgloss.NewStyle().
			Foreground(lipgloss.Color(charmtone.Pepper.Hex())).
			Background(lipgloss.Color(InlineCode))

	MenuBar = lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Foreground(lipgloss.Color("252")).
		Padding(0, 1)

	Error   = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Cherry.Hex())).Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(lipgloss.Color(LineNumber))
	Spinner = lipgloss.NewStyle().Foreground(lipgloss.Color("170"))
)
