package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jask/fluxqc/internal/qcflag"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("24")).Foreground(lipgloss.Color("231"))
	gapStyle      = lipgloss.NewStyle().Faint(true)
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236"))
	dirtyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dialogStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	disabledStyle = lipgloss.NewStyle().Faint(true).Strikethrough(true)

	flagStyles = map[qcflag.Flag]lipgloss.Style{
		qcflag.Good:         lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		qcflag.AssumedGood:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		qcflag.Questionable: lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
		qcflag.Bad:          lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		qcflag.Fatal:        lipgloss.NewStyle().Foreground(lipgloss.Color("160")).Bold(true),
		qcflag.NeedsFlag:    lipgloss.NewStyle().Foreground(lipgloss.Color("201")),
		qcflag.Ignored:      gapStyle,
	}
)

func flagCell(f qcflag.Flag) string {
	if st, ok := flagStyles[f]; ok {
		return st.Render(f.Short())
	}
	return f.Short()
}
