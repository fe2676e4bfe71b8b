package replay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	taskStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var divider = dimStyle.Render(strings.Repeat("─", 60))

// Continuation lines line up with the content column of the timeline.
const indent = "     │              │   "
