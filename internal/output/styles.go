package output

import "github.com/charmbracelet/lipgloss"

// Color palette. A single warm accent keeps the output readable on both
// light and dark terminals.
const (
	colorAccent  = "215" // Titles, scores
	colorWhite   = "255" // Primary text
	colorGray    = "245" // Paths, metadata
	colorDimGray = "238" // Separators
	colorGreen   = "114" // Success
	colorYellow  = "220" // Warnings
	colorRed     = "196" // Errors
)

// Styles holds the lipgloss styles used by the renderer.
type Styles struct {
	Title     lipgloss.Style
	Path      lipgloss.Style
	Heading   lipgloss.Style
	Score     lipgloss.Style
	Snippet   lipgloss.Style
	Separator lipgloss.Style
	Label     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Source    lipgloss.Style
}

// DefaultStyles returns the colored styles for terminal output.
func DefaultStyles() Styles {
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorWhite)),
		Path:      lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Heading:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Score:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)),
		Snippet:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorWhite)),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color(colorDimGray)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorGreen)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(colorYellow)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(colorRed)),
		Source:    lipgloss.NewStyle().Foreground(lipgloss.Color(colorGray)),
	}
}

// PlainStyles returns unstyled components for pipes, CI, and NO_COLOR.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Title:     plain,
		Path:      plain,
		Heading:   plain,
		Score:     plain,
		Snippet:   plain,
		Separator: plain,
		Label:     plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
		Source:    plain,
	}
}
