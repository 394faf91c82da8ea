package output

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles holds the text styles used for terminal output.
type Styles struct {
	Bold    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	URL     lipgloss.Style
}

// Status values accepted by StatusLine.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPending = "pending"
	StatusStopped = "stopped"
)

// newStyles builds styles bound to w. Writers that are not terminals get the
// ASCII profile, so every style renders as plain text.
func newStyles(w io.Writer, isTTY bool, profile *termenv.Profile) *Styles {
	lr := lipgloss.NewRenderer(w)
	switch {
	case profile != nil:
		lr.SetColorProfile(*profile)
	case !isTTY:
		lr.SetColorProfile(termenv.Ascii)
	}

	return &Styles{
		Bold:    lr.NewStyle().Bold(true),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
		Success: lr.NewStyle().Foreground(lipgloss.Color("2")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("3")),
		Error:   lr.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Info:    lr.NewStyle().Foreground(lipgloss.Color("6")),
		URL:     lr.NewStyle().Foreground(lipgloss.Color("4")).Underline(true),
	}
}

func (s *Styles) statusIcon(status string) string {
	switch status {
	case StatusSuccess:
		return s.Success.Render("✓")
	case StatusFailed:
		return s.Error.Render("✗")
	case StatusPending:
		return s.Warning.Render("…")
	default:
		return s.Muted.Render("•")
	}
}
