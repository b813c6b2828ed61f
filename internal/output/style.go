package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Styles are the text styles shared by every command.
type Styles struct {
	r *lipgloss.Renderer

	Header lipgloss.Style
	OK     lipgloss.Style
	Warn   lipgloss.Style
	Error  lipgloss.Style
	Info   lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles builds styles for w. Color is dropped when noColor is set,
// NO_COLOR is set, or w is not a terminal.
func NewStyles(w io.Writer, noColor bool) *Styles {
	r := lipgloss.NewRenderer(w)
	if noColor || os.Getenv("NO_COLOR") != "" || !writerIsTTY(w) {
		r.SetColorProfile(termenv.Ascii)
	}
	return &Styles{
		r:      r,
		Header: r.NewStyle().Bold(true),
		OK:     r.NewStyle().Foreground(lipgloss.Color("#a6e3a1")),
		Warn:   r.NewStyle().Foreground(lipgloss.Color("#f9e2af")),
		Error:  r.NewStyle().Foreground(lipgloss.Color("#f38ba8")).Bold(true),
		Info:   r.NewStyle().Foreground(lipgloss.Color("#89b4fa")),
		Dim:    r.NewStyle().Foreground(lipgloss.Color("#6c7086")),
	}
}

// Colored reports whether the styles emit color.
func (s *Styles) Colored() bool {
	return s.r.ColorProfile() != termenv.Ascii
}

// Level styles a status word. Known good words render OK, known bad words
// render Error, middling words render Warn.
func (s *Styles) Level(word string) string {
	switch word {
	case "steady", "pass", "ok", "PASS", "primary", "closed":
		return s.OK.Render(word)
	case "strained", "secondary", "unknown", "fallback":
		return s.Warn.Render(word)
	case "critical", "fail", "FAIL", "quarantine", "open", "panic":
		return s.Error.Render(word)
	}
	return word
}

func writerIsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isTTY(f)
}
