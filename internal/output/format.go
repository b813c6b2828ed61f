// Package output provides unified output formatting for text and JSON output.
// All commands should use this package for consistent output across the CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"
)

// Format represents the output format type
type Format int

const (
	// FormatText is human-readable formatted text (default)
	FormatText Format = iota
	// FormatJSON is machine-readable JSON output
	FormatJSON
)

// String returns the string representation of the format
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	default:
		return "text"
	}
}

// ParseFormat parses "text", "json" or "auto". Auto resolves against
// stdout.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		if IsTerminal() {
			return FormatText, nil
		}
		return FormatJSON, nil
	case "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown output format %q", s)
}

// Formatter handles output formatting for commands
type Formatter struct {
	format Format
	writer io.Writer
	pretty bool // For JSON: whether to indent
	styles *Styles
	width  int
}

// New creates a new Formatter with the given options
func New(opts ...Option) *Formatter {
	f := &Formatter{
		format: FormatText,
		writer: os.Stdout,
		pretty: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.styles == nil {
		f.styles = NewStyles(f.writer, false)
	}
	if f.width <= 0 {
		f.width = TerminalWidth()
	}
	return f
}

// Option is a functional option for Formatter
type Option func(*Formatter)

// WithFormat sets the output format
func WithFormat(format Format) Option {
	return func(f *Formatter) {
		f.format = format
	}
}

// WithJSON sets the output format to JSON
func WithJSON(enabled bool) Option {
	return func(f *Formatter) {
		if enabled {
			f.format = FormatJSON
		} else {
			f.format = FormatText
		}
	}
}

// WithWriter sets the output writer
func WithWriter(w io.Writer) Option {
	return func(f *Formatter) {
		f.writer = w
	}
}

// WithPretty sets whether JSON should be indented
func WithPretty(pretty bool) Option {
	return func(f *Formatter) {
		f.pretty = pretty
	}
}

// WithStyles sets the text styles.
func WithStyles(s *Styles) Option {
	return func(f *Formatter) {
		f.styles = s
	}
}

// WithWidth fixes the wrap width instead of asking the terminal.
func WithWidth(w int) Option {
	return func(f *Formatter) {
		f.width = w
	}
}

// Format returns the current output format
func (f *Formatter) Format() Format {
	return f.format
}

// IsJSON returns true if the output format is JSON
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Writer returns the output writer
func (f *Formatter) Writer() io.Writer {
	return f.writer
}

// Styles returns the text styles.
func (f *Formatter) Styles() *Styles {
	return f.styles
}

// Width returns the wrap width.
func (f *Formatter) Width() int {
	return f.width
}

// DetectFormat determines the output format.
// Priority: explicit flag > configured format (auto, text, json) > pipe
// detection.
func DetectFormat(jsonFlag bool, configured string) Format {
	if jsonFlag {
		return FormatJSON
	}
	f, err := ParseFormat(configured)
	if err != nil {
		f, _ = ParseFormat("auto")
	}
	return f
}

// IsTerminal returns true if stdout is a terminal
func IsTerminal() bool {
	return isTTY(os.Stdout)
}

func isTTY(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// TerminalWidth returns the stdout width, or 100 when it is not a terminal.
func TerminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 100
}
