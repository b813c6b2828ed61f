package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

// Text outputs plain text to the formatter's writer
func (f *Formatter) Text(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Textln outputs plain text with a newline to the formatter's writer
func (f *Formatter) Textln(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format+"\n", args...)
}

// Line outputs a blank line
func (f *Formatter) Line() {
	fmt.Fprintln(f.writer)
}

// Header prints a bold section title.
func (f *Formatter) Header(title string) {
	fmt.Fprintln(f.writer, f.styles.Header.Render(title))
}

// KV prints an aligned "key: value" line.
func (f *Formatter) KV(key string, value interface{}) {
	fmt.Fprintf(f.writer, "  %-14s %v\n", key+":", value)
}

// Lines prints each line wrapped to the formatter width, continuation
// lines indented under the first.
func (f *Formatter) Lines(lines []string) {
	for _, l := range lines {
		fmt.Fprintln(f.writer, Wrap(l, f.width-2, 2))
	}
}

// Wrap word-wraps s to width and indents continuation lines by hang
// columns.
func Wrap(s string, width, hang int) string {
	if width <= hang+10 {
		return s
	}
	wrapped := wordwrap.String(s, width-hang)
	first, rest, ok := strings.Cut(wrapped, "\n")
	if !ok {
		return wrapped
	}
	return first + "\n" + indent.String(rest, uint(hang))
}

// Table outputs tabular data in text format
type Table struct {
	writer  io.Writer
	headers []string
	rows    [][]string
	widths  []int
	styles  *Styles
}

// NewTable creates a new table with headers
func NewTable(w io.Writer, headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	return &Table{
		writer:  w,
		headers: headers,
		rows:    [][]string{},
		widths:  widths,
	}
}

// Table creates a table on the formatter's writer using its styles.
func (f *Formatter) Table(headers ...string) *Table {
	t := NewTable(f.writer, headers...)
	t.styles = f.styles
	return t
}

// AddRow adds a row to the table
func (t *Table) AddRow(cols ...string) {
	for i, c := range cols {
		if i < len(t.widths) {
			t.widths[i] = max(t.widths[i], runewidth.StringWidth(c))
		}
	}
	t.rows = append(t.rows, cols)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render outputs the table. Cells are padded by display width so wide
// runes stay aligned. Cells whose text is a known status word are styled.
func (t *Table) Render() {
	line := func(cells []string, style func(string) string) {
		var b strings.Builder
		b.WriteString("  ")
		for i, w := range t.widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded := runewidth.FillRight(cell, w)
			if style != nil {
				padded = style(cell) + padded[len(cell):]
			}
			b.WriteString(padded)
			if i < len(t.widths)-1 {
				b.WriteString("  ")
			}
		}
		fmt.Fprintln(t.writer, strings.TrimRight(b.String(), " "))
	}

	var level func(string) string
	if t.styles != nil && t.styles.Colored() {
		level = t.styles.Level
	}

	line(t.headers, nil)
	seps := make([]string, len(t.widths))
	for i, w := range t.widths {
		seps[i] = strings.Repeat("-", w)
	}
	line(seps, nil)
	for _, row := range t.rows {
		line(row, level)
	}
}

// Truncate truncates s to maxWidth display columns, adding "..." if needed
func Truncate(s string, maxWidth int) string {
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// Tail returns the last n non-empty lines of s.
func Tail(s string, n int) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Pluralize returns singular or plural form based on count
func Pluralize(count int, singular, plural string) string {
	if count == 1 {
		return singular
	}
	return plural
}

// CountStr returns "N item(s)" string
func CountStr(count int, singular, plural string) string {
	return fmt.Sprintf("%d %s", count, Pluralize(count, singular, plural))
}
