package output

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// StepStatus represents the outcome of a step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepSuccess
	StepWarning
	StepFailed
	StepSkipped
)

// Steps prints step-oriented progress for multi-step operations such as
// validation and healthy cycles.
type Steps struct {
	w         io.Writer
	styles    *Styles
	name      string
	status    StepStatus
	completed int
	total     int
	failed    int
	indent    string
}

// NewSteps creates a step tracker on w.
func NewSteps(w io.Writer, styles *Styles) *Steps {
	if styles == nil {
		styles = NewStyles(w, false)
	}
	return &Steps{w: w, styles: styles, indent: "  "}
}

// Steps creates a step tracker on the formatter's writer.
func (f *Formatter) Steps() *Steps {
	return NewSteps(f.writer, f.styles)
}

// SetTotal sets the expected total steps (for "1/N" display).
func (s *Steps) SetTotal(n int) *Steps {
	s.total = n
	return s
}

// Start begins a new step with the given name.
// Prints "name... " and waits for Done/Fail/Skip/Warn.
func (s *Steps) Start(name string) *Steps {
	if s.status == StepRunning {
		s.Done()
	}
	s.name = name
	s.status = StepRunning

	prefix := s.indent
	if s.total > 0 {
		s.completed++
		prefix += fmt.Sprintf("[%d/%d] ", s.completed, s.total)
	}
	fmt.Fprintf(s.w, "%s%s... ", prefix, name)
	return s
}

// Done marks the current step as successful.
func (s *Steps) Done() *Steps {
	return s.finish(StepSuccess, "OK", s.styles.OK, "")
}

// Fail marks the current step as failed with an optional reason.
func (s *Steps) Fail(reason string) *Steps {
	s.failed++
	return s.finish(StepFailed, "FAIL", s.styles.Error, reason)
}

// Skip marks the current step as skipped.
func (s *Steps) Skip(reason string) *Steps {
	return s.finish(StepSkipped, "SKIP", s.styles.Dim, reason)
}

// Warn marks the current step as completed with warnings.
func (s *Steps) Warn(reason string) *Steps {
	return s.finish(StepWarning, "WARN", s.styles.Warn, reason)
}

func (s *Steps) finish(st StepStatus, word string, style lipgloss.Style, reason string) *Steps {
	if s.status != StepRunning {
		return s
	}
	s.status = st
	line := style.Render("[" + word + "]")
	if reason != "" {
		line += " " + s.styles.Dim.Render(reason)
	}
	fmt.Fprintln(s.w, line)
	return s
}

// Status returns the current step's status.
func (s *Steps) Status() StepStatus {
	return s.status
}

// Failed returns how many steps failed.
func (s *Steps) Failed() int {
	return s.failed
}
