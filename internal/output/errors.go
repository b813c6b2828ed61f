package output

import (
	"io"
	"strings"
)

// CLIError represents a structured CLI error with remediation hints.
type CLIError struct {
	Message string // What failed
	Cause   string // Why it failed (optional)
	Hint    string // Fastest command/action to fix it (optional)
	Code    string // Error code for programmatic handling (optional)
	Err     error  // Wrapped error (optional)
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLI error with just a message.
func NewCLIError(msg string) *CLIError {
	return &CLIError{Message: msg}
}

// WithCause adds a cause to the error.
func (e *CLIError) WithCause(cause string) *CLIError {
	e.Cause = cause
	return e
}

// WithHint adds a remediation hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// WithCode adds an error code to the error.
func (e *CLIError) WithCode(code string) *CLIError {
	e.Code = code
	return e
}

// ErrorResponse is the JSON shape of a failed command.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// FormatCLIError formats a CLIError for terminal output.
func FormatCLIError(e *CLIError, s *Styles) string {
	var sb strings.Builder

	sb.WriteString(s.Error.Render("Error: "))
	sb.WriteString(e.Message)
	if e.Code != "" {
		sb.WriteString(" ")
		sb.WriteString(s.Dim.Render("[" + e.Code + "]"))
	}
	sb.WriteString("\n")

	if e.Cause != "" {
		sb.WriteString(s.Dim.Render("  Cause: "))
		sb.WriteString(e.Cause)
		sb.WriteString("\n")
	}
	if e.Hint != "" {
		sb.WriteString(s.Info.Render("  Hint: "))
		sb.WriteString(e.Hint)
		sb.WriteString("\n")
	}
	return sb.String()
}

// WriteCLIError writes e as JSON to stdout in JSON mode, otherwise as
// styled text to stderr.
func WriteCLIError(stdout, stderr io.Writer, e *CLIError, jsonMode bool) error {
	if jsonMode {
		return WriteJSON(stdout, ErrorResponse{
			Error:   e.Message,
			Code:    e.Code,
			Details: e.Cause,
			Hint:    e.Hint,
		}, true)
	}
	_, err := io.WriteString(stderr, FormatCLIError(e, NewStyles(stderr, false)))
	return err
}

// Common error hints for frequent scenarios
var (
	HintConfigNotFound = "Run 'manicctl config init' to create a default configuration"
	HintConfigInvalid  = "Check config syntax with 'manicctl config show'"
	HintUnreachable    = "Run 'manicctl recon' to find a reachable surface, or pass --base-url"
	HintLatchIntent    = "Run 'manicctl scope latch \"<intent>\"' first"
	HintBudget         = "Run 'manicctl scope reset' to start a new attention budget"
	HintPanic          = "Run 'manicctl panic --clear' once the surface is safe"
	HintBreakerOpen    = "Wait for the cooldown or run 'manicctl breakers reset'"
	HintCooldown       = "Wait for the cooldown or lower it with 'manicctl throttle'"
	HintCycleLimit     = "Run 'manicctl scope reset' to allow more cycles"
	HintDriftFreeze    = "Drain the queue or raise scope drift_queue_depth"
	HintMissingRoute   = "Run 'manicctl validate' to see which routes the surface serves"
)
