package cli

import (
	"errors"
	"io"
	"os"

	"github.com/uprootiny/manicctl/internal/orchestrator"
	"github.com/uprootiny/manicctl/internal/output"
	"github.com/uprootiny/manicctl/internal/panel"
)

func configError(err error) error {
	hint := output.HintConfigInvalid
	if errors.Is(err, os.ErrNotExist) {
		hint = output.HintConfigNotFound
	}
	e := output.NewCLIError("loading configuration").WithCause(err.Error()).WithHint(hint).WithCode("CONFIG")
	e.Err = err
	return e
}

// toCLIError maps an error onto a structured error with the fastest
// remediation the operator can take.
func toCLIError(err error) *output.CLIError {
	var ce *output.CLIError
	if errors.As(err, &ce) {
		return ce
	}

	e := output.NewCLIError(err.Error())
	e.Err = err
	var pe *orchestrator.PolicyError
	if errors.As(err, &pe) {
		e.Message = pe.Op + " blocked"
		e.Cause = pe.Reason
		e.Code = "POLICY"
	}

	switch {
	case errors.Is(err, orchestrator.ErrPanic):
		e.Hint = output.HintPanic
	case errors.Is(err, orchestrator.ErrBreakerOpen):
		e.Hint = output.HintBreakerOpen
	case errors.Is(err, orchestrator.ErrIntentNotLatched):
		e.Hint = output.HintLatchIntent
	case errors.Is(err, orchestrator.ErrBudgetExceeded):
		e.Hint = output.HintBudget
	case errors.Is(err, orchestrator.ErrCooldown):
		e.Hint = output.HintCooldown
	case errors.Is(err, orchestrator.ErrCycleLimit):
		e.Hint = output.HintCycleLimit
	case errors.Is(err, orchestrator.ErrDriftFreeze):
		e.Hint = output.HintDriftFreeze
	case errors.Is(err, orchestrator.ErrCapabilityMissing), errors.Is(err, panel.ErrMissingRoute):
		e.Hint = output.HintMissingRoute
	case errors.Is(err, panel.ErrInvalidBaseURL):
		e.Code = "CONFIG"
		e.Hint = "Pass a base URL like http://127.0.0.1:8788"
	case panel.IsServerUnavailable(err), panel.IsTimeout(err):
		e.Code = "UNREACHABLE"
		e.Hint = output.HintUnreachable
	case panel.IsTransport(err):
		e.Code = "TRANSPORT"
	}
	return e
}

func printError(stdout, stderr io.Writer, err error) {
	_ = output.WriteCLIError(stdout, stderr, toCLIError(err), IsJSONOutput())
}
