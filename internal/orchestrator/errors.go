package orchestrator

import (
	"errors"
	"fmt"

	"github.com/uprootiny/manicctl/internal/scope"
)

// Policy errors. Every one is raised before any network call and is
// cleared by operator action.
var (
	// ErrPanic is returned while panic mode is engaged.
	ErrPanic = errors.New("panic mode active")

	// ErrBreakerOpen is returned when a breaker denies the route.
	ErrBreakerOpen = errors.New("breaker open")

	// ErrCapabilityMissing is returned when the surface does not offer a route.
	ErrCapabilityMissing = errors.New("capability missing")

	// ErrNoTargets is returned when a plan has no enabled targets.
	ErrNoTargets = errors.New("no enabled targets")

	ErrIntentNotLatched = scope.ErrIntentNotLatched
	ErrBudgetExceeded   = scope.ErrBudgetExceeded
	ErrCooldown         = scope.ErrCooldown
	ErrCycleLimit       = scope.ErrCycleLimit
	ErrDriftFreeze      = scope.ErrDriftFreeze
)

// PolicyError reports an operation rejected by a gate.
type PolicyError struct {
	Op     string // e.g. "autopilot", "pane/send"
	Reason string
	Err    error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s blocked: %s", e.Op, e.Reason)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func policy(op string, err error) *PolicyError {
	return &PolicyError{Op: op, Reason: err.Error(), Err: err}
}

// IsPolicy reports whether err was raised by a policy gate.
func IsPolicy(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}
