package sim

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidKinetics = errors.New("invalid kinetics")
	ErrInvalidOptions  = errors.New("invalid simulation options")
	ErrDiverged        = errors.New("simulation diverged")
)

// DivergenceReason classifies a SimulationDivergedError.
type DivergenceReason string

const (
	ReasonNonFinite     DivergenceReason = "non_finite"
	ReasonStepUnderflow DivergenceReason = "step_underflow"
	ReasonStepBudget    DivergenceReason = "step_budget"
	ReasonNegative      DivergenceReason = "negative_concentration"
)

// SimulationDivergedError reports a run that could not continue. Partial
// holds every sample recorded before the failure.
type SimulationDivergedError struct {
	Reason  DivergenceReason
	Time    float64
	Detail  string
	Partial *Trajectory
}

func (e *SimulationDivergedError) Error() string {
	return fmt.Sprintf("simulation diverged at t=%g (%s): %s", e.Time, e.Reason, e.Detail)
}

func (e *SimulationDivergedError) Is(target error) bool { return target == ErrDiverged }

func invalidKinetics(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidKinetics, fmt.Sprintf(format, args...))
}

func invalidOptions(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOptions, fmt.Sprintf(format, args...))
}
