package sim

import "math"

// Mode selects deterministic or stochastic simulation.
type Mode string

const (
	Deterministic Mode = "deterministic"
	Stochastic    Mode = "stochastic"
)

// Stepper selects the ODE integrator: FixedStep or AdaptiveStep.
type Stepper interface {
	stepper()
}

// FixedStep integrates with classical fourth-order Runge-Kutta.
type FixedStep struct {
	Step float64
}

// AdaptiveStep integrates with Dormand-Prince 5(4) and error control. Zero
// fields take defaults: RelTol 1e-6, AbsTol 1e-9, MaxStep the whole span,
// MinStep 1e-12 of the span, Initial 1/100 of the span.
type AdaptiveStep struct {
	Initial float64
	RelTol  float64
	AbsTol  float64
	MinStep float64
	MaxStep float64
}

func (FixedStep) stepper()    {}
func (AdaptiveStep) stepper() {}

const (
	defaultMaxSteps        = 1_000_000
	defaultNegativeEpsilon = 1e-9
)

// Options configures one simulation run over [Start, End].
type Options struct {
	Mode  Mode
	Start float64
	End   float64
	// Stepper applies to deterministic runs; nil means AdaptiveStep{}.
	Stepper Stepper
	// SampleInterval records samples on a fixed grid from Start, always
	// including End. Zero records every step or event.
	SampleInterval float64
	// MaxSteps bounds integrator steps or stochastic events.
	MaxSteps int
	// NegativeEpsilon is how far below zero a concentration may fall before
	// the run is considered diverged.
	NegativeEpsilon float64
	// Seed and SystemSize apply to stochastic runs. SystemSize converts
	// concentrations to copy numbers; zero means 1.
	Seed       uint64
	SystemSize float64
	// OnSample is called with every recorded sample.
	OnSample func(t float64, state []float64)
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = Deterministic
	}
	if o.Stepper == nil {
		o.Stepper = AdaptiveStep{}
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = defaultMaxSteps
	}
	if o.NegativeEpsilon <= 0 {
		o.NegativeEpsilon = defaultNegativeEpsilon
	}
	if o.SystemSize == 0 {
		o.SystemSize = 1
	}
	return o
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (o Options) validate() error {
	if o.Mode != Deterministic && o.Mode != Stochastic {
		return invalidOptions("unknown mode %q", o.Mode)
	}
	if !finite(o.Start) || !finite(o.End) || !(o.End > o.Start) {
		return invalidOptions("need finite start < end, got [%g, %g]", o.Start, o.End)
	}
	if o.SampleInterval < 0 || !finite(o.SampleInterval) {
		return invalidOptions("sample interval must be non-negative, got %g", o.SampleInterval)
	}
	switch st := o.Stepper.(type) {
	case FixedStep:
		if !(st.Step > 0) || !finite(st.Step) {
			return invalidOptions("fixed step must be positive, got %g", st.Step)
		}
	case AdaptiveStep:
		for _, v := range []float64{st.Initial, st.RelTol, st.AbsTol, st.MinStep, st.MaxStep} {
			if v < 0 || !finite(v) {
				return invalidOptions("adaptive step parameters must be non-negative")
			}
		}
	}
	if o.Mode == Stochastic && (!(o.SystemSize > 0) || !finite(o.SystemSize)) {
		return invalidOptions("system size must be positive, got %g", o.SystemSize)
	}
	return nil
}

// sampleGrid yields the sample times of a fixed interval, ending exactly at
// end. Grid points within a tiny tolerance of end are merged into it.
type sampleGrid struct {
	start, end, dt float64
	k              int
}

func (g *sampleGrid) next() float64 {
	t := g.start + float64(g.k)*g.dt
	if t >= g.end-1e-9*g.dt {
		return g.end
	}
	return t
}

func (g *sampleGrid) advance() { g.k++ }
