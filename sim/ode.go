package sim

import (
	"context"
	"fmt"
	"math"
)

type stepStatus int

const (
	stepAccepted stepStatus = iota
	stepRejected
	stepNonFinite
)

// integrator advances y in place by h when the step is accepted and
// suggests the next step size.
type integrator interface {
	attempt(t, h float64, y []float64) (stepStatus, float64, error)
}

func integrate(ctx context.Context, sys *System, o Options) (*Trajectory, error) {
	m, n := sys.net.Shape()
	span := o.End - o.Start
	rec := newRecorder(sys, Deterministic, 0, true, o.OnSample)
	rates := make([]float64, n)
	y := sys.Initial()
	t := o.Start

	if err := sys.Rates(y, t, rates); err != nil {
		return nil, err
	}
	rec.emit(t, y, rates)

	var (
		integ   integrator
		h       float64
		minStep float64
	)
	switch st := o.Stepper.(type) {
	case FixedStep:
		integ = newRK4(sys, m, n, st.Step)
		h = st.Step
	case AdaptiveStep:
		d := newDopri(sys, m, n, st, span)
		integ, h, minStep = d, d.initial, d.minStep
	default:
		return nil, invalidOptions("unsupported stepper %T", o.Stepper)
	}

	var grid *sampleGrid
	if o.SampleInterval > 0 {
		grid = &sampleGrid{start: o.Start, end: o.End, dt: o.SampleInterval, k: 1}
	}
	diverged := func(reason DivergenceReason, at float64, detail string) error {
		return &SimulationDivergedError{Reason: reason, Time: at, Detail: detail, Partial: rec.snapshot()}
	}

	steps := 0
	for t < o.End {
		if err := ctx.Err(); err != nil {
			return rec.snapshot(), err
		}
		if steps >= o.MaxSteps {
			return nil, diverged(ReasonStepBudget, t, fmt.Sprintf("step budget of %d exhausted", o.MaxSteps))
		}
		steps++

		target := o.End
		if grid != nil {
			target = grid.next()
		}
		hh := math.Min(h, target-t)
		landing := hh >= (target-t)-1e-12*span
		if landing {
			hh = target - t
		}
		hPrev := h
		status, next, err := integ.attempt(t, hh, y)
		if err != nil {
			return nil, err
		}
		h = next
		switch status {
		case stepNonFinite:
			if _, fixed := integ.(*rk4); fixed || h < minStep {
				return nil, diverged(ReasonNonFinite, t, "state or rates became non-finite")
			}
			continue
		case stepRejected:
			if h < minStep {
				return nil, diverged(ReasonStepUnderflow, t, fmt.Sprintf("step %g below minimum %g", h, minStep))
			}
			continue
		}

		if landing {
			t = target
			h = math.Max(h, hPrev)
		} else {
			t += hh
		}
		for i, v := range y {
			if !finite(v) {
				return nil, diverged(ReasonNonFinite, t, fmt.Sprintf("%q is %g", sys.net.SpeciesAt(i).ID(), v))
			}
			if v < -o.NegativeEpsilon {
				return nil, diverged(ReasonNegative, t, fmt.Sprintf("%q fell to %g", sys.net.SpeciesAt(i).ID(), v))
			}
		}
		if grid != nil && !landing {
			continue
		}
		if err := sys.Rates(y, t, rates); err != nil {
			return nil, err
		}
		rec.emit(t, y, rates)
		if grid != nil {
			grid.advance()
		}
	}
	return rec.tr, nil
}

type rk4 struct {
	sys            *System
	step           float64
	k1, k2, k3, k4 []float64
	tmp, rates     []float64
}

func newRK4(sys *System, m, n int, step float64) *rk4 {
	return &rk4{
		sys: sys, step: step,
		k1: make([]float64, m), k2: make([]float64, m), k3: make([]float64, m), k4: make([]float64, m),
		tmp: make([]float64, m), rates: make([]float64, n),
	}
}

func (r *rk4) attempt(t, h float64, y []float64) (stepStatus, float64, error) {
	f := r.sys.derivatives
	if err := f(y, t, r.rates, r.k1); err != nil {
		return 0, 0, err
	}
	axpy(r.tmp, y, h/2, r.k1)
	if err := f(r.tmp, t+h/2, r.rates, r.k2); err != nil {
		return 0, 0, err
	}
	axpy(r.tmp, y, h/2, r.k2)
	if err := f(r.tmp, t+h/2, r.rates, r.k3); err != nil {
		return 0, 0, err
	}
	axpy(r.tmp, y, h, r.k3)
	if err := f(r.tmp, t+h, r.rates, r.k4); err != nil {
		return 0, 0, err
	}
	bad := false
	for i := range y {
		y[i] += h / 6 * (r.k1[i] + 2*r.k2[i] + 2*r.k3[i] + r.k4[i])
		if !finite(y[i]) {
			bad = true
		}
	}
	if bad {
		return stepNonFinite, r.step, nil
	}
	return stepAccepted, r.step, nil
}

// axpy sets dst = y + a·x.
func axpy(dst, y []float64, a float64, x []float64) {
	for i := range dst {
		dst[i] = y[i] + a*x[i]
	}
}

// Dormand-Prince 5(4) tableau.
var (
	dpC = [7]float64{0, 1.0 / 5, 3.0 / 10, 4.0 / 5, 8.0 / 9, 1, 1}
	dpA = [7][6]float64{
		{},
		{1.0 / 5},
		{3.0 / 40, 9.0 / 40},
		{44.0 / 45, -56.0 / 15, 32.0 / 9},
		{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
		{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
		{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
	}
	// dpE is the difference between the fifth- and fourth-order weights.
	dpE = [7]float64{71.0 / 57600, 0, -71.0 / 16695, 71.0 / 1920, -17253.0 / 339200, 22.0 / 525, -1.0 / 40}
)

type dopri struct {
	sys              *System
	rtol, atol       float64
	minStep, maxStep float64
	initial          float64
	k                [7][]float64
	tmp, rates       []float64
	fsal             bool
	fsalT            float64
}

func newDopri(sys *System, m, n int, st AdaptiveStep, span float64) *dopri {
	d := &dopri{
		sys:     sys,
		rtol:    st.RelTol,
		atol:    st.AbsTol,
		minStep: st.MinStep,
		maxStep: st.MaxStep,
		initial: st.Initial,
		tmp:     make([]float64, m),
		rates:   make([]float64, n),
	}
	if d.rtol == 0 {
		d.rtol = 1e-6
	}
	if d.atol == 0 {
		d.atol = 1e-9
	}
	if d.maxStep == 0 {
		d.maxStep = span
	}
	if d.minStep == 0 {
		d.minStep = 1e-12 * span
	}
	if d.initial == 0 {
		d.initial = span / 100
	}
	d.initial = math.Min(d.initial, d.maxStep)
	for i := range d.k {
		d.k[i] = make([]float64, m)
	}
	return d
}

func (d *dopri) attempt(t, h float64, y []float64) (stepStatus, float64, error) {
	f := d.sys.derivatives
	if !d.fsal || d.fsalT != t {
		if err := f(y, t, d.rates, d.k[0]); err != nil {
			return 0, 0, err
		}
		d.fsal, d.fsalT = true, t
	}
	for s := 1; s < 7; s++ {
		for i := range y {
			acc := 0.0
			for p := 0; p < s; p++ {
				acc += dpA[s][p] * d.k[p][i]
			}
			d.tmp[i] = y[i] + h*acc
		}
		if err := f(d.tmp, t+dpC[s]*h, d.rates, d.k[s]); err != nil {
			return 0, 0, err
		}
	}
	// d.tmp now holds the fifth-order solution.
	sum := 0.0
	for i := range y {
		e := 0.0
		for s := 0; s < 7; s++ {
			e += dpE[s] * d.k[s][i]
		}
		sc := d.atol + d.rtol*math.Max(math.Abs(y[i]), math.Abs(d.tmp[i]))
		r := h * e / sc
		sum += r * r
	}
	norm := 0.0
	if len(y) > 0 {
		norm = math.Sqrt(sum / float64(len(y)))
	}
	if !finite(norm) {
		return stepNonFinite, h * 0.2, nil
	}
	if norm > 1 {
		return stepRejected, h * math.Max(0.2, 0.9*math.Pow(norm, -0.2)), nil
	}
	copy(y, d.tmp)
	d.k[0], d.k[6] = d.k[6], d.k[0]
	d.fsalT = t + h
	factor := 5.0
	if norm > 0 {
		factor = math.Min(5, math.Max(0.2, 0.9*math.Pow(norm, -0.2)))
	}
	return stepAccepted, math.Min(h*factor, d.maxStep), nil
}
