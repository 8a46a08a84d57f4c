package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// channel is one stochastic reaction channel.
type channel struct {
	reaction int
	// dir is +1 for the written direction, -1 for the reverse.
	dir float64
	// mass-action channels use combinatorial propensities over reactants.
	mass      bool
	k         float64
	reactants []term
	// net channels take their propensity from the rate law; sign picks the
	// direction at each event.
}

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
}

func stochasticChannels(sys *System, omega float64) ([]channel, error) {
	var chans []channel
	for j, law := range sys.laws {
		if law.rate == nil {
			continue
		}
		r := sys.net.ReactionAt(j)
		for _, st := range sys.stoich[j] {
			if st.coef != math.Trunc(st.coef) {
				return nil, invalidKinetics("%q: stochastic simulation needs integer stoichiometry", r.ID())
			}
		}
		if law.mass == nil {
			chans = append(chans, channel{reaction: j, dir: 1})
			continue
		}
		subs, prods := sides(sys.net, r, nil)
		if law.mass.Forward > 0 {
			chans = append(chans, channel{reaction: j, dir: 1, mass: true, k: scaledConstant(law.mass.Forward, subs, omega), reactants: subs})
		}
		if law.mass.Reverse > 0 {
			chans = append(chans, channel{reaction: j, dir: -1, mass: true, k: scaledConstant(law.mass.Reverse, prods, omega), reactants: prods})
		}
	}
	return chans, nil
}

// scaledConstant converts a concentration rate constant of the given
// reaction order to copy-number units: k·Ω^(1-order).
func scaledConstant(k float64, reactants []term, omega float64) float64 {
	order := 0.0
	for _, tm := range reactants {
		order += tm.order
	}
	return k * math.Pow(omega, 1-order)
}

// fallingFactorial returns n(n-1)...(n-k+1), zero once n < k.
func fallingFactorial(n, k float64) float64 {
	p := 1.0
	for i := 0.0; i < k; i++ {
		if n-i <= 0 {
			return 0
		}
		p *= n - i
	}
	return p
}

// gillespie runs the direct method. Copy numbers are round(conc·Ω) and
// samples report n/Ω.
func gillespie(ctx context.Context, sys *System, o Options) (*Trajectory, error) {
	omega := o.SystemSize
	chans, err := stochasticChannels(sys, omega)
	if err != nil {
		return nil, err
	}
	m, n := sys.net.Shape()
	rec := newRecorder(sys, Stochastic, o.Seed, false, o.OnSample)
	rng := newRNG(o.Seed)

	counts := make([]float64, m)
	for i, c := range sys.initial {
		counts[i] = math.Round(c * omega)
	}
	conc := make([]float64, m)
	toConc := func() []float64 {
		for i, v := range counts {
			conc[i] = v / omega
		}
		return conc
	}
	rates := make([]float64, n)
	props := make([]float64, len(chans))
	dirs := make([]float64, len(chans))

	t := o.Start
	rec.emit(t, toConc(), nil)
	var grid *sampleGrid
	if o.SampleInterval > 0 {
		grid = &sampleGrid{start: o.Start, end: o.End, dt: o.SampleInterval, k: 1}
	}
	diverged := func(reason DivergenceReason, at float64, detail string) error {
		return &SimulationDivergedError{Reason: reason, Time: at, Detail: detail, Partial: rec.snapshot()}
	}
	// flush records grid samples up to and including until.
	flush := func(until float64) {
		if grid == nil {
			return
		}
		for {
			g := grid.next()
			if g > until {
				return
			}
			if last, ok := rec.lastTime(); !ok || g > last {
				rec.emit(g, toConc(), nil)
			}
			grid.advance()
			if g == o.End {
				return
			}
		}
	}

	events := 0
	for {
		if err := ctx.Err(); err != nil {
			return rec.snapshot(), err
		}
		a0, err := propensities(sys, chans, toConc(), t, omega, rates, props, dirs)
		if err != nil {
			return nil, err
		}
		if !finite(a0) {
			return nil, diverged(ReasonNonFinite, t, "propensity became non-finite")
		}
		if a0 == 0 {
			break
		}
		u := rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		tau := -math.Log(u) / a0
		if t+tau >= o.End {
			break
		}
		if events >= o.MaxSteps {
			return nil, diverged(ReasonStepBudget, t, fmt.Sprintf("event budget of %d exhausted", o.MaxSteps))
		}
		events++

		flush(t + tau)
		t += tau

		pick := rng.Float64() * a0
		c := len(chans) - 1
		for k, a := range props {
			if pick < a {
				c = k
				break
			}
			pick -= a
		}
		ch := chans[c]
		for _, st := range sys.stoich[ch.reaction] {
			if sys.clamped[st.idx] {
				continue
			}
			counts[st.idx] += dirs[c] * st.coef
			if counts[st.idx] < -o.NegativeEpsilon*omega {
				return nil, diverged(ReasonNegative, t,
					fmt.Sprintf("%q fell to %g copies", sys.net.SpeciesAt(st.idx).ID(), counts[st.idx]))
			}
		}
		if grid == nil {
			rec.emit(t, toConc(), nil)
		}
	}

	if grid != nil {
		flush(o.End)
	} else if last, _ := rec.lastTime(); last < o.End {
		rec.emit(o.End, toConc(), nil)
	}
	return rec.tr, nil
}

// propensities fills props and dirs for every channel and returns their sum.
func propensities(sys *System, chans []channel, conc []float64, t, omega float64, rates, props, dirs []float64) (float64, error) {
	haveRates := false
	a0 := 0.0
	for k, ch := range chans {
		if ch.mass {
			a := ch.k
			for _, tm := range ch.reactants {
				a *= fallingFactorial(math.Round(conc[tm.idx]*omega), tm.order)
			}
			props[k], dirs[k] = a, ch.dir
			a0 += a
			continue
		}
		if !haveRates {
			if err := sys.Rates(conc, t, rates); err != nil {
				return 0, err
			}
			haveRates = true
		}
		v := rates[ch.reaction]
		props[k] = omega * math.Abs(v)
		dirs[k] = 1
		if v < 0 {
			dirs[k] = -1
		}
		a0 += props[k]
	}
	return a0, nil
}
