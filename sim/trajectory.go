package sim

import "slices"

// Sample is one recorded point of a trajectory keyed by ID.
type Sample struct {
	Time           float64
	Concentrations map[string]float64
	// Rates holds reaction rates at the sample; nil for stochastic runs.
	Rates map[string]float64
}

// Trajectory is an immutable time series of network states. Times are
// strictly increasing and span the requested interval.
type Trajectory struct {
	mode        Mode
	seed        uint64
	speciesIDs  []string
	reactionIDs []string
	times       []float64
	states      [][]float64
	rates       [][]float64
}

func (tr *Trajectory) Mode() Mode { return tr.mode }

// Seed returns the random seed of a stochastic run.
func (tr *Trajectory) Seed() uint64 { return tr.seed }

func (tr *Trajectory) Len() int { return len(tr.times) }

func (tr *Trajectory) SpeciesIDs() []string  { return slices.Clone(tr.speciesIDs) }
func (tr *Trajectory) ReactionIDs() []string { return slices.Clone(tr.reactionIDs) }
func (tr *Trajectory) Times() []float64      { return slices.Clone(tr.times) }

// Start returns the first sample time; zero for an empty trajectory.
func (tr *Trajectory) Start() float64 {
	if len(tr.times) == 0 {
		return 0
	}
	return tr.times[0]
}

// End returns the last sample time.
func (tr *Trajectory) End() float64 {
	if len(tr.times) == 0 {
		return 0
	}
	return tr.times[len(tr.times)-1]
}

// State returns a copy of sample i in network species order.
func (tr *Trajectory) State(i int) []float64 { return slices.Clone(tr.states[i]) }

// Sample returns sample i keyed by ID.
func (tr *Trajectory) Sample(i int) Sample {
	s := Sample{Time: tr.times[i], Concentrations: make(map[string]float64, len(tr.speciesIDs))}
	for k, id := range tr.speciesIDs {
		s.Concentrations[id] = tr.states[i][k]
	}
	if tr.rates != nil {
		s.Rates = make(map[string]float64, len(tr.reactionIDs))
		for k, id := range tr.reactionIDs {
			s.Rates[id] = tr.rates[i][k]
		}
	}
	return s
}

// Final returns the last sample.
func (tr *Trajectory) Final() Sample { return tr.Sample(len(tr.times) - 1) }

// Series returns one species' concentration over time.
func (tr *Trajectory) Series(speciesID string) ([]float64, bool) {
	k := slices.Index(tr.speciesIDs, speciesID)
	if k < 0 {
		return nil, false
	}
	out := make([]float64, len(tr.states))
	for i, st := range tr.states {
		out[i] = st[k]
	}
	return out, true
}

// RateSeries returns one reaction's rate over time. Stochastic trajectories
// carry no rates.
func (tr *Trajectory) RateSeries(reactionID string) ([]float64, bool) {
	k := slices.Index(tr.reactionIDs, reactionID)
	if k < 0 || tr.rates == nil {
		return nil, false
	}
	out := make([]float64, len(tr.rates))
	for i, r := range tr.rates {
		out[i] = r[k]
	}
	return out, true
}

// recorder accumulates samples and forwards them to an optional hook.
type recorder struct {
	tr     *Trajectory
	onEmit func(t float64, state []float64)
}

func newRecorder(sys *System, mode Mode, seed uint64, withRates bool, onEmit func(float64, []float64)) *recorder {
	tr := &Trajectory{
		mode:        mode,
		seed:        seed,
		speciesIDs:  sys.net.SpeciesIDs(),
		reactionIDs: sys.net.ReactionIDs(),
	}
	if withRates {
		tr.rates = [][]float64{}
	}
	return &recorder{tr: tr, onEmit: onEmit}
}

func (r *recorder) emit(t float64, state, rates []float64) {
	st := slices.Clone(state)
	r.tr.times = append(r.tr.times, t)
	r.tr.states = append(r.tr.states, st)
	if r.tr.rates != nil {
		r.tr.rates = append(r.tr.rates, slices.Clone(rates))
	}
	if r.onEmit != nil {
		r.onEmit(t, slices.Clone(st))
	}
}

func (r *recorder) lastTime() (float64, bool) {
	if len(r.tr.times) == 0 {
		return 0, false
	}
	return r.tr.times[len(r.tr.times)-1], true
}

// snapshot returns the samples so far as an independent trajectory.
func (r *recorder) snapshot() *Trajectory {
	cp := *r.tr
	cp.times = slices.Clone(r.tr.times)
	cp.states = slices.Clone(r.tr.states)
	if r.tr.rates != nil {
		cp.rates = slices.Clone(r.tr.rates)
	}
	return &cp
}
