// Package sim simulates the dynamics of a reaction network, either as
// deterministic ODEs or as a stochastic jump process.
package sim

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/model"
)

const (
	// GasConstant in kJ/(mol·K).
	GasConstant = 8.314463e-3
	// StandardTemperature in kelvin.
	StandardTemperature = 298.15
	// DefaultKm is the Michaelis constant assumed where none is given.
	DefaultKm = 0.1
)

// Law is a reaction rate law. The set of laws is closed: MassAction,
// Convenience and Expression.
type Law interface {
	bind(net *core.Network, j int) (boundLaw, error)
}

type rateFunc func(c []float64, t float64) (float64, error)

type boundLaw struct {
	rate rateFunc
	// mass is set for mass-action laws, whose stochastic propensities are
	// combinatorial rather than derived from the rate.
	mass *MassAction
}

type term struct {
	idx   int
	order float64
}

func power(x, n float64) float64 {
	switch n {
	case 1:
		return x
	case 2:
		return x * x
	default:
		return math.Pow(x, n)
	}
}

func product(c []float64, terms []term) float64 {
	p := 1.0
	for _, tm := range terms {
		p *= power(c[tm.idx], tm.order)
	}
	return p
}

// sides splits a reaction's participants into substrate and product terms,
// skipping ignored species.
func sides(net *core.Network, r *model.Reaction, ignore []string) (subs, prods []term) {
	for _, p := range r.Participants() {
		if slices.Contains(ignore, p.Species.ID()) {
			continue
		}
		i, _ := net.SpeciesIndex(p.Species.ID())
		if p.Coefficient < 0 {
			subs = append(subs, term{idx: i, order: -p.Coefficient})
		} else {
			prods = append(prods, term{idx: i, order: p.Coefficient})
		}
	}
	return subs, prods
}

func checkConstant(reaction, name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return invalidKinetics("%q: %s must be finite and non-negative, got %g", reaction, name, v)
	}
	return nil
}

// MassAction is the law of mass action: Forward·∏[S]^n − Reverse·∏[P]^n.
type MassAction struct {
	Forward float64
	Reverse float64
}

func (m MassAction) bind(net *core.Network, j int) (boundLaw, error) {
	r := net.ReactionAt(j)
	if err := checkConstant(r.ID(), "forward rate constant", m.Forward); err != nil {
		return boundLaw{}, err
	}
	if err := checkConstant(r.ID(), "reverse rate constant", m.Reverse); err != nil {
		return boundLaw{}, err
	}
	if !r.Reversible() && m.Reverse != 0 {
		return boundLaw{}, invalidKinetics("%q is irreversible but has a reverse rate constant", r.ID())
	}
	subs, prods := sides(net, r, nil)
	kf, kr := m.Forward, m.Reverse
	law := m
	return boundLaw{
		rate: func(c []float64, _ float64) (float64, error) {
			v := kf * product(c, subs)
			if kr != 0 {
				v -= kr * product(c, prods)
			}
			return v, nil
		},
		mass: &law,
	}, nil
}

// Convenience is the convenience rate law of Liebermeister and Klipp, a
// generalised reversible Michaelis-Menten form:
//
//	v = E · act · inh · (kcat+ ∏ ã^n − kcat− ∏ b̃^n) / (∏(1+ã)^n + ∏(1+b̃)^n − 1)
//
// where ã and b̃ are substrate and product concentrations scaled by Km.
type Convenience struct {
	KcatForward float64
	KcatReverse float64
	// Km per participant; missing entries use DefaultKm.
	Km        map[string]float64
	DefaultKm float64
	// Activators and Inhibitors map species to their binding constants.
	Activators map[string]float64
	Inhibitors map[string]float64
	// Enzyme scales the rate. When zero, the concentration of the reaction's
	// catalyst species is used if it is in the network, otherwise 1.
	Enzyme float64
	// Ignore lists participants without kinetic effect, such as water.
	Ignore []string
}

func (cv Convenience) bind(net *core.Network, j int) (boundLaw, error) {
	r := net.ReactionAt(j)
	if err := checkConstant(r.ID(), "forward kcat", cv.KcatForward); err != nil {
		return boundLaw{}, err
	}
	if err := checkConstant(r.ID(), "reverse kcat", cv.KcatReverse); err != nil {
		return boundLaw{}, err
	}
	if !r.Reversible() && cv.KcatReverse != 0 {
		return boundLaw{}, invalidKinetics("%q is irreversible but has a reverse kcat", r.ID())
	}
	if err := checkConstant(r.ID(), "enzyme level", cv.Enzyme); err != nil {
		return boundLaw{}, err
	}
	defKm := cv.DefaultKm
	if defKm == 0 {
		defKm = DefaultKm
	}
	if defKm < 0 || math.IsNaN(defKm) || math.IsInf(defKm, 0) {
		return boundLaw{}, invalidKinetics("%q: default Km must be positive, got %g", r.ID(), defKm)
	}
	for _, id := range sortedKeys(cv.Km) {
		if _, ok := r.Coefficient(id); !ok {
			return boundLaw{}, invalidKinetics("%q: Km given for non-participant %q", r.ID(), id)
		}
		if k := cv.Km[id]; !(k > 0) || math.IsInf(k, 0) {
			return boundLaw{}, invalidKinetics("%q: Km for %q must be positive, got %g", r.ID(), id, k)
		}
	}

	subs, prods := sides(net, r, cv.Ignore)
	kmOf := func(tms []term) []float64 {
		out := make([]float64, len(tms))
		for k, tm := range tms {
			out[k] = defKm
			if v, ok := cv.Km[net.SpeciesAt(tm.idx).ID()]; ok {
				out[k] = v
			}
		}
		return out
	}
	kmS, kmP := kmOf(subs), kmOf(prods)
	acts, err := modifiers(net, r.ID(), "activator", cv.Activators)
	if err != nil {
		return boundLaw{}, err
	}
	inhs, err := modifiers(net, r.ID(), "inhibitor", cv.Inhibitors)
	if err != nil {
		return boundLaw{}, err
	}

	enzyme, catalyst := cv.Enzyme, -1
	if enzyme == 0 {
		enzyme = 1
		if i, ok := net.SpeciesIndex(r.Catalyst()); ok && r.Catalyst() != "" {
			catalyst = i
		}
	}
	kf, kr := cv.KcatForward, cv.KcatReverse

	return boundLaw{rate: func(c []float64, _ float64) (float64, error) {
		numF, numR := kf, kr
		denS, denP := 1.0, 1.0
		for k, tm := range subs {
			x := c[tm.idx] / kmS[k]
			numF *= power(x, tm.order)
			denS *= power(1+x, tm.order)
		}
		for k, tm := range prods {
			x := c[tm.idx] / kmP[k]
			numR *= power(x, tm.order)
			denP *= power(1+x, tm.order)
		}
		v := (numF - numR) / (denS + denP - 1)
		for _, a := range acts {
			x := c[a.idx] / a.k
			v *= x / (x + 1)
		}
		for _, in := range inhs {
			v /= c[in.idx]/in.k + 1
		}
		e := enzyme
		if catalyst >= 0 {
			e = c[catalyst]
		}
		return e * v, nil
	}}, nil
}

type modifier struct {
	idx int
	k   float64
}

func modifiers(net *core.Network, reaction, role string, consts map[string]float64) ([]modifier, error) {
	out := make([]modifier, 0, len(consts))
	for _, id := range sortedKeys(consts) {
		i, ok := net.SpeciesIndex(id)
		if !ok {
			return nil, invalidKinetics("%q: %s %q is not in the network", reaction, role, id)
		}
		k := consts[id]
		if !(k > 0) || math.IsInf(k, 0) {
			return nil, invalidKinetics("%q: %s constant for %q must be positive, got %g", reaction, role, id, k)
		}
		out = append(out, modifier{idx: i, k: k})
	}
	return out, nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ThermoParams drives ThermoConsistent. Nil pointers are unset.
type ThermoParams struct {
	// DeltaG is the standard Gibbs energy of reaction in kJ/mol.
	DeltaG float64
	Km     map[string]float64
	// DefaultKm applies to participants missing from Km; zero means 0.1.
	DefaultKm float64
	// Kv is the log velocity constant, ln √(kcat+ · kcat−).
	Kv          *float64
	KcatForward *float64
	KcatReverse *float64
	Activators  map[string]float64
	Inhibitors  map[string]float64
	// Temperature in kelvin; zero means 298.15.
	Temperature float64
	Ignore      []string
}

// ThermoConsistent derives convenience kinetics whose kcats satisfy the
// Haldane relationship for the reaction's ΔG:
//
//	−ΔG/RT = ln K = ln kcat+ − ln kcat− + Σ n ln Km
//
// Given kcats may be overridden to keep the pair consistent.
func ThermoConsistent(r *model.Reaction, p ThermoParams) (Convenience, error) {
	temp := p.Temperature
	if temp == 0 {
		temp = StandardTemperature
	}
	defKm := p.DefaultKm
	if defKm == 0 {
		defKm = DefaultKm
	}
	if !(temp > 0) || !(defKm > 0) || math.IsNaN(p.DeltaG) || math.IsInf(p.DeltaG, 0) {
		return Convenience{}, invalidKinetics("%q: invalid thermodynamic parameters", r.ID())
	}
	rt := GasConstant * temp

	km := make(map[string]float64)
	sumLnKm := 0.0
	for _, part := range r.Participants() {
		id := part.Species.ID()
		if slices.Contains(p.Ignore, id) {
			continue
		}
		k, ok := p.Km[id]
		if !ok {
			k = defKm
		}
		if !(k > 0) {
			return Convenience{}, invalidKinetics("%q: Km for %q must be positive, got %g", r.ID(), id, k)
		}
		km[id] = k
		sumLnKm += part.Coefficient * math.Log(k)
	}
	diff := -p.DeltaG/rt - sumLnKm

	var kv float64
	switch {
	case p.Kv != nil:
		kv = *p.Kv
	case p.KcatForward != nil && p.KcatReverse != nil:
		kv = (math.Log(*p.KcatForward) + math.Log(*p.KcatReverse)) / 2
	case p.KcatForward != nil:
		kv = math.Log(*p.KcatForward) - diff/2
	case p.KcatReverse != nil:
		kv = math.Log(*p.KcatReverse) + diff/2
	}
	if math.IsNaN(kv) || math.IsInf(kv, 0) {
		return Convenience{}, invalidKinetics("%q: kcats must be positive", r.ID())
	}

	return Convenience{
		KcatForward: math.Exp(kv + diff/2),
		KcatReverse: math.Exp(kv - diff/2),
		Km:          km,
		DefaultKm:   defKm,
		Activators:  p.Activators,
		Inhibitors:  p.Inhibitors,
		Ignore:      p.Ignore,
	}, nil
}

// Kinetics assigns rate laws and initial conditions to a network.
type Kinetics struct {
	// Laws by reaction ID. Reactions without a law do not proceed.
	Laws map[string]Law
	// Initial concentrations by species ID; missing species start at zero.
	Initial map[string]float64
	// Clamped species are held at their initial value.
	Clamped []string
}

type stoichTerm struct {
	idx  int
	coef float64
}

// System is a network compiled against its kinetics, ready to integrate.
// It is immutable and safe for concurrent runs.
type System struct {
	net     *core.Network
	laws    []boundLaw
	stoich  [][]stoichTerm
	clamped []bool
	initial []float64
}

// Compile binds kinetics to a network, checking every referenced ID and
// parameter.
func Compile(net *core.Network, kin Kinetics) (*System, error) {
	m, n := net.Shape()
	sys := &System{
		net:     net,
		laws:    make([]boundLaw, n),
		stoich:  make([][]stoichTerm, n),
		clamped: make([]bool, m),
		initial: make([]float64, m),
	}
	for _, id := range sortedLawKeys(kin.Laws) {
		j, ok := net.ReactionIndex(id)
		if !ok {
			return nil, invalidKinetics("law for unknown reaction %q", id)
		}
		law := kin.Laws[id]
		if law == nil {
			continue
		}
		b, err := law.bind(net, j)
		if err != nil {
			return nil, err
		}
		sys.laws[j] = b
	}
	for j := 0; j < n; j++ {
		for i, v := range net.Column(j) {
			if v != 0 {
				sys.stoich[j] = append(sys.stoich[j], stoichTerm{idx: i, coef: v})
			}
		}
	}
	for id, v := range kin.Initial {
		i, ok := net.SpeciesIndex(id)
		if !ok {
			return nil, invalidKinetics("initial value for unknown species %q", id)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, invalidKinetics("initial value for %q must be finite and non-negative, got %g", id, v)
		}
		sys.initial[i] = v
	}
	for _, id := range kin.Clamped {
		i, ok := net.SpeciesIndex(id)
		if !ok {
			return nil, invalidKinetics("clamped unknown species %q", id)
		}
		sys.clamped[i] = true
	}
	return sys, nil
}

func sortedLawKeys(m map[string]Law) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *System) Network() *core.Network { return s.net }

// Initial returns the initial state in network species order.
func (s *System) Initial() []float64 { return slices.Clone(s.initial) }

// Rates evaluates every reaction rate at state c and time t into out.
func (s *System) Rates(c []float64, t float64, out []float64) error {
	for j, law := range s.laws {
		if law.rate == nil {
			out[j] = 0
			continue
		}
		v, err := law.rate(c, t)
		if err != nil {
			return fmt.Errorf("rate of %q: %w", s.net.ReactionAt(j).ID(), err)
		}
		out[j] = v
	}
	return nil
}

// derivatives computes dc/dt = S·rates with clamped species held fixed.
func (s *System) derivatives(c []float64, t float64, rates, dc []float64) error {
	if err := s.Rates(c, t, rates); err != nil {
		return err
	}
	clear(dc)
	for j, terms := range s.stoich {
		v := rates[j]
		if v == 0 {
			continue
		}
		for _, st := range terms {
			dc[st.idx] += st.coef * v
		}
	}
	for i, held := range s.clamped {
		if held {
			dc[i] = 0
		}
	}
	return nil
}
