// Package scenario loads YAML scenario files: an optional inline catalog, the
// network to build from it, kinetics and the analyses to run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/mosmo/analysis"
	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/sim"
)

var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is the decoded file.
type Scenario struct {
	Name       string             `yaml:"name" validate:"required"`
	Catalog    *kb.CatalogFile    `yaml:"catalog"`
	Network    NetworkSpec        `yaml:"network"`
	Kinetics   map[string]LawSpec `yaml:"kinetics" validate:"dive"`
	Initial    map[string]float64 `yaml:"initial"`
	Clamped    []string           `yaml:"clamped" validate:"dive,required"`
	Flux       *FluxSpec          `yaml:"flux"`
	Trace      *TraceSpec         `yaml:"trace"`
	Simulation *SimulationSpec    `yaml:"simulation"`
}

// NetworkSpec names the reactions to build from, or a pathway whose
// reactions are used.
type NetworkSpec struct {
	Reactions []string `yaml:"reactions" validate:"required_without=Pathway,excluded_with=Pathway,dive,required"`
	Pathway   string   `yaml:"pathway"`
}

// Law types.
const (
	LawMassAction    = "mass_action"
	LawConvenience   = "convenience"
	LawExpression    = "expression"
	LawThermodynamic = "thermodynamic"
)

type LawSpec struct {
	Type string `yaml:"type" validate:"oneof=mass_action convenience expression thermodynamic"`

	Forward float64 `yaml:"forward"`
	Reverse float64 `yaml:"reverse"`

	KcatForward float64            `yaml:"kcat_forward"`
	KcatReverse float64            `yaml:"kcat_reverse"`
	Km          map[string]float64 `yaml:"km"`
	DefaultKm   float64            `yaml:"default_km"`
	Activators  map[string]float64 `yaml:"activators"`
	Inhibitors  map[string]float64 `yaml:"inhibitors"`
	Enzyme      float64            `yaml:"enzyme"`
	Ignore      []string           `yaml:"ignore"`

	DeltaG      *float64 `yaml:"delta_g" validate:"required_if=Type thermodynamic"`
	Kv          *float64 `yaml:"kv"`
	Temperature float64  `yaml:"temperature"`

	Expr   string             `yaml:"expr" validate:"required_if=Type expression"`
	Params map[string]float64 `yaml:"params"`
}

type FluxSpec struct {
	Objective map[string]float64   `yaml:"objective"`
	Sense     string               `yaml:"sense" validate:"omitempty,oneof=maximize minimize"`
	Boundary  []string             `yaml:"boundary" validate:"dive,required"`
	Bounds    map[string]BoundSpec `yaml:"bounds"`
	Tolerance float64              `yaml:"tolerance" validate:"gte=0"`
}

// BoundSpec limits one reaction; a missing side is open.
type BoundSpec struct {
	Lower *float64 `yaml:"lower"`
	Upper *float64 `yaml:"upper"`
}

type TraceSpec struct {
	Source   string   `yaml:"source" validate:"required"`
	Target   string   `yaml:"target" validate:"required"`
	Ignore   []string `yaml:"ignore"`
	MaxSteps int      `yaml:"max_steps" validate:"gte=0"`
}

type SimulationSpec struct {
	Mode           string   `yaml:"mode" validate:"omitempty,oneof=deterministic stochastic"`
	Start          float64  `yaml:"start"`
	End            float64  `yaml:"end" validate:"gtfield=Start"`
	Step           StepSpec `yaml:"step"`
	SampleInterval float64  `yaml:"sample_interval" validate:"gte=0"`
	MaxSteps       int      `yaml:"max_steps" validate:"gte=0"`
	Seed           uint64   `yaml:"seed"`
	SystemSize     float64  `yaml:"system_size" validate:"gte=0"`
	// Seeds runs a stochastic ensemble, one member per seed.
	Seeds []uint64 `yaml:"seeds"`
}

type StepSpec struct {
	Type    string  `yaml:"type" validate:"omitempty,oneof=fixed adaptive"`
	Size    float64 `yaml:"size" validate:"required_if=Type fixed,gte=0"`
	Initial float64 `yaml:"initial" validate:"gte=0"`
	RelTol  float64 `yaml:"rtol" validate:"gte=0"`
	AbsTol  float64 `yaml:"atol" validate:"gte=0"`
	MinStep float64 `yaml:"min_step" validate:"gte=0"`
	MaxStep float64 `yaml:"max_step" validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Load decodes and validates a scenario. Unknown keys are rejected.
func Load(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidScenario)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	if err := validate.Struct(&sc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("%w: %s fails %q", ErrInvalidScenario, fe.Namespace(), fe.Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return &sc, nil
}

// LoadFile loads a scenario from disk.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	defer f.Close()
	sc, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Built is a scenario resolved into engine inputs. Optional analyses are nil
// when the scenario does not ask for them.
type Built struct {
	Name       string
	Network    *core.Network
	Kinetics   sim.Kinetics
	Flux       *analysis.FluxProblem
	Trace      *TraceQuery
	Simulation *sim.Options
	Seeds      []uint64
}

// TraceQuery is a pathway trace to run against the network.
type TraceQuery struct {
	Source, Target string
	Options        analysis.TraceOptions
}

// Build resolves the network through the inline catalog layered over
// fallback, which may be nil, and converts the kinetics and analysis
// settings.
func (sc *Scenario) Build(ctx context.Context, fallback kb.Catalog, opts ...kb.ResolverOption) (*Built, error) {
	var chain kb.Chain
	if sc.Catalog != nil {
		inline := kb.NewKnowledgeBase()
		if _, err := inline.Load(sc.Catalog); err != nil {
			return nil, fmt.Errorf("scenario %q catalog: %w", sc.Name, err)
		}
		chain = append(chain, inline)
	}
	if fallback != nil {
		chain = append(chain, fallback)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %q has no catalog", ErrInvalidScenario, sc.Name)
	}
	res := kb.NewResolver(chain, opts...)

	net, err := sc.buildNetwork(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("scenario %q network: %w", sc.Name, err)
	}
	kin, err := sc.kinetics(net)
	if err != nil {
		return nil, fmt.Errorf("scenario %q kinetics: %w", sc.Name, err)
	}

	out := &Built{Name: sc.Name, Network: net, Kinetics: kin}
	if sc.Flux != nil {
		out.Flux = sc.Flux.problem()
	}
	if sc.Trace != nil {
		out.Trace = &TraceQuery{
			Source: sc.Trace.Source,
			Target: sc.Trace.Target,
			Options: analysis.TraceOptions{
				Ignore:   append([]string(nil), sc.Trace.Ignore...),
				MaxSteps: sc.Trace.MaxSteps,
			},
		}
	}
	if sc.Simulation != nil {
		o := sc.Simulation.options()
		out.Simulation = &o
		out.Seeds = append([]uint64(nil), sc.Simulation.Seeds...)
	}
	return out, nil
}

func (sc *Scenario) buildNetwork(ctx context.Context, res *kb.Resolver) (*core.Network, error) {
	if sc.Network.Pathway != "" {
		p, err := res.Pathway(ctx, sc.Network.Pathway)
		if err != nil {
			return nil, err
		}
		return core.NetworkFromPathway(p)
	}
	rs, err := res.Reactions(ctx, sc.Network.Reactions...)
	if err != nil {
		return nil, err
	}
	return core.Build(rs...)
}

func (sc *Scenario) kinetics(net *core.Network) (sim.Kinetics, error) {
	kin := sim.Kinetics{
		Laws:    make(map[string]sim.Law, len(sc.Kinetics)),
		Initial: make(map[string]float64, len(sc.Initial)),
		Clamped: append([]string(nil), sc.Clamped...),
	}
	for id, v := range sc.Initial {
		kin.Initial[id] = v
	}
	ids := make([]string, 0, len(sc.Kinetics))
	for id := range sc.Kinetics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		law, err := sc.Kinetics[id].law(net, id)
		if err != nil {
			return sim.Kinetics{}, err
		}
		kin.Laws[id] = law
	}
	return kin, nil
}

func (l LawSpec) law(net *core.Network, reactionID string) (sim.Law, error) {
	switch l.Type {
	case LawMassAction:
		return sim.MassAction{Forward: l.Forward, Reverse: l.Reverse}, nil
	case LawConvenience:
		return sim.Convenience{
			KcatForward: l.KcatForward,
			KcatReverse: l.KcatReverse,
			Km:          l.Km,
			DefaultKm:   l.DefaultKm,
			Activators:  l.Activators,
			Inhibitors:  l.Inhibitors,
			Enzyme:      l.Enzyme,
			Ignore:      l.Ignore,
		}, nil
	case LawExpression:
		return sim.Expression{Expr: l.Expr, Params: l.Params}, nil
	case LawThermodynamic:
		if l.DeltaG == nil {
			return nil, fmt.Errorf("%w: %q: thermodynamic kinetics need delta_g", ErrInvalidScenario, reactionID)
		}
		j, ok := net.ReactionIndex(reactionID)
		if !ok {
			return nil, fmt.Errorf("%w: kinetics for unknown reaction %q", ErrInvalidScenario, reactionID)
		}
		p := sim.ThermoParams{
			DeltaG:      *l.DeltaG,
			Km:          l.Km,
			DefaultKm:   l.DefaultKm,
			Kv:          l.Kv,
			Activators:  l.Activators,
			Inhibitors:  l.Inhibitors,
			Temperature: l.Temperature,
			Ignore:      l.Ignore,
		}
		if l.KcatForward != 0 {
			p.KcatForward = &l.KcatForward
		}
		if l.KcatReverse != 0 {
			p.KcatReverse = &l.KcatReverse
		}
		cv, err := sim.ThermoConsistent(net.ReactionAt(j), p)
		if err != nil {
			return nil, err
		}
		if l.Enzyme != 0 {
			cv.Enzyme = l.Enzyme
		}
		return cv, nil
	default:
		return nil, fmt.Errorf("%w: unknown law type %q", ErrInvalidScenario, l.Type)
	}
}

func (f *FluxSpec) problem() *analysis.FluxProblem {
	p := &analysis.FluxProblem{
		Objective: make(map[string]float64, len(f.Objective)),
		Boundary:  append([]string(nil), f.Boundary...),
		Tolerance: f.Tolerance,
	}
	for id, w := range f.Objective {
		p.Objective[id] = w
	}
	if f.Sense == "minimize" {
		p.Sense = analysis.Minimize
	}
	if len(f.Bounds) > 0 {
		p.Bounds = make(map[string]analysis.Bounds, len(f.Bounds))
		for id, b := range f.Bounds {
			bb := analysis.Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)}
			if b.Lower != nil {
				bb.Lower = *b.Lower
			}
			if b.Upper != nil {
				bb.Upper = *b.Upper
			}
			p.Bounds[id] = bb
		}
	}
	return p
}

func (s *SimulationSpec) options() sim.Options {
	o := sim.Options{
		Mode:           sim.Mode(s.Mode),
		Start:          s.Start,
		End:            s.End,
		SampleInterval: s.SampleInterval,
		MaxSteps:       s.MaxSteps,
		Seed:           s.Seed,
		SystemSize:     s.SystemSize,
	}
	switch s.Step.Type {
	case "fixed":
		o.Stepper = sim.FixedStep{Step: s.Step.Size}
	default:
		o.Stepper = sim.AdaptiveStep{
			Initial: s.Step.Initial,
			RelTol:  s.Step.RelTol,
			AbsTol:  s.Step.AbsTol,
			MinStep: s.Step.MinStep,
			MaxStep: s.Step.MaxStep,
		}
	}
	return o
}
