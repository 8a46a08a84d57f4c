package analysis

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/model"
)

func intPtr(v int) *int { return &v }

func sp(id string) *model.Species {
	return model.MustSpecies(model.SpeciesAttrs{ID: id})
}

func chem(id, formula string, charge int) *model.Species {
	return model.MustSpecies(model.SpeciesAttrs{ID: id, Formula: formula, Charge: intPtr(charge)})
}

func rx(id string, reversible bool, parts ...model.Participant) *model.Reaction {
	return model.MustReaction(model.ReactionAttrs{ID: id, Stoichiometry: parts, Reversible: reversible})
}

func in(s *model.Species, c float64) model.Participant  { return model.Participant{Species: s, Coefficient: -c} }
func out(s *model.Species, c float64) model.Participant { return model.Participant{Species: s, Coefficient: c} }

func build(t *testing.T, reactions ...*model.Reaction) *core.Network {
	t.Helper()
	net, err := core.Build(reactions...)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	return net
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-7 }

// toy: r1 A <=> B.
func toyNetwork(t *testing.T) *core.Network {
	a, b := sp("A"), sp("B")
	return build(t, rx("r1", true, in(a, 1), out(b, 1)))
}

func TestSolveFluxToyFeasible(t *testing.T) {
	net := toyNetwork(t)
	res, err := SolveFlux(context.Background(), net, FluxProblem{})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if res.Status() != FluxFeasible || !res.Feasible() {
		t.Fatalf("status = %s, want feasible", res.Status())
	}
	if v, ok := res.Flux("r1"); !ok || v != 0 {
		t.Fatalf("Flux(r1) = %v, %v; want 0, true", v, ok)
	}
}

func TestSolveFluxForcedBoundInfeasible(t *testing.T) {
	net := toyNetwork(t)
	res, err := SolveFlux(context.Background(), net, FluxProblem{
		Bounds: map[string]Bounds{"r1": {Lower: 1, Upper: math.Inf(1)}},
	})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if res.Status() != FluxInfeasible {
		t.Fatalf("status = %s, want infeasible", res.Status())
	}
	if res.Fluxes() != nil {
		t.Fatalf("infeasible result carries fluxes: %v", res.Fluxes())
	}
	if res.Message() == "" {
		t.Fatalf("infeasible result has no message")
	}
}

// uptake: r0 => A, r1 A => B with B as a boundary species.
func uptakeNetwork(t *testing.T) *core.Network {
	a, b := sp("A"), sp("B")
	return build(t,
		rx("r0", false, out(a, 1)),
		rx("r1", false, in(a, 1), out(b, 1)),
	)
}

func TestSolveFluxUnboundedObjective(t *testing.T) {
	net := uptakeNetwork(t)
	res, err := SolveFlux(context.Background(), net, FluxProblem{
		Objective: map[string]float64{"r1": 1},
		Boundary:  []string{"B"},
	})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if res.Status() != FluxUnbounded {
		t.Fatalf("status = %s, want unbounded", res.Status())
	}
}

func TestSolveFluxOptimalWithinBounds(t *testing.T) {
	net := uptakeNetwork(t)
	res, err := SolveFlux(context.Background(), net, FluxProblem{
		Objective: map[string]float64{"r1": 1},
		Boundary:  []string{"B"},
		Bounds:    map[string]Bounds{"r0": {Lower: 0, Upper: 10}},
	})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if res.Status() != FluxOptimal {
		t.Fatalf("status = %s, want optimal", res.Status())
	}
	if !approx(res.Objective(), 10) {
		t.Fatalf("objective = %v, want 10", res.Objective())
	}
	fl := res.Fluxes()
	if !approx(fl["r0"], 10) || !approx(fl["r1"], 10) {
		t.Fatalf("fluxes = %v, want r0=r1=10", fl)
	}

	lower, err := SolveFlux(context.Background(), net, FluxProblem{
		Objective: map[string]float64{"r1": 1},
		Sense:     Minimize,
		Boundary:  []string{"B"},
		Bounds:    map[string]Bounds{"r0": {Lower: 2, Upper: 10}},
	})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if lower.Status() != FluxOptimal || !approx(lower.Objective(), 2) {
		t.Fatalf("minimize = %s %v, want optimal 2", lower.Status(), lower.Objective())
	}
}

func TestSolveFluxIrreversibleIgnoresNegativeLowerBound(t *testing.T) {
	net := uptakeNetwork(t)
	res, err := SolveFlux(context.Background(), net, FluxProblem{
		Objective: map[string]float64{"r1": 1},
		Sense:     Minimize,
		Boundary:  []string{"B"},
		Bounds:    map[string]Bounds{"r1": {Lower: -5, Upper: 5}},
	})
	if err != nil {
		t.Fatalf("SolveFlux error: %v", err)
	}
	if res.Status() != FluxOptimal || !approx(res.Objective(), 0) {
		t.Fatalf("result = %s %v, want optimal 0", res.Status(), res.Objective())
	}
}

func TestSolveFluxUnknownIDs(t *testing.T) {
	net := toyNetwork(t)
	ctx := context.Background()
	if _, err := SolveFlux(ctx, net, FluxProblem{Objective: map[string]float64{"nope": 1}}); !errors.Is(err, ErrUnknownReaction) {
		t.Fatalf("objective error = %v, want ErrUnknownReaction", err)
	}
	if _, err := SolveFlux(ctx, net, FluxProblem{Bounds: map[string]Bounds{"nope": Unbounded()}}); !errors.Is(err, ErrUnknownReaction) {
		t.Fatalf("bounds error = %v, want ErrUnknownReaction", err)
	}
	if _, err := SolveFlux(ctx, net, FluxProblem{Boundary: []string{"Z"}}); !errors.Is(err, ErrUnknownSpecies) {
		t.Fatalf("boundary error = %v, want ErrUnknownSpecies", err)
	}
}

func TestSolveFluxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SolveFlux(ctx, toyNetwork(t), FluxProblem{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestCheckBalance(t *testing.T) {
	ethanol := chem("etoh", "C2H6O", 0)
	acald := chem("acald", "C2H4O", 0)
	h2 := chem("h2", "H2", 0)
	unknown := sp("x")
	net := build(t,
		rx("good", false, in(ethanol, 1), out(acald, 1), out(h2, 1)),
		rx("lossy", false, in(ethanol, 1), out(acald, 1)),
		rx("vague", false, in(ethanol, 1), out(unknown, 1)),
	)
	report := CheckBalance(net, BalanceOptions{})

	good, _ := report.Reaction("good")
	if good.Mass != Balanced || good.Charge != Balanced {
		t.Fatalf("good = %+v, want balanced", good)
	}
	lossy, _ := report.Reaction("lossy")
	if lossy.Mass != Imbalanced || lossy.ElementDelta["H"] != -2 || len(lossy.ElementDelta) != 1 {
		t.Fatalf("lossy = %+v, want H delta -2", lossy)
	}
	if lossy.Charge != Balanced {
		t.Fatalf("lossy charge = %s, want balanced", lossy.Charge)
	}
	vague, _ := report.Reaction("vague")
	if vague.Mass != Unknown || len(vague.MissingFormula) != 1 || vague.MissingFormula[0] != "x" {
		t.Fatalf("vague = %+v, want unknown with x missing", vague)
	}
	if got := report.Imbalanced(); len(got) != 1 || got[0] != "lossy" {
		t.Fatalf("Imbalanced = %v, want [lossy]", got)
	}
	if len(report.UnknownFormula) != 1 || report.UnknownFormula[0] != "x" {
		t.Fatalf("UnknownFormula = %v, want [x]", report.UnknownFormula)
	}

	ignored := CheckBalance(net, BalanceOptions{Ignore: []string{"h2"}})
	if g, _ := ignored.Reaction("good"); g.Mass != Imbalanced {
		t.Fatalf("good with h2 ignored = %s, want imbalanced", g.Mass)
	}
}

func TestCheckCombination(t *testing.T) {
	etoh := chem("etoh", "C2H6O", 0)
	acald := chem("acald", "C2H4O", 0)
	nad := chem("nad", "X", 1)
	nadh := chem("nadh", "XH", 0)
	h := chem("h", "H", 1)
	x := sp("x")
	net := build(t,
		rx("oxidise", false, in(etoh, 1), out(acald, 1), out(h, 2)),
		rx("reduce", false, in(nad, 1), in(h, 1), out(nadh, 1)),
		rx("vague", false, in(acald, 1), out(x, 1)),
	)
	report := CheckBalance(net, BalanceOptions{})

	combo := CheckCombination(report, map[string]float64{"oxidise": 1, "reduce": 1, "vague": 3}, 0)
	if len(combo.Excluded) != 1 || combo.Excluded[0] != "vague" {
		t.Fatalf("Excluded = %v, want [vague]", combo.Excluded)
	}
	// etoh + nad -> acald + nadh + h: balanced in elements and charge.
	if !combo.Balanced {
		t.Fatalf("combination = %+v, want balanced", combo)
	}

	single := CheckCombination(report, map[string]float64{"oxidise": 1}, 0)
	if single.Balanced || single.ChargeDelta != 2 {
		t.Fatalf("oxidise alone = %+v, want charge delta 2", single)
	}
	if els := single.Elements(); len(els) != 0 {
		t.Fatalf("oxidise alone elements = %v, want none", els)
	}
}

func TestConservationLawsClosedSystem(t *testing.T) {
	net := toyNetwork(t)
	laws, err := ConservationLaws(net)
	if err != nil {
		t.Fatalf("ConservationLaws error: %v", err)
	}
	if laws.Len() != 1 {
		t.Fatalf("laws = %d, want 1", laws.Len())
	}
	v := laws.Vector(0)
	if !approx(v["A"], 1) || !approx(v["B"], 1) {
		t.Fatalf("law = %v, want A=B=1", v)
	}
	r, err := Rank(net)
	if err != nil || r != 1 {
		t.Fatalf("Rank = %d, %v; want 1", r, err)
	}
}

func TestNullSpaceCycle(t *testing.T) {
	a, b := sp("A"), sp("B")
	net := build(t,
		rx("r1", false, in(a, 1), out(b, 1)),
		rx("r2", false, in(b, 1), out(a, 1)),
	)
	ns, err := NullSpace(net)
	if err != nil {
		t.Fatalf("NullSpace error: %v", err)
	}
	if ns.Len() != 1 {
		t.Fatalf("null space dimension = %d, want 1", ns.Len())
	}
	v := ns.Vector(0)
	if !approx(v["r1"], 1) || !approx(v["r2"], 1) {
		t.Fatalf("null vector = %v, want r1=r2=1", v)
	}
}

func TestCheckConsistency(t *testing.T) {
	report, err := CheckConsistency(toyNetwork(t))
	if err != nil {
		t.Fatalf("CheckConsistency error: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("closed A<=>B reported inconsistent")
	}
	for id, m := range report.Masses {
		if m < 1-1e-9 {
			t.Fatalf("mass[%s] = %v, want >= 1", id, m)
		}
	}

	net := uptakeNetwork(t)
	open, err := CheckConsistency(net)
	if err != nil {
		t.Fatalf("CheckConsistency error: %v", err)
	}
	if open.Consistent || open.Masses != nil {
		t.Fatalf("source reaction reported consistent: %+v", open)
	}
	ignored, err := CheckConsistency(net, "r0")
	if err != nil {
		t.Fatalf("CheckConsistency error: %v", err)
	}
	if !ignored.Consistent {
		t.Fatalf("ignoring the source reaction should restore consistency")
	}
	if _, err := CheckConsistency(net, "nope"); !errors.Is(err, ErrUnknownReaction) {
		t.Fatalf("error = %v, want ErrUnknownReaction", err)
	}
}

func chainNetwork(t *testing.T, reversible bool) *core.Network {
	a, b, c := sp("A"), sp("B"), sp("C")
	return build(t,
		rx("r1", reversible, in(a, 1), out(b, 1)),
		rx("r2", reversible, in(b, 1), out(c, 1)),
	)
}

func TestTracePathForwardAndBackward(t *testing.T) {
	net := chainNetwork(t, false)
	fwd, err := TracePath(net, "A", "C", TraceOptions{})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if !fwd.Found() || len(fwd.Steps) != 2 || fwd.Cost != 2 {
		t.Fatalf("forward trace = %+v, want 2 steps", fwd)
	}
	if ids := fwd.ReactionIDs(); ids[0] != "r1" || ids[1] != "r2" {
		t.Fatalf("forward reactions = %v, want [r1 r2]", ids)
	}
	if fwd.Steps[0].From != "A" || fwd.Steps[0].To != "B" || fwd.Steps[1].To != "C" {
		t.Fatalf("forward steps = %+v", fwd.Steps)
	}

	back, err := TracePath(net, "C", "A", TraceOptions{})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if back.Found() || len(back.Steps) != 0 {
		t.Fatalf("backward trace over irreversible reactions = %+v, want empty", back)
	}

	rev, err := TracePath(chainNetwork(t, true), "C", "A", TraceOptions{})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if len(rev.Steps) != 2 || !rev.Steps[0].Reverse || rev.Steps[0].ReactionID != "r2" {
		t.Fatalf("reversible backward trace = %+v", rev)
	}
}

func TestTracePathSelfAndUnknown(t *testing.T) {
	net := chainNetwork(t, false)
	self, err := TracePath(net, "B", "B", TraceOptions{})
	if err != nil || !self.Found() || len(self.Steps) != 0 {
		t.Fatalf("self trace = %+v, %v", self, err)
	}
	if _, err := TracePath(net, "A", "Z", TraceOptions{}); !errors.Is(err, ErrUnknownSpecies) {
		t.Fatalf("error = %v, want ErrUnknownSpecies", err)
	}
}

// diamond: A -> B -> D and A -> C -> D at equal cost.
func diamondNetwork(t *testing.T) *core.Network {
	a, b, c, d := sp("A"), sp("B"), sp("C"), sp("D")
	return build(t,
		rx("r1", false, in(a, 1), out(b, 1)),
		rx("r2", false, in(a, 1), out(c, 1)),
		rx("r3", false, in(b, 1), out(d, 1)),
		rx("r4", false, in(c, 1), out(d, 1)),
	)
}

func TestTracePathTieBreaksByReactionOrder(t *testing.T) {
	net := diamondNetwork(t)
	for range 5 {
		p, err := TracePath(net, "A", "D", TraceOptions{})
		if err != nil {
			t.Fatalf("TracePath error: %v", err)
		}
		if ids := p.ReactionIDs(); len(ids) != 2 || ids[0] != "r1" || ids[1] != "r3" {
			t.Fatalf("tie path = %v, want [r1 r3]", ids)
		}
	}
}

func TestTracePathOptions(t *testing.T) {
	net := diamondNetwork(t)

	weighted, err := TracePath(net, "A", "D", TraceOptions{Weight: func(r *model.Reaction) float64 {
		if r.ID() == "r1" {
			return 5
		}
		return 1
	}})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if ids := weighted.ReactionIDs(); ids[0] != "r2" || weighted.Cost != 2 {
		t.Fatalf("weighted path = %v cost %v, want via r2 at cost 2", ids, weighted.Cost)
	}

	ignored, err := TracePath(net, "A", "D", TraceOptions{Ignore: []string{"B"}})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if ids := ignored.ReactionIDs(); ids[0] != "r2" {
		t.Fatalf("path avoiding B = %v, want via r2", ids)
	}

	short, err := TracePath(net, "A", "D", TraceOptions{MaxSteps: 1})
	if err != nil {
		t.Fatalf("TracePath error: %v", err)
	}
	if short.Found() {
		t.Fatalf("MaxSteps=1 found %v", short.ReactionIDs())
	}

	_, err = TracePath(net, "A", "D", TraceOptions{Weight: func(*model.Reaction) float64 { return -1 }})
	if !errors.Is(err, ErrInvalidWeight) {
		t.Fatalf("error = %v, want ErrInvalidWeight", err)
	}
}

func TestElementaryModesBranch(t *testing.T) {
	a, b, c, d := sp("A"), sp("B"), sp("C"), sp("D")
	net := build(t,
		rx("r1", false, in(a, 1), out(b, 1)),
		rx("r2", false, in(b, 1), out(c, 1)),
		rx("r3", false, in(b, 1), out(d, 1)),
	)
	modes, err := ElementaryModes(context.Background(), net, []string{"B"})
	if err != nil {
		t.Fatalf("ElementaryModes error: %v", err)
	}
	if len(modes) != 2 {
		t.Fatalf("modes = %+v, want 2", modes)
	}
	want := []map[string]int64{{"r1": 1, "r2": 1}, {"r1": 1, "r3": 1}}
	for i, m := range modes {
		if m.Reversible {
			t.Fatalf("mode %d reversible, want irreversible", i)
		}
		if len(m.Coefficients) != len(want[i]) {
			t.Fatalf("mode %d = %v, want %v", i, m.Coefficients, want[i])
		}
		for id, v := range want[i] {
			if m.Coefficients[id] != v {
				t.Fatalf("mode %d = %v, want %v", i, m.Coefficients, want[i])
			}
		}
	}
	if ids := modes[1].Reactions(net); len(ids) != 2 || ids[0] != "r1" || ids[1] != "r3" {
		t.Fatalf("mode reactions = %v", ids)
	}
}

func TestElementaryModesScalesCoefficients(t *testing.T) {
	a, b, c := sp("A"), sp("B"), sp("C")
	net := build(t,
		rx("r1", true, in(a, 1), out(b, 2)),
		rx("r2", true, in(b, 3), out(c, 1)),
	)
	modes, err := ElementaryModes(context.Background(), net, []string{"B"})
	if err != nil {
		t.Fatalf("ElementaryModes error: %v", err)
	}
	if len(modes) != 1 {
		t.Fatalf("modes = %+v, want 1", modes)
	}
	m := modes[0]
	if !m.Reversible || m.Coefficients["r1"] != 3 || m.Coefficients["r2"] != 2 {
		t.Fatalf("mode = %+v, want reversible 3 r1 + 2 r2", m)
	}
}

func TestElementaryModesRejectsFractionalStoichiometry(t *testing.T) {
	a, b := sp("A"), sp("B")
	net := build(t, rx("r1", false, in(a, 0.5), out(b, 1)))
	if _, err := ElementaryModes(context.Background(), net, nil); !errors.Is(err, ErrNonIntegerStoichiometry) {
		t.Fatalf("error = %v, want ErrNonIntegerStoichiometry", err)
	}
	if _, err := ElementaryModes(context.Background(), net, []string{"Z"}); !errors.Is(err, ErrUnknownSpecies) {
		t.Fatalf("error = %v, want ErrUnknownSpecies", err)
	}
}

type recorded struct {
	kind, status string
}

type fakeRecorder struct {
	mu   sync.Mutex
	seen []recorded
}

func (f *fakeRecorder) ObserveAnalysis(kind, status string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, recorded{kind, status})
}

func TestEngineRecordsOutcomes(t *testing.T) {
	rec := &fakeRecorder{}
	eng := NewEngine(WithRecorder(rec), WithLogger(nil))
	ctx := context.Background()
	net := toyNetwork(t)

	if _, err := eng.Flux(ctx, net, FluxProblem{Bounds: map[string]Bounds{"r1": {Lower: 1, Upper: 2}}}); err != nil {
		t.Fatalf("Flux error: %v", err)
	}
	if _, err := eng.Trace(ctx, net, "B", "A", TraceOptions{}); err != nil {
		t.Fatalf("Trace error: %v", err)
	}
	if _, err := eng.Trace(ctx, net, "A", "nope", TraceOptions{}); err == nil {
		t.Fatalf("expected trace error")
	}
	want := []recorded{{"flux", "infeasible"}, {"trace", "found"}, {"trace", "error"}}
	if len(rec.seen) != len(want) {
		t.Fatalf("recorded = %v, want %v", rec.seen, want)
	}
	for i := range want {
		if rec.seen[i] != want[i] {
			t.Fatalf("recorded = %v, want %v", rec.seen, want)
		}
	}
}

func TestEngineScanFluxKeepsInputOrder(t *testing.T) {
	net := uptakeNetwork(t)
	var problems []FluxProblem
	for _, upper := range []float64{3, 1, 4, 1, 5, 9, 2, 6} {
		problems = append(problems, FluxProblem{
			Objective: map[string]float64{"r1": 1},
			Boundary:  []string{"B"},
			Bounds:    map[string]Bounds{"r0": {Lower: 0, Upper: upper}},
		})
	}
	results, err := NewEngine().ScanFlux(context.Background(), net, problems, 3)
	if err != nil {
		t.Fatalf("ScanFlux error: %v", err)
	}
	for i, r := range results {
		want := problems[i].Bounds["r0"].Upper
		if r.Status() != FluxOptimal || !approx(r.Objective(), want) {
			t.Fatalf("result %d = %s %v, want optimal %v", i, r.Status(), r.Objective(), want)
		}
	}

	problems = append(problems, FluxProblem{Objective: map[string]float64{"nope": 1}})
	if _, err := NewEngine().ScanFlux(context.Background(), net, problems, 2); !errors.Is(err, ErrUnknownReaction) {
		t.Fatalf("error = %v, want ErrUnknownReaction", err)
	}
}
