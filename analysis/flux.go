package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/signalsfoundry/mosmo/core"
)

var (
	ErrUnknownReaction = errors.New("unknown reaction")
	ErrUnknownSpecies  = errors.New("unknown species")
	ErrInvalidProblem  = errors.New("invalid flux problem")
)

// Sense is the optimisation direction of a flux objective.
type Sense int

const (
	Maximize Sense = iota
	Minimize
)

// Bounds limits one reaction's flux. Use math.Inf for an open side.
type Bounds struct {
	Lower float64
	Upper float64
}

// Unbounded returns (-Inf, +Inf).
func Unbounded() Bounds { return Bounds{Lower: math.Inf(-1), Upper: math.Inf(1)} }

// FluxProblem is a steady-state flux query over a network. An empty
// objective asks for feasibility only.
type FluxProblem struct {
	Objective map[string]float64
	Sense     Sense
	// Bounds override the reversibility defaults per reaction. Irreversible
	// reactions are additionally held at a non-negative lower bound.
	Bounds map[string]Bounds
	// Boundary species are exempt from the steady-state constraint, which
	// lets them act as sources and sinks.
	Boundary []string
	// Tolerance for the solver; defaults to 1e-9.
	Tolerance float64
}

// FluxStatus is the outcome of a flux query.
type FluxStatus string

const (
	FluxOptimal    FluxStatus = "optimal"
	FluxFeasible   FluxStatus = "feasible"
	FluxInfeasible FluxStatus = "infeasible"
	FluxUnbounded  FluxStatus = "unbounded"
)

// FluxResult is an immutable solution of a FluxProblem.
type FluxResult struct {
	status      FluxStatus
	reactionIDs []string
	fluxes      []float64
	objective   float64
	message     string
}

func (r *FluxResult) Status() FluxStatus { return r.status }

// Feasible reports whether a steady state satisfying the bounds exists.
func (r *FluxResult) Feasible() bool {
	return r.status == FluxOptimal || r.status == FluxFeasible
}

// Objective returns the objective value; zero unless optimal.
func (r *FluxResult) Objective() float64 { return r.objective }

// Message describes why no solution was produced, if so.
func (r *FluxResult) Message() string { return r.message }

// Flux returns the flux through one reaction.
func (r *FluxResult) Flux(reactionID string) (float64, bool) {
	i := slices.Index(r.reactionIDs, reactionID)
	if i < 0 || r.fluxes == nil {
		return 0, false
	}
	return r.fluxes[i], true
}

// Fluxes returns a reaction-keyed copy of the solution; nil when infeasible.
func (r *FluxResult) Fluxes() map[string]float64 {
	if r.fluxes == nil {
		return nil
	}
	out := make(map[string]float64, len(r.fluxes))
	for i, id := range r.reactionIDs {
		out[id] = r.fluxes[i]
	}
	return out
}

// Vector returns a copy of the solution in network reaction order.
func (r *FluxResult) Vector() []float64 {
	return append([]float64(nil), r.fluxes...)
}

// ReactionIDs returns the reaction order of Vector.
func (r *FluxResult) ReactionIDs() []string {
	return append([]string(nil), r.reactionIDs...)
}

// SolveFlux finds a steady-state flux distribution S·v = 0 over the
// non-boundary species within the bounds, optimising the objective if one is
// given. Infeasible and unbounded problems are statuses, not errors.
func SolveFlux(ctx context.Context, net *core.Network, prob FluxProblem) (*FluxResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tol := prob.Tolerance
	if tol <= 0 {
		tol = 1e-9
	}
	m, n := net.Shape()
	ids := net.ReactionIDs()

	lo := make([]float64, n)
	hi := make([]float64, n)
	for j, rev := range net.Reversible() {
		lo[j], hi[j] = math.Inf(-1), math.Inf(1)
		if !rev {
			lo[j] = 0
		}
	}
	for id, bnd := range prob.Bounds {
		j, ok := net.ReactionIndex(id)
		if !ok {
			return nil, fmt.Errorf("%w in bounds: %q", ErrUnknownReaction, id)
		}
		if math.IsNaN(bnd.Lower) || math.IsNaN(bnd.Upper) {
			return nil, fmt.Errorf("%w: NaN bound for %q", ErrInvalidProblem, id)
		}
		lo[j] = math.Max(lo[j], bnd.Lower)
		hi[j] = math.Min(hi[j], bnd.Upper)
		if !net.ReactionAt(j).Reversible() {
			lo[j] = math.Max(lo[j], 0)
		}
	}

	cost := make([]float64, n)
	for id, w := range prob.Objective {
		j, ok := net.ReactionIndex(id)
		if !ok {
			return nil, fmt.Errorf("%w in objective: %q", ErrUnknownReaction, id)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: non-finite objective weight for %q", ErrInvalidProblem, id)
		}
		// The solver minimises.
		if prob.Sense == Maximize {
			cost[j] = -w
		} else {
			cost[j] = w
		}
	}

	boundary := make(map[int]bool, len(prob.Boundary))
	for _, sid := range prob.Boundary {
		i, ok := net.SpeciesIndex(sid)
		if !ok {
			return nil, fmt.Errorf("%w in boundary: %q", ErrUnknownSpecies, sid)
		}
		boundary[i] = true
	}
	eq := make([][]float64, 0, m)
	for i := 0; i < m; i++ {
		if boundary[i] {
			continue
		}
		row := make([]float64, n)
		for j := 0; j < n; j++ {
			row[j] = net.At(i, j)
		}
		eq = append(eq, row)
	}

	out, err := solveBounded(cost, eq, make([]float64, len(eq)), lo, hi, tol)
	if err != nil {
		return nil, err
	}
	res := &FluxResult{reactionIDs: ids}
	switch out.status {
	case lpInfeasible:
		res.status = FluxInfeasible
		res.message = "no steady state satisfies the flux bounds"
	case lpUnbounded:
		res.status = FluxUnbounded
		res.message = "objective is unbounded within the flux bounds"
	default:
		res.fluxes = cleanZeros(out.x, tol)
		if len(prob.Objective) == 0 {
			res.status = FluxFeasible
		} else {
			res.status = FluxOptimal
			res.objective = 0
			for id, w := range prob.Objective {
				j, _ := net.ReactionIndex(id)
				res.objective += w * res.fluxes[j]
			}
		}
	}
	return res, nil
}

func cleanZeros(v []float64, tol float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if math.Abs(x) > tol {
			out[i] = x
		}
	}
	return out
}
