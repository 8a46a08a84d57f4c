package scenario

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/signalsfoundry/mosmo/analysis"
	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/internal/observability"
	"github.com/signalsfoundry/mosmo/sim"
)

// Runner runs everything a built scenario asks for on shared engines.
type Runner struct {
	Analysis *analysis.Engine
	Sim      *sim.Engine
	// Workers bounds ensemble parallelism; zero is unbounded.
	Workers int
	// Modes enables elementary flux mode enumeration, which is exponential
	// in the worst case.
	Modes bool
}

// Report collects the results of one scenario run. Fields for analyses the
// scenario did not request are nil.
type Report struct {
	Name         string
	Species      int
	Reactions    int
	Balance      analysis.BalanceReport
	Consistency  analysis.ConsistencyReport
	Conservation analysis.Basis
	Flux         *analysis.FluxResult
	Trace        *analysis.PathTrace
	Modes        []analysis.FluxMode
	Trajectory   *sim.Trajectory
	Ensemble     []*sim.Trajectory
}

// Run executes the structural analyses, then flux, trace, modes and
// simulation as configured. It stops at the first hard failure and returns
// the report so far; a diverged simulation leaves its partial trajectory in
// the report.
func (r *Runner) Run(ctx context.Context, b *Built) (*Report, error) {
	ctx, _ = logging.EnsureRunID(ctx)
	species, reactions := b.Network.Shape()
	ctx, span := observability.StartSpan(ctx, "scenario/run",
		attribute.String("scenario", b.Name),
		attribute.Int("network.species", species),
		attribute.Int("network.reactions", reactions),
	)
	defer span.End()

	rep, err := r.run(ctx, b)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep, err
}

func (r *Runner) run(ctx context.Context, b *Built) (*Report, error) {
	ae, se := r.Analysis, r.Sim
	if ae == nil {
		ae = analysis.NewEngine()
	}
	if se == nil {
		se = sim.NewEngine()
	}
	net := b.Network
	rep := &Report{Name: b.Name}
	rep.Species, rep.Reactions = net.Shape()

	rep.Balance = ae.Balance(ctx, net, analysis.BalanceOptions{})
	var err error
	if rep.Consistency, err = ae.Consistency(ctx, net); err != nil {
		return rep, fmt.Errorf("consistency: %w", err)
	}
	if rep.Conservation, err = ae.ConservationLaws(ctx, net); err != nil {
		return rep, fmt.Errorf("conservation laws: %w", err)
	}
	if b.Flux != nil {
		if rep.Flux, err = ae.Flux(ctx, net, *b.Flux); err != nil {
			return rep, fmt.Errorf("flux: %w", err)
		}
	}
	if b.Trace != nil {
		tr, err := ae.Trace(ctx, net, b.Trace.Source, b.Trace.Target, b.Trace.Options)
		if err != nil {
			return rep, fmt.Errorf("trace: %w", err)
		}
		rep.Trace = &tr
	}
	if r.Modes {
		if rep.Modes, err = ae.Modes(ctx, net, nil); err != nil {
			return rep, fmt.Errorf("modes: %w", err)
		}
	}
	if b.Simulation == nil {
		return rep, nil
	}

	if len(b.Seeds) > 0 {
		if rep.Ensemble, err = se.RunEnsemble(ctx, net, b.Kinetics, *b.Simulation, b.Seeds, r.Workers); err != nil {
			return rep, fmt.Errorf("ensemble: %w", err)
		}
		return rep, nil
	}
	rep.Trajectory, err = se.Run(ctx, net, b.Kinetics, *b.Simulation)
	if err != nil {
		var div *sim.SimulationDivergedError
		if errors.As(err, &div) {
			rep.Trajectory = div.Partial
		}
		return rep, fmt.Errorf("simulation: %w", err)
	}
	return rep, nil
}
