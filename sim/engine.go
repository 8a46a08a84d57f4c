package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/internal/logging"
)

const tracerName = "github.com/signalsfoundry/mosmo/sim"

// Simulate runs a compiled system. On cancellation it returns the samples
// recorded so far together with ctx.Err(); on divergence the error is a
// *SimulationDivergedError carrying them.
func Simulate(ctx context.Context, sys *System, opts Options) (*Trajectory, error) {
	o := opts.withDefaults()
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Mode == Stochastic {
		return gillespie(ctx, sys, o)
	}
	return integrate(ctx, sys, o)
}

// Run compiles and simulates in one call.
func Run(ctx context.Context, net *core.Network, kin Kinetics, opts Options) (*Trajectory, error) {
	sys, err := Compile(net, kin)
	if err != nil {
		return nil, err
	}
	return Simulate(ctx, sys, opts)
}

// Progress is delivered to sample listeners.
type Progress struct {
	RunID string
	Seed  uint64
	Time  float64
	// State is the sample in network species order, shared by all
	// listeners of the sample. Do not modify it.
	State []float64
}

// MetricsRecorder receives one observation per finished run.
type MetricsRecorder interface {
	ObserveSimulation(mode, outcome string, samples int, d time.Duration)
}

// Engine runs simulations with logging, tracing, metrics and sample
// listeners.
type Engine struct {
	log    logging.Logger
	rec    MetricsRecorder
	tracer trace.Tracer

	mu        sync.RWMutex
	listeners []func(Progress)
}

type EngineOption func(*Engine)

func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(r MetricsRecorder) EngineOption {
	return func(e *Engine) { e.rec = r }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{log: logging.Noop(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnSample registers a listener invoked with every recorded sample of every
// run. Listeners of concurrent runs may be called concurrently.
func (e *Engine) OnSample(fn func(Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) notify(p Progress) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, fn := range e.listeners {
		fn(p)
	}
}

// Run compiles the kinetics and simulates once.
func (e *Engine) Run(ctx context.Context, net *core.Network, kin Kinetics, opts Options) (*Trajectory, error) {
	sys, err := Compile(net, kin)
	if err != nil {
		return nil, err
	}
	return e.Simulate(ctx, sys, opts)
}

// Simulate runs one compiled system under the context's run ID, minting one
// if absent.
func (e *Engine) Simulate(ctx context.Context, sys *System, opts Options) (*Trajectory, error) {
	ctx, runID := logging.EnsureRunID(ctx)
	ctx, log := logging.WithRunLogger(ctx, e.log)
	o := opts.withDefaults()

	m, n := sys.net.Shape()
	ctx, span := e.tracer.Start(ctx, "sim/run", trace.WithAttributes(
		attribute.String("sim.mode", string(o.Mode)),
		attribute.String("run_id", runID),
		attribute.Int("network.species", m),
		attribute.Int("network.reactions", n),
	))
	defer span.End()

	user := o.OnSample
	o.OnSample = func(t float64, state []float64) {
		if user != nil {
			user(t, state)
		}
		e.notify(Progress{RunID: runID, Seed: o.Seed, Time: t, State: state})
	}

	log.Info(ctx, "simulation started",
		logging.String("mode", string(o.Mode)),
		logging.Float("start", o.Start),
		logging.Float("end", o.End),
	)
	began := time.Now()
	tr, err := Simulate(ctx, sys, o)
	elapsed := time.Since(began)

	outcome, samples := "ok", 0
	if tr != nil {
		samples = tr.Len()
	}
	var div *SimulationDivergedError
	switch {
	case err == nil:
		log.Info(ctx, "simulation finished",
			logging.Int("samples", samples),
			logging.Duration("elapsed", elapsed),
		)
	case errors.As(err, &div):
		outcome = "diverged"
		samples = div.Partial.Len()
		log.Warn(ctx, "simulation diverged",
			logging.String("reason", string(div.Reason)),
			logging.Float("time", div.Time),
			logging.String("detail", div.Detail),
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "cancelled"
		log.Info(ctx, "simulation cancelled", logging.Int("samples", samples))
	default:
		outcome = "error"
		log.Error(ctx, "simulation failed", logging.Err(err))
	}
	span.SetAttributes(attribute.String("sim.outcome", outcome), attribute.Int("sim.samples", samples))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if e.rec != nil {
		e.rec.ObserveSimulation(string(o.Mode), outcome, samples, elapsed)
	}
	return tr, err
}

// RunEnsemble simulates the same system once per seed using up to workers
// goroutines and returns trajectories in seed order. Member runs get the
// IDs <run>/<index>. The first failure cancels the remaining runs.
func (e *Engine) RunEnsemble(ctx context.Context, net *core.Network, kin Kinetics, opts Options, seeds []uint64, workers int) ([]*Trajectory, error) {
	sys, err := Compile(net, kin)
	if err != nil {
		return nil, err
	}
	ctx, parent := logging.EnsureRunID(ctx)
	out := make([]*Trajectory, len(seeds))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, seed := range seeds {
		g.Go(func() error {
			o := opts
			o.Seed = seed
			runCtx := logging.ContextWithRunID(gctx, fmt.Sprintf("%s/%d", parent, i))
			tr, err := e.Simulate(runCtx, sys, o)
			if err != nil {
				return fmt.Errorf("seed %d: %w", seed, err)
			}
			out[i] = tr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
