package analysis

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/mosmo/core"
	"github.com/signalsfoundry/mosmo/internal/logging"
)

const tracerName = "github.com/signalsfoundry/mosmo/analysis"

// Recorder receives one observation per completed analysis.
type Recorder interface {
	ObserveAnalysis(kind, status string, d time.Duration)
}

// Engine runs analyses with logging, tracing and metrics around the plain
// functions of this package. The zero value is not usable; use NewEngine.
type Engine struct {
	log    logging.Logger
	rec    Recorder
	tracer trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.rec = r }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{log: logging.Noop(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// instrument wraps one analysis call. fn reports the status label recorded
// alongside the duration.
func instrument[T any](ctx context.Context, e *Engine, kind string, net *core.Network, fn func(context.Context) (T, string, error)) (T, error) {
	m, n := net.Shape()
	ctx, span := e.tracer.Start(ctx, "analysis/"+kind, trace.WithAttributes(
		attribute.String("analysis.kind", kind),
		attribute.Int("network.species", m),
		attribute.Int("network.reactions", n),
	))
	defer span.End()

	start := time.Now()
	out, status, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Warn(ctx, "analysis failed",
			logging.String("kind", kind),
			logging.Duration("elapsed", elapsed),
			logging.Err(err),
		)
	} else {
		span.SetAttributes(attribute.String("analysis.status", status))
		e.log.Debug(ctx, "analysis finished",
			logging.String("kind", kind),
			logging.String("status", status),
			logging.Duration("elapsed", elapsed),
		)
	}
	if e.rec != nil {
		e.rec.ObserveAnalysis(kind, status, elapsed)
	}
	return out, err
}

func (e *Engine) Balance(ctx context.Context, net *core.Network, opts BalanceOptions) BalanceReport {
	report, _ := instrument(ctx, e, "balance", net, func(context.Context) (BalanceReport, string, error) {
		r := CheckBalance(net, opts)
		status := string(Balanced)
		if len(r.Imbalanced()) > 0 {
			status = string(Imbalanced)
		}
		return r, status, nil
	})
	return report
}

func (e *Engine) Consistency(ctx context.Context, net *core.Network, ignoreReactions ...string) (ConsistencyReport, error) {
	return instrument(ctx, e, "consistency", net, func(context.Context) (ConsistencyReport, string, error) {
		r, err := CheckConsistency(net, ignoreReactions...)
		status := "consistent"
		if !r.Consistent {
			status = "inconsistent"
		}
		return r, status, err
	})
}

func (e *Engine) NullSpace(ctx context.Context, net *core.Network) (Basis, error) {
	return instrument(ctx, e, "null_space", net, func(context.Context) (Basis, string, error) {
		b, err := NullSpace(net)
		return b, "ok", err
	})
}

func (e *Engine) ConservationLaws(ctx context.Context, net *core.Network) (Basis, error) {
	return instrument(ctx, e, "conservation", net, func(context.Context) (Basis, string, error) {
		b, err := ConservationLaws(net)
		return b, "ok", err
	})
}

func (e *Engine) Flux(ctx context.Context, net *core.Network, prob FluxProblem) (*FluxResult, error) {
	return instrument(ctx, e, "flux", net, func(ctx context.Context) (*FluxResult, string, error) {
		r, err := SolveFlux(ctx, net, prob)
		if err != nil {
			return nil, "", err
		}
		return r, string(r.Status()), nil
	})
}

// ScanFlux solves independent flux problems over one network using up to
// workers goroutines. Results are returned in input order. The first error
// cancels the remaining problems.
func (e *Engine) ScanFlux(ctx context.Context, net *core.Network, problems []FluxProblem, workers int) ([]*FluxResult, error) {
	results := make([]*FluxResult, len(problems))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, prob := range problems {
		g.Go(func() error {
			r, err := e.Flux(gctx, net, prob)
			if err != nil {
				return fmt.Errorf("flux problem %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) Trace(ctx context.Context, net *core.Network, source, target string, opts TraceOptions) (PathTrace, error) {
	return instrument(ctx, e, "trace", net, func(context.Context) (PathTrace, string, error) {
		p, err := TracePath(net, source, target, opts)
		status := "found"
		if !p.Found() {
			status = "no_path"
		}
		return p, status, err
	})
}

func (e *Engine) Modes(ctx context.Context, net *core.Network, internal []string) ([]FluxMode, error) {
	return instrument(ctx, e, "modes", net, func(ctx context.Context) ([]FluxMode, string, error) {
		modes, err := ElementaryModes(ctx, net, internal)
		return modes, "ok", err
	})
}
