package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// EngineCollector bundles Prometheus metrics for the analysis and simulation
// engines and the server's gRPC surface. It satisfies analysis.Recorder and
// sim.MetricsRecorder.
type EngineCollector struct {
	gatherer prometheus.Gatherer

	Analyses          *prometheus.CounterVec
	AnalysisDurations *prometheus.HistogramVec

	Simulations         *prometheus.CounterVec
	SimulationDurations *prometheus.HistogramVec
	SimulationSamples   *prometheus.CounterVec

	RPCRequests *prometheus.CounterVec

	NetworkSpecies   prometheus.Gauge
	NetworkReactions prometheus.Gauge
}

// NewEngineCollector registers engine metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry reuses the existing
// collectors.
func NewEngineCollector(reg prometheus.Registerer) (*EngineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	analyses, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosmo_analyses_total",
		Help: "Total number of analyses run, labeled by kind and result status.",
	}, []string{"kind", "status"}), "mosmo_analyses_total")
	if err != nil {
		return nil, err
	}
	analysisDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mosmo_analysis_duration_seconds",
		Help:    "Analysis latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"kind"}), "mosmo_analysis_duration_seconds")
	if err != nil {
		return nil, err
	}

	simulations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosmo_simulations_total",
		Help: "Total number of simulation runs, labeled by mode and outcome.",
	}, []string{"mode", "outcome"}), "mosmo_simulations_total")
	if err != nil {
		return nil, err
	}
	simDurations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mosmo_simulation_duration_seconds",
		Help:    "Wall-clock duration of simulation runs in seconds.",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
	}, []string{"mode"}), "mosmo_simulation_duration_seconds")
	if err != nil {
		return nil, err
	}
	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosmo_simulation_samples_total",
		Help: "Trajectory samples recorded across all simulation runs.",
	}, []string{"mode"}), "mosmo_simulation_samples_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosmo_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "mosmo_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	species, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mosmo_network_species",
		Help: "Species in the most recently built network.",
	}), "mosmo_network_species")
	if err != nil {
		return nil, err
	}
	reactions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mosmo_network_reactions",
		Help: "Reactions in the most recently built network.",
	}), "mosmo_network_reactions")
	if err != nil {
		return nil, err
	}

	return &EngineCollector{
		gatherer:            gatherer,
		Analyses:            analyses,
		AnalysisDurations:   analysisDurations,
		Simulations:         simulations,
		SimulationDurations: simDurations,
		SimulationSamples:   samples,
		RPCRequests:         requests,
		NetworkSpecies:      species,
		NetworkReactions:    reactions,
	}, nil
}

// ObserveAnalysis records one finished analysis.
func (c *EngineCollector) ObserveAnalysis(kind, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Analyses.WithLabelValues(kind, status).Inc()
	c.AnalysisDurations.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveSimulation records one finished simulation run.
func (c *EngineCollector) ObserveSimulation(mode, outcome string, samples int, d time.Duration) {
	if c == nil {
		return
	}
	c.Simulations.WithLabelValues(mode, outcome).Inc()
	c.SimulationDurations.WithLabelValues(mode).Observe(d.Seconds())
	c.SimulationSamples.WithLabelValues(mode).Add(float64(samples))
}

// SetNetworkShape updates the network size gauges.
func (c *EngineCollector) SetNetworkShape(species, reactions int) {
	if c == nil {
		return
	}
	c.NetworkSpecies.Set(float64(species))
	c.NetworkReactions.Set(float64(reactions))
}

// UnaryServerInterceptor records request counts for unary RPCs.
func (c *EngineCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if c == nil || c.RPCRequests == nil {
			return resp, err
		}
		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EngineCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EngineCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
