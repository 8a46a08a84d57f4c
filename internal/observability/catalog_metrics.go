package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CatalogCollector exposes knowledge catalog Prometheus metrics. It
// satisfies kb.LookupRecorder, and SetBreakerState plugs into
// kb.BreakerSettings.OnStateChange.
type CatalogCollector struct {
	gatherer prometheus.Gatherer

	Lookups         *prometheus.CounterVec
	LookupDurations *prometheus.HistogramVec
	BreakerOpen     *prometheus.GaugeVec
	BreakerTrips    prometheus.Counter
}

// NewCatalogCollector registers catalog metrics against the provided registerer.
func NewCatalogCollector(reg prometheus.Registerer) (*CatalogCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mosmo_catalog_lookups_total",
		Help: "Catalog lookups performed by resolvers, labeled by record kind and outcome.",
	}, []string{"kind", "outcome"}), "mosmo_catalog_lookups_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mosmo_catalog_lookup_duration_seconds",
		Help:    "Duration of catalog lookups.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	}, []string{"kind"}), "mosmo_catalog_lookup_duration_seconds")
	if err != nil {
		return nil, err
	}

	open, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mosmo_catalog_breaker_open",
		Help: "1 while the named catalog circuit breaker is open, 0 otherwise.",
	}, []string{"name"}), "mosmo_catalog_breaker_open")
	if err != nil {
		return nil, err
	}

	trips, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mosmo_catalog_breaker_trips_total",
		Help: "Cumulative number of transitions into the open state.",
	}), "mosmo_catalog_breaker_trips_total")
	if err != nil {
		return nil, err
	}

	return &CatalogCollector{
		gatherer:        gatherer,
		Lookups:         lookups,
		LookupDurations: durations,
		BreakerOpen:     open,
		BreakerTrips:    trips,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CatalogCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveLookup records one catalog lookup.
func (c *CatalogCollector) ObserveLookup(kind, outcome string, d time.Duration) {
	if c == nil || c.Lookups == nil {
		return
	}
	c.Lookups.WithLabelValues(kind, outcome).Inc()
	if c.LookupDurations != nil {
		c.LookupDurations.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// SetBreakerState updates the breaker gauge for name.
func (c *CatalogCollector) SetBreakerState(name string, open bool) {
	if c == nil || c.BreakerOpen == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
		if c.BreakerTrips != nil {
			c.BreakerTrips.Inc()
		}
	}
	c.BreakerOpen.WithLabelValues(name).Set(v)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
