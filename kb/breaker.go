package kb

import (
	"context"
	"errors"
	"time"

	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/sony/gobreaker"
)

// BreakerSettings configures a BreakerCatalog.
type BreakerSettings struct {
	Name                string
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state counter reset period
	Timeout             time.Duration // open-state duration before probing
	ConsecutiveFailures uint32        // failures that trip the breaker

	// OnStateChange is called with the new state after every transition.
	OnStateChange func(name string, open bool)
}

// BreakerCatalog guards a catalog with a circuit breaker. While open, lookups
// fail immediately with a *CatalogUnavailableError; nothing is retried.
// Missing records do not count as failures.
type BreakerCatalog struct {
	next Catalog
	cb   *gobreaker.CircuitBreaker
}

var _ Catalog = (*BreakerCatalog)(nil)

// NewBreakerCatalog wraps next.
func NewBreakerCatalog(next Catalog, s BreakerSettings, log logging.Logger) *BreakerCatalog {
	if log == nil {
		log = logging.Noop()
	}
	if s.Name == "" {
		s.Name = "catalog"
	}
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	threshold := s.ConsecutiveFailures
	notify := s.OnStateChange

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn(context.Background(), "catalog circuit breaker state changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
			if notify != nil {
				notify(name, to == gobreaker.StateOpen)
			}
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerCatalog{next: next, cb: cb}
}

// Open reports whether the breaker currently rejects lookups.
func (b *BreakerCatalog) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

func (b *BreakerCatalog) Species(ctx context.Context, id string) (SpeciesRecord, error) {
	return guarded(b, "species", id, func() (SpeciesRecord, error) { return b.next.Species(ctx, id) })
}

func (b *BreakerCatalog) Reaction(ctx context.Context, id string) (ReactionRecord, error) {
	return guarded(b, "reaction", id, func() (ReactionRecord, error) { return b.next.Reaction(ctx, id) })
}

func (b *BreakerCatalog) Pathway(ctx context.Context, id string) (PathwayRecord, error) {
	return guarded(b, "pathway", id, func() (PathwayRecord, error) { return b.next.Pathway(ctx, id) })
}

func (b *BreakerCatalog) Query(ctx context.Context, q Query) ([]RecordRef, error) {
	return guarded(b, "query", q.Pathway, func() ([]RecordRef, error) { return b.next.Query(ctx, q) })
}

func guarded[T any](b *BreakerCatalog, op, id string, fn func() (T, error)) (T, error) {
	var zero T
	v, err := b.cb.Execute(func() (any, error) {
		rec, err := fn()
		return rec, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, &CatalogUnavailableError{Op: op, ID: id, Err: err}
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
