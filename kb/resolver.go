package kb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/model"
)

// LookupRecorder observes catalog lookups. outcome is one of "ok",
// "not_found", "invalid" or "unavailable".
type LookupRecorder interface {
	ObserveLookup(kind, outcome string, d time.Duration)
}

// Resolver turns catalog records into model entities. Resolved species and
// reactions are memoised, so entities sharing an ID share one instance.
type Resolver struct {
	catalog  Catalog
	log      logging.Logger
	recorder LookupRecorder

	mu        sync.Mutex
	species   map[string]*model.Species
	reactions map[string]*model.Reaction
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// WithLookupRecorder wires lookup metrics.
func WithLookupRecorder(rec LookupRecorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

// NewResolver constructs a resolver over cat.
func NewResolver(cat Catalog, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		catalog:   cat,
		log:       logging.Noop(),
		species:   make(map[string]*model.Species),
		reactions: make(map[string]*model.Reaction),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Species resolves one species.
func (r *Resolver) Species(ctx context.Context, id string) (*model.Species, error) {
	r.mu.Lock()
	if s, ok := r.species[id]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	start := time.Now()
	rec, err := r.catalog.Species(ctx, id)
	if err = r.observe(ctx, "species", id, start, err); err != nil {
		return nil, err
	}
	s, err := speciesFromRecord(rec)
	if err != nil {
		r.record("species", "invalid", start)
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.species[id]; ok {
		return existing, nil
	}
	r.species[id] = s
	return s, nil
}

// Reaction resolves one reaction and, transitively, its participants.
func (r *Resolver) Reaction(ctx context.Context, id string) (*model.Reaction, error) {
	r.mu.Lock()
	if rx, ok := r.reactions[id]; ok {
		r.mu.Unlock()
		return rx, nil
	}
	r.mu.Unlock()

	start := time.Now()
	rec, err := r.catalog.Reaction(ctx, id)
	if err = r.observe(ctx, "reaction", id, start, err); err != nil {
		return nil, err
	}
	if err := ValidateRecord(model.KindReaction, rec.ID, rec); err != nil {
		r.record("reaction", "invalid", start)
		return nil, err
	}

	parts := make([]model.Participant, 0, len(rec.Stoichiometry))
	for _, term := range rec.Stoichiometry {
		s, err := r.Species(ctx, term.Species)
		if err != nil {
			return nil, err
		}
		parts = append(parts, model.Participant{Species: s, Coefficient: term.Coefficient})
	}
	rx, err := model.NewReaction(model.ReactionAttrs{
		ID:            rec.ID,
		Name:          rec.Name,
		Stoichiometry: parts,
		Reversible:    rec.Reversible,
		KineticLaw:    rec.KineticLaw,
		Catalyst:      rec.Catalyst,
		Xrefs:         parseXrefs(rec.Xrefs),
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.reactions[id]; ok {
		return existing, nil
	}
	r.reactions[id] = rx
	return rx, nil
}

// Reactions resolves several reactions, keeping the requested order.
func (r *Resolver) Reactions(ctx context.Context, ids ...string) ([]*model.Reaction, error) {
	out := make([]*model.Reaction, 0, len(ids))
	for _, id := range ids {
		rx, err := r.Reaction(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rx)
	}
	return out, nil
}

// Pathway resolves a pathway and its reactions.
func (r *Resolver) Pathway(ctx context.Context, id string) (*model.Pathway, error) {
	start := time.Now()
	rec, err := r.catalog.Pathway(ctx, id)
	if err = r.observe(ctx, "pathway", id, start, err); err != nil {
		return nil, err
	}
	if err := ValidateRecord(model.KindPathway, rec.ID, rec); err != nil {
		r.record("pathway", "invalid", start)
		return nil, err
	}
	rs, err := r.Reactions(ctx, rec.Reactions...)
	if err != nil {
		return nil, err
	}
	return model.NewPathway(model.PathwayAttrs{
		ID:        rec.ID,
		Name:      rec.Name,
		Reactions: rs,
		Xrefs:     parseXrefs(rec.Xrefs),
	})
}

// Query runs a set query against the catalog.
func (r *Resolver) Query(ctx context.Context, q Query) ([]RecordRef, error) {
	start := time.Now()
	refs, err := r.catalog.Query(ctx, q)
	if err = r.observe(ctx, "query", q.Pathway, start, err); err != nil {
		return nil, err
	}
	return refs, nil
}

// observe classifies a catalog error. Missing records keep wrapping
// ErrNotFound; everything else becomes a *CatalogUnavailableError.
func (r *Resolver) observe(ctx context.Context, op, id string, start time.Time, err error) error {
	switch {
	case err == nil:
		r.record(op, "ok", start)
		return nil
	case errors.Is(err, ErrNotFound):
		r.record(op, "not_found", start)
		return err
	case errors.Is(err, model.ErrValidation):
		r.record(op, "invalid", start)
		return err
	}
	r.record(op, "unavailable", start)
	r.log.Warn(ctx, "catalog lookup failed",
		logging.String("op", op),
		logging.String("id", id),
		logging.String("error", err.Error()),
	)
	if errors.Is(err, ErrCatalogUnavailable) {
		return err
	}
	return &CatalogUnavailableError{Op: op, ID: id, Err: err}
}

func (r *Resolver) record(op, outcome string, start time.Time) {
	if r.recorder != nil {
		r.recorder.ObserveLookup(op, outcome, time.Since(start))
	}
}

func speciesFromRecord(rec SpeciesRecord) (*model.Species, error) {
	if err := ValidateRecord(model.KindSpecies, rec.ID, rec); err != nil {
		return nil, err
	}
	return model.NewSpecies(model.SpeciesAttrs{
		ID:        rec.ID,
		Name:      rec.Name,
		Shorthand: rec.Shorthand,
		Formula:   rec.Formula,
		Charge:    rec.Charge,
		Mass:      rec.Mass,
		Xrefs:     parseXrefs(rec.Xrefs),
	})
}
