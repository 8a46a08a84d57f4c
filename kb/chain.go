package kb

import (
	"context"
	"errors"
)

// Chain layers catalogs: the first one holding a record wins and lookups fall
// through only on ErrNotFound.
type Chain []Catalog

var _ Catalog = Chain(nil)

func (c Chain) Species(ctx context.Context, id string) (SpeciesRecord, error) {
	return first(c, "species", id, func(cat Catalog) (SpeciesRecord, error) { return cat.Species(ctx, id) })
}

func (c Chain) Reaction(ctx context.Context, id string) (ReactionRecord, error) {
	return first(c, "reaction", id, func(cat Catalog) (ReactionRecord, error) { return cat.Reaction(ctx, id) })
}

func (c Chain) Pathway(ctx context.Context, id string) (PathwayRecord, error) {
	return first(c, "pathway", id, func(cat Catalog) (PathwayRecord, error) { return cat.Pathway(ctx, id) })
}

// Query returns the union of every layer's results in layer order.
func (c Chain) Query(ctx context.Context, q Query) ([]RecordRef, error) {
	seen := make(map[RecordRef]bool)
	var out []RecordRef
	found := false
	for _, cat := range c {
		refs, err := cat.Query(ctx, q)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		found = true
		for _, ref := range refs {
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	if !found && q.Pathway != "" {
		return nil, notFound("pathway", q.Pathway)
	}
	return out, nil
}

func first[T any](c Chain, op, id string, get func(Catalog) (T, error)) (T, error) {
	var zero T
	for _, cat := range c {
		rec, err := get(cat)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return rec, err
	}
	return zero, notFound(op, id)
}
