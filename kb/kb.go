package kb

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/signalsfoundry/mosmo/model"
)

// KnowledgeBase is an in-memory, thread-safe catalog. Records are kept in
// insertion order so queries are deterministic.
type KnowledgeBase struct {
	mu sync.RWMutex

	species   map[string]SpeciesRecord
	reactions map[string]ReactionRecord
	pathways  map[string]PathwayRecord
	order     map[model.Kind][]string
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		species:   make(map[string]SpeciesRecord),
		reactions: make(map[string]ReactionRecord),
		pathways:  make(map[string]PathwayRecord),
		order:     make(map[model.Kind][]string),
	}
}

var _ Catalog = (*KnowledgeBase)(nil)

// AddSpecies adds a species record. It returns an error if the ID already
// exists or the record is invalid.
func (kb *KnowledgeBase) AddSpecies(rec SpeciesRecord) error {
	if err := ValidateRecord(model.KindSpecies, rec.ID, rec); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.species[rec.ID]; exists {
		return fmt.Errorf("%w: species %q", ErrRecordExists, rec.ID)
	}
	kb.species[rec.ID] = rec.clone()
	kb.appendLocked(model.KindSpecies, rec.ID)
	return nil
}

// AddReaction adds a reaction record. Participant species need not be
// present yet; they are resolved lazily.
func (kb *KnowledgeBase) AddReaction(rec ReactionRecord) error {
	if err := ValidateRecord(model.KindReaction, rec.ID, rec); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.reactions[rec.ID]; exists {
		return fmt.Errorf("%w: reaction %q", ErrRecordExists, rec.ID)
	}
	kb.reactions[rec.ID] = rec.clone()
	kb.appendLocked(model.KindReaction, rec.ID)
	return nil
}

// AddPathway adds a pathway record.
func (kb *KnowledgeBase) AddPathway(rec PathwayRecord) error {
	if err := ValidateRecord(model.KindPathway, rec.ID, rec); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.pathways[rec.ID]; exists {
		return fmt.Errorf("%w: pathway %q", ErrRecordExists, rec.ID)
	}
	kb.pathways[rec.ID] = rec.clone()
	kb.appendLocked(model.KindPathway, rec.ID)
	return nil
}

// appendLocked records insertion order. The caller holds the write lock.
func (kb *KnowledgeBase) appendLocked(kind model.Kind, id string) {
	kb.order[kind] = append(kb.order[kind], id)
}

// Species implements Catalog.
func (kb *KnowledgeBase) Species(_ context.Context, id string) (SpeciesRecord, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rec, ok := kb.species[id]
	if !ok {
		return SpeciesRecord{}, notFound("species", id)
	}
	return rec.clone(), nil
}

// Reaction implements Catalog.
func (kb *KnowledgeBase) Reaction(_ context.Context, id string) (ReactionRecord, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rec, ok := kb.reactions[id]
	if !ok {
		return ReactionRecord{}, notFound("reaction", id)
	}
	return rec.clone(), nil
}

// Pathway implements Catalog.
func (kb *KnowledgeBase) Pathway(_ context.Context, id string) (PathwayRecord, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	rec, ok := kb.pathways[id]
	if !ok {
		return PathwayRecord{}, notFound("pathway", id)
	}
	return rec.clone(), nil
}

// Query implements Catalog. A pathway filter on species selects the species
// taking part in that pathway's reactions.
func (kb *KnowledgeBase) Query(_ context.Context, q Query) ([]RecordRef, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var inPathway map[string]bool
	if q.Pathway != "" {
		pw, ok := kb.pathways[q.Pathway]
		if !ok {
			return nil, notFound("pathway", q.Pathway)
		}
		inPathway = make(map[string]bool)
		for _, rid := range pw.Reactions {
			switch q.Kind {
			case model.KindReaction:
				inPathway[rid] = true
			case model.KindSpecies:
				for _, term := range kb.reactions[rid].Stoichiometry {
					inPathway[term.Species] = true
				}
			}
		}
		if q.Kind == model.KindPathway {
			inPathway[q.Pathway] = true
		}
	}

	var refs []RecordRef
	for _, id := range kb.order[q.Kind] {
		if inPathway != nil && !inPathway[id] {
			continue
		}
		if q.Organism != "" && !slices.Contains(kb.organismsLocked(q.Kind, id), q.Organism) {
			continue
		}
		refs = append(refs, RecordRef{Kind: q.Kind, ID: id})
	}
	return refs, nil
}

func (kb *KnowledgeBase) organismsLocked(kind model.Kind, id string) []string {
	switch kind {
	case model.KindSpecies:
		return kb.species[id].Organisms
	case model.KindReaction:
		return kb.reactions[id].Organisms
	default:
		return kb.pathways[id].Organisms
	}
}

// Len returns the number of records of a kind.
func (kb *KnowledgeBase) Len(kind model.Kind) int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.order[kind])
}
