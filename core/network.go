// Package core derives reaction networks and their stoichiometric matrices
// from model entities.
package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/mosmo/model"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyNetwork       = errors.New("network has no reactions")
	ErrInconsistentEntity = errors.New("inconsistent entity")
	ErrNilReaction        = errors.New("nil reaction")
)

// InconsistentEntityError reports one ID carrying conflicting attributes in
// the inputs of a network build.
type InconsistentEntityError struct {
	Kind        model.Kind
	ID          string
	Field       string
	First       any
	Second      any
	ReactionIDs []string // reactions introducing the first and second definitions
}

func (e *InconsistentEntityError) Error() string {
	return fmt.Sprintf("%s: %s %q %s: %v (from %v) vs %v (from %v)",
		ErrInconsistentEntity, e.Kind, e.ID, e.Field,
		e.First, e.fromReaction(0), e.Second, e.fromReaction(1))
}

func (e *InconsistentEntityError) fromReaction(i int) string {
	if i < len(e.ReactionIDs) {
		return e.ReactionIDs[i]
	}
	return "?"
}

// Is reports whether target is ErrInconsistentEntity.
func (e *InconsistentEntityError) Is(target error) bool {
	return target == ErrInconsistentEntity
}

// Network is an immutable reaction network: canonical species and reaction
// orderings plus the species × reactions stoichiometric matrix.
type Network struct {
	species   *Index[*model.Species]
	reactions *Index[*model.Reaction]
	s         *mat.Dense
}

// Build derives a network from reactions. Species are deduplicated by ID and
// ordered by first encounter; reactions keep input order. A reaction ID seen
// twice with identical content is included once.
func Build(reactions ...*model.Reaction) (*Network, error) {
	if len(reactions) == 0 {
		return nil, ErrEmptyNetwork
	}

	species := NewIndex[*model.Species]()
	rxns := NewIndex[*model.Reaction]()
	introducedBy := make(map[string]string)

	for _, r := range reactions {
		if r == nil {
			return nil, ErrNilReaction
		}
		if existing, ok := rxns.Get(r.ID()); ok {
			if same, field := existing.SameAs(r); !same {
				return nil, &InconsistentEntityError{
					Kind:        model.KindReaction,
					ID:          r.ID(),
					Field:       field,
					First:       existing.Equation(),
					Second:      r.Equation(),
					ReactionIDs: []string{r.ID(), r.ID()},
				}
			}
			continue
		}
		for _, p := range r.Participants() {
			sp := p.Species
			if existing, ok := species.Get(sp.ID()); ok {
				if same, field := existing.SameAs(sp); !same {
					return nil, &InconsistentEntityError{
						Kind:        model.KindSpecies,
						ID:          sp.ID(),
						Field:       field,
						First:       existing.Attr(field),
						Second:      sp.Attr(field),
						ReactionIDs: []string{introducedBy[sp.ID()], r.ID()},
					}
				}
				continue
			}
			species.Add(sp)
			introducedBy[sp.ID()] = r.ID()
		}
		rxns.Add(r)
	}

	s := mat.NewDense(species.Len(), rxns.Len(), nil)
	for j := 0; j < rxns.Len(); j++ {
		for _, p := range rxns.At(j).Participants() {
			i, _ := species.IndexOf(p.Species.ID())
			s.Set(i, j, p.Coefficient)
		}
	}
	return &Network{species: species, reactions: rxns, s: s}, nil
}

// NetworkFromPathway builds the network of a pathway's reactions.
func NetworkFromPathway(p *model.Pathway) (*Network, error) {
	if p == nil {
		return nil, ErrEmptyNetwork
	}
	n, err := Build(p.Reactions()...)
	if err != nil {
		return nil, fmt.Errorf("pathway %q: %w", p.ID(), err)
	}
	return n, nil
}

// Extend returns a new network over the receiver's reactions followed by more.
// The receiver is unchanged.
func (n *Network) Extend(more ...*model.Reaction) (*Network, error) {
	all := append(n.reactions.Items(), more...)
	return Build(all...)
}

// Shape returns (species, reactions).
func (n *Network) Shape() (int, int) {
	return n.species.Len(), n.reactions.Len()
}

// Species returns the species in canonical order.
func (n *Network) Species() []*model.Species { return n.species.Items() }

// Reactions returns the reactions in canonical order.
func (n *Network) Reactions() []*model.Reaction { return n.reactions.Items() }

func (n *Network) SpeciesIDs() []string  { return n.species.IDs() }
func (n *Network) ReactionIDs() []string { return n.reactions.IDs() }

func (n *Network) SpeciesAt(i int) *model.Species   { return n.species.At(i) }
func (n *Network) ReactionAt(j int) *model.Reaction { return n.reactions.At(j) }

// SpeciesIndex returns the matrix row of a species.
func (n *Network) SpeciesIndex(id string) (int, bool) { return n.species.IndexOf(id) }

// ReactionIndex returns the matrix column of a reaction.
func (n *Network) ReactionIndex(id string) (int, bool) { return n.reactions.IndexOf(id) }

// Matrix returns a copy of the stoichiometric matrix.
func (n *Network) Matrix() *mat.Dense {
	return mat.DenseCopyOf(n.s)
}

// At returns the coefficient of species row i in reaction column j.
func (n *Network) At(i, j int) float64 { return n.s.At(i, j) }

// Column returns a copy of reaction column j.
func (n *Network) Column(j int) []float64 {
	return mat.Col(nil, j, n.s)
}

// ReactionCoefficients recovers a reaction's stoichiometry from its matrix
// column, keyed by species ID.
func (n *Network) ReactionCoefficients(id string) (map[string]float64, bool) {
	j, ok := n.reactions.IndexOf(id)
	if !ok {
		return nil, false
	}
	out := make(map[string]float64)
	for i := 0; i < n.species.Len(); i++ {
		if v := n.s.At(i, j); v != 0 {
			out[n.species.At(i).ID()] = v
		}
	}
	return out, true
}

// Reversible returns the reversibility flag of every reaction in order.
func (n *Network) Reversible() []bool {
	out := make([]bool, n.reactions.Len())
	for j := range out {
		out[j] = n.reactions.At(j).Reversible()
	}
	return out
}

// PackSpecies orders a species-keyed mapping like the matrix rows.
func (n *Network) PackSpecies(values map[string]float64, def float64) []float64 {
	return n.species.Pack(values, def)
}

// UnpackSpecies maps a row-ordered vector back to species IDs.
func (n *Network) UnpackSpecies(values []float64) map[string]float64 {
	return n.species.Unpack(values)
}

// PackReactions orders a reaction-keyed mapping like the matrix columns.
func (n *Network) PackReactions(values map[string]float64, def float64) []float64 {
	return n.reactions.Pack(values, def)
}

// UnpackReactions maps a column-ordered vector back to reaction IDs.
func (n *Network) UnpackReactions(values []float64) map[string]float64 {
	return n.reactions.Unpack(values)
}
