package model

import (
	"math"
	"strconv"
	"strings"
)

// Participant is one species of a reaction with its signed stoichiometric
// coefficient: negative when consumed, positive when produced.
type Participant struct {
	Species     *Species
	Coefficient float64
}

// ReactionAttrs are the inputs to NewReaction. Participant order is kept.
type ReactionAttrs struct {
	ID            string
	Name          string
	Stoichiometry []Participant
	Reversible    bool
	KineticLaw    string
	Catalyst      string
	Xrefs         []DbXref
}

// Reaction is a stoichiometric transformation. It is immutable once
// constructed.
type Reaction struct {
	base
	participants []Participant
	index        map[string]int
	reversible   bool
	kineticLaw   string
	catalyst     string
}

// NewReaction validates attrs and constructs a Reaction.
func NewReaction(attrs ReactionAttrs) (*Reaction, error) {
	b, err := newBase(KindReaction, attrs.ID, attrs.Name, attrs.Xrefs)
	if err != nil {
		return nil, err
	}
	if len(attrs.Stoichiometry) == 0 {
		return nil, invalid(KindReaction, attrs.ID, "stoichiometry", "no participants")
	}
	r := &Reaction{
		base:         b,
		participants: make([]Participant, 0, len(attrs.Stoichiometry)),
		index:        make(map[string]int, len(attrs.Stoichiometry)),
		reversible:   attrs.Reversible,
		kineticLaw:   attrs.KineticLaw,
		catalyst:     attrs.Catalyst,
	}
	for _, p := range attrs.Stoichiometry {
		if p.Species == nil {
			return nil, invalid(KindReaction, attrs.ID, "stoichiometry", "nil species")
		}
		sid := p.Species.ID()
		if _, dup := r.index[sid]; dup {
			return nil, invalid(KindReaction, attrs.ID, "stoichiometry", "duplicate participant "+strconv.Quote(sid))
		}
		if math.IsNaN(p.Coefficient) || math.IsInf(p.Coefficient, 0) {
			return nil, invalid(KindReaction, attrs.ID, "stoichiometry", "non-finite coefficient for "+strconv.Quote(sid))
		}
		if p.Coefficient == 0 {
			return nil, invalid(KindReaction, attrs.ID, "stoichiometry", "zero coefficient for "+strconv.Quote(sid))
		}
		r.index[sid] = len(r.participants)
		r.participants = append(r.participants, p)
	}
	return r, nil
}

// MustReaction is NewReaction for static tables; it panics on invalid input.
func MustReaction(attrs ReactionAttrs) *Reaction {
	r, err := NewReaction(attrs)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Reaction) Kind() Kind { return KindReaction }

// Participants returns a copy of the ordered participants.
func (r *Reaction) Participants() []Participant {
	return append([]Participant(nil), r.participants...)
}

// Coefficient returns the stoichiometric coefficient of a species, and false
// when it does not take part.
func (r *Reaction) Coefficient(speciesID string) (float64, bool) {
	i, ok := r.index[speciesID]
	if !ok {
		return 0, false
	}
	return r.participants[i].Coefficient, true
}

// Substrates returns the consumed participants in order.
func (r *Reaction) Substrates() []Participant {
	return r.filter(func(c float64) bool { return c < 0 })
}

// Products returns the produced participants in order.
func (r *Reaction) Products() []Participant {
	return r.filter(func(c float64) bool { return c > 0 })
}

func (r *Reaction) filter(keep func(float64) bool) []Participant {
	var out []Participant
	for _, p := range r.participants {
		if keep(p.Coefficient) {
			out = append(out, p)
		}
	}
	return out
}

func (r *Reaction) Reversible() bool { return r.reversible }

// KineticLaw returns the kinetic law reference, which may be empty.
func (r *Reaction) KineticLaw() string { return r.kineticLaw }

// Catalyst returns the ID of the catalysing species, which may be empty.
func (r *Reaction) Catalyst() string { return r.catalyst }

// Equation renders the reaction as "a + 2 b <=> c", using "=>" when
// irreversible.
func (r *Reaction) Equation() string {
	arrow := " => "
	if r.reversible {
		arrow = " <=> "
	}
	return side(r.Substrates()) + arrow + side(r.Products())
}

func side(ps []Participant) string {
	terms := make([]string, 0, len(ps))
	for _, p := range ps {
		c := math.Abs(p.Coefficient)
		label := p.Species.Label()
		if c == 1 {
			terms = append(terms, label)
			continue
		}
		terms = append(terms, strconv.FormatFloat(c, 'g', -1, 64)+" "+label)
	}
	return strings.Join(terms, " + ")
}

// SameAs reports whether o describes the same transformation with the same
// attributes, returning the first differing attribute otherwise. Participant
// species are compared by ID only.
func (r *Reaction) SameAs(o *Reaction) (bool, string) {
	switch {
	case r == o:
		return true, ""
	case o == nil || r.id != o.id:
		return false, "id"
	case r.name != o.name:
		return false, "name"
	case r.reversible != o.reversible:
		return false, "reversible"
	case r.kineticLaw != o.kineticLaw:
		return false, "kinetic_law"
	case r.catalyst != o.catalyst:
		return false, "catalyst"
	case !sameXrefs(r.xrefs, o.xrefs):
		return false, "xrefs"
	case len(r.participants) != len(o.participants):
		return false, "stoichiometry"
	}
	for i, p := range r.participants {
		q := o.participants[i]
		if p.Species.ID() != q.Species.ID() || p.Coefficient != q.Coefficient {
			return false, "stoichiometry"
		}
	}
	return true, ""
}

func (r *Reaction) String() string { return r.id }
