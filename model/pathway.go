package model

import "strconv"

// PathwayAttrs are the inputs to NewPathway.
type PathwayAttrs struct {
	ID        string
	Name      string
	Reactions []*Reaction
	Xrefs     []DbXref
}

// Pathway is a named, ordered collection of reactions. It carries no
// semantics beyond grouping.
type Pathway struct {
	base
	reactions []*Reaction
}

// NewPathway validates attrs and constructs a Pathway.
func NewPathway(attrs PathwayAttrs) (*Pathway, error) {
	b, err := newBase(KindPathway, attrs.ID, attrs.Name, attrs.Xrefs)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(attrs.Reactions))
	rs := make([]*Reaction, 0, len(attrs.Reactions))
	for _, r := range attrs.Reactions {
		if r == nil {
			return nil, invalid(KindPathway, attrs.ID, "reactions", "nil reaction")
		}
		if seen[r.ID()] {
			return nil, invalid(KindPathway, attrs.ID, "reactions", "duplicate reaction "+strconv.Quote(r.ID()))
		}
		seen[r.ID()] = true
		rs = append(rs, r)
	}
	return &Pathway{base: b, reactions: rs}, nil
}

func (p *Pathway) Kind() Kind { return KindPathway }

// Reactions returns a copy of the ordered reactions.
func (p *Pathway) Reactions() []*Reaction {
	return append([]*Reaction(nil), p.reactions...)
}

// Species returns the participating species in first-encountered order.
func (p *Pathway) Species() []*Species {
	seen := make(map[string]bool)
	var out []*Species
	for _, r := range p.reactions {
		for _, part := range r.participants {
			if seen[part.Species.ID()] {
				continue
			}
			seen[part.Species.ID()] = true
			out = append(out, part.Species)
		}
	}
	return out
}

// Compose returns a new pathway "p+o" holding p's reactions followed by those
// of o not already present.
func (p *Pathway) Compose(o *Pathway) *Pathway {
	return p.join(o.id, o.name, o.reactions)
}

// With returns a new pathway with r appended unless already present.
func (p *Pathway) With(r *Reaction) *Pathway {
	return p.join(r.id, r.DisplayName(), []*Reaction{r})
}

func (p *Pathway) join(id, name string, more []*Reaction) *Pathway {
	seen := make(map[string]bool, len(p.reactions))
	rs := append([]*Reaction(nil), p.reactions...)
	for _, r := range rs {
		seen[r.ID()] = true
	}
	for _, r := range more {
		if !seen[r.ID()] {
			seen[r.ID()] = true
			rs = append(rs, r)
		}
	}
	return &Pathway{
		base: base{
			id:   p.id + "+" + id,
			name: p.DisplayName() + " + " + name,
		},
		reactions: rs,
	}
}
