// Package model defines the immutable entities of a molecular system:
// species, reactions and pathways, together with their cross-references
// to external databases.
package model

// Kind tags the closed set of entity variants.
type Kind int

const (
	KindSpecies Kind = iota
	KindReaction
	KindPathway
)

func (k Kind) String() string {
	switch k {
	case KindSpecies:
		return "species"
	case KindReaction:
		return "reaction"
	case KindPathway:
		return "pathway"
	default:
		return "unknown"
	}
}

// Entity is the capability shared by all catalogued objects. Only *Species,
// *Reaction and *Pathway implement it.
type Entity interface {
	ID() string
	DisplayName() string
	Kind() Kind
	Xrefs() []DbXref
	Xref(db string) (DbXref, bool)

	entity()
}

// base carries the attributes common to every entity.
type base struct {
	id    string
	name  string
	xrefs []DbXref
}

func (b *base) ID() string { return b.id }

// DisplayName returns the name, falling back to the ID.
func (b *base) DisplayName() string {
	if b.name != "" {
		return b.name
	}
	return b.id
}

// Xrefs returns a copy of the cross-references.
func (b *base) Xrefs() []DbXref {
	return append([]DbXref(nil), b.xrefs...)
}

// Xref returns the first cross-reference into db, if any.
func (b *base) Xref(db string) (DbXref, bool) {
	for _, x := range b.xrefs {
		if x.DB == db {
			return x, true
		}
	}
	return DbXref{}, false
}

func (b *base) entity() {}

func newBase(kind Kind, id, name string, xrefs []DbXref) (base, error) {
	if id == "" {
		return base{}, invalid(kind, id, "id", "empty identifier")
	}
	seen := make(map[DbXref]bool, len(xrefs))
	out := make([]DbXref, 0, len(xrefs))
	for _, x := range xrefs {
		if x.ID == "" {
			return base{}, invalid(kind, id, "xrefs", "cross-reference with empty identifier")
		}
		if seen[x] {
			continue
		}
		seen[x] = true
		out = append(out, x)
	}
	return base{id: id, name: name, xrefs: out}, nil
}

func sameXrefs(a, b []DbXref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
