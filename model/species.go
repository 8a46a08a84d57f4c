package model

import "math"

// SpeciesAttrs are the inputs to NewSpecies. Formula, Charge and Mass are
// optional; a nil pointer means unknown.
type SpeciesAttrs struct {
	ID        string
	Name      string
	Shorthand string
	Formula   string
	Charge    *int
	Mass      *float64
	Xrefs     []DbXref
}

// Species is a molecular species. It is immutable once constructed.
type Species struct {
	base
	shorthand  string
	formula    Formula
	formulaSrc string
	charge     *int
	mass       *float64
}

// NewSpecies validates attrs and constructs a Species.
func NewSpecies(attrs SpeciesAttrs) (*Species, error) {
	b, err := newBase(KindSpecies, attrs.ID, attrs.Name, attrs.Xrefs)
	if err != nil {
		return nil, err
	}
	s := &Species{base: b, shorthand: attrs.Shorthand, formulaSrc: attrs.Formula}
	if attrs.Formula != "" {
		f, err := ParseFormula(attrs.Formula)
		if err != nil {
			return nil, invalid(KindSpecies, attrs.ID, "formula", "invalid formula: "+err.Error())
		}
		s.formula = f
	}
	if attrs.Charge != nil {
		c := *attrs.Charge
		s.charge = &c
	}
	if attrs.Mass != nil {
		m := *attrs.Mass
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return nil, invalid(KindSpecies, attrs.ID, "mass", "mass must be finite and non-negative")
		}
		s.mass = &m
	}
	return s, nil
}

// MustSpecies is NewSpecies for static tables; it panics on invalid input.
func MustSpecies(attrs SpeciesAttrs) *Species {
	s, err := NewSpecies(attrs)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Species) Kind() Kind { return KindSpecies }

// Shorthand returns the terse label, which may be empty.
func (s *Species) Shorthand() string { return s.shorthand }

// Label returns the shorthand, name or ID, whichever is set first.
func (s *Species) Label() string {
	if s.shorthand != "" {
		return s.shorthand
	}
	return s.DisplayName()
}

// Formula returns the parsed chemical formula and whether it is known.
func (s *Species) Formula() (Formula, bool) {
	return s.formula, s.formulaSrc != ""
}

// Charge returns the formal charge and whether it is known.
func (s *Species) Charge() (int, bool) {
	if s.charge == nil {
		return 0, false
	}
	return *s.charge, true
}

// Mass returns the mass in daltons and whether it is known.
func (s *Species) Mass() (float64, bool) {
	if s.mass == nil {
		return 0, false
	}
	return *s.mass, true
}

// SameAs reports whether o carries identical attributes. It returns the name
// of the first differing attribute, or "" when they agree.
func (s *Species) SameAs(o *Species) (bool, string) {
	switch {
	case s == o:
		return true, ""
	case o == nil:
		return false, "id"
	case s.id != o.id:
		return false, "id"
	case s.name != o.name:
		return false, "name"
	case s.shorthand != o.shorthand:
		return false, "shorthand"
	case (s.formulaSrc != "") != (o.formulaSrc != "") || !s.formula.Equal(o.formula):
		return false, "formula"
	case !sameIntPtr(s.charge, o.charge):
		return false, "charge"
	case !sameFloatPtr(s.mass, o.mass):
		return false, "mass"
	case !sameXrefs(s.xrefs, o.xrefs):
		return false, "xrefs"
	}
	return true, ""
}

// Attr renders a named attribute for diagnostics.
func (s *Species) Attr(field string) any {
	switch field {
	case "name":
		return s.name
	case "shorthand":
		return s.shorthand
	case "formula":
		return s.formulaSrc
	case "charge":
		if s.charge == nil {
			return nil
		}
		return *s.charge
	case "mass":
		if s.mass == nil {
			return nil
		}
		return *s.mass
	case "xrefs":
		return s.Xrefs()
	default:
		return s.id
	}
}

func (s *Species) String() string { return s.id }

func sameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
