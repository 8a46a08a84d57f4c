package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/mosmo/model"
)

func intPtr(v int) *int { return &v }

func sp(id string) *model.Species {
	return model.MustSpecies(model.SpeciesAttrs{ID: id})
}

func rx(id string, reversible bool, parts ...model.Participant) *model.Reaction {
	return model.MustReaction(model.ReactionAttrs{ID: id, Stoichiometry: parts, Reversible: reversible})
}

func TestBuildOrdersSpeciesByFirstEncounter(t *testing.T) {
	a, b, c, d := sp("A"), sp("B"), sp("C"), sp("D")
	r1 := rx("r1", false, model.Participant{Species: b, Coefficient: -1}, model.Participant{Species: c, Coefficient: 1})
	r2 := rx("r2", false, model.Participant{Species: a, Coefficient: -2}, model.Participant{Species: b, Coefficient: 1})
	r3 := rx("r3", true, model.Participant{Species: c, Coefficient: -1}, model.Participant{Species: d, Coefficient: 1})

	for range 3 {
		net, err := Build(r1, r2, r3)
		if err != nil {
			t.Fatalf("Build error: %v", err)
		}
		wantSpecies := []string{"B", "C", "A", "D"}
		gotSpecies := net.SpeciesIDs()
		for i := range wantSpecies {
			if gotSpecies[i] != wantSpecies[i] {
				t.Fatalf("species order = %v, want %v", gotSpecies, wantSpecies)
			}
		}
		wantRxns := []string{"r1", "r2", "r3"}
		for i, id := range net.ReactionIDs() {
			if id != wantRxns[i] {
				t.Fatalf("reaction order = %v, want %v", net.ReactionIDs(), wantRxns)
			}
		}
		if m, n := net.Shape(); m != 4 || n != 3 {
			t.Fatalf("Shape = (%d, %d), want (4, 3)", m, n)
		}
	}
}

func TestMatrixRoundTrip(t *testing.T) {
	a, b, c := sp("A"), sp("B"), sp("C")
	reactions := []*model.Reaction{
		rx("r1", false, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 2}),
		rx("r2", true, model.Participant{Species: b, Coefficient: -1}, model.Participant{Species: a, Coefficient: -0.5}, model.Participant{Species: c, Coefficient: 1}),
	}
	net, err := Build(reactions...)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	for _, r := range reactions {
		got, ok := net.ReactionCoefficients(r.ID())
		if !ok {
			t.Fatalf("ReactionCoefficients(%s) missing", r.ID())
		}
		parts := r.Participants()
		if len(got) != len(parts) {
			t.Fatalf("%s: column has %d entries, want %d", r.ID(), len(got), len(parts))
		}
		for _, p := range parts {
			if got[p.Species.ID()] != p.Coefficient {
				t.Fatalf("%s[%s] = %v, want %v", r.ID(), p.Species.ID(), got[p.Species.ID()], p.Coefficient)
			}
		}
	}

	m := net.Matrix()
	m.Set(0, 0, 99)
	if net.At(0, 0) != -1 {
		t.Fatalf("Matrix() exposed internal storage")
	}
}

func TestBuildRejectsConflictingSpecies(t *testing.T) {
	a0 := model.MustSpecies(model.SpeciesAttrs{ID: "A", Charge: intPtr(0)})
	a1 := model.MustSpecies(model.SpeciesAttrs{ID: "A", Charge: intPtr(-1)})
	b := sp("B")
	r1 := rx("r1", false, model.Participant{Species: a0, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1})
	r2 := rx("r2", false, model.Participant{Species: b, Coefficient: -1}, model.Participant{Species: a1, Coefficient: 1})

	_, err := Build(r1, r2)
	if !errors.Is(err, ErrInconsistentEntity) {
		t.Fatalf("Build error = %v, want ErrInconsistentEntity", err)
	}
	var ie *InconsistentEntityError
	if !errors.As(err, &ie) {
		t.Fatalf("error is not *InconsistentEntityError: %T", err)
	}
	if ie.ID != "A" || ie.Field != "charge" || ie.ReactionIDs[0] != "r1" || ie.ReactionIDs[1] != "r2" {
		t.Fatalf("InconsistentEntityError = %+v", ie)
	}
}

func TestBuildAcceptsEquivalentSpeciesInstances(t *testing.T) {
	b1 := model.MustSpecies(model.SpeciesAttrs{ID: "B", Formula: "H2O"})
	b2 := model.MustSpecies(model.SpeciesAttrs{ID: "B", Formula: "H2O"})
	a := sp("A")
	r1 := rx("r1", false, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b1, Coefficient: 1})
	r2 := rx("r2", false, model.Participant{Species: b2, Coefficient: -1}, model.Participant{Species: a, Coefficient: 1})

	net, err := Build(r1, r2, r1)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if m, n := net.Shape(); m != 2 || n != 2 {
		t.Fatalf("Shape = (%d, %d), want (2, 2)", m, n)
	}
}

func TestBuildRejectsConflictingReaction(t *testing.T) {
	a, b := sp("A"), sp("B")
	r1 := rx("r1", false, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1})
	r1rev := rx("r1", true, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1})
	if _, err := Build(r1, r1rev); !errors.Is(err, ErrInconsistentEntity) {
		t.Fatalf("Build error = %v, want ErrInconsistentEntity", err)
	}
}

func TestBuildEmpty(t *testing.T) {
	if _, err := Build(); !errors.Is(err, ErrEmptyNetwork) {
		t.Fatalf("Build() error = %v, want ErrEmptyNetwork", err)
	}
}

func TestExtendReturnsNewNetwork(t *testing.T) {
	a, b, c := sp("A"), sp("B"), sp("C")
	r1 := rx("r1", false, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1})
	r2 := rx("r2", false, model.Participant{Species: b, Coefficient: -1}, model.Participant{Species: c, Coefficient: 1})

	base, err := Build(r1)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	ext, err := base.Extend(r2)
	if err != nil {
		t.Fatalf("Extend error: %v", err)
	}
	if m, n := base.Shape(); m != 2 || n != 1 {
		t.Fatalf("receiver changed to (%d, %d)", m, n)
	}
	if m, n := ext.Shape(); m != 3 || n != 2 {
		t.Fatalf("extended Shape = (%d, %d), want (3, 2)", m, n)
	}
	if j, ok := ext.ReactionIndex("r2"); !ok || j != 1 {
		t.Fatalf("ReactionIndex(r2) = %d, %v", j, ok)
	}
}

func TestPackUnpack(t *testing.T) {
	a, b := sp("A"), sp("B")
	net, err := Build(rx("r1", true, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1}))
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	vec := net.PackSpecies(map[string]float64{"B": 2, "Z": 9}, -1)
	if len(vec) != 2 || vec[0] != -1 || vec[1] != 2 {
		t.Fatalf("PackSpecies = %v", vec)
	}
	back := net.UnpackSpecies(vec)
	if back["A"] != -1 || back["B"] != 2 || len(back) != 2 {
		t.Fatalf("UnpackSpecies = %v", back)
	}
	if rev := net.Reversible(); len(rev) != 1 || !rev[0] {
		t.Fatalf("Reversible = %v", rev)
	}
}

func TestNetworkFromPathway(t *testing.T) {
	a, b := sp("A"), sp("B")
	r1 := rx("r1", false, model.Participant{Species: a, Coefficient: -1}, model.Participant{Species: b, Coefficient: 1})
	p, err := model.NewPathway(model.PathwayAttrs{ID: "p"})
	if err != nil {
		t.Fatalf("NewPathway error: %v", err)
	}
	if _, err := NetworkFromPathway(p); !errors.Is(err, ErrEmptyNetwork) {
		t.Fatalf("empty pathway error = %v", err)
	}
	net, err := NetworkFromPathway(p.With(r1))
	if err != nil {
		t.Fatalf("NetworkFromPathway error: %v", err)
	}
	if _, n := net.Shape(); n != 1 {
		t.Fatalf("reactions = %d, want 1", n)
	}
}
