// Package kb is the boundary between the model core and knowledge catalogs:
// read-only sources of species, reaction and pathway records keyed by stable
// identifiers.
package kb

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/mosmo/model"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrCatalogUnavailable = errors.New("catalog unavailable")
	ErrRecordExists       = errors.New("record already exists")
)

// CatalogUnavailableError reports a lookup the catalog could not serve. It
// is distinct from a missing record and from an invalid record.
type CatalogUnavailableError struct {
	Op  string // species, reaction, pathway or query
	ID  string
	Err error
}

func (e *CatalogUnavailableError) Error() string {
	msg := ErrCatalogUnavailable.Error() + ": " + e.Op
	if e.ID != "" {
		msg += fmt.Sprintf(" %q", e.ID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CatalogUnavailableError) Unwrap() error { return e.Err }

// Is reports whether target is ErrCatalogUnavailable.
func (e *CatalogUnavailableError) Is(target error) bool {
	return target == ErrCatalogUnavailable
}

// Catalog is a read-only source of entity records. Implementations return
// errors wrapping ErrNotFound for missing records; any other error is treated
// as the catalog being unavailable.
type Catalog interface {
	Species(ctx context.Context, id string) (SpeciesRecord, error)
	Reaction(ctx context.Context, id string) (ReactionRecord, error)
	Pathway(ctx context.Context, id string) (PathwayRecord, error)
	Query(ctx context.Context, q Query) ([]RecordRef, error)
}

// Query selects records by kind, optionally restricted to an organism and/or
// a pathway grouping. Empty fields do not filter.
type Query struct {
	Kind     model.Kind
	Organism string
	Pathway  string
}

// RecordRef identifies a record returned by a query.
type RecordRef struct {
	Kind model.Kind
	ID   string
}

// SpeciesRecord is the catalog form of a species.
type SpeciesRecord struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`
	Shorthand string   `yaml:"shorthand,omitempty" json:"shorthand,omitempty"`
	Formula   string   `yaml:"formula,omitempty" json:"formula,omitempty"`
	Charge    *int     `yaml:"charge,omitempty" json:"charge,omitempty"`
	Mass      *float64 `yaml:"mass,omitempty" json:"mass,omitempty" validate:"omitempty,gte=0"`
	Xrefs     []string `yaml:"xrefs,omitempty" json:"xrefs,omitempty" validate:"dive,required"`
	Organisms []string `yaml:"organisms,omitempty" json:"organisms,omitempty" validate:"dive,required"`
}

// StoichTerm is one participant of a reaction record.
type StoichTerm struct {
	Species     string  `yaml:"species" json:"species" validate:"required"`
	Coefficient float64 `yaml:"coefficient" json:"coefficient" validate:"ne=0"`
}

// ReactionRecord is the catalog form of a reaction.
type ReactionRecord struct {
	ID            string       `yaml:"id" json:"id" validate:"required"`
	Name          string       `yaml:"name,omitempty" json:"name,omitempty"`
	Stoichiometry []StoichTerm `yaml:"stoichiometry" json:"stoichiometry" validate:"required,min=1,dive"`
	Reversible    bool         `yaml:"reversible,omitempty" json:"reversible,omitempty"`
	KineticLaw    string       `yaml:"kinetic_law,omitempty" json:"kinetic_law,omitempty"`
	Catalyst      string       `yaml:"catalyst,omitempty" json:"catalyst,omitempty"`
	Xrefs         []string     `yaml:"xrefs,omitempty" json:"xrefs,omitempty" validate:"dive,required"`
	Organisms     []string     `yaml:"organisms,omitempty" json:"organisms,omitempty" validate:"dive,required"`
}

// PathwayRecord is the catalog form of a pathway.
type PathwayRecord struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Name      string   `yaml:"name,omitempty" json:"name,omitempty"`
	Reactions []string `yaml:"reactions" json:"reactions" validate:"dive,required"`
	Xrefs     []string `yaml:"xrefs,omitempty" json:"xrefs,omitempty" validate:"dive,required"`
	Organisms []string `yaml:"organisms,omitempty" json:"organisms,omitempty" validate:"dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRecord checks a record's struct constraints and reports the first
// violation as a *model.ValidationError.
func ValidateRecord(kind model.Kind, id string, rec any) error {
	err := validate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := "failed " + fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &model.ValidationError{Kind: kind, ID: id, Field: fe.Namespace(), Reason: reason}
	}
	return err
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func (r SpeciesRecord) clone() SpeciesRecord {
	out := r
	if r.Charge != nil {
		c := *r.Charge
		out.Charge = &c
	}
	if r.Mass != nil {
		m := *r.Mass
		out.Mass = &m
	}
	out.Xrefs = cloneStrings(r.Xrefs)
	out.Organisms = cloneStrings(r.Organisms)
	return out
}

func (r ReactionRecord) clone() ReactionRecord {
	out := r
	out.Stoichiometry = append([]StoichTerm(nil), r.Stoichiometry...)
	out.Xrefs = cloneStrings(r.Xrefs)
	out.Organisms = cloneStrings(r.Organisms)
	return out
}

func (r PathwayRecord) clone() PathwayRecord {
	out := r
	out.Reactions = cloneStrings(r.Reactions)
	out.Xrefs = cloneStrings(r.Xrefs)
	out.Organisms = cloneStrings(r.Organisms)
	return out
}

func parseXrefs(raw []string) []model.DbXref {
	out := make([]model.DbXref, 0, len(raw))
	for _, s := range raw {
		out = append(out, model.ParseXref(s))
	}
	return out
}

func notFound(op, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, op, id)
}
