package model

import (
	"fmt"
	"strings"
	"sync"
)

// DbXref is a reference to a record in an external database.
type DbXref struct {
	DB string
	ID string
}

// ParseXref splits a "DB:ID" reference on its first colon. A reference with
// no colon yields an empty DB.
func ParseXref(s string) DbXref {
	s = strings.TrimSpace(s)
	db, id, ok := strings.Cut(s, ":")
	if !ok {
		return DbXref{ID: s}
	}
	return DbXref{DB: db, ID: id}
}

func (x DbXref) String() string {
	if x.DB == "" {
		return x.ID
	}
	return x.DB + ":" + x.ID
}

// Datasource describes an external database that entities cross-reference.
type Datasource struct {
	ID         string
	Name       string
	Home       string
	URLPattern string // "{id}" is substituted with the record ID
}

// URL returns the record URL for id, or "" when no pattern is known.
func (d Datasource) URL(id string) string {
	if d.URLPattern == "" {
		return ""
	}
	return strings.ReplaceAll(d.URLPattern, "{id}", id)
}

// Registry is a concurrency-safe set of datasources keyed by ID.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Datasource
}

// NewRegistry returns a registry holding the given datasources.
func NewRegistry(sources ...Datasource) *Registry {
	r := &Registry{sources: make(map[string]Datasource, len(sources))}
	for _, ds := range sources {
		r.sources[ds.ID] = ds
	}
	return r
}

// Define adds a datasource. Redefining an ID with different attributes is an
// error; redefining it identically is a no-op.
func (r *Registry) Define(ds Datasource) error {
	if ds.ID == "" {
		return fmt.Errorf("datasource: empty identifier")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sources[ds.ID]; ok && existing != ds {
		return fmt.Errorf("datasource %q already defined", ds.ID)
	}
	r.sources[ds.ID] = ds
	return nil
}

// Get returns the datasource with the given ID.
func (r *Registry) Get(id string) (Datasource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.sources[id]
	return ds, ok
}

// URL resolves a cross-reference to a record URL.
func (r *Registry) URL(x DbXref) string {
	ds, ok := r.Get(x.DB)
	if !ok {
		return ""
	}
	return ds.URL(x.ID)
}

// StandardDatasources lists the databases most commonly referenced by
// metabolic models.
func StandardDatasources() []Datasource {
	return []Datasource{
		{ID: "CHEBI", Name: "Chemical Entities of Biological Interest", Home: "https://www.ebi.ac.uk/chebi/",
			URLPattern: "https://www.ebi.ac.uk/chebi/searchId.do?chebiId=CHEBI:{id}"},
		{ID: "KEGG", Name: "Kyoto Encyclopedia of Genes and Genomes", Home: "https://www.kegg.jp/",
			URLPattern: "https://www.kegg.jp/entry/{id}"},
		{ID: "BIGG", Name: "BiGG Models", Home: "http://bigg.ucsd.edu/",
			URLPattern: "http://bigg.ucsd.edu/search?query={id}"},
		{ID: "RHEA", Name: "Rhea", Home: "https://www.rhea-db.org/",
			URLPattern: "https://www.rhea-db.org/rhea/{id}"},
		{ID: "METACYC", Name: "MetaCyc", Home: "https://metacyc.org/",
			URLPattern: "https://metacyc.org/compound?orgid=META&id={id}"},
		{ID: "METANETX", Name: "MetaNetX", Home: "https://www.metanetx.org/",
			URLPattern: "https://www.metanetx.org/chem_info/{id}"},
		{ID: "EC", Name: "Enzyme Commission", Home: "https://enzyme.expasy.org/",
			URLPattern: "https://enzyme.expasy.org/EC/{id}"},
		{ID: "GO", Name: "Gene Ontology", Home: "http://geneontology.org/",
			URLPattern: "http://amigo.geneontology.org/amigo/term/GO:{id}"},
	}
}
