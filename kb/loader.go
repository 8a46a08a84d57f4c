package kb

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the on-disk catalog shape. YAML is a superset of JSON, so
// both formats decode through it.
type CatalogFile struct {
	Species   []SpeciesRecord  `yaml:"species,omitempty" json:"species,omitempty"`
	Reactions []ReactionRecord `yaml:"reactions,omitempty" json:"reactions,omitempty"`
	Pathways  []PathwayRecord  `yaml:"pathways,omitempty" json:"pathways,omitempty"`
}

// CatalogSummary lists what LoadCatalog added, in file order.
type CatalogSummary struct {
	SpeciesIDs  []string
	ReactionIDs []string
	PathwayIDs  []string
}

// DecodeCatalog parses a catalog file without loading it.
func DecodeCatalog(r io.Reader) (*CatalogFile, error) {
	var file CatalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &file, nil
}

// LoadCatalog reads a catalog file from r into kb.
func LoadCatalog(kb *KnowledgeBase, r io.Reader) (*CatalogSummary, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadCatalog: kb is nil")
	}
	file, err := DecodeCatalog(r)
	if err != nil {
		return nil, err
	}
	return kb.Load(file)
}

// Load adds every record of file, stopping at the first failure.
func (kb *KnowledgeBase) Load(file *CatalogFile) (*CatalogSummary, error) {
	sum := &CatalogSummary{}
	if file == nil {
		return sum, nil
	}
	for _, rec := range file.Species {
		if err := kb.AddSpecies(rec); err != nil {
			return sum, fmt.Errorf("load species: %w", err)
		}
		sum.SpeciesIDs = append(sum.SpeciesIDs, rec.ID)
	}
	for _, rec := range file.Reactions {
		if err := kb.AddReaction(rec); err != nil {
			return sum, fmt.Errorf("load reaction: %w", err)
		}
		sum.ReactionIDs = append(sum.ReactionIDs, rec.ID)
	}
	for _, rec := range file.Pathways {
		if err := kb.AddPathway(rec); err != nil {
			return sum, fmt.Errorf("load pathway: %w", err)
		}
		sum.PathwayIDs = append(sum.PathwayIDs, rec.ID)
	}
	return sum, nil
}
