// Package sqlite serves knowledge catalog records from a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/model"
)

// Catalog implements kb.Catalog over SQLite. Records are stored as JSON with
// their identifiers, organisms and pathway membership indexed in side
// tables. Query results follow import order.
type Catalog struct {
	db *sql.DB
}

var _ kb.Catalog = (*Catalog)(nil)

// Open opens or creates the database at path and ensures the schema exists.
// Use ":memory:" for a private in-memory catalog.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	c := &Catalog{db: db}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog database: %w", err)
	}
	return c, nil
}

// Close releases the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS species (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		data JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		data JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pathways (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		data JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS organisms (
		kind TEXT NOT NULL,
		record_id TEXT NOT NULL,
		organism TEXT NOT NULL,
		PRIMARY KEY (kind, record_id, organism)
	);

	CREATE TABLE IF NOT EXISTS reaction_species (
		reaction_id TEXT NOT NULL,
		species_id TEXT NOT NULL,
		PRIMARY KEY (reaction_id, species_id)
	);

	CREATE TABLE IF NOT EXISTS pathway_reactions (
		pathway_id TEXT NOT NULL,
		reaction_id TEXT NOT NULL,
		PRIMARY KEY (pathway_id, reaction_id)
	);

	CREATE INDEX IF NOT EXISTS idx_organisms_organism ON organisms(kind, organism);
	CREATE INDEX IF NOT EXISTS idx_pathway_reactions_reaction ON pathway_reactions(reaction_id);
	`
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// ImportFile reads a YAML or JSON catalog file and imports it.
func (c *Catalog) ImportFile(ctx context.Context, path string) (*kb.CatalogSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	defer f.Close()
	file, err := kb.DecodeCatalog(f)
	if err != nil {
		return nil, err
	}
	return c.Import(ctx, file)
}

// Import adds every record of file in one transaction. Invalid records fail
// with a *model.ValidationError and existing IDs with kb.ErrRecordExists;
// either way nothing is imported.
func (c *Catalog) Import(ctx context.Context, file *kb.CatalogFile) (*kb.CatalogSummary, error) {
	sum := &kb.CatalogSummary{}
	if file == nil {
		return sum, nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, rec := range file.Species {
		if err := kb.ValidateRecord(model.KindSpecies, rec.ID, rec); err != nil {
			return nil, fmt.Errorf("import species: %w", err)
		}
		if err := insertRecord(ctx, tx, "species", rec.ID, rec); err != nil {
			return nil, err
		}
		if err := insertOrganisms(ctx, tx, model.KindSpecies, rec.ID, rec.Organisms); err != nil {
			return nil, err
		}
		sum.SpeciesIDs = append(sum.SpeciesIDs, rec.ID)
	}
	for _, rec := range file.Reactions {
		if err := kb.ValidateRecord(model.KindReaction, rec.ID, rec); err != nil {
			return nil, fmt.Errorf("import reaction: %w", err)
		}
		if err := insertRecord(ctx, tx, "reactions", rec.ID, rec); err != nil {
			return nil, err
		}
		for _, term := range rec.Stoichiometry {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO reaction_species (reaction_id, species_id) VALUES (?, ?)`,
				rec.ID, term.Species); err != nil {
				return nil, fmt.Errorf("import reaction %q: %w", rec.ID, err)
			}
		}
		if err := insertOrganisms(ctx, tx, model.KindReaction, rec.ID, rec.Organisms); err != nil {
			return nil, err
		}
		sum.ReactionIDs = append(sum.ReactionIDs, rec.ID)
	}
	for _, rec := range file.Pathways {
		if err := kb.ValidateRecord(model.KindPathway, rec.ID, rec); err != nil {
			return nil, fmt.Errorf("import pathway: %w", err)
		}
		if err := insertRecord(ctx, tx, "pathways", rec.ID, rec); err != nil {
			return nil, err
		}
		for _, rid := range rec.Reactions {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO pathway_reactions (pathway_id, reaction_id) VALUES (?, ?)`,
				rec.ID, rid); err != nil {
				return nil, fmt.Errorf("import pathway %q: %w", rec.ID, err)
			}
		}
		if err := insertOrganisms(ctx, tx, model.KindPathway, rec.ID, rec.Organisms); err != nil {
			return nil, err
		}
		sum.PathwayIDs = append(sum.PathwayIDs, rec.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return sum, nil
}

// table names are constants chosen by this package.
func insertRecord(ctx context.Context, tx *sql.Tx, table, id string, rec any) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+table+` WHERE id = ?`, id).Scan(&one)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s %q", kb.ErrRecordExists, kindName(table), id)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("import %s %q: %w", kindName(table), id, err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", kindName(table), id, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO `+table+` (id, data) VALUES (?, ?)`, id, data); err != nil {
		return fmt.Errorf("import %s %q: %w", kindName(table), id, err)
	}
	return nil
}

func insertOrganisms(ctx context.Context, tx *sql.Tx, kind model.Kind, id string, organisms []string) error {
	for _, org := range organisms {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO organisms (kind, record_id, organism) VALUES (?, ?, ?)`,
			kind.String(), id, org); err != nil {
			return fmt.Errorf("import %s %q organisms: %w", kind, id, err)
		}
	}
	return nil
}

func kindName(table string) string {
	switch table {
	case "reactions":
		return "reaction"
	case "pathways":
		return "pathway"
	default:
		return "species"
	}
}

func (c *Catalog) Species(ctx context.Context, id string) (kb.SpeciesRecord, error) {
	var rec kb.SpeciesRecord
	err := c.get(ctx, "species", id, &rec)
	return rec, err
}

func (c *Catalog) Reaction(ctx context.Context, id string) (kb.ReactionRecord, error) {
	var rec kb.ReactionRecord
	err := c.get(ctx, "reactions", id, &rec)
	return rec, err
}

func (c *Catalog) Pathway(ctx context.Context, id string) (kb.PathwayRecord, error) {
	var rec kb.PathwayRecord
	err := c.get(ctx, "pathways", id, &rec)
	return rec, err
}

func (c *Catalog) get(ctx context.Context, table, id string, out any) error {
	op := kindName(table)
	var data []byte
	err := c.db.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %q", kb.ErrNotFound, op, id)
	}
	if err != nil {
		return &kb.CatalogUnavailableError{Op: op, ID: id, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &kb.CatalogUnavailableError{Op: op, ID: id, Err: fmt.Errorf("decode record: %w", err)}
	}
	return nil
}

// Query implements kb.Catalog with the same filter semantics as
// kb.KnowledgeBase: a pathway filter on species selects the species taking
// part in that pathway's reactions.
func (c *Catalog) Query(ctx context.Context, q kb.Query) ([]kb.RecordRef, error) {
	if q.Pathway != "" {
		var one int
		err := c.db.QueryRowContext(ctx, `SELECT 1 FROM pathways WHERE id = ?`, q.Pathway).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: pathway %q", kb.ErrNotFound, q.Pathway)
		}
		if err != nil {
			return nil, &kb.CatalogUnavailableError{Op: "query", ID: q.Pathway, Err: err}
		}
	}

	var table, member string
	switch q.Kind {
	case model.KindSpecies:
		table = "species"
		member = `t.id IN (SELECT rs.species_id FROM reaction_species rs
			JOIN pathway_reactions pr ON pr.reaction_id = rs.reaction_id
			WHERE pr.pathway_id = ?1)`
	case model.KindReaction:
		table = "reactions"
		member = `t.id IN (SELECT reaction_id FROM pathway_reactions WHERE pathway_id = ?1)`
	case model.KindPathway:
		table = "pathways"
		member = `t.id = ?1`
	default:
		return nil, fmt.Errorf("query: unknown kind %v", q.Kind)
	}

	stmt := `SELECT t.id FROM ` + table + ` t
		WHERE (?1 = '' OR ` + member + `)
		AND (?2 = '' OR EXISTS (SELECT 1 FROM organisms o
			WHERE o.kind = ?3 AND o.record_id = t.id AND o.organism = ?2))
		ORDER BY t.seq`
	rows, err := c.db.QueryContext(ctx, stmt, q.Pathway, q.Organism, q.Kind.String())
	if err != nil {
		return nil, &kb.CatalogUnavailableError{Op: "query", Err: err}
	}
	defer rows.Close()

	var refs []kb.RecordRef
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &kb.CatalogUnavailableError{Op: "query", Err: err}
		}
		refs = append(refs, kb.RecordRef{Kind: q.Kind, ID: id})
	}
	if err := rows.Err(); err != nil {
		return nil, &kb.CatalogUnavailableError{Op: "query", Err: err}
	}
	return refs, nil
}
