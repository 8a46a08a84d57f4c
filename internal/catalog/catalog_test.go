package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mosmo/internal/catalog/sqlite"
	"github.com/signalsfoundry/mosmo/internal/config"
	"github.com/signalsfoundry/mosmo/kb"
)

func TestOpenLayersFilesOverSQLite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	file := filepath.Join(dir, "local.yaml")
	require.NoError(t, os.WriteFile(file, []byte("species: [{id: A, name: local}]\n"), 0o644))

	dbPath := filepath.Join(dir, "catalog.db")
	db, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	_, err = db.Import(ctx, &kb.CatalogFile{Species: []kb.SpeciesRecord{{ID: "A", Name: "remote"}, {ID: "B"}}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfg := config.CatalogConfig{Files: []string{file}, SQLite: dbPath, Breaker: config.BreakerConfig{Enabled: true}}
	cat, closeFn, err := Open(ctx, cfg, kb.BreakerSettings{Name: "test"}, nil)
	require.NoError(t, err)
	defer closeFn()

	a, err := cat.Species(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "local", a.Name, "files shadow the database")
	_, err = cat.Species(ctx, "B")
	assert.NoError(t, err)
	_, err = cat.Species(ctx, "Z")
	assert.ErrorIs(t, err, kb.ErrNotFound)
}

func TestOpenNothingConfigured(t *testing.T) {
	cat, closeFn, err := Open(context.Background(), config.CatalogConfig{}, kb.BreakerSettings{}, nil)
	require.NoError(t, err)
	assert.Nil(t, cat)
	assert.NoError(t, closeFn())
}

func TestOpenReportsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reactions: [{id: r1}]\n"), 0o644))
	_, _, err := Open(context.Background(), config.CatalogConfig{Files: []string{path}}, kb.BreakerSettings{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}
