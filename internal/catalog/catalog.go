// Package catalog assembles the configured knowledge catalogs into one
// kb.Catalog.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/signalsfoundry/mosmo/internal/catalog/sqlite"
	"github.com/signalsfoundry/mosmo/internal/config"
	"github.com/signalsfoundry/mosmo/internal/logging"
	"github.com/signalsfoundry/mosmo/kb"
	"github.com/signalsfoundry/mosmo/model"
)

// Open loads the catalog files into memory and layers the SQLite catalog, if
// any, beneath them. With the breaker enabled the SQLite catalog is guarded
// by a circuit breaker configured from breaker. The catalog is nil when
// nothing is configured. The returned close function releases the database.
func Open(ctx context.Context, cfg config.CatalogConfig, breaker kb.BreakerSettings, log logging.Logger) (kb.Catalog, func() error, error) {
	if log == nil {
		log = logging.Noop()
	}
	var chain kb.Chain
	if len(cfg.Files) > 0 {
		mem := kb.NewKnowledgeBase()
		for _, path := range cfg.Files {
			if err := loadFile(mem, path); err != nil {
				return nil, nil, err
			}
		}
		log.Info(ctx, "loaded catalog files",
			logging.Int("files", len(cfg.Files)),
			logging.Int("species", mem.Len(model.KindSpecies)),
			logging.Int("reactions", mem.Len(model.KindReaction)),
		)
		chain = append(chain, mem)
	}

	closeFn := func() error { return nil }
	if cfg.SQLite != "" {
		db, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		closeFn = db.Close
		var cat kb.Catalog = db
		if cfg.Breaker.Enabled {
			cat = kb.NewBreakerCatalog(db, breaker, log)
		}
		chain = append(chain, cat)
		log.Info(ctx, "opened sqlite catalog",
			logging.String("path", cfg.SQLite),
			logging.Bool("breaker", cfg.Breaker.Enabled),
		)
	}
	if len(chain) == 0 {
		return nil, closeFn, nil
	}
	return chain, closeFn, nil
}

func loadFile(mem *kb.KnowledgeBase, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	defer f.Close()
	if _, err := kb.LoadCatalog(mem, f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
