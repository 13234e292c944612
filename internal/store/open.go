package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/civicworks/portal311/internal/config"
)

// Open selects a backend from configuration. Postgres for city-scale
// deployments, SQLite for single-node pilots.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
