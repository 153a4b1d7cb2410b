package store

import (
	"context"
	"fmt"

	"github.com/arachnid-agents/mission-control/internal/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(cfg.SnapshotPath), nil
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite driver requires MISSION_SQLITE_PATH")
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DatabaseURL, cfg.MaxConnections)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
