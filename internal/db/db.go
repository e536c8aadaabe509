// Package db opens the record store selected by configuration.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sudo-init-do/channelhub/internal/config"
	"github.com/sudo-init-do/channelhub/internal/storage"
	"github.com/sudo-init-do/channelhub/internal/storage/levelstore"
	"github.com/sudo-init-do/channelhub/internal/storage/memory"
	"github.com/sudo-init-do/channelhub/internal/storage/postgres"
)

// Open connects to the configured backend. The caller owns the store and
// must Close it.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		s, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return s, nil
	case config.BackendLevelDB:
		s, err := levelstore.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened leveldb store", "path", cfg.LevelDBPath)
		return s, nil
	case config.BackendMemory:
		logger.Warn("using in-memory store; records are lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
