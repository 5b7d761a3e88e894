package cache

import (
	"fmt"
	"log/slog"
	"os"

	"veganagain/internal/config"
)

func MakeCache(cfg config.CacheConfig) (ListCache, error) {
	switch cfg.Provider {
	case "memory":
		slog.Info("Using in-memory cache; sessions will not survive restarts")
		return NewInMemoryCache(), nil
	case "blob":
		slog.Info("Using Azure Blob Storage for cache", "container", cfg.Container)
		return NewBlobCache(cfg.Container)
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "veganagain.db"
		}
		slog.Info("Using sqlite for cache", "dsn", dsn)
		return OpenSQLite(dsn)
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("CACHE_DSN is required for postgres cache")
		}
		slog.Info("Using postgres for cache")
		return OpenPostgres(cfg.DSN)
	case "file", "":
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		return NewFileCache(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.Provider)
	}
}
