package storage

import (
	"fmt"
	"log/slog"

	"github.com/Tyrowin/livechat/internal/config"
)

// Open returns the backend selected by STORAGE_DRIVER.
func Open(cfg config.Config, log *slog.Logger) (Store, error) {
	switch cfg.StorageDriver {
	case config.StorageBadger:
		return OpenBadger(cfg.BadgerPath, log, cfg.HistoryLimit)
	case config.StorageSQLite:
		return OpenSQLite(cfg.SQLitePath, log, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
