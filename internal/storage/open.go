// Package storage persists per-execution run records behind a small Store
// interface. Two backends exist: an append-only jsonl file and SQLite
// (behind the `sqlite` build tag). Both support pruning by cutoff, which
// the housekeeping janitor drives.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"taskgate/pkg/logx"
)

// Store is the minimal persistence API used by the scheduler and janitor.
type Store interface {
	AppendRun(ctx context.Context, rec RunRecord) error
	PruneBefore(ctx context.Context, cutoff time.Time) (removed int64, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
