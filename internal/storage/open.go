package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"farmcrew/pkg/logx"
)

// Store is the persistence API used by the archive and the notifier.
type Store interface {
	AppendOrder(ctx context.Context, r OrderRecord) error
	// RecentOrders returns up to limit records, newest first.
	RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	log = log.OrNop().With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
