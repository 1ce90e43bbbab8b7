package storage

import (
	"context"
	"errors"
	"strings"

	"gatebot/pkg/logx"
)

// Store is the audit sink consumed by the engine. Writes are fire-and-forget
// from the engine's perspective; errors are logged by the caller, never
// propagated into task state.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
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
	case "nats":
		return openNATS(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
