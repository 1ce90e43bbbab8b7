package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the audit store.
//
// Driver values:
//   - "file":   dependency-free JSONL append log
//   - "sqlite": SQLite database file
//   - "nats":   publish entries to a NATS subject
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file/sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default
	URL         string        // nats server URL
	Subject     string        // nats subject prefix; default "gatebot.audit"
}

// AuditEntry records one task lifecycle event. Append-only; the engine never
// reads it back. Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Kind    string    `json:"kind"` // registered, approved, rejected, expired, ...
	TaskID  string    `json:"task_id,omitempty"`
	ActorID int64     `json:"actor_id,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}
