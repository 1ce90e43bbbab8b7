// Package storage is the audit sink: an append-only trail of task lifecycle
// events. Drivers: file (JSONL), sqlite, nats, or disabled. The engine treats
// every write as best-effort.
package storage
