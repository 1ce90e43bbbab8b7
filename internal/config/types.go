// Package config loads and watches the application configuration. Files may
// be JSON or YAML; YAML is coerced to JSON so both formats go through the
// same strict decoder.
package config

import "time"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Engine   EngineConfig   `json:"engine"`
	Agent    AgentConfig    `json:"agent"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	API      *APIConfig      `json:"api,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"` // Go duration string
}

type LoggingConfig struct {
	Level    string `json:"level,omitempty"` // trace..error; default info
	Console  bool   `json:"console"`
	FilePath string `json:"file_path,omitempty"`
}

// EngineConfig tunes approval and scheduling limits. All durations are Go
// duration strings (e.g. "15m", "60s").
type EngineConfig struct {
	MaxPerChannel   int    `json:"max_per_channel,omitempty"`
	ApprovalTimeout string `json:"approval_timeout,omitempty"`
	CronCheckPeriod string `json:"cron_check_period,omitempty"`
	MinInterval     string `json:"min_interval,omitempty"`
	MinDelay        string `json:"min_delay,omitempty"`
	Timezone        string `json:"timezone,omitempty"` // IANA zone name
}

// AgentConfig points at the webhook that performs the tasks' actual work.
type AgentConfig struct {
	URL string `json:"url"`
}

type NotifierConfig struct {
	Workers    int `json:"workers,omitempty"`
	QueueSize  int `json:"queue_size,omitempty"`
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the audit sink.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./gatebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // file | sqlite | nats | none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	URL         string `json:"url,omitempty"`          // nats
	Subject     string `json:"subject,omitempty"`      // nats
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8090"
}

// EngineDurations resolves the engine's duration fields against defaults.
func (c EngineConfig) EngineDurations() (approval, cronCheck, minInterval, minDelay time.Duration, err error) {
	if approval, err = ParseDurationOrDefault("engine.approval_timeout", c.ApprovalTimeout, 15*time.Minute); err != nil {
		return
	}
	if cronCheck, err = ParseDurationOrDefault("engine.cron_check_period", c.CronCheckPeriod, time.Minute); err != nil {
		return
	}
	if minInterval, err = ParseDurationOrDefault("engine.min_interval", c.MinInterval, time.Minute); err != nil {
		return
	}
	minDelay, err = ParseDurationOrDefault("engine.min_delay", c.MinDelay, time.Minute)
	return
}
