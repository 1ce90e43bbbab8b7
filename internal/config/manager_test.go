package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const yamlConfig = `
telegram:
  token: "123:abc"
  poll_timeout: "10s"
logging:
  level: debug
  console: true
engine:
  max_per_channel: 5
  approval_timeout: "10m"
  timezone: "Europe/Berlin"
agent:
  url: "http://127.0.0.1:9000/invoke"
storage:
  driver: sqlite
  path: "./gatebot.db"
api:
  enabled: true
  addr: "127.0.0.1:8090"
`

func TestLoadYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", yamlConfig))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Engine.MaxPerChannel != 5 {
		t.Fatalf("max_per_channel = %d", cfg.Engine.MaxPerChannel)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.API == nil || !cfg.API.Enabled {
		t.Fatalf("api = %+v", cfg.API)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"logging":{"console":true},"engine":{},"agent":{"url":"http://x/invoke"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.URL != "http://x/invoke" {
		t.Fatalf("agent url = %q", cfg.Agent.URL)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"loging":{"console":true}}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"}}{"extra":1}`))
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestEngineDurations(t *testing.T) {
	c := EngineConfig{ApprovalTimeout: "10m", MinInterval: "30s"}
	approval, cronCheck, minInterval, minDelay, err := c.EngineDurations()
	if err != nil {
		t.Fatalf("EngineDurations: %v", err)
	}
	if approval != 10*time.Minute {
		t.Fatalf("approval = %v", approval)
	}
	if cronCheck != time.Minute {
		t.Fatalf("cronCheck default = %v", cronCheck)
	}
	if minInterval != 30*time.Second {
		t.Fatalf("minInterval = %v", minInterval)
	}
	if minDelay != time.Minute {
		t.Fatalf("minDelay default = %v", minDelay)
	}

	c = EngineConfig{ApprovalTimeout: "soon"}
	if _, _, _, _, err := c.EngineDurations(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", "90s"); err != nil || d != 90*time.Second {
		t.Fatalf("90s = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
	if _, err := ParseDurationField("x", "5 bananas"); err == nil {
		t.Fatal("expected error for junk")
	}
}

func TestSubscribePublish(t *testing.T) {
	path := writeConfig(t, "config.json", `{"telegram":{"token":"t"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	if err := os.WriteFile(path, []byte(`{"telegram":{"token":"t2"}}`), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	m.reload()

	select {
	case cfg := <-ch:
		if cfg.Telegram.Token != "t2" {
			t.Fatalf("token = %q, want t2", cfg.Telegram.Token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no config published after reload")
	}

	// Unchanged content must not republish.
	m.reload()
	select {
	case <-ch:
		t.Fatal("unchanged config was republished")
	case <-time.After(50 * time.Millisecond):
	}
}
