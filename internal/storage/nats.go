package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"gatebot/pkg/logx"
)

// natsStore publishes audit entries to a NATS subject. Fire-and-forget by
// design: the audit trail is append-only and never read back by the engine.
type natsStore struct {
	nc      *nats.Conn
	subject string
	log     logx.Logger
}

func openNATS(cfg Config, log logx.Logger) (Store, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("storage.url is required for nats driver")
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = "gatebot.audit"
	}

	nc, err := nats.Connect(url,
		nats.Name("gatebot-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &natsStore{nc: nc, subject: subject, log: log}, nil
}

func (s *natsStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	if s == nil || s.nc == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	subject := s.subject
	if e.Channel != "" {
		subject = s.subject + "." + e.Channel
	}
	return s.nc.Publish(subject, b)
}

func (s *natsStore) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	// Flush pending publishes before dropping the connection.
	_ = s.nc.FlushTimeout(2 * time.Second)
	s.nc.Close()
	return nil
}
