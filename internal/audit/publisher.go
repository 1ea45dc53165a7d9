package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
)

// Publisher forwards audit records to a NATS subject so downstream
// consumers (SIEM, alerting) can react to detections. Publishing is
// best-effort: failures are logged and counted, never propagated to
// the caller.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
	failed  int64
}

// NewPublisher connects to the NATS server named in cfg.
func NewPublisher(cfg config.AuditNATSConfig, logger *zap.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("redactd-audit"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Audit publisher connected",
		zap.String("url", cfg.URL),
		zap.String("subject", cfg.Subject))

	return &Publisher{
		conn:    conn,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// Publish sends one record as JSON.
func (p *Publisher) Publish(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		p.logger.Error("Failed to encode audit record", zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		p.failed++
		p.logger.Warn("Failed to publish audit record",
			zap.Error(err),
			zap.String("subject", p.subject))
	}
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Flush(); err != nil {
		p.logger.Warn("Failed to flush NATS connection", zap.Error(err))
	}
	p.conn.Close()
}
