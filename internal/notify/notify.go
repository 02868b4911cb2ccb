// Package notify publishes committed ingestion events to NATS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"daoscope/internal/metrics"
)

const DefaultSubject = "daoscope.events"

// Event is the message body published for every applied log.
type Event struct {
	Family      string            `json:"family"`
	Event       string            `json:"event"`
	ParsedType  string            `json:"parsed_type"`
	Contract    string            `json:"contract"`
	TxHash      string            `json:"tx_hash"`
	LogIndex    uint64            `json:"log_index"`
	BlockNumber uint64            `json:"block_number"`
	Timestamp   uint64            `json:"timestamp"`
	Args        map[string]string `json:"args,omitempty"`
}

// Subject is the per-family subject suffix, e.g. daoscope.events.token.
func (e Event) Subject(prefix string) string {
	return prefix + "." + e.Family
}

// Publisher sends events to NATS. A nil Publisher is valid and drops everything.
type Publisher struct {
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// Connect dials url. An empty url returns a nil Publisher.
func Connect(url, subject string, logger *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("daoscope-indexer"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}, nil
}

// Publish sends ev on <subject>.<family>.
func (p *Publisher) Publish(_ context.Context, ev Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		metrics.NotifyFailures.Inc()
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(ev.Subject(p.subject), data); err != nil {
		metrics.NotifyFailures.Inc()
		return fmt.Errorf("publish %s: %w", ev.Subject(p.subject), err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil || p.conn == nil {
		return nil
	}
	defer p.conn.Close()
	if err := p.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}
