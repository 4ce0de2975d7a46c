package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// =============================================================================
// 📣 回合摘要发布
// =============================================================================

// TurnSummary is published once per finished turn for downstream consumers.
type TurnSummary struct {
	SessionID     string         `json:"sessionId"`
	TurnID        string         `json:"turnId"`
	UserID        string         `json:"userId,omitempty"`
	CharacterID   string         `json:"characterId,omitempty"`
	Outcome       string         `json:"outcome"`
	Persisted     bool           `json:"persisted"`
	HasErrors     bool           `json:"hasErrors"`
	Reason        string         `json:"reason,omitempty"`
	FinalText     string         `json:"finalText,omitempty"`
	Transcription string         `json:"transcription,omitempty"`
	Metrics       map[string]any `json:"metrics,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Publisher delivers turn summaries.
type Publisher interface {
	PublishTurn(ctx context.Context, s TurnSummary) error
	Close() error
}

// NopPublisher discards summaries.
type NopPublisher struct{}

func (NopPublisher) PublishTurn(context.Context, TurnSummary) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// Conn is the subset of *nats.Conn used by NATSPublisher.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes summaries as JSON to "<subject>.<outcome>".
type NATSPublisher struct {
	conn    Conn
	subject string
	logger  *zap.Logger
}

const (
	natsConnectTimeout = 5 * time.Second
	natsMaxReconnects  = -1
)

// NewNATSPublisher connects to url. The connection keeps retrying in the
// background when the server is not reachable yet.
func NewNATSPublisher(url, subject string, logger *zap.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "nats_publisher"))

	nc, err := nats.Connect(url,
		nats.Name("voiceflow"),
		nats.Timeout(natsConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(natsMaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return NewNATSPublisherWithConn(nc, subject, logger), nil
}

// NewNATSPublisherWithConn wraps an existing connection.
func NewNATSPublisherWithConn(conn Conn, subject string, logger *zap.Logger) *NATSPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if subject == "" {
		subject = "voiceflow.turns"
	}
	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger.With(zap.String("component", "nats_publisher")),
	}
}

// Subject returns the subject a summary is published to.
func (p *NATSPublisher) Subject(s TurnSummary) string {
	return p.subject + "." + strings.ToLower(s.Outcome)
}

// PublishTurn implements Publisher.
func (p *NATSPublisher) PublishTurn(ctx context.Context, s TurnSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal turn summary: %w", err)
	}
	subject := p.Subject(s)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish turn summary to %s: %w", subject, err)
	}
	p.logger.Debug("turn summary published",
		zap.String("subject", subject),
		zap.String("session_id", s.SessionID),
		zap.String("turn_id", s.TurnID))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain nats connection: %w", err)
	}
	return nil
}

// MultiPublisher fans a summary out to several publishers. Every publisher is
// attempted; failures are joined.
type MultiPublisher []Publisher

// PublishTurn implements Publisher.
func (m MultiPublisher) PublishTurn(ctx context.Context, s TurnSummary) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishTurn(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher.
func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
