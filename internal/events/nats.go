package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/privacy"
)

const natsReconnectWait = 2 * time.Second

// NATSSink publishes events as JSON to <subject>.analysis.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	server  string
}

// NewNATSSink connects to the configured server.
func NewNATSSink(cfg conf.NATSSettings) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("nats url is not configured").
			Component("events").
			Category(errors.CategoryConfiguration).
			Build()
	}
	server := privacy.RedactURL(cfg.URL)
	conn, err := nats.Connect(cfg.URL,
		nats.Name("ecoscout-events"),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				GetLogger().Warn("nats disconnected", logger.String("server", server), logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			GetLogger().Info("nats reconnected", logger.String("server", server))
		}),
	)
	if err != nil {
		return nil, errors.New(fmt.Errorf("nats connection error: %w", privacy.WrapError(err))).
			Component("events").
			Category(errors.CategoryNetwork).
			Context("server", server).
			Build()
	}
	return newNATSSinkWithConn(conn, cfg.Subject, server), nil
}

func newNATSSinkWithConn(conn *nats.Conn, subject, server string) *NATSSink {
	subject = strings.TrimRight(subject, ".")
	if subject == "" {
		subject = "ecoscout"
	}
	return &NATSSink{conn: conn, subject: subject + ".analysis", server: server}
}

// Name implements Sink.
func (s *NATSSink) Name() string { return "nats" }

// Subject is the subject events are published to.
func (s *NATSSink) Subject() string { return s.subject }

// Publish implements Sink. It returns once the server has the message.
func (s *NATSSink) Publish(ctx context.Context, ev *AnalysisEvent) error {
	payload, err := ev.Payload()
	if err != nil {
		return err
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		return errors.New(err).
			Component("events").
			Category(errors.CategoryNetwork).
			Context("subject", s.subject).
			Build()
	}
	return s.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Drain()
}
