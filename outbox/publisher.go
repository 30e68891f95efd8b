// Package outbox drains the durable outbox table onto the event bus.
// A single sweeper instance holds an advisory lease and hands each
// staged message to JetStream at least once; the outbox id doubles as
// the dedupe id so redeliveries collapse downstream.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/tiendalab/promoengine/domain"
)

// StreamName is the JetStream stream holding all engine events.
const StreamName = "PROMO_EVENTS"

// subjectPrefix namespaces every outbox event subject.
const subjectPrefix = "promo.events."

// Subject returns the bus subject for an outbox message type, e.g.
// promo.events.reward.granted.
func Subject(msgType string) string {
	return subjectPrefix + msgType
}

// Publisher hands one outbox message to the event bus.
type Publisher interface {
	Publish(ctx context.Context, msg *domain.OutboxMessage) error
}

// NATSPublisher publishes outbox messages to a JetStream stream.
type NATSPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSPublisher connects to NATS and ensures the event stream
// exists.
func NewNATSPublisher(ctx context.Context, url string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("promoengine-outbox"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Promotion engine outbox events",
		Subjects:    []string{subjectPrefix + ">"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		Duplicates:  2 * time.Minute,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", StreamName, err)
	}
	return &NATSPublisher{nc: nc, js: js, logger: logger}, nil
}

// Publish sends one message to its subject. The outbox id becomes the
// JetStream message id, deduplicating redelivery inside the stream's
// duplicate window.
func (p *NATSPublisher) Publish(ctx context.Context, msg *domain.OutboxMessage) error {
	subj := Subject(msg.Type)
	if _, err := p.js.Publish(ctx, subj, msg.Payload, jetstream.WithMsgID(msg.ID.String())); err != nil {
		return fmt.Errorf("publish to %s: %w", subj, err)
	}
	p.logger.Debug("outbox message published", "subject", subj, "message_id", msg.ID)
	return nil
}

// Close drops the NATS connection.
func (p *NATSPublisher) Close() {
	p.nc.Close()
}
