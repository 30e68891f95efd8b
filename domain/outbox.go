package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outbox event types emitted by the engine.
const (
	EventPromotionPublished = "promotion.published"
	EventPromotionRetired   = "promotion.retired"
	EventRewardGranted      = "reward.granted"
)

// OutboxMessage is a durable staging record for an event bound for the
// downstream bus. Messages are written in the same transaction as the
// state change that emitted them and drained at-least-once by the
// sweeper.
type OutboxMessage struct {
	ID          uuid.UUID
	OccurredAt  time.Time
	Type        string
	Payload     []byte
	IsProcessed bool
	ProcessedAt *time.Time
}

// NewOutboxMessage builds a validated unprocessed message.
func NewOutboxMessage(msgType string, payload []byte, occurredAt time.Time) (*OutboxMessage, error) {
	if strings.TrimSpace(msgType) == "" {
		return nil, &ValidationError{Field: "type", Message: "message type is required"}
	}
	if len(payload) == 0 {
		return nil, &ValidationError{Field: "payload", Message: "payload is required"}
	}
	return &OutboxMessage{
		ID:         uuid.New(),
		OccurredAt: occurredAt.UTC(),
		Type:       msgType,
		Payload:    payload,
	}, nil
}

// MarkProcessed records the hand-off to the downstream bus.
func (m *OutboxMessage) MarkProcessed(at time.Time) {
	m.IsProcessed = true
	t := at.UTC()
	m.ProcessedAt = &t
}
