package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tiendalab/promoengine/domain"
)

// sweeperLockKey identifies the advisory lock that keeps the outbox
// sweeper single-owner across instances.
const sweeperLockKey int64 = 774_216_001

type outboxRow struct {
	ID          uuid.UUID  `db:"id"`
	OccurredAt  time.Time  `db:"occurred_at"`
	Type        string     `db:"type"`
	Payload     string     `db:"payload"`
	IsProcessed bool       `db:"is_processed"`
	ProcessedAt *time.Time `db:"processed_at"`
}

func (r outboxRow) toDomain() *domain.OutboxMessage {
	return &domain.OutboxMessage{
		ID:          r.ID,
		OccurredAt:  r.OccurredAt,
		Type:        r.Type,
		Payload:     []byte(r.Payload),
		IsProcessed: r.IsProcessed,
		ProcessedAt: r.ProcessedAt,
	}
}

// insertOutboxTx stages a message inside the caller's transaction.
func insertOutboxTx(ctx context.Context, tx *sqlx.Tx, msg *domain.OutboxMessage) error {
	_, err := tx.NamedExecContext(ctx,
		`INSERT INTO infrastructure.outbox_message (id, occurred_at, type, payload, is_processed, processed_at)
		 VALUES (:id, :occurred_at, :type, :payload, :is_processed, :processed_at)`,
		outboxRow{
			ID:          msg.ID,
			OccurredAt:  msg.OccurredAt,
			Type:        msg.Type,
			Payload:     string(msg.Payload),
			IsProcessed: msg.IsProcessed,
			ProcessedAt: msg.ProcessedAt,
		})
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// UnprocessedOutbox returns up to limit staged messages, oldest first.
func (s *Store) UnprocessedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	var rows []outboxRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, occurred_at, type, payload, is_processed, processed_at
		 FROM infrastructure.outbox_message
		 WHERE NOT is_processed
		 ORDER BY occurred_at
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed outbox: %w", err)
	}
	msgs := make([]*domain.OutboxMessage, 0, len(rows))
	for _, r := range rows {
		msgs = append(msgs, r.toDomain())
	}
	return msgs, nil
}

// MarkOutboxProcessed records the hand-off of one message to the
// downstream bus. Already processed messages are left untouched.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE infrastructure.outbox_message
		 SET is_processed = TRUE, processed_at = $2
		 WHERE id = $1 AND NOT is_processed`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	return nil
}

// SweeperLease holds the advisory lock that makes the sweeper the
// single owner of outbox draining. Release it when the sweeper stops.
type SweeperLease struct {
	conn *sqlx.Conn
}

// AcquireSweeperLease tries to take the sweeper lock. It returns nil
// without error when another instance already holds it.
func (s *Store) AcquireSweeperLease(ctx context.Context) (*SweeperLease, error) {
	conn, err := s.db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	var locked bool
	if err := conn.GetContext(ctx, &locked, `SELECT pg_try_advisory_lock($1)`, sweeperLockKey); err != nil {
		conn.Close()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Close()
		return nil, nil
	}
	return &SweeperLease{conn: conn}, nil
}

// Release gives the lock back and closes the held connection.
func (l *SweeperLease) Release(ctx context.Context) error {
	var unlocked bool
	err := l.conn.GetContext(ctx, &unlocked, `SELECT pg_advisory_unlock($1)`, sweeperLockKey)
	closeErr := l.conn.Close()
	if err != nil {
		return fmt.Errorf("release advisory lock: %w", err)
	}
	return closeErr
}
