package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tiendalab/promoengine/domain"
	"github.com/tiendalab/promoengine/store"
)

// Lease is the single-owner lock the sweeper holds while draining.
type Lease interface {
	Release(ctx context.Context) error
}

// Store is the slice of the persistence layer the sweeper uses.
type Store interface {
	AcquireSweeperLease(ctx context.Context) (Lease, error)
	UnprocessedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)
	MarkOutboxProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// sqlStore adapts *store.Store to the sweeper's Store interface; the
// indirection exists because the concrete lease type differs.
type sqlStore struct {
	*store.Store
}

func (s sqlStore) AcquireSweeperLease(ctx context.Context) (Lease, error) {
	lease, err := s.Store.AcquireSweeperLease(ctx)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		return nil, nil
	}
	return lease, nil
}

// NewSQLStore wraps the relational store for use by the sweeper.
func NewSQLStore(st *store.Store) Store {
	return sqlStore{st}
}

// RetryConfig holds the sweeper's backoff configuration.
type RetryConfig struct {
	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible backoff defaults for the sweeper.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        time.Minute,
	}
}

func (c RetryConfig) next(current time.Duration) time.Duration {
	if current <= 0 {
		return c.BackoffBase
	}
	next := time.Duration(float64(current) * c.BackoffMultiplier)
	if next > c.MaxBackoff {
		return c.MaxBackoff
	}
	return next
}

// Sweeper drains the outbox table onto the event bus. Exactly one
// instance drains at a time: Run blocks until it holds the advisory
// lease, then fetches unprocessed messages oldest first, publishes
// each, and marks it processed only after a successful hand-off.
// Failed cycles are retried with exponential backoff, indefinitely.
type Sweeper struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	retry     RetryConfig
	logger    *slog.Logger
	now       func() time.Time
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithRetryConfig overrides the backoff configuration.
func WithRetryConfig(cfg RetryConfig) SweeperOption {
	return func(s *Sweeper) {
		s.retry = cfg
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.now = now
	}
}

// NewSweeper builds a sweeper draining st onto pub every interval, at
// most batchSize messages per cycle.
func NewSweeper(st Store, pub Publisher, interval time.Duration, batchSize int, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		store:     st,
		publisher: pub,
		interval:  interval,
		batchSize: batchSize,
		retry:     DefaultRetryConfig(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drains the outbox until ctx is cancelled. It blocks waiting for
// the sweeper lease, so a second instance parks here until the owner
// releases it.
func (s *Sweeper) Run(ctx context.Context) error {
	lease, err := s.acquireLease(ctx)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			s.logger.Warn("sweeper lease release failed", "error", err)
		}
	}()
	s.logger.Info("outbox sweeper started", "interval", s.interval, "batch_size", s.batchSize)

	var backoff time.Duration
	for {
		swept, err := s.Sweep(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			backoff = s.retry.next(backoff)
			s.logger.Warn("outbox sweep failed, backing off",
				"swept", swept, "backoff", backoff, "error", err)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		case swept == s.batchSize:
			// A full batch suggests a backlog; drain again at once.
			backoff = 0
		default:
			backoff = 0
			if err := sleep(ctx, s.interval); err != nil {
				return err
			}
		}
	}
}

// acquireLease polls for the advisory lock with backoff until it is
// granted or ctx ends.
func (s *Sweeper) acquireLease(ctx context.Context) (Lease, error) {
	var backoff time.Duration
	for {
		lease, err := s.store.AcquireSweeperLease(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire sweeper lease: %w", err)
		}
		if lease != nil {
			return lease, nil
		}
		backoff = s.retry.next(backoff)
		s.logger.Debug("sweeper lease held elsewhere, waiting", "backoff", backoff)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

// Sweep drains one batch and returns the number of messages handed
// off. A publish failure stops the cycle; already handed-off messages
// stay marked, the rest are retried next cycle.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	msgs, err := s.store.UnprocessedOutbox(ctx, s.batchSize)
	if err != nil {
		sweepFailuresTotal.Inc()
		return 0, fmt.Errorf("fetch unprocessed outbox: %w", err)
	}

	swept := 0
	for _, msg := range msgs {
		if err := s.publisher.Publish(ctx, msg); err != nil {
			sweepFailuresTotal.Inc()
			return swept, fmt.Errorf("publish outbox message %s: %w", msg.ID, err)
		}
		if err := s.store.MarkOutboxProcessed(ctx, msg.ID, s.now().UTC()); err != nil {
			// The message was handed off but not marked; it will be
			// republished next cycle. At-least-once allows this.
			sweepFailuresTotal.Inc()
			return swept, fmt.Errorf("mark outbox message %s processed: %w", msg.ID, err)
		}
		swept++
		sweptTotal.Inc()
	}
	if swept > 0 {
		s.logger.Debug("outbox batch swept", "count", swept)
	}
	return swept, nil
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
