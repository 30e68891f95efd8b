package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiendalab/promoengine/domain"
)

type fakeLease struct {
	mu       sync.Mutex
	released bool
}

func (l *fakeLease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *fakeLease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

type fakeSweeperStore struct {
	mu        sync.Mutex
	lease     *fakeLease
	leaseMiss int // acquisitions that report "held elsewhere" first
	messages  []*domain.OutboxMessage
	fetchErr  error
	markErr   error
	processed []uuid.UUID
}

func (f *fakeSweeperStore) AcquireSweeperLease(ctx context.Context) (Lease, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseMiss > 0 {
		f.leaseMiss--
		return nil, nil
	}
	if f.lease == nil {
		f.lease = &fakeLease{}
	}
	return f.lease, nil
}

func (f *fakeSweeperStore) UnprocessedOutbox(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []*domain.OutboxMessage
	for _, m := range f.messages {
		if m.IsProcessed {
			continue
		}
		out = append(out, m)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSweeperStore) MarkOutboxProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	for _, m := range f.messages {
		if m.ID == id {
			m.MarkProcessed(at)
		}
	}
	f.processed = append(f.processed, id)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []uuid.UUID
	failAfter int // fail once this many messages have been published; -1 never
}

func (f *fakePublisher) Publish(ctx context.Context, msg *domain.OutboxMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter >= 0 && len(f.published) >= f.failAfter {
		return errors.New("bus unavailable")
	}
	f.published = append(f.published, msg.ID)
	return nil
}

func testMessages(t *testing.T, n int) []*domain.OutboxMessage {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]*domain.OutboxMessage, 0, n)
	for i := 0; i < n; i++ {
		msg, err := domain.NewOutboxMessage(domain.EventRewardGranted, []byte(`{"seq":1}`), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func newTestSweeper(st Store, pub Publisher, opts ...SweeperOption) *Sweeper {
	base := []SweeperOption{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryConfig(RetryConfig{BackoffBase: time.Millisecond, BackoffMultiplier: 2, MaxBackoff: 5 * time.Millisecond}),
	}
	return NewSweeper(st, pub, time.Millisecond, 10, append(base, opts...)...)
}

func TestSweepPublishesAndMarksOldestFirst(t *testing.T) {
	st := &fakeSweeperStore{messages: testMessages(t, 3)}
	pub := &fakePublisher{failAfter: -1}
	s := newTestSweeper(st, pub)

	swept, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, swept)

	// Hand-off before marking, in occurred_at order.
	wantOrder := []uuid.UUID{st.messages[0].ID, st.messages[1].ID, st.messages[2].ID}
	assert.Equal(t, wantOrder, pub.published)
	assert.Equal(t, wantOrder, st.processed)
	for _, m := range st.messages {
		assert.True(t, m.IsProcessed)
		require.NotNil(t, m.ProcessedAt)
	}
}

func TestSweepStopsOnPublishFailure(t *testing.T) {
	st := &fakeSweeperStore{messages: testMessages(t, 3)}
	pub := &fakePublisher{failAfter: 1}
	s := newTestSweeper(st, pub)

	swept, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, swept)

	// The failed message and its successors stay unprocessed for the
	// next cycle.
	assert.True(t, st.messages[0].IsProcessed)
	assert.False(t, st.messages[1].IsProcessed)
	assert.False(t, st.messages[2].IsProcessed)

	// Bus recovers: the next sweep picks up exactly the remainder.
	pub.failAfter = -1
	swept, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
}

func TestSweepMarkFailureLeavesAtLeastOnce(t *testing.T) {
	st := &fakeSweeperStore{messages: testMessages(t, 2), markErr: errors.New("db down")}
	pub := &fakePublisher{failAfter: -1}
	s := newTestSweeper(st, pub)

	swept, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, swept)

	// The message was handed off but not marked; a later cycle
	// republishes it.
	st.markErr = nil
	swept, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, swept)
	assert.Len(t, pub.published, 3)
}

func TestSweepEmptyOutboxIsNoOp(t *testing.T) {
	st := &fakeSweeperStore{}
	pub := &fakePublisher{failAfter: -1}
	s := newTestSweeper(st, pub)

	swept, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, swept)
	assert.Empty(t, pub.published)
}

func TestRunWaitsForLeaseAndReleasesOnCancel(t *testing.T) {
	st := &fakeSweeperStore{messages: testMessages(t, 1), leaseMiss: 2}
	pub := &fakePublisher{failAfter: -1}
	s := newTestSweeper(st, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	// Wait for the backlog to drain through the lease retries.
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.messages[0].IsProcessed
	}, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
	assert.True(t, st.lease.Released())
}

func TestRetryBackoffGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{BackoffBase: time.Second, BackoffMultiplier: 2, MaxBackoff: 3 * time.Second}

	b := cfg.next(0)
	assert.Equal(t, time.Second, b)
	b = cfg.next(b)
	assert.Equal(t, 2*time.Second, b)
	b = cfg.next(b)
	assert.Equal(t, 3*time.Second, b)
	b = cfg.next(b)
	assert.Equal(t, 3*time.Second, b)
}
