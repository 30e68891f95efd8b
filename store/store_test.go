package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiendalab/promoengine/domain"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithDB(sqlx.NewDb(db, "sqlmock"), logger), mock
}

func TestLastGrantedReturnsNilWhenNoHistory(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo.contact_reward")).
		WithArgs("contact-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(grantTestColumns()))

	grant, err := s.LastGranted(context.Background(), "contact-1", uuid.New())
	require.NoError(t, err)
	assert.Nil(t, grant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLastGrantedMapsRow(t *testing.T) {
	s, mock := newTestStore(t)

	grantID := uuid.New()
	promoID := uuid.New()
	rewardID := uuid.New()
	grantedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	until := grantedAt.AddDate(0, 0, 30)

	mock.ExpectQuery(regexp.QuoteMeta("FROM promo.contact_reward")).
		WithArgs("contact-1", promoID).
		WillReturnRows(sqlmock.NewRows(grantTestColumns()).
			AddRow(grantID, "contact-1", promoID, rewardID, nil, 2,
				grantedAt, "granted", 12.5, "EUR", until, "evt-9"))

	grant, err := s.LastGranted(context.Background(), "contact-1", promoID)
	require.NoError(t, err)
	require.NotNil(t, grant)
	assert.Equal(t, grantID, grant.ID)
	assert.Equal(t, domain.GrantGranted, grant.Status)
	assert.Equal(t, 2, grant.TierLevel)
	assert.Equal(t, 12.5, grant.GrantedValue.Amount)
	require.NotNil(t, grant.RewardID)
	assert.Equal(t, rewardID, *grant.RewardID)
	assert.Nil(t, grant.GroupID)
	require.NotNil(t, grant.CooldownUntil)
	assert.True(t, grant.CooldownUntil.Equal(until))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasGrantedForEvent(t *testing.T) {
	tests := []struct {
		name   string
		exists bool
	}{
		{name: "already granted", exists: true},
		{name: "fresh event", exists: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestStore(t)
			promoID := uuid.New()

			mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
				WithArgs("contact-1", promoID, "evt-1").
				WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(tt.exists))

			got, err := s.HasGrantedForEvent(context.Background(), "contact-1", promoID, "evt-1")
			require.NoError(t, err)
			assert.Equal(t, tt.exists, got)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestNextVersionStartsAtOne(t *testing.T) {
	s, mock := newTestStore(t)
	promoID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(MAX(version), 0) + 1")).
		WithArgs(promoID, "ES").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))

	next, err := s.NextVersion(context.Background(), promoID, "ES")
	require.NoError(t, err)
	assert.Equal(t, 1, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivePromotionsMapsRowsInOrder(t *testing.T) {
	s, mock := newTestStore(t)

	first := uuid.New()
	second := uuid.New()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "name", "timezone", "global_cooldown_days", "created_at",
		"version", "country_iso", "workflow_payload", "manifest_payload",
	}
	mock.ExpectQuery(regexp.QuoteMeta("DISTINCT ON (promotion_id)")).
		WithArgs("ES", now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(first, "spring", "Europe/Madrid", 30, now.Add(-48*time.Hour), 3, "ES", `{"WorkflowName":"a"}`, `{"policies":{}}`).
			AddRow(second, "summer", "Europe/Madrid", 0, now.Add(-24*time.Hour), 1, "ES", `{"WorkflowName":"b"}`, ""))

	active, err := s.ActivePromotions(context.Background(), "ES", now)
	require.NoError(t, err)
	require.Len(t, active, 2)

	assert.Equal(t, first, active[0].Promotion.ID)
	assert.Equal(t, "spring", active[0].Promotion.Name)
	assert.Equal(t, 30, active[0].Promotion.GlobalCooldownDays)
	assert.Equal(t, 3, active[0].Version)
	assert.Equal(t, []byte(`{"WorkflowName":"a"}`), active[0].WorkflowPayload)

	assert.Equal(t, second, active[1].Promotion.ID)
	assert.Equal(t, 1, active[1].Version)
	assert.Empty(t, active[1].ManifestPayload)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishVersionFlipsDraftAndStagesEvent(t *testing.T) {
	s, mock := newTestStore(t)

	promoID := uuid.New()
	versionID := uuid.New()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(promoID, "ES").
		WillReturnRows(sqlmock.NewRows(versionTestColumns()).
			AddRow(versionID, promoID, 2, "ES", true, "{}", "{}", "Europe/Madrid", 0, nil, nil, at.Add(-time.Hour)))
	mock.ExpectExec(regexp.QuoteMeta("SET is_draft = FALSE")).
		WithArgs(versionID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO infrastructure.outbox_message")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), domain.EventPromotionPublished,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	version, changed, err := s.PublishVersion(context.Background(), promoID, "ES", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2, version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishVersionNoOpWhenAlreadyPublished(t *testing.T) {
	s, mock := newTestStore(t)

	promoID := uuid.New()
	versionID := uuid.New()
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(promoID, "ES").
		WillReturnRows(sqlmock.NewRows(versionTestColumns()).
			AddRow(versionID, promoID, 2, "ES", false, "{}", "{}", "Europe/Madrid", 0, nil, nil, at.Add(-time.Hour)))
	mock.ExpectCommit()

	version, changed, err := s.PublishVersion(context.Background(), promoID, "ES", at)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 2, version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishVersionUnknownPromotion(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(sqlmock.AnyArg(), "ES").
		WillReturnRows(sqlmock.NewRows(versionTestColumns()))
	mock.ExpectRollback()

	_, _, err := s.PublishVersion(context.Background(), uuid.New(), "ES", time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveGrantsDuplicateRollsBack(t *testing.T) {
	s, mock := newTestStore(t)

	grant, err := domain.NewContactReward(uuid.Nil, "contact-1", uuid.New(), nil, nil, 1, time.Now(), "evt-1", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO promo.contact_reward")).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err = s.SaveGrants(context.Background(), []*domain.ContactReward{grant}, nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateGrant)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnprocessedOutboxMapsRows(t *testing.T) {
	s, mock := newTestStore(t)

	id := uuid.New()
	occurred := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE NOT is_processed")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at", "type", "payload", "is_processed", "processed_at"}).
			AddRow(id, occurred, domain.EventRewardGranted, `{"grantIds":[]}`, false, nil))

	msgs, err := s.UnprocessedOutbox(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, domain.EventRewardGranted, msgs[0].Type)
	assert.Equal(t, []byte(`{"grantIds":[]}`), msgs[0].Payload)
	assert.False(t, msgs[0].IsProcessed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOutboxProcessed(t *testing.T) {
	s, mock := newTestStore(t)

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta("SET is_processed = TRUE")).
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkOutboxProcessed(context.Background(), id, time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: true},
		{name: "wrapped unique violation", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), want: true},
		{name: "other pg error", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func grantTestColumns() []string {
	return []string{
		"id", "contact_id", "promotion_id", "reward_id", "group_id", "tier_level",
		"granted_at", "status", "granted_value_amount", "granted_value_unit",
		"cooldown_until", "source_event_id",
	}
}

func versionTestColumns() []string {
	return []string{
		"id", "promotion_id", "version", "country_iso", "is_draft",
		"workflow_payload", "manifest_payload", "timezone",
		"global_cooldown_days", "valid_from", "valid_to", "created_at",
	}
}
