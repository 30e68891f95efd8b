package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tiendalab/promoengine/domain"
)

type promotionRow struct {
	ID                 uuid.UUID `db:"id"`
	Name               string    `db:"name"`
	Timezone           string    `db:"timezone"`
	GlobalCooldownDays int       `db:"global_cooldown_days"`
	CreatedAt          time.Time `db:"created_at"`
}

type versionRow struct {
	ID                 uuid.UUID  `db:"id"`
	PromotionID        uuid.UUID  `db:"promotion_id"`
	Version            int        `db:"version"`
	CountryISO         string     `db:"country_iso"`
	IsDraft            bool       `db:"is_draft"`
	WorkflowPayload    string     `db:"workflow_payload"`
	ManifestPayload    string     `db:"manifest_payload"`
	Timezone           string     `db:"timezone"`
	GlobalCooldownDays int        `db:"global_cooldown_days"`
	ValidFrom          *time.Time `db:"valid_from"`
	ValidTo            *time.Time `db:"valid_to"`
	CreatedAt          time.Time  `db:"created_at"`
}

func (r versionRow) toDomain() *domain.PromotionVersion {
	return &domain.PromotionVersion{
		ID:                 r.ID,
		PromotionID:        r.PromotionID,
		Version:            r.Version,
		CountryISO:         r.CountryISO,
		IsDraft:            r.IsDraft,
		WorkflowPayload:    []byte(r.WorkflowPayload),
		ManifestPayload:    []byte(r.ManifestPayload),
		Timezone:           r.Timezone,
		GlobalCooldownDays: r.GlobalCooldownDays,
		Window:             domain.ValidityWindow{From: r.ValidFrom, To: r.ValidTo},
		CreatedAt:          r.CreatedAt,
	}
}

// ActiveVersion pairs a promotion's metadata with the latest published
// version active in a country at some instant.
type ActiveVersion struct {
	Promotion       domain.Promotion
	Version         int
	CountryISO      string
	WorkflowPayload []byte
	ManifestPayload []byte
}

// GetPromotion loads a promotion's metadata (no versions attached).
func (s *Store) GetPromotion(ctx context.Context, id uuid.UUID) (*domain.Promotion, error) {
	var row promotionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, name, timezone, global_cooldown_days, created_at
		 FROM promo.promotion WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("promotion %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get promotion: %w", err)
	}
	return &domain.Promotion{
		ID:                 row.ID,
		Name:               row.Name,
		Timezone:           row.Timezone,
		GlobalCooldownDays: row.GlobalCooldownDays,
		CreatedAt:          row.CreatedAt,
	}, nil
}

// GetVersion loads one version of a promotion for a country.
func (s *Store) GetVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) (*domain.PromotionVersion, error) {
	var row versionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, promotion_id, version, country_iso, is_draft,
		        COALESCE(workflow_payload, '') AS workflow_payload,
		        COALESCE(manifest_payload, '') AS manifest_payload,
		        timezone, global_cooldown_days, valid_from, valid_to, created_at
		 FROM promo.promotion_version
		 WHERE promotion_id = $1 AND country_iso = $2 AND version = $3`,
		promotionID, countryISO, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("version %d of promotion %s in %s: %w", version, promotionID, countryISO, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return row.toDomain(), nil
}

// NextVersion allocates the next draft version number for a promotion
// in a country.
func (s *Store) NextVersion(ctx context.Context, promotionID uuid.UUID, countryISO string) (int, error) {
	var next int
	err := s.db.GetContext(ctx, &next,
		`SELECT COALESCE(MAX(version), 0) + 1
		 FROM promo.promotion_version
		 WHERE promotion_id = $1 AND country_iso = $2`,
		promotionID, countryISO)
	if err != nil {
		return 0, fmt.Errorf("next version: %w", err)
	}
	return next, nil
}

// ActivePromotions returns, for each promotion with a published version
// active in the country at t, its metadata and latest active version.
// Ordered by promotion creation time, then id.
func (s *Store) ActivePromotions(ctx context.Context, countryISO string, t time.Time) ([]ActiveVersion, error) {
	type joinedRow struct {
		promotionRow
		VersionNum      int    `db:"version"`
		VersionCountry  string `db:"country_iso"`
		WorkflowPayload string `db:"workflow_payload"`
		ManifestPayload string `db:"manifest_payload"`
	}
	var rows []joinedRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT p.id, p.name, p.timezone, p.global_cooldown_days, p.created_at,
		        v.version, v.country_iso,
		        COALESCE(v.workflow_payload, '') AS workflow_payload,
		        COALESCE(v.manifest_payload, '') AS manifest_payload
		 FROM (
		     SELECT DISTINCT ON (promotion_id) *
		     FROM promo.promotion_version
		     WHERE country_iso = $1 AND NOT is_draft
		       AND (valid_from IS NULL OR valid_from <= $2)
		       AND (valid_to IS NULL OR valid_to >= $2)
		     ORDER BY promotion_id, version DESC
		 ) v
		 JOIN promo.promotion p ON p.id = v.promotion_id
		 ORDER BY p.created_at, p.id`,
		countryISO, t)
	if err != nil {
		return nil, fmt.Errorf("query active promotions: %w", err)
	}

	active := make([]ActiveVersion, 0, len(rows))
	for _, r := range rows {
		active = append(active, ActiveVersion{
			Promotion: domain.Promotion{
				ID:                 r.ID,
				Name:               r.Name,
				Timezone:           r.Timezone,
				GlobalCooldownDays: r.GlobalCooldownDays,
				CreatedAt:          r.CreatedAt,
			},
			Version:         r.VersionNum,
			CountryISO:      r.VersionCountry,
			WorkflowPayload: []byte(r.WorkflowPayload),
			ManifestPayload: []byte(r.ManifestPayload),
		})
	}
	return active, nil
}

// DraftWrite is everything one draft upsert persists: the promotion
// metadata, the new draft version with its compiled payloads, the
// replacement tier/group rows and the global reward links.
type DraftWrite struct {
	Promotion       *domain.Promotion
	Version         *domain.PromotionVersion
	GlobalRewardIDs []uuid.UUID
}

// SaveDraft persists a draft upsert in one transaction: promotion
// metadata is upserted, the version inserted, and the promotion's
// tier/group rows and reward links replaced wholesale. A duplicate
// (promotion, country, version) surfaces domain.ErrVersionConflict.
func (s *Store) SaveDraft(ctx context.Context, w DraftWrite) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		p := w.Promotion
		_, err := tx.ExecContext(ctx,
			`INSERT INTO promo.promotion (id, name, timezone, global_cooldown_days, created_at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			 SET name = EXCLUDED.name,
			     timezone = EXCLUDED.timezone,
			     global_cooldown_days = EXCLUDED.global_cooldown_days`,
			p.ID, p.Name, p.Timezone, p.GlobalCooldownDays, p.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert promotion: %w", err)
		}

		v := w.Version
		row := versionRow{
			ID:                 v.ID,
			PromotionID:        v.PromotionID,
			Version:            v.Version,
			CountryISO:         v.CountryISO,
			IsDraft:            v.IsDraft,
			WorkflowPayload:    string(v.WorkflowPayload),
			ManifestPayload:    string(v.ManifestPayload),
			Timezone:           v.Timezone,
			GlobalCooldownDays: v.GlobalCooldownDays,
			ValidFrom:          v.Window.From,
			ValidTo:            v.Window.To,
			CreatedAt:          v.CreatedAt,
		}
		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO promo.promotion_version
			     (id, promotion_id, version, country_iso, is_draft,
			      workflow_payload, manifest_payload, timezone,
			      global_cooldown_days, valid_from, valid_to, created_at)
			 VALUES (:id, :promotion_id, :version, :country_iso, :is_draft,
			         :workflow_payload, :manifest_payload, :timezone,
			         :global_cooldown_days, :valid_from, :valid_to, :created_at)`,
			row)
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert version: %w", err)
		}

		if err := replaceTiersTx(ctx, tx, v.PromotionID, v.Tiers()); err != nil {
			return err
		}
		if err := replaceGlobalRewardsTx(ctx, tx, v.PromotionID, w.GlobalRewardIDs); err != nil {
			return err
		}
		return nil
	})
}

type publishedEvent struct {
	PromotionID uuid.UUID `json:"promotionId"`
	CountryISO  string    `json:"countryIso"`
	Version     int       `json:"version"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// PublishVersion flips the latest version of (promotion, country) from
// draft to published and writes the outbox event in the same
// transaction. Publishing an already published version is a no-op that
// reports changed=false and emits nothing.
func (s *Store) PublishVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, at time.Time) (version int, changed bool, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row versionRow
		qErr := tx.GetContext(ctx, &row,
			`SELECT id, promotion_id, version, country_iso, is_draft,
			        COALESCE(workflow_payload, '') AS workflow_payload,
			        COALESCE(manifest_payload, '') AS manifest_payload,
			        timezone, global_cooldown_days, valid_from, valid_to, created_at
			 FROM promo.promotion_version
			 WHERE promotion_id = $1 AND country_iso = $2
			 ORDER BY version DESC
			 LIMIT 1
			 FOR UPDATE`,
			promotionID, countryISO)
		if errors.Is(qErr, sql.ErrNoRows) {
			return fmt.Errorf("promotion %s in %s: %w", promotionID, countryISO, domain.ErrNotFound)
		}
		if qErr != nil {
			return fmt.Errorf("load latest version: %w", qErr)
		}

		v := row.toDomain()
		version = v.Version
		if !v.Publish() {
			return nil
		}
		changed = true

		if _, qErr := tx.ExecContext(ctx,
			`UPDATE promo.promotion_version SET is_draft = FALSE WHERE id = $1`, v.ID); qErr != nil {
			return fmt.Errorf("publish version: %w", qErr)
		}

		payload, qErr := json.Marshal(publishedEvent{
			PromotionID: promotionID,
			CountryISO:  countryISO,
			Version:     v.Version,
			OccurredAt:  at.UTC(),
		})
		if qErr != nil {
			return fmt.Errorf("marshal published event: %w", qErr)
		}
		msg, qErr := domain.NewOutboxMessage(domain.EventPromotionPublished, payload, at)
		if qErr != nil {
			return qErr
		}
		return insertOutboxTx(ctx, tx, msg)
	})
	return version, changed, err
}

// RetireVersion closes the validity window of the latest published
// version at t and writes the retirement outbox event in the same
// transaction.
func (s *Store) RetireVersion(ctx context.Context, promotionID uuid.UUID, countryISO string, at time.Time) (version int, err error) {
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row versionRow
		qErr := tx.GetContext(ctx, &row,
			`SELECT id, promotion_id, version, country_iso, is_draft,
			        COALESCE(workflow_payload, '') AS workflow_payload,
			        COALESCE(manifest_payload, '') AS manifest_payload,
			        timezone, global_cooldown_days, valid_from, valid_to, created_at
			 FROM promo.promotion_version
			 WHERE promotion_id = $1 AND country_iso = $2 AND NOT is_draft
			 ORDER BY version DESC
			 LIMIT 1
			 FOR UPDATE`,
			promotionID, countryISO)
		if errors.Is(qErr, sql.ErrNoRows) {
			return fmt.Errorf("published promotion %s in %s: %w", promotionID, countryISO, domain.ErrNotFound)
		}
		if qErr != nil {
			return fmt.Errorf("load published version: %w", qErr)
		}
		version = row.Version

		if _, qErr := tx.ExecContext(ctx,
			`UPDATE promo.promotion_version SET valid_to = $2 WHERE id = $1`, row.ID, at.UTC()); qErr != nil {
			return fmt.Errorf("retire version: %w", qErr)
		}

		payload, qErr := json.Marshal(publishedEvent{
			PromotionID: promotionID,
			CountryISO:  countryISO,
			Version:     row.Version,
			OccurredAt:  at.UTC(),
		})
		if qErr != nil {
			return fmt.Errorf("marshal retired event: %w", qErr)
		}
		msg, qErr := domain.NewOutboxMessage(domain.EventPromotionRetired, payload, at)
		if qErr != nil {
			return qErr
		}
		return insertOutboxTx(ctx, tx, msg)
	})
	return version, err
}
