// Package cache serves compiled workflows and manifests for the hot
// evaluation path without touching the store. It is an optimization,
// never authoritative: every error surfaces to the caller, which falls
// back to the store. A circuit breaker stops hammering a dead Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// ErrNotCached reports that a key is absent. It is a miss, not a
// failure: it does not trip the circuit breaker, and callers resolve it
// against the store.
var ErrNotCached = errors.New("not cached")

// DefaultKeyExpiry bounds how long workflow and manifest payloads live
// without a re-warm. The index and active sets never expire.
const DefaultKeyExpiry = 24 * time.Hour

// Config holds the cache connection settings.
type Config struct {
	URL       string
	KeyExpiry time.Duration
}

// Entry is everything one warm-up writes for a published version.
type Entry struct {
	PromotionID        uuid.UUID
	CountryISO         string
	Version            int
	Workflow           []byte
	Manifest           []byte
	Name               string
	Timezone           string
	GlobalCooldownDays int
}

// Cache is the Redis-backed promotion cache.
type Cache struct {
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker
	expiry  time.Duration
	logger  *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithKeyExpiry overrides the payload expiry.
func WithKeyExpiry(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.expiry = d
		}
	}
}

// New wraps an existing Redis client.
func New(client *redis.Client, opts ...Option) *Cache {
	c := &Cache{
		client: client,
		expiry: DefaultKeyExpiry,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "promotion-cache",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotCached)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("cache breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Cache, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("cache url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse cache url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping cache: %w", err)
	}
	return New(client, WithLogger(logger), WithKeyExpiry(cfg.KeyExpiry)), nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping verifies the connection, for readiness checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.guard("ping", func() error {
		return c.client.Ping(ctx).Err()
	})
}

// guard runs fn through the circuit breaker and records the outcome.
func (c *Cache) guard(op string, fn func() error) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	switch {
	case err == nil:
		opsTotal.WithLabelValues(op, "ok").Inc()
	case errors.Is(err, ErrNotCached):
		opsTotal.WithLabelValues(op, "miss").Inc()
	default:
		opsTotal.WithLabelValues(op, "error").Inc()
	}
	return err
}

// Warm writes all keys for a published version in one transactional
// pipeline so the promotion appears atomically for readers. Re-warming
// the same version is a no-op apart from refreshed expiries; a higher
// version advances the index score so latest-version lookups move on.
func (c *Cache) Warm(ctx context.Context, e Entry) error {
	if e.Version < 1 {
		return fmt.Errorf("warm version %d: version must be at least 1", e.Version)
	}
	if len(e.Workflow) == 0 || len(e.Manifest) == 0 {
		return fmt.Errorf("warm promotion %s: workflow and manifest payloads are required", e.PromotionID)
	}

	wfKey := workflowKey(e.CountryISO, e.PromotionID, e.Version)
	mKey := manifestKey(e.CountryISO, e.PromotionID, e.Version)

	return c.guard("warm", func() error {
		pipe := c.client.TxPipeline()
		pipe.Set(ctx, wfKey, e.Workflow, c.expiry)
		pipe.Set(ctx, mKey, e.Manifest, c.expiry)
		pipe.ZAdd(ctx, indexKey(e.CountryISO), redis.Z{
			Score:  float64(e.Version),
			Member: e.PromotionID.String(),
		})
		pipe.SAdd(ctx, activeKey(e.CountryISO), e.PromotionID.String())
		pipe.HSet(ctx, metadataKey(e.PromotionID),
			"name", e.Name,
			"timezone", e.Timezone,
			"globalCooldownDays", strconv.Itoa(e.GlobalCooldownDays))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("warm promotion %s v%d: %w", e.PromotionID, e.Version, err)
		}

		// Post-check: both payloads must be readable before the warm
		// counts as done.
		n, err := c.client.Exists(ctx, wfKey, mKey).Result()
		if err != nil {
			return fmt.Errorf("verify warm of promotion %s v%d: %w", e.PromotionID, e.Version, err)
		}
		if n != 2 {
			return fmt.Errorf("verify warm of promotion %s v%d: %d of 2 keys present", e.PromotionID, e.Version, n)
		}
		return nil
	})
}

// ActivePromotions returns the promotion ids currently active in the
// country. Membership order is unspecified.
func (c *Cache) ActivePromotions(ctx context.Context, countryISO string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := c.guard("active_promotions", func() error {
		members, err := c.client.SMembers(ctx, activeKey(countryISO)).Result()
		if err != nil {
			return fmt.Errorf("read active set for %s: %w", countryISO, err)
		}
		ids = make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			id, err := uuid.Parse(m)
			if err != nil {
				return fmt.Errorf("active set for %s holds bad member %q: %w", countryISO, m, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LatestVersion resolves the newest warmed version of a promotion in
// the country via the index.
func (c *Cache) LatestVersion(ctx context.Context, countryISO string, promotionID uuid.UUID) (int, error) {
	var version int
	err := c.guard("latest_version", func() error {
		score, err := c.client.ZScore(ctx, indexKey(countryISO), promotionID.String()).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("promotion %s in %s: %w", promotionID, countryISO, ErrNotCached)
		}
		if err != nil {
			return fmt.Errorf("read index for %s: %w", countryISO, err)
		}
		version = int(score)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// GetWorkflow returns the workflow payload. Version 0 resolves the
// latest warmed version through the index.
func (c *Cache) GetWorkflow(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) ([]byte, error) {
	return c.payload(ctx, "get_workflow", promotionID, countryISO, version, workflowKey)
}

// GetManifest returns the manifest payload. Version 0 resolves the
// latest warmed version through the index.
func (c *Cache) GetManifest(ctx context.Context, promotionID uuid.UUID, countryISO string, version int) ([]byte, error) {
	return c.payload(ctx, "get_manifest", promotionID, countryISO, version, manifestKey)
}

func (c *Cache) payload(ctx context.Context, op string, promotionID uuid.UUID, countryISO string, version int, key func(string, uuid.UUID, int) string) ([]byte, error) {
	if version < 1 {
		v, err := c.LatestVersion(ctx, countryISO, promotionID)
		if err != nil {
			return nil, err
		}
		version = v
	}
	var body []byte
	err := c.guard(op, func() error {
		b, err := c.client.Get(ctx, key(countryISO, promotionID, version)).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("promotion %s v%d in %s: %w", promotionID, version, countryISO, ErrNotCached)
		}
		if err != nil {
			return fmt.Errorf("read payload for promotion %s v%d: %w", promotionID, version, err)
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Invalidate removes a promotion from the country's active set and
// index and deletes the current version's payloads. Older payload keys
// are left to their expiry.
func (c *Cache) Invalidate(ctx context.Context, promotionID uuid.UUID, countryISO string) error {
	version, err := c.LatestVersion(ctx, countryISO, promotionID)
	if err != nil && !errors.Is(err, ErrNotCached) {
		return err
	}

	return c.guard("invalidate", func() error {
		pipe := c.client.TxPipeline()
		if version >= 1 {
			pipe.Del(ctx,
				workflowKey(countryISO, promotionID, version),
				manifestKey(countryISO, promotionID, version))
		}
		pipe.ZRem(ctx, indexKey(countryISO), promotionID.String())
		pipe.SRem(ctx, activeKey(countryISO), promotionID.String())
		pipe.Del(ctx, metadataKey(promotionID))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("invalidate promotion %s in %s: %w", promotionID, countryISO, err)
		}
		return nil
	})
}
