package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize bounds the segment service response body.
const maxResponseSize = 1024 * 1024 // 1MB

// RetryConfig holds retry configuration for segment lookups.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per lookup.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns retry defaults tuned for a hot-path
// dependency: fewer, faster attempts than a batch client would use.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxBackoff:        2 * time.Second,
	}
}

// Client is an HTTP Service implementation against an external
// audience system.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a segment client for the given base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type segmentsResponse struct {
	Segments []string `json:"segments"`
}

// SegmentsForContact looks up the contact's segments, retrying
// transient failures with exponential backoff.
func (c *Client) SegmentsForContact(ctx context.Context, contactID, countryISO string) ([]string, error) {
	if strings.TrimSpace(contactID) == "" {
		return nil, fmt.Errorf("contact id is required")
	}

	lookupURL := fmt.Sprintf("%s/contacts/%s/segments?country=%s",
		c.baseURL, url.PathEscape(contactID), url.QueryEscape(strings.ToUpper(countryISO)))

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		segments, retryable, err := c.doLookup(ctx, lookupURL)
		if err == nil {
			return segments, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("segment lookup failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("segment lookup for contact %s: %w", contactID, lastErr)
}

// doLookup executes a single lookup. The second return reports whether
// the failure is worth retrying.
func (c *Client) doLookup(ctx context.Context, lookupURL string) ([]string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("segment request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed segmentsResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, false, fmt.Errorf("decode response: %w", err)
		}
		return parsed.Segments, false, nil
	case resp.StatusCode == http.StatusNotFound:
		// Unknown contact: no segments.
		return nil, false, nil
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("segment service returned %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("segment service returned %d", resp.StatusCode)
	}
}

// calculateBackoff computes exponential backoff with jitter so
// synchronized retries don't stampede the audience system.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
