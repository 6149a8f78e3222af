// Package credential obtains a one-time session token for a fixed identity
// from the credential endpoint.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"concierge-widget/internal/models"
	"concierge-widget/internal/observability/metrics"
)

// ErrCredentialUnavailable is returned when no usable token could be obtained.
// Transport failures, non-2xx responses and empty bodies all wrap it.
var ErrCredentialUnavailable = errors.New("credential unavailable")

const (
	// DefaultTimeout bounds a single fetch.
	DefaultTimeout = 10 * time.Second

	maxTokenBytes = 16 << 10
)

// Fetcher requests tokens from an HTTP endpoint of the form
// GET <endpoint>?name=<identity>, which answers with the token as plain text.
type Fetcher struct {
	endpoint  string
	serverURL string
	client    *http.Client
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout overrides the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher. serverURL is the media server address that
// accompanies every token; it comes from configuration, not the endpoint.
func NewFetcher(endpoint, serverURL string, opts ...Option) *Fetcher {
	f := &Fetcher{
		endpoint:  endpoint,
		serverURL: serverURL,
		client:    http.DefaultClient,
		timeout:   DefaultTimeout,
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "credential").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch returns a credential for identity. It is called at most once per
// activation; failures are returned, not retried.
func (f *Fetcher) Fetch(ctx context.Context, identity string) (models.SessionCredential, error) {
	start := time.Now()
	token, err := f.fetchToken(ctx, identity)
	f.metrics.RecordCredentialFetch(err, time.Since(start).Seconds())

	if err != nil {
		f.logger.Warn().
			Err(err).
			Str("identity", identity).
			Dur("latency", time.Since(start)).
			Msg("Credential fetch failed")
		return models.SessionCredential{}, err
	}

	f.logger.Debug().
		Str("identity", identity).
		Dur("latency", time.Since(start)).
		Msg("Credential fetched")

	return models.SessionCredential{Token: token, ServerURL: f.serverURL}, nil
}

func (f *Fetcher) fetchToken(ctx context.Context, identity string) (string, error) {
	if f.serverURL == "" {
		return "", fmt.Errorf("%w: server url not configured", ErrCredentialUnavailable)
	}

	u, err := url.Parse(f.endpoint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid endpoint: %v", ErrCredentialUnavailable, err)
	}
	q := u.Query()
	q.Set("name", identity)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, context.Canceled)
		}
		return "", fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrCredentialUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrCredentialUnavailable, resp.StatusCode)
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrCredentialUnavailable)
	}
	return token, nil
}
