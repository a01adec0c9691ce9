package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultFetchTimeout   = 30 * time.Second
	maxResponseBodyBytes  = 8 << 20
	fetchStatusOK         = "ok"
	fetchStatusFailed     = "failed"
	fetchStatusTimeout    = "timeout"
	fetchStatusBadPayload = "bad_payload"
)

// Fetcher produces a fresh catalog from the remote price source.
//
// Implementations honor the ctx deadline and perform no internal retries;
// retry pacing is the coordinator's responsibility on its next cycle.
type Fetcher interface {
	Fetch(ctx context.Context) (*Catalog, error)
}

// HTTPFetcherConfig configures the remote price source client.
type HTTPFetcherConfig struct {
	Endpoint    string
	BearerToken string
	Timeout     time.Duration
}

func (c *HTTPFetcherConfig) normalize() {
	if c.Timeout <= 0 {
		c.Timeout = defaultFetchTimeout
	}
}

// HTTPFetcher fetches and validates the catalog over HTTP.
type HTTPFetcher struct {
	client *http.Client
	config HTTPFetcherConfig
}

// priceDocument is the remote wire format.
type priceDocument struct {
	Prices map[string]ModelPrice `json:"prices"`
}

// NewHTTPFetcher creates a fetcher for the configured endpoint.
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, pricingError(ErrInvalidArgument, "endpoint is required")
	}
	cfg.normalize()

	return &HTTPFetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}, nil
}

// Fetch performs one fetch-validate-transform pass against the remote source.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Catalog, error) {
	if f == nil || f.client == nil {
		return nil, pricingError(ErrInvalidArgument, "fetcher is not initialized")
	}

	start := time.Now()
	catalog, err := f.fetch(ctx)
	observeFetch(fetchStatusOf(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.Endpoint, nil)
	if err != nil {
		return nil, errors.Join(pricingError(ErrInvalidArgument, "build request failed"), err)
	}
	req.Header.Set("Accept", "application/json")
	if f.config.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+f.config.BearerToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, errors.Join(pricingError(ErrFetchTimeout, "remote source deadline exceeded"), err)
		}
		return nil, errors.Join(pricingError(ErrFetchFailed, "remote source request failed"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pricingError(ErrFetchFailed, fmt.Sprintf("remote source returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, errors.Join(pricingError(ErrFetchTimeout, "remote source deadline exceeded"), err)
		}
		return nil, errors.Join(pricingError(ErrFetchFailed, "read response body failed"), err)
	}

	var doc priceDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Join(pricingError(ErrInvalidPayload, "decode response failed"), err)
	}

	catalog := &Catalog{
		Models:    doc.Prices,
		FetchedAt: time.Now().UTC(),
	}
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}

func fetchStatusOf(err error) string {
	switch {
	case err == nil:
		return fetchStatusOK
	case errors.Is(err, ErrFetchTimeout):
		return fetchStatusTimeout
	case errors.Is(err, ErrInvalidPayload):
		return fetchStatusBadPayload
	default:
		return fetchStatusFailed
	}
}
