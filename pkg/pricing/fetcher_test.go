package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewHTTPFetcherValidation(t *testing.T) {
	if _, err := NewHTTPFetcher(HTTPFetcherConfig{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing endpoint, got %v", err)
	}
}

func TestHTTPFetcherSuccess(t *testing.T) {
	var gotAccept, gotAuthorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept = r.Header.Get("Accept")
		gotAuthorization = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":{"modelA":{"prompt":0.002,"completion":0.004,"currency":"USD"}}}`))
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(HTTPFetcherConfig{Endpoint: server.URL, BearerToken: "secret"})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	catalog, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	price, exists := catalog.Models["modelA"]
	if !exists {
		t.Fatal("expected modelA in catalog")
	}
	if price.Prompt != 0.002 || price.Completion != 0.004 || price.Currency != "USD" {
		t.Errorf("unexpected price %+v", price)
	}
	if catalog.FetchedAt.IsZero() {
		t.Error("expected FetchedAt to be set")
	}

	if gotAccept != "application/json" {
		t.Errorf("expected json accept header, got %q", gotAccept)
	}
	if gotAuthorization != "Bearer secret" {
		t.Errorf("expected bearer token header, got %q", gotAuthorization)
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher, err := NewHTTPFetcher(HTTPFetcherConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	if _, err := fetcher.Fetch(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected ErrFetchFailed, got %v", err)
	}
}

func TestHTTPFetcherBadPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"prices":`},
		{name: "empty catalog", body: `{"prices":{}}`},
		{name: "negative price", body: `{"prices":{"m":{"prompt":-1}}}`},
		{name: "wrong shape", body: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			fetcher, err := NewHTTPFetcher(HTTPFetcherConfig{Endpoint: server.URL})
			if err != nil {
				t.Fatalf("failed to create fetcher: %v", err)
			}
			if _, err := fetcher.Fetch(context.Background()); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestHTTPFetcherTimeout(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer server.Close()
	defer close(blocked)

	fetcher, err := NewHTTPFetcher(HTTPFetcherConfig{Endpoint: server.URL, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := fetcher.Fetch(ctx); !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("expected ErrFetchTimeout, got %v", err)
	}
}

func TestHTTPFetcherConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	fetcher, err := NewHTTPFetcher(HTTPFetcherConfig{Endpoint: endpoint})
	if err != nil {
		t.Fatalf("failed to create fetcher: %v", err)
	}
	if _, err := fetcher.Fetch(context.Background()); !errors.Is(err, ErrFetchFailed) {
		t.Errorf("expected ErrFetchFailed, got %v", err)
	}
}

func TestFetchStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "ok", err: nil, want: fetchStatusOK},
		{name: "timeout", err: pricingError(ErrFetchTimeout, "x"), want: fetchStatusTimeout},
		{name: "bad payload", err: pricingError(ErrInvalidPayload, "x"), want: fetchStatusBadPayload},
		{name: "failed", err: pricingError(ErrFetchFailed, "x"), want: fetchStatusFailed},
		{name: "unknown", err: errors.New("boom"), want: fetchStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fetchStatusOf(tt.err); got != tt.want {
				t.Errorf("expected status %q, got %q", tt.want, got)
			}
		})
	}
}
