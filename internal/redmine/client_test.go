package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redmine-mcp/redmine-mcp-server/internal/config"
)

func newTestClient(url string) *Client {
	return NewClient(config.Config{
		BaseURL:    url,
		APIKey:     "test-key",
		Timeout:    5 * time.Second,
		MaxRetries: 2,
	})
}

// ---------------------------------------------------------------------------
// Success normalization
// ---------------------------------------------------------------------------

func TestDo_SetsAPIKeyHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/1.json", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Redmine-API-Key") != "test-key" {
			t.Errorf("expected API key header 'test-key', got %q", r.Header.Get("X-Redmine-API-Key"))
		}
		_, _ = w.Write([]byte(`{"issue":{"id":1,"subject":"x"}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	if _, err := client.do(context.Background(), "GET", "/issues/1.json", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDo_CreatedWithBodyReturnsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issues.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"issue":{"id":42,"subject":"created"}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	payload, err := client.do(context.Background(), "POST", "/issues.json", map[string]any{"issue": map[string]any{"subject": "created"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp map[string]map[string]any
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if resp["issue"]["id"].(float64) != 42 {
		t.Errorf("expected id=42, got %v", resp["issue"]["id"])
	}
}

func TestDo_EmptyCreatedRecoversIDFromLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issues.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/issues/57.json")
		w.WriteHeader(http.StatusCreated)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	payload, err := client.do(context.Background(), "POST", "/issues.json", map[string]any{"issue": map[string]any{"subject": "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if resp["id"].(float64) != 57 {
		t.Errorf("expected id=57 recovered from Location, got %v", resp["id"])
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp["success"])
	}
}

func TestDo_EmptyCreatedWithAbsoluteLocation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /projects.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://redmine.example.com/projects/9.json")
		w.WriteHeader(http.StatusCreated)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	payload, err := client.do(context.Background(), "POST", "/projects.json", map[string]any{"project": map[string]any{"name": "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp map[string]any
	_ = json.Unmarshal(payload, &resp)
	if resp["id"].(float64) != 9 {
		t.Errorf("expected id=9, got %v", resp["id"])
	}
}

func TestDo_EmptySuccessIsNeverEmptyObject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /issues/1.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	payload, err := client.do(context.Background(), "PUT", "/issues/1.json", map[string]any{"issue": map[string]any{"subject": "x"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp map[string]any
	if err := json.Unmarshal(payload, &resp); err != nil {
		t.Fatalf("failed to parse payload: %v", err)
	}
	if len(resp) == 0 {
		t.Fatal("bodiless success must not surface as an empty object")
	}
	if resp["success"] != true {
		t.Errorf("expected success=true, got %v", resp["success"])
	}
}

func TestIDFromLocation(t *testing.T) {
	cases := []struct {
		location string
		id       int
		ok       bool
	}{
		{"/issues/57.json", 57, true},
		{"https://host/issues/57.json", 57, true},
		{"/issues/57", 57, true},
		{"/issues/abc.json", 0, false},
		{"", 0, false},
		{"/issues/0.json", 0, false},
		{"/issues/-3.json", 0, false},
	}

	for _, tc := range cases {
		id, ok := idFromLocation(tc.location)
		if id != tc.id || ok != tc.ok {
			t.Errorf("idFromLocation(%q) = (%d, %v), want (%d, %v)", tc.location, id, ok, tc.id, tc.ok)
		}
	}
}

// ---------------------------------------------------------------------------
// Status classification
// ---------------------------------------------------------------------------

func TestDo_StatusKinds(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusUnauthorized, KindAuthentication},
		{http.StatusForbidden, KindAuthorization},
		{http.StatusNotFound, KindNotFound},
		{http.StatusConflict, KindConflict},
		{http.StatusTooManyRequests, KindRateLimit},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
		{http.StatusTeapot, KindUnexpected},
	}

	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := newTestClient(ts.URL)
		_, err := client.do(context.Background(), "GET", "/issues/1.json", nil)
		ts.Close()

		if err == nil {
			t.Errorf("status %d: expected error, got nil", tc.status)
			continue
		}
		apiErr := AsError(err)
		if apiErr.Kind != tc.kind {
			t.Errorf("status %d: expected kind %q, got %q", tc.status, tc.kind, apiErr.Kind)
		}
		if apiErr.StatusCode != tc.status {
			t.Errorf("status %d: expected status recorded, got %d", tc.status, apiErr.StatusCode)
		}
	}
}

func TestDo_ValidationErrorCarriesDetails(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /issues.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":["Subject cannot be blank","Project cannot be blank"]}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	_, err := client.do(context.Background(), "POST", "/issues.json", map[string]any{"issue": map[string]any{}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	apiErr := AsError(err)
	if apiErr.Kind != KindValidation {
		t.Fatalf("expected validation kind, got %q", apiErr.Kind)
	}
	if len(apiErr.Details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(apiErr.Details))
	}
	if !strings.Contains(apiErr.Message, "Subject cannot be blank") {
		t.Errorf("expected message to carry the first backend error, got %q", apiErr.Message)
	}
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

func TestDo_RetriesServerErrorThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"issue":{"id":1}}`))
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	if _, err := client.do(context.Background(), "GET", "/issues/1.json", nil); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestDo_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.do(context.Background(), "GET", "/issues/1.json", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if AsError(err).Kind != KindServer {
		t.Errorf("expected server kind, got %q", AsError(err).Kind)
	}
	// maxRetries=2 means 1 initial attempt plus 2 retries.
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDo_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":["Subject cannot be blank"]}`))
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.do(context.Background(), "POST", "/issues.json", map[string]any{"issue": map[string]any{}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly 1 attempt for a 4xx, got %d", calls.Load())
	}
}

func TestDo_ConnectionErrorIsRetryable(t *testing.T) {
	// Point at a server that is already closed.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := NewClient(config.Config{
		BaseURL:    url,
		APIKey:     "test-key",
		Timeout:    time.Second,
		MaxRetries: 0,
	})

	_, err := client.do(context.Background(), "GET", "/issues/1.json", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	apiErr := AsError(err)
	if apiErr.Kind != KindConnection {
		t.Fatalf("expected connection kind, got %q", apiErr.Kind)
	}
	if !apiErr.Retryable() {
		t.Error("connection errors must be retryable")
	}
}

func TestErrorRetryable(t *testing.T) {
	retryable := []ErrorKind{KindConnection, KindServer}
	for _, k := range retryable {
		if !(&Error{Kind: k}).Retryable() {
			t.Errorf("kind %q should be retryable", k)
		}
	}
	notRetryable := []ErrorKind{
		KindValidation, KindAuthentication, KindAuthorization,
		KindNotFound, KindConflict, KindRateLimit, KindTimeout, KindUnexpected,
	}
	for _, k := range notRetryable {
		if (&Error{Kind: k}).Retryable() {
			t.Errorf("kind %q should not be retryable", k)
		}
	}
}

func TestDo_RepeatedGetReturnsIdenticalPayload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /issues/5.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"issue":{"id":5,"subject":"Bug"}}`))
	})

	ts := httptest.NewServer(mux)
	defer ts.Close()
	client := newTestClient(ts.URL)

	first, err := client.do(context.Background(), "GET", "/issues/5.json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := client.do(context.Background(), "GET", "/issues/5.json", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("expected identical payloads, got %s and %s", first, second)
	}
}
