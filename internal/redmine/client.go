// Package redmine implements the Redmine REST API client: a shared
// base HTTP layer plus one service per resource type. The base layer
// owns authentication, status-code classification, retry with backoff,
// and normalization of the awkward empty-body 201 responses some
// Redmine endpoints produce.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/redmine-mcp/redmine-mcp-server/internal/config"
)

const (
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 8 * time.Second
)

// Client is a Redmine API client. A single Client is safe for
// sequential reuse across tool calls; the underlying http.Client pools
// connections.
type Client struct {
	baseURL    string
	apiKey     string
	maxRetries int
	httpClient *http.Client

	Issues   *IssuesService
	Projects *ProjectsService
	Users    *UsersService
	Versions *VersionsService
	Wiki     *WikiService
}

// NewClient creates a new Redmine client from the process configuration.
func NewClient(cfg config.Config) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}

	c.Issues = &IssuesService{client: c}
	c.Projects = &ProjectsService{client: c}
	c.Users = &UsersService{client: c}
	c.Versions = &VersionsService{client: c}
	c.Wiki = &WikiService{client: c}

	return c
}

// do executes one authenticated request against the Redmine API and
// returns the normalized JSON payload. Connection failures and 5xx
// responses are retried up to maxRetries extra attempts with doubling
// backoff; client errors fail immediately. On failure the returned
// error is always a *Error envelope.
func (c *Client) do(ctx context.Context, method, apiPath string, body any) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindUnexpected, Message: fmt.Sprintf("failed to marshal request body: %v", err)}
		}
	}

	var payload json.RawMessage
	err := retry.Do(
		func() error {
			var attemptErr error
			payload, attemptErr = c.attempt(ctx, method, apiPath, encoded)
			return attemptErr
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.maxRetries)+1),
		retry.Delay(retryBaseDelay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return AsError(err).Retryable()
		}),
	)
	if err != nil {
		return nil, AsError(err)
	}

	return payload, nil
}

// attempt performs a single request without retry.
func (c *Client) attempt(ctx context.Context, method, apiPath string, encoded []byte) (json.RawMessage, error) {
	var bodyReader io.Reader
	if encoded != nil {
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPath, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindUnexpected, Message: fmt.Sprintf("failed to create request: %v", err)}
	}

	req.Header.Set("X-Redmine-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, newStatusError(resp.StatusCode, respBody)
	}

	return normalizeSuccess(resp, respBody), nil
}

// transportError classifies a failure that occurred before any status
// code was received.
func transportError(err error) *Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("request timed out: %v", err)}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("request timed out: %v", err)}
	}
	return &Error{Kind: KindConnection, Message: fmt.Sprintf("request failed: %v", err)}
}

// normalizeSuccess turns a 2xx response into a non-empty JSON payload.
//
// A 201 with a body is returned verbatim (the resource envelope). A
// 201 with an empty body is recovered from the Location header: the
// trailing path segment, minus any extension, is the new resource ID.
// Successful writes must never surface as an empty object.
func normalizeSuccess(resp *http.Response, body []byte) json.RawMessage {
	if len(bytes.TrimSpace(body)) > 0 {
		return json.RawMessage(body)
	}

	if resp.StatusCode == http.StatusCreated {
		if id, ok := idFromLocation(resp.Header.Get("Location")); ok {
			payload, _ := json.Marshal(map[string]any{"id": id, "success": true})
			return payload
		}
	}

	payload, _ := json.Marshal(map[string]any{"success": true})
	return payload
}

// idFromLocation parses the trailing path segment of a Location header
// such as "https://host/issues/57.json" into 57.
func idFromLocation(location string) (int, bool) {
	if location == "" {
		return 0, false
	}

	segment := path.Base(location)
	if ext := path.Ext(segment); ext != "" {
		segment = strings.TrimSuffix(segment, ext)
	}

	id, err := strconv.Atoi(segment)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decode unmarshals a payload into out, wrapping parse failures as
// unexpected errors so they are never silent.
func decode(payload json.RawMessage, out any) error {
	if err := json.Unmarshal(payload, out); err != nil {
		return &Error{Kind: KindUnexpected, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	return nil
}
