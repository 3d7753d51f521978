package hashrouter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// DefaultBackendTimeout bounds every heartbeat and forwarded call.
	DefaultBackendTimeout = 2 * time.Second

	// RequestIDHeader carries the correlation id of a routed request to the backend.
	RequestIDHeader = "X-Request-Id"

	maxBackendBody = 10 << 20
)

// HealthChecker answers whether the backend at endpoint is alive.
type HealthChecker interface {
	Check(ctx context.Context, endpoint string) bool
}

// Forwarder issues the routed call to a backend. A returned error means the
// backend could not be reached; any HTTP response, whatever its status, is not an error.
type Forwarder interface {
	Forward(ctx context.Context, endpoint, path, requestID string) (*BackendResponse, error)
}

// HTTPBackend talks to backends over plain HTTP. It implements both HealthChecker
// and Forwarder and never retries; failures go back to the Router.
type HTTPBackend struct {
	client        *http.Client
	heartbeatPath string
}

// NewHTTPBackend creates an HTTPBackend whose calls time out after timeout.
func NewHTTPBackend(timeout time.Duration) *HTTPBackend {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}

	return NewHTTPBackendWithClient(&http.Client{Timeout: timeout})
}

// NewHTTPBackendWithClient creates an HTTPBackend on top of client, which must
// carry its own timeout.
func NewHTTPBackendWithClient(client *http.Client) *HTTPBackend {
	return &HTTPBackend{
		client:        client,
		heartbeatPath: "/heartbeat",
	}
}

// Check probes GET /heartbeat; only a 200 counts as alive.
func (b *HTTPBackend) Check(ctx context.Context, endpoint string) bool {
	var req, err = http.NewRequestWithContext(ctx, http.MethodGet, backendURL(endpoint, b.heartbeatPath), nil)
	if err != nil {
		return false
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBackendBody))

	return resp.StatusCode == http.StatusOK
}

// Forward issues GET path against endpoint and returns the response as-is.
func (b *HTTPBackend) Forward(ctx context.Context, endpoint, path, requestID string) (*BackendResponse, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodGet, backendURL(endpoint, path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}

	return &BackendResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func backendURL(endpoint, path string) string {
	if path == "" || path[0] != '/' {
		path = "/" + path
	}
	return "http://" + endpoint + path
}
