// Package httpapi exposes the router over HTTP and provides the backend stub
// the router talks to.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	hashrouter "go-hashrouter"
)

const (
	statusSuccessful = "successful"
	statusFailure    = "failure"

	maxRequestBody = 1 << 20
)

// HandlerConfig configures the router's HTTP handler.
type HandlerConfig struct {
	// RoutedPaths are the GET paths forwarded to backends. Defaults to /home.
	RoutedPaths []string

	// Metrics, when set, is served on GET /metrics.
	Metrics http.Handler

	Logger *slog.Logger
}

type handler struct {
	membership *hashrouter.Membership
	router     *hashrouter.Router
	routed     map[string]bool
	logger     *slog.Logger
}

// replicaMessage is the body of every successful membership response.
type replicaMessage struct {
	N        int               `json:"N"`
	Replicas []string          `json:"replicas"`
	Status   string            `json:"status"`
	Added    []string          `json:"added,omitempty"`
	Skipped  []string          `json:"skipped,omitempty"`
	Degraded []string          `json:"degraded,omitempty"`
	Failed   map[string]string `json:"failed,omitempty"`
	Removed  []string          `json:"removed,omitempty"`
	Unknown  []string          `json:"unknown,omitempty"`
}

type envelope struct {
	Message any    `json:"message"`
	Status  string `json:"status,omitempty"`
}

type membershipRequest struct {
	N         json.RawMessage `json:"n"`
	Hostnames []string        `json:"hostnames"`
}

// NewHandler returns the router's HTTP handler.
func NewHandler(membership *hashrouter.Membership, router *hashrouter.Router, cfg HandlerConfig) http.Handler {
	var h = &handler{
		membership: membership,
		router:     router,
		routed:     make(map[string]bool),
		logger:     cfg.Logger,
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var paths = cfg.RoutedPaths
	if len(paths) == 0 {
		paths = []string{"/home"}
	}
	for _, path := range paths {
		h.routed[path] = true
	}

	var mux = http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.index)
	mux.HandleFunc("GET /rep", h.replicas)
	mux.HandleFunc("POST /add", h.add)
	mux.HandleFunc("DELETE /rm", h.remove)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /ring", h.ring)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	mux.HandleFunc("GET /", h.route)

	return mux
}

func (h *handler) index(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		Message: map[string]any{
			"message": "Load balancer is running",
			"endpoints": map[string]string{
				"/rep":   "GET - List replicas",
				"/add":   "POST - Add servers",
				"/rm":    "DELETE - Remove servers",
				"/stats": "GET - Slot distribution",
				"/ring":  "GET - Ring topology",
				"/home":  "GET - Route to servers",
			},
		},
		Status: statusSuccessful,
	})
}

func (h *handler) replicas(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Message: h.replicaMessage()})
}

func (h *handler) add(w http.ResponseWriter, r *http.Request) {
	var n, hostnames, err = decodeMembershipRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.membership.AddServers(n, hostnames)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if failErr := result.Err(); failErr != nil {
		h.logger.Warn("some servers could not be added", "error", failErr)
	}

	var msg = h.replicaMessage()
	msg.Added = result.Added
	msg.Skipped = result.Skipped
	msg.Degraded = result.Degraded
	if len(result.Failed) > 0 {
		msg.Failed = make(map[string]string, len(result.Failed))
		for name, failure := range result.Failed {
			msg.Failed[name] = failure.Error()
		}
	}

	writeJSON(w, http.StatusOK, envelope{Message: msg})
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	var n, hostnames, err = decodeMembershipRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.membership.RemoveServers(n, hostnames)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	var msg = h.replicaMessage()
	msg.Removed = result.Removed
	msg.Unknown = result.Unknown

	writeJSON(w, http.StatusOK, envelope{Message: msg})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	var distribution = h.membership.Distribution()
	writeJSON(w, http.StatusOK, envelope{
		Message: map[string]any{
			"N":            len(distribution),
			"distribution": distribution,
		},
		Status: statusSuccessful,
	})
}

func (h *handler) ring(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, h.membership.String())
}

// route forwards configured paths to a backend and rejects everything else.
func (h *handler) route(w http.ResponseWriter, r *http.Request) {
	if !h.routed[r.URL.Path] {
		writeJSON(w, http.StatusBadRequest, envelope{
			Message: fmt.Sprintf("Error: '%s' endpoint not supported", r.URL.Path[1:]),
			Status:  statusFailure,
		})
		return
	}

	var req = hashrouter.Request{Path: r.URL.Path}
	if raw := r.URL.Query().Get("id"); raw != "" {
		var id, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{
				Message: fmt.Sprintf("Error: invalid request id %q", raw),
				Status:  statusFailure,
			})
			return
		}
		req.ID = id
		req.FixedID = true
	}

	var resp, err = h.router.Route(r.Context(), req)
	if err != nil {
		h.logger.Warn("failed to route request", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{
			Message: "Error: No healthy server found",
			Status:  statusFailure,
		})
		return
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func (h *handler) replicaMessage() replicaMessage {
	var replicas = h.membership.Replicas()
	return replicaMessage{
		N:        len(replicas),
		Replicas: replicas,
		Status:   statusSuccessful,
	}
}

// decodeMembershipRequest reads {"n": int, "hostnames": [...]}; n must be a JSON integer.
func decodeMembershipRequest(r *http.Request) (int, []string, error) {
	var req membershipRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		return 0, nil, fmt.Errorf("%w: malformed body: %w", hashrouter.ErrValidation, err)
	}

	var n, err = parseCount(req.N)
	if err != nil {
		return 0, nil, err
	}

	return n, req.Hostnames, nil
}

func parseCount(raw json.RawMessage) (int, error) {
	var (
		dec   = json.NewDecoder(bytes.NewReader(raw))
		value any
	)
	dec.UseNumber()

	if err := dec.Decode(&value); err != nil {
		return 0, fmt.Errorf("%w: n is required", hashrouter.ErrValidation)
	}

	var num, ok = value.(json.Number)
	if !ok {
		return 0, fmt.Errorf("%w: n must be an integer", hashrouter.ErrValidation)
	}

	n, err := strconv.Atoi(num.String())
	if err != nil {
		return 0, fmt.Errorf("%w: n must be an integer, got %s", hashrouter.ErrValidation, num)
	}

	return n, nil
}

func statusFor(err error) int {
	if errors.Is(err, hashrouter.ErrValidation) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, envelope{
		Message: "Error: " + err.Error(),
		Status:  statusFailure,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs handler on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	var listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	var server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down http server", "error", err)
		}
	}()

	logger.Info("serving http", "addr", listener.Addr().String())
	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}
