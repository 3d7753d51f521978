package hashrouter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"go-hashrouter/metrics"
)

// Request is one inbound call to be routed.
type Request struct {
	Path string

	// ID pins the request id used for every attempt when FixedID is set.
	// Otherwise a fresh id is drawn per attempt.
	ID      uint64
	FixedID bool
}

// Router resolves requests on the ring, checks the chosen backend and forwards
// to it, evicting and retrying on failure. It never tries more servers than
// were registered when the request arrived.
type Router struct {
	membership *Membership
	checker    HealthChecker
	forwarder  Forwarder
	options    options
}

// NewRouter creates a Router over membership.
func NewRouter(membership *Membership, checker HealthChecker, forwarder Forwarder, opts ...Option) *Router {
	return &Router{
		membership: membership,
		checker:    checker,
		forwarder:  forwarder,
		options:    newOptions(opts),
	}
}

// Route sends req to a healthy backend and returns its response verbatim.
// It returns ErrNoHealthyServer when the ring is empty or every attempt failed.
func (r *Router) Route(ctx context.Context, req Request) (*BackendResponse, error) {
	var (
		traceID = uuid.NewString()
		budget  = r.membership.Count()
		logger  = r.options.logger.With("request_id", traceID, "path", req.Path)
		tried   = 0
		lastErr error
	)

	for tried < budget {
		var id = req.ID
		if !req.FixedID {
			id = r.options.idSource()
		}

		var target, ok = r.membership.Lookup(id)
		if !ok {
			lastErr = errors.New("ring is empty")
			break
		}
		tried++

		if !r.checker.Check(ctx, target.Endpoint) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("%w: %s failed its health check", ErrBackendUnreachable, target.Endpoint)
			r.evict(logger, target, metrics.ReasonHealthCheck, lastErr)
			continue
		}

		var resp, err = r.forwarder.Forward(ctx, target.Endpoint, req.Path, traceID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
			r.evict(logger, target, metrics.ReasonForward, lastErr)
			continue
		}

		logger.Debug("routed request",
			"server_id", target.ServerID,
			"request_hash_id", id,
			"attempt", tried,
			"status", resp.StatusCode)
		r.options.metrics.ObserveRequest(metrics.ResultRouted, tried)
		return resp, nil
	}

	r.options.metrics.ObserveRequest(metrics.ResultNoHealthyServer, tried)
	if lastErr == nil {
		logger.Warn("no servers registered")
		return nil, fmt.Errorf("%w: no servers registered", ErrNoHealthyServer)
	}

	logger.Warn("routing failed", "attempts", tried, "error", lastErr)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrNoHealthyServer, tried, lastErr)
}

func (r *Router) evict(logger *slog.Logger, target Target, reason string, cause error) {
	logger.Warn("backend unreachable, removing server",
		"server_id", target.ServerID,
		"endpoint", target.Endpoint,
		"error", cause)
	if r.membership.Evict(target) {
		r.options.metrics.IncEviction(reason)
	}
}
