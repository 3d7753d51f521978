package hashrouter

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"go-hashrouter/metrics"
)

// Rand is the random source used for name synthesis and victim selection.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	IntN(n int) int
}

// options configures the ring, membership and router (internal only).
type options struct {
	totalSlots    int
	virtualCopies int
	defaultPort   int
	rand          Rand
	idSource      func() uint64
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// defaultOptions returns the values the router has always shipped with.
func defaultOptions() options {
	var seed = uint64(time.Now().UnixNano())
	return options{
		totalSlots:    512,
		virtualCopies: 9,
		defaultPort:   5000,
		rand:          rand.New(rand.NewPCG(seed, seed>>1)),
		idSource:      randomRequestID,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newOptions(opts []Option) options {
	var o = defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// randomRequestID draws a request id the same way clients of the router always have.
func randomRequestID() uint64 {
	return 100000 + rand.Uint64N(900000)
}

// Option is a functional option for configuring the router.
type Option func(*options)

// WithTotalSlots sets the size of the slot space.
func WithTotalSlots(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.totalSlots = n
		}
	}
}

// WithVirtualCopies sets K, the number of virtual copies placed per server.
func WithVirtualCopies(k int) Option {
	return func(o *options) {
		if k > 0 {
			o.virtualCopies = k
		}
	}
}

// WithDefaultPort sets the port appended to hostnames given without one.
// Non-positive ports are ignored.
func WithDefaultPort(port int) Option {
	return func(o *options) {
		if port > 0 {
			o.defaultPort = port
		}
	}
}

// WithRand injects the random source for name synthesis and random removals.
// It is only ever used while the membership lock is held.
func WithRand(r Rand) Option {
	return func(o *options) {
		if r != nil {
			o.rand = r
		}
	}
}

// WithIDSource injects the generator for request ids the caller did not supply.
// It must be safe for concurrent use.
func WithIDSource(next func() uint64) Option {
	return func(o *options) {
		if next != nil {
			o.idSource = next
		}
	}
}

// WithLogger sets the logger.
// If the logger is nil, a no-op logger is used.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithMetrics sets the Prometheus instruments to record into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
