package hashrouter

import (
	"errors"
	"maps"
	"slices"

	"go.uber.org/multierr"
)

var (
	// ErrValidation is returned when an add/remove request is malformed. Nothing is mutated.
	ErrValidation = errors.New("validation failed")

	// ErrServerExists is returned when placing a server that already owns slots.
	ErrServerExists = errors.New("server already on the ring")

	// ErrPlacementFailed is returned when not a single virtual copy could be placed.
	ErrPlacementFailed = errors.New("no free slot for any virtual copy")

	// ErrNameSpaceExhausted is returned when no unique server name could be synthesized.
	ErrNameSpaceExhausted = errors.New("could not synthesize a unique server name")

	// ErrBackendUnreachable wraps a failed health check or forward call.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrNoHealthyServer is returned when the ring is empty or the retry budget is spent.
	ErrNoHealthyServer = errors.New("no healthy server found")
)

// Target is a resolved server together with the endpoint it is reachable at.
// A Target only evicts the registration it was resolved from.
type Target struct {
	ServerID string
	Endpoint string

	generation uint64
}

// AddResult reports the outcome of each server in an AddServers call.
type AddResult struct {
	Added    []string
	Skipped  []string
	Degraded []string
	Failed   map[string]error
}

// Err combines every per-server failure, or returns nil when all servers were handled.
func (r AddResult) Err() error {
	var err error
	for _, name := range slices.Sorted(maps.Keys(r.Failed)) {
		err = multierr.Append(err, r.Failed[name])
	}
	return err
}

// RemoveResult reports which endpoints a RemoveServers call took out.
type RemoveResult struct {
	Removed []string
	Unknown []string
}

// BackendResponse is a backend reply relayed verbatim to the caller.
type BackendResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
