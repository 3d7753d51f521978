package hashrouter

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go-hashrouter/metrics"
)

const (
	// Synthesized names are Server_<100..999>, as the router has always generated them.
	syntheticNameMin  = 100
	syntheticNameSpan = 900
	maxSyntheticDraws = 32
)

// Membership owns the ring and the registry of reachable endpoints.
// A single mutex guards both, so a server id is never present in one without the other.
// The lock is never held across a network call.
type Membership struct {
	mu        sync.Mutex
	ring      *HashRing
	endpoints map[string]string // Server id -> host:port
	order     []string          // Server ids in insertion order
	options   options

	// Each registration gets a new generation, so a stale Target cannot evict
	// a server removed and added back while it was being checked.
	generations    map[string]uint64
	nextGeneration uint64
}

// NewMembership creates an empty membership.
func NewMembership(opts ...Option) *Membership {
	var options = newOptions(opts)
	return &Membership{
		ring:        newHashRing(options),
		endpoints:   make(map[string]string),
		order:       make([]string, 0),
		options:     options,
		generations: make(map[string]uint64),
	}
}

// AddServers adds n servers: the given hostnames first, then synthesized names for
// the remainder. Servers are added independently; the result reports which ones
// were added, skipped as already present, degraded or failed.
// Asking for more synthesized names than are free is a validation error.
func (m *Membership) AddServers(n int, hostnames []string) (AddResult, error) {
	if err := validateRequest(n, hostnames); err != nil {
		return AddResult{}, err
	}

	var missing = n - len(hostnames)
	if missing > syntheticNameSpan {
		return AddResult{}, fmt.Errorf("%w: cannot synthesize %d names, at most %d exist", ErrValidation, missing, syntheticNameSpan)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		result = AddResult{Failed: make(map[string]error)}
		names  = slices.Clone(hostnames)
		taken  = make(map[string]bool, n)
	)

	for _, name := range hostnames {
		var serverID, _ = m.splitHostname(name)
		taken[serverID] = true
	}

	if free := m.freeSyntheticNames(taken); missing > free {
		return AddResult{}, fmt.Errorf("%w: cannot synthesize %d names, only %d are free", ErrValidation, missing, free)
	}

	for range missing {
		var name, err = m.synthesizeName(taken)
		if err != nil {
			result.Failed["synthesized"] = err
			break
		}
		names = append(names, name)
	}

	for _, name := range names {
		var serverID, endpoint = m.splitHostname(name)

		if _, exists := m.endpoints[serverID]; exists {
			result.Skipped = append(result.Skipped, endpoint)
			continue
		}

		var placed, err = m.ring.Place(serverID)
		if err != nil {
			m.options.logger.Error("failed to add server", "server_id", serverID, "error", err)
			m.options.metrics.IncPlacement(metrics.PlacementFailed)
			result.Failed[endpoint] = err
			continue
		}

		m.nextGeneration++
		m.endpoints[serverID] = endpoint
		m.generations[serverID] = m.nextGeneration
		m.order = append(m.order, serverID)
		result.Added = append(result.Added, endpoint)

		if placed < m.options.virtualCopies {
			m.options.metrics.IncPlacement(metrics.PlacementDegraded)
			result.Degraded = append(result.Degraded, endpoint)
		} else {
			m.options.metrics.IncPlacement(metrics.PlacementFull)
		}

		m.options.logger.Info("added server",
			"server_id", serverID,
			"endpoint", endpoint,
			"virtual_copies", placed)
	}

	m.options.metrics.SetServers(len(m.order))
	return result, nil
}

// RemoveServers removes n servers: the named ones first, then servers picked
// uniformly at random until n removals have happened or none remain.
func (m *Membership) RemoveServers(n int, hostnames []string) (RemoveResult, error) {
	if err := validateRequest(n, hostnames); err != nil {
		return RemoveResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.order) {
		return RemoveResult{}, fmt.Errorf("%w: n=%d exceeds the %d servers present", ErrValidation, n, len(m.order))
	}

	var (
		result RemoveResult
		budget = n
	)

	for _, name := range hostnames {
		var serverID, _ = m.splitHostname(name)
		var endpoint, removed = m.removeLocked(serverID)
		if !removed {
			result.Unknown = append(result.Unknown, name)
			continue
		}
		result.Removed = append(result.Removed, endpoint)
		budget--
	}

	for budget > 0 && len(m.order) > 0 {
		var serverID = m.order[m.options.rand.IntN(len(m.order))]
		var endpoint, _ = m.removeLocked(serverID)
		result.Removed = append(result.Removed, endpoint)
		budget--
	}

	for _, endpoint := range result.Removed {
		m.options.logger.Info("removed server", "endpoint", endpoint)
	}

	m.options.metrics.SetServers(len(m.order))
	return result, nil
}

// Lookup resolves a request id to its server and endpoint.
// It reports false when the ring is empty.
func (m *Membership) Lookup(requestID uint64) (Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var serverID, ok = m.ring.Resolve(requestID)
	if !ok {
		return Target{}, false
	}

	return m.targetLocked(serverID), true
}

// Evict removes a server found dead. It only removes the registration target was
// resolved from, so concurrent evictions succeed exactly once and a server added
// back in the meantime stays.
func (m *Membership) Evict(target Target) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if endpoint, exists := m.endpoints[target.ServerID]; !exists || endpoint != target.Endpoint {
		return false
	}
	if m.generations[target.ServerID] != target.generation {
		return false
	}

	m.removeLocked(target.ServerID)
	m.options.metrics.SetServers(len(m.order))
	m.options.logger.Warn("evicted dead server",
		"server_id", target.ServerID,
		"endpoint", target.Endpoint)
	return true
}

// Count returns the number of registered servers.
func (m *Membership) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Replicas returns the registered endpoints in insertion order.
func (m *Membership) Replicas() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var replicas = make([]string, 0, len(m.order))
	for _, serverID := range m.order {
		replicas = append(replicas, m.endpoints[serverID])
	}
	return replicas
}

// Targets returns every registered server with its endpoint, in insertion order.
func (m *Membership) Targets() []Target {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets = make([]Target, 0, len(m.order))
	for _, serverID := range m.order {
		targets = append(targets, m.targetLocked(serverID))
	}
	return targets
}

// Distribution returns how many slots each server owns.
func (m *Membership) Distribution() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.Distribution()
}

// String returns the ring topology.
func (m *Membership) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ring.String()
}

// removeLocked takes serverID off the ring, then out of the registry.
// Must be called with lock held.
func (m *Membership) removeLocked(serverID string) (string, bool) {
	var endpoint, exists = m.endpoints[serverID]
	if !exists {
		return "", false
	}

	m.ring.Remove(serverID)
	delete(m.endpoints, serverID)
	delete(m.generations, serverID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == serverID })
	return endpoint, true
}

// Must be called with lock held.
func (m *Membership) targetLocked(serverID string) Target {
	return Target{
		ServerID:   serverID,
		Endpoint:   m.endpoints[serverID],
		generation: m.generations[serverID],
	}
}

// synthesizeName draws a Server_<n> name unique against the registry and taken.
// After maxSyntheticDraws collisions it takes the first free name instead.
// Must be called with lock held.
func (m *Membership) synthesizeName(taken map[string]bool) (string, error) {
	for range maxSyntheticDraws {
		if name, ok := m.claimSyntheticName(m.options.rand.IntN(syntheticNameSpan), taken); ok {
			return name, nil
		}
	}

	for k := range syntheticNameSpan {
		if name, ok := m.claimSyntheticName(k, taken); ok {
			return name, nil
		}
	}

	return "", ErrNameSpaceExhausted
}

func (m *Membership) claimSyntheticName(k int, taken map[string]bool) (string, bool) {
	var serverID = syntheticServerID(k)
	if _, exists := m.endpoints[serverID]; exists || taken[serverID] {
		return "", false
	}

	taken[serverID] = true
	return net.JoinHostPort(serverID, strconv.Itoa(m.options.defaultPort)), true
}

// freeSyntheticNames counts the Server_<n> names neither registered nor taken.
// Must be called with lock held.
func (m *Membership) freeSyntheticNames(taken map[string]bool) int {
	var free = 0
	for k := range syntheticNameSpan {
		var serverID = syntheticServerID(k)
		if _, exists := m.endpoints[serverID]; !exists && !taken[serverID] {
			free++
		}
	}
	return free
}

func syntheticServerID(k int) string {
	return "Server_" + strconv.Itoa(syntheticNameMin+k)
}

// splitHostname returns the server id and endpoint for "host" or "host:port".
func (m *Membership) splitHostname(name string) (string, string) {
	name = strings.TrimSpace(name)
	if host, _, err := net.SplitHostPort(name); err == nil {
		return host, name
	}
	return name, net.JoinHostPort(name, strconv.Itoa(m.options.defaultPort))
}

func validateRequest(n int, hostnames []string) error {
	if n <= 0 {
		return fmt.Errorf("%w: n must be a positive integer, got %d", ErrValidation, n)
	}

	if len(hostnames) > n {
		return fmt.Errorf("%w: %d hostnames exceed n=%d", ErrValidation, len(hostnames), n)
	}

	for _, name := range hostnames {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: hostnames must not be empty", ErrValidation)
		}
	}

	return nil
}
