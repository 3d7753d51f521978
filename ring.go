package hashrouter

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
)

// HashRing maps a fixed slot space to servers through K virtual copies per server.
// It is a plain data structure and is not safe for concurrent use; Membership
// serializes every access.
type HashRing struct {
	totalSlots    int
	virtualCopies int
	slots         map[int]string   // Occupied slot -> server id
	servers       map[string][]int // Server id -> its slots, in placement order
	logger        *slog.Logger
}

// NewHashRing creates an empty ring.
func NewHashRing(opts ...Option) *HashRing {
	var options = newOptions(opts)
	return newHashRing(options)
}

func newHashRing(options options) *HashRing {
	return &HashRing{
		totalSlots:    options.totalSlots,
		virtualCopies: options.virtualCopies,
		slots:         make(map[int]string),
		servers:       make(map[string][]int),
		logger:        options.logger,
	}
}

// Place puts up to K virtual copies of serverID on the ring and returns how many landed.
// Copies are placed in ascending copy index; a copy whose base slot and every quadratic
// probe are occupied is skipped. If no copy lands the ring is left untouched and
// ErrPlacementFailed is returned.
func (r *HashRing) Place(serverID string) (int, error) {
	if _, exists := r.servers[serverID]; exists {
		return 0, fmt.Errorf("failed to place %s: %w", serverID, ErrServerExists)
	}

	var (
		seq    = serverSeq(serverID)
		placed = make([]int, 0, r.virtualCopies)
	)

	for j := 1; j <= r.virtualCopies; j++ {
		var slot, ok = r.freeSlot(virtualHash(seq, j, r.totalSlots), j)
		if !ok {
			r.logger.Warn("could not place virtual copy, ring saturated",
				"server_id", serverID,
				"copy_index", j)
			continue
		}

		r.slots[slot] = serverID
		placed = append(placed, slot)
	}

	if len(placed) == 0 {
		return 0, fmt.Errorf("failed to place %s: %w", serverID, ErrPlacementFailed)
	}

	r.servers[serverID] = placed
	if len(placed) < r.virtualCopies {
		r.logger.Warn("server placed with reduced redundancy",
			"server_id", serverID,
			"placed", len(placed),
			"wanted", r.virtualCopies)
	}

	return len(placed), nil
}

// freeSlot returns base if it is free, otherwise the first free quadratic probe.
func (r *HashRing) freeSlot(base, copyIndex int) (int, bool) {
	if _, occupied := r.slots[base]; !occupied {
		return base, true
	}

	for attempt := 1; attempt <= r.totalSlots; attempt++ {
		var slot = probeSlot(base, copyIndex, attempt, r.totalSlots)
		if _, occupied := r.slots[slot]; !occupied {
			return slot, true
		}
	}

	return 0, false
}

// Remove deletes every slot owned by serverID. It reports false and changes
// nothing if the server is not on the ring.
func (r *HashRing) Remove(serverID string) bool {
	var owned, exists = r.servers[serverID]
	if !exists {
		return false
	}

	for _, slot := range owned {
		delete(r.slots, slot)
	}
	delete(r.servers, serverID)
	return true
}

// Resolve returns the server owning the first occupied slot at or after the
// request's slot, wrapping around once. It reports false for an empty ring.
func (r *HashRing) Resolve(requestID uint64) (string, bool) {
	var start = requestHash(requestID, r.totalSlots)

	for i := range r.totalSlots {
		if serverID, occupied := r.slots[(start+i)%r.totalSlots]; occupied {
			return serverID, true
		}
	}

	return "", false
}

// Contains reports whether serverID owns any slot.
func (r *HashRing) Contains(serverID string) bool {
	var _, exists = r.servers[serverID]
	return exists
}

// Len returns the number of servers on the ring.
func (r *HashRing) Len() int {
	return len(r.servers)
}

// Slots returns the slots owned by serverID in ascending order.
func (r *HashRing) Slots(serverID string) []int {
	var owned = slices.Clone(r.servers[serverID])
	slices.Sort(owned)
	return owned
}

// Snapshot returns a copy of the slot map.
func (r *HashRing) Snapshot() map[int]string {
	return maps.Clone(r.slots)
}

// Distribution returns the number of slots each server owns.
func (r *HashRing) Distribution() map[string]int {
	var distribution = make(map[string]int, len(r.servers))
	for serverID, owned := range r.servers {
		distribution[serverID] = len(owned)
	}
	return distribution
}

// String returns a visual representation of the ring state.
func (r *HashRing) String() string {
	var (
		b         strings.Builder
		positions = slices.Sorted(maps.Keys(r.slots))
	)

	b.WriteString(fmt.Sprintf("Size: %d | Servers: %d | Virtual copies: %d\n",
		r.totalSlots, len(r.servers), len(r.slots)))

	if len(positions) == 0 {
		b.WriteString("\n[Empty Ring]\n")
		return b.String()
	}

	b.WriteString("\nRing Topology:\n")
	b.WriteString("┌─────────────────────────────────────────────────────────────┐\n")

	for i, position := range positions {
		var prevPos int
		if i == 0 {
			prevPos = positions[len(positions)-1]
		} else {
			prevPos = positions[i-1]
		}

		var rangeStr string
		switch {
		case len(positions) == 1:
			rangeStr = fmt.Sprintf("[0..%d]", r.totalSlots-1)
		case prevPos >= position:
			rangeStr = fmt.Sprintf("(%d..%d,0..%d]", prevPos, r.totalSlots-1, position)
		default:
			rangeStr = fmt.Sprintf("(%d..%d]", prevPos, position)
		}

		b.WriteString(fmt.Sprintf("│ @%-5d  %-15s  %-25s\n", position, r.slots[position], rangeStr))
	}

	b.WriteString("└─────────────────────────────────────────────────────────────┘\n")

	b.WriteString("\nServer Summary:\n")
	for _, serverID := range slices.Sorted(maps.Keys(r.servers)) {
		b.WriteString(fmt.Sprintf("  %-15s  copies: %d\n", serverID, len(r.servers[serverID])))
	}

	return b.String()
}
