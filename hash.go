package hashrouter

import (
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"
)

// virtualHash returns the base slot of the copyIndex-th virtual copy of a server:
// (seq² + 3·copyIndex + 25) mod totalSlots.
func virtualHash(seq uint64, copyIndex int, totalSlots int) int {
	var (
		m = uint64(totalSlots)
		s = seq % m
		j = uint64(copyIndex) % m
	)
	return int((s*s%m + 3*j + 25) % m)
}

// requestHash returns the slot a request id lands on: (id² + 2·id + 17) mod totalSlots.
func requestHash(id uint64, totalSlots int) int {
	var (
		m = uint64(totalSlots)
		r = id % m
	)
	return int((r*r%m + 2*r + 17) % m)
}

// probeSlot returns the attempt-th quadratic probe away from base for a copy index.
func probeSlot(base, copyIndex, attempt, totalSlots int) int {
	var (
		m    = uint64(totalSlots)
		step = uint64(copyIndex) * uint64(copyIndex) % m
	)
	return int((uint64(base) + step*uint64(attempt)%m) % m)
}

// serverSeq derives the stable ordinal of a server from its identifier.
// "Server_3" yields 3; identifiers without trailing digits fall back to xxh3.
func serverSeq(serverID string) uint64 {
	var digits = serverID[len(strings.TrimRight(serverID, "0123456789")):]
	if digits != "" {
		if seq, err := strconv.ParseUint(digits, 10, 64); err == nil {
			return seq
		}
	}
	return uint64(uint32(xxh3.HashString(serverID)))
}
