package coordination

import (
	"sort"
	"strings"
)

// Keys builds the Redis key names shared by every engine process.
// A non-empty Prefix namespaces all keys, which lets several deployments share one Redis.
type Keys struct {
	Prefix string
}

func (k Keys) key(parts ...string) string {
	if k.Prefix != "" {
		parts = append([]string{k.Prefix}, parts...)
	}
	return strings.Join(parts, ":")
}

// VenueQueue is the sorted set of searching request ids, scored by enqueue time.
func (k Keys) VenueQueue(venue string) string { return k.key("active", "searching", venue) }

func (k Keys) Snapshot(requestID string) string { return k.key("matchreq", requestID) }

func (k Keys) Liveness(requestID string) string { return k.key("searching", requestID) }

func (k Keys) Lock(requestID string) string { return k.key("lock", requestID) }

func (k Keys) Confirmation(requestID string) string { return k.key("confirm", requestID) }

// Cooldown is keyed by the unordered pair, so (a, b) and (b, a) collide.
func (k Keys) Cooldown(a, b string) string { return k.key(append([]string{"avoid"}, pair(a, b)...)...) }

// Finalize is the single-winner claim taken by whichever side completes a pairing.
func (k Keys) Finalize(a, b string) string {
	return k.key(append([]string{"finalize"}, pair(a, b)...)...)
}

func pair(a, b string) []string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids
}
