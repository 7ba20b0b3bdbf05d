package history

import (
	"fmt"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// SnapshotHistory is the per-symbol rolling window of order-book snapshots,
// kept in ascending timestamp order.
type SnapshotHistory struct {
	ring *Ring[domain.OrderBookSnapshot]
}

// NewSnapshotHistory returns an empty history with the given capacity.
func NewSnapshotHistory(capacity int) *SnapshotHistory {
	return &SnapshotHistory{ring: NewRing[domain.OrderBookSnapshot](capacity)}
}

// Push appends snap. A snapshot older than the newest stored one is rejected
// with domain.ErrOutOfOrder and the history is left untouched.
func (h *SnapshotHistory) Push(snap domain.OrderBookSnapshot) error {
	if last, ok := h.ring.Last(); ok && snap.Timestamp.Before(last.Timestamp) {
		return fmt.Errorf("history: snapshot %s at %s precedes %s: %w",
			snap.Symbol, snap.Timestamp.Format(tsLayout), last.Timestamp.Format(tsLayout), domain.ErrOutOfOrder)
	}
	h.ring.Push(snap)
	return nil
}

func (h *SnapshotHistory) Len() int { return h.ring.Len() }
func (h *SnapshotHistory) Cap() int { return h.ring.Cap() }

// IsSufficient reports whether at least minSamples snapshots are stored.
func (h *SnapshotHistory) IsSufficient(minSamples int) bool {
	return h.ring.Len() >= minSamples
}

// Each iterates snapshots oldest first.
func (h *SnapshotHistory) Each(fn func(domain.OrderBookSnapshot) bool) { h.ring.Each(fn) }

// Items copies all snapshots oldest first.
func (h *SnapshotHistory) Items() []domain.OrderBookSnapshot { return h.ring.Items() }

// Recent copies the newest k snapshots oldest first.
func (h *SnapshotHistory) Recent(k int) []domain.OrderBookSnapshot { return h.ring.Tail(k) }

// Last returns the newest snapshot.
func (h *SnapshotHistory) Last() (domain.OrderBookSnapshot, bool) { return h.ring.Last() }

// Resize applies a new capacity, keeping the newest snapshots.
func (h *SnapshotHistory) Resize(capacity int) { h.ring.Resize(capacity) }

const tsLayout = "2006-01-02T15:04:05.000000Z07:00"
