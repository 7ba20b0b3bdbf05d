package history

import (
	"fmt"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// TradeWindow is the per-symbol rolling window of executed trades, kept in
// ascending timestamp order. Equal timestamps are allowed.
type TradeWindow struct {
	ring *Ring[domain.ExecutedTrade]
}

// NewTradeWindow returns an empty window with the given capacity.
func NewTradeWindow(capacity int) *TradeWindow {
	return &TradeWindow{ring: NewRing[domain.ExecutedTrade](capacity)}
}

// Push appends t, rejecting trades older than the newest stored one.
func (w *TradeWindow) Push(t domain.ExecutedTrade) error {
	if last, ok := w.ring.Last(); ok && t.Timestamp.Before(last.Timestamp) {
		return fmt.Errorf("history: trade %s at %s precedes %s: %w",
			t.Symbol, t.Timestamp.Format(tsLayout), last.Timestamp.Format(tsLayout), domain.ErrOutOfOrder)
	}
	w.ring.Push(t)
	return nil
}

func (w *TradeWindow) Len() int { return w.ring.Len() }
func (w *TradeWindow) Cap() int { return w.ring.Cap() }

// IsSufficient reports whether at least minSamples trades are stored.
func (w *TradeWindow) IsSufficient(minSamples int) bool {
	return w.ring.Len() >= minSamples
}

// Each iterates trades oldest first.
func (w *TradeWindow) Each(fn func(domain.ExecutedTrade) bool) { w.ring.Each(fn) }

// Items copies all trades oldest first.
func (w *TradeWindow) Items() []domain.ExecutedTrade { return w.ring.Items() }

// Resize applies a new capacity, keeping the newest trades.
func (w *TradeWindow) Resize(capacity int) { w.ring.Resize(capacity) }
