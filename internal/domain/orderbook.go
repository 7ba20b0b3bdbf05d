package domain

import (
	"fmt"
	"math"
	"time"
)

// BookSide identifies one side of an order book.
type BookSide string

const (
	BookSideBid BookSide = "bid"
	BookSideAsk BookSide = "ask"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot is a full snapshot of bids and asks for a symbol.
// Bids are ordered best-first (descending price), asks best-first
// (ascending price). A snapshot is never mutated after ingestion.
type OrderBookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Timestamp time.Time    `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// Levels returns the levels for the given side.
func (s OrderBookSnapshot) Levels(side BookSide) []PriceLevel {
	if side == BookSideBid {
		return s.Bids
	}
	return s.Asks
}

// Validate checks the snapshot for malformed content. Every level must have a
// finite positive price and size, each side must be strictly ordered
// best-first with no repeated price, and the book must not be crossed.
func (s OrderBookSnapshot) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: snapshot has no symbol", ErrInvalidInput)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: snapshot %s has no timestamp", ErrInvalidInput, s.Symbol)
	}
	for _, side := range []BookSide{BookSideBid, BookSideAsk} {
		levels := s.Levels(side)
		for i, lvl := range levels {
			if !positiveFinite(lvl.Price) {
				return fmt.Errorf("%w: %s %s level %d price %v", ErrInvalidInput, s.Symbol, side, i, lvl.Price)
			}
			if !positiveFinite(lvl.Size) {
				return fmt.Errorf("%w: %s %s level %d size %v", ErrInvalidInput, s.Symbol, side, i, lvl.Size)
			}
			if i > 0 && !side.behind(lvl.Price, levels[i-1].Price) {
				return fmt.Errorf("%w: %s %s level %d price %v out of order after %v",
					ErrInvalidInput, s.Symbol, side, i, lvl.Price, levels[i-1].Price)
			}
		}
	}
	if len(s.Bids) > 0 && len(s.Asks) > 0 && s.Bids[0].Price >= s.Asks[0].Price {
		return fmt.Errorf("%w: %s book crossed: bid %v >= ask %v", ErrInvalidInput, s.Symbol, s.Bids[0].Price, s.Asks[0].Price)
	}
	return nil
}

// behind reports whether next sits strictly behind prev on this side.
func (side BookSide) behind(next, prev float64) bool {
	if side == BookSideBid {
		return next < prev
	}
	return next > prev
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
