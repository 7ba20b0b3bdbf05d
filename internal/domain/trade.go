package domain

import (
	"fmt"
	"time"
)

// TradeSide is the aggressor side of an executed trade.
type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

// BookSide returns the resting side the aggressor consumed: buys lift asks,
// sells hit bids.
func (s TradeSide) BookSide() BookSide {
	if s == TradeSideBuy {
		return BookSideAsk
	}
	return BookSideBid
}

// Valid reports whether s is a known side.
func (s TradeSide) Valid() bool {
	return s == TradeSideBuy || s == TradeSideSell
}

// ExecutedTrade is a fill reported by the trade feed.
type ExecutedTrade struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      TradeSide `json:"side"`
}

// Validate rejects trades with missing identity or non-positive amounts.
func (t ExecutedTrade) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: trade has no symbol", ErrInvalidInput)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: trade %s has no timestamp", ErrInvalidInput, t.Symbol)
	}
	if !positiveFinite(t.Price) {
		return fmt.Errorf("%w: trade %s price %v", ErrInvalidInput, t.Symbol, t.Price)
	}
	if !positiveFinite(t.Size) {
		return fmt.Errorf("%w: trade %s size %v", ErrInvalidInput, t.Symbol, t.Size)
	}
	if !t.Side.Valid() {
		return fmt.Errorf("%w: trade %s side %q", ErrInvalidInput, t.Symbol, t.Side)
	}
	return nil
}
