package manipulation

import (
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const sym = "ETH-USD"

func at(d time.Duration) time.Time { return base.Add(d) }

func book(ts time.Time, bids, asks []domain.PriceLevel) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{Symbol: sym, Timestamp: ts, Bids: bids, Asks: asks}
}

func lv(price, size float64) domain.PriceLevel {
	return domain.PriceLevel{Price: price, Size: size}
}

func trade(ts time.Time, price, size float64, side domain.TradeSide) domain.ExecutedTrade {
	return domain.ExecutedTrade{Symbol: sym, Timestamp: ts, Price: price, Size: size, Side: side}
}

// without returns levels minus the ones at the given prices.
func without(levels []domain.PriceLevel, prices ...float64) []domain.PriceLevel {
	drop := make(map[float64]bool, len(prices))
	for _, p := range prices {
		drop[p] = true
	}
	var out []domain.PriceLevel
	for _, l := range levels {
		if !drop[l.Price] {
			out = append(out, l)
		}
	}
	return out
}
