// Package manipulation scores order-book and trade activity for spoofing,
// layering, wash trading and fake liquidity, and folds the scores into a
// single assessment. Everything here is a pure function of its inputs.
package manipulation

import (
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// Input is one symbol's history as seen by an evaluation cycle. Snapshots
// should already be trimmed to the phantom window; Samples is the full
// snapshot history length.
type Input struct {
	Symbol    string
	Samples   int
	Snapshots []domain.OrderBookSnapshot
	Trades    []domain.ExecutedTrade
}

// Evaluate runs phantom diffing, every detector and the aggregator.
func Evaluate(in Input, th Thresholds) domain.Assessment {
	snaps := in.Snapshots
	if len(snaps) > th.PhantomWindow {
		snaps = snaps[len(snaps)-th.PhantomWindow:]
	}

	rep := NewPhantomTracker(th).Track(snaps, in.Trades)
	spoof, layer := NewSpoofingDetector(th).Score(rep)
	wash := NewWashTradingDetector(th).Score(in.Trades)
	fake := NewFakeLiquidityDetector(th).Score(rep.Counts)

	return NewLikelihoodAggregator(th).Aggregate(AggregateInput{
		Symbol:           in.Symbol,
		Timestamp:        latest(snaps, in.Trades),
		Samples:          in.Samples,
		InsufficientData: in.Samples < 2 || in.Samples < th.MinConfidenceSamples,
		Scores:           []domain.PatternScore{spoof, layer, wash, fake},
	})
}

func latest(snaps []domain.OrderBookSnapshot, trades []domain.ExecutedTrade) time.Time {
	var ts time.Time
	if n := len(snaps); n > 0 {
		ts = snaps[n-1].Timestamp
	}
	if n := len(trades); n > 0 && trades[n-1].Timestamp.After(ts) {
		ts = trades[n-1].Timestamp
	}
	return ts
}
