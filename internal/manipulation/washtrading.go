package manipulation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// regularityEpsilon keeps the regularity ratio finite for tiny averages.
const regularityEpsilon = 1e-9

// TradeGroup is a candidate set of comparable trades inside one time bucket.
type TradeGroup struct {
	Trades  []domain.ExecutedTrade
	refSize float64
	hasBuy  bool
	hasSell bool
}

// Start returns the timestamp of the first trade.
func (g *TradeGroup) Start() time.Time { return g.Trades[0].Timestamp }

// OppositeSides reports whether the group holds both buys and sells.
func (g *TradeGroup) OppositeSides() bool { return g.hasBuy && g.hasSell }

func (g *TradeGroup) add(t domain.ExecutedTrade) {
	g.Trades = append(g.Trades, t)
	switch t.Side {
	case domain.TradeSideBuy:
		g.hasBuy = true
	case domain.TradeSideSell:
		g.hasSell = true
	}
}

// Regularity is the timing statistic of one trade group.
type Regularity struct {
	AvgDiff float64
	StdDiff float64
	Score   float64
	Flagged bool
}

// WashTradingDetector flags groups of opposite-side trades of comparable size
// whose inter-trade timing is mechanically regular.
type WashTradingDetector struct {
	th Thresholds
}

// NewWashTradingDetector returns a detector bound to th.
func NewWashTradingDetector(th Thresholds) WashTradingDetector {
	return WashTradingDetector{th: th}
}

// Group clusters ascending trades. A trade joins the first open group whose
// reference size is within tolerance and whose bucket has not expired;
// otherwise it opens a new group.
func (d WashTradingDetector) Group(trades []domain.ExecutedTrade) []*TradeGroup {
	bucket := time.Duration(d.th.WashBucketSeconds * float64(time.Second))
	var open, closed []*TradeGroup

	for _, t := range trades {
		kept := open[:0]
		for _, g := range open {
			if t.Timestamp.Sub(g.Start()) > bucket {
				closed = append(closed, g)
			} else {
				kept = append(kept, g)
			}
		}
		open = kept

		var target *TradeGroup
		for _, g := range open {
			if math.Abs(t.Size-g.refSize) <= d.th.WashSizeTolerance*g.refSize {
				target = g
				break
			}
		}
		if target == nil {
			target = &TradeGroup{refSize: t.Size}
			open = append(open, target)
		}
		target.add(t)
	}
	closed = append(closed, open...)

	sort.SliceStable(closed, func(i, j int) bool { return closed[i].Start().Before(closed[j].Start()) })
	return closed
}

// Qualifies reports whether g is large enough and two-sided.
func (d WashTradingDetector) Qualifies(g *TradeGroup) bool {
	return len(g.Trades) >= d.th.WashMinGroupSize && g.OppositeSides()
}

// RegularityOf computes the inter-trade timing statistic for ascending
// timestamps. Simultaneous trades (zero average gap) score 1.
func (d WashTradingDetector) RegularityOf(ts []time.Time) Regularity {
	if len(ts) < 2 {
		return Regularity{}
	}
	diffs := make([]float64, len(ts)-1)
	var sum float64
	for i := 1; i < len(ts); i++ {
		diffs[i-1] = ts[i].Sub(ts[i-1]).Seconds()
		sum += diffs[i-1]
	}
	avg := sum / float64(len(diffs))
	if avg == 0 {
		return Regularity{Score: 1, Flagged: true}
	}

	var sq float64
	for _, v := range diffs {
		sq += (v - avg) * (v - avg)
	}
	std := math.Sqrt(sq / float64(len(diffs)))

	r := Regularity{AvgDiff: avg, StdDiff: std}
	if std < avg*d.th.WashRegularityThreshold {
		r.Flagged = true
		r.Score = clamp01(1 - std/(avg+regularityEpsilon))
	}
	return r
}

// Score evaluates every qualifying group in the window.
func (d WashTradingDetector) Score(trades []domain.ExecutedTrade) domain.PatternScore {
	out := domain.PatternScore{Kind: domain.KindWashTrading}
	if len(trades) < d.th.WashMinGroupSize {
		out.Evidence = domain.Evidence{
			Summary: fmt.Sprintf("%d trades in window, need %d", len(trades), d.th.WashMinGroupSize),
			NoData:  true,
		}
		return out
	}

	var (
		candidates int
		flagged    []float64
		best       Regularity
	)
	for _, g := range d.Group(trades) {
		if !d.Qualifies(g) {
			continue
		}
		candidates++
		ts := make([]time.Time, len(g.Trades))
		for i, t := range g.Trades {
			ts[i] = t.Timestamp
		}
		r := d.RegularityOf(ts)
		if !r.Flagged {
			continue
		}
		flagged = append(flagged, r.Score)
		if r.Score > best.Score {
			best = r
		}
	}

	out.Score = d.aggregate(flagged)
	out.Evidence = domain.Evidence{
		Summary: fmt.Sprintf("%d of %d candidate groups show regular timing", len(flagged), candidates),
		Counters: map[string]float64{
			"candidate_groups": float64(candidates),
			"flagged_groups":   float64(len(flagged)),
			"best_avg_diff_s":  best.AvgDiff,
			"best_std_diff_s":  best.StdDiff,
		},
	}
	return out
}

func (d WashTradingDetector) aggregate(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	switch d.th.WashAggregate {
	case AggregateTopN:
		n := d.th.WashTopN
		if n > len(scores) {
			n = len(scores)
		}
		var sum float64
		for _, s := range scores[:n] {
			sum += s
		}
		return clamp01(sum / float64(n))
	default:
		return clamp01(scores[0])
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
