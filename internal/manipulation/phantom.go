package manipulation

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// sizeEpsilon absorbs float noise when comparing level sizes.
const sizeEpsilon = 1e-9

var bookSides = [...]domain.BookSide{domain.BookSideBid, domain.BookSideAsk}

// LevelCounts tallies how every level of every older snapshot in a window
// resolved in the following snapshot.
type LevelCounts struct {
	Phantom  int `json:"phantom"`
	Present  int `json:"present"`
	Executed int `json:"executed"`
}

// Total returns the number of observed levels.
func (c LevelCounts) Total() int {
	return c.Phantom + c.Present + c.Executed
}

// PhantomReport is the result of diffing a snapshot window.
type PhantomReport struct {
	Phantoms  []domain.PhantomOrder
	Counts    LevelCounts
	Intervals int
}

// LargeCount returns the number of phantoms tagged large.
func (r PhantomReport) LargeCount() int {
	n := 0
	for _, p := range r.Phantoms {
		if p.Large {
			n++
		}
	}
	return n
}

// PhantomTracker diffs consecutive snapshots and reports levels whose
// reduction is not explained by executed trades.
type PhantomTracker struct {
	th Thresholds
}

// NewPhantomTracker returns a tracker bound to th.
func NewPhantomTracker(th Thresholds) PhantomTracker {
	return PhantomTracker{th: th}
}

type levelKey struct {
	side  domain.BookSide
	price float64
}

// Track walks every consecutive pair in snaps (ascending by time). trades
// must be ascending by time as well; only trades inside each pair's interval
// (older.ts, newer.ts] can explain that pair's reductions.
//
// A level that vanishes, reappears and vanishes again is reported twice.
func (pt PhantomTracker) Track(snaps []domain.OrderBookSnapshot, trades []domain.ExecutedTrade) PhantomReport {
	var rep PhantomReport
	if len(snaps) < 2 {
		return rep
	}

	presentSince := make(map[levelKey]time.Time)
	for _, side := range bookSides {
		for _, lvl := range snaps[0].Levels(side) {
			presentSince[levelKey{side, lvl.Price}] = snaps[0].Timestamp
		}
	}

	for i := 1; i < len(snaps); i++ {
		older, newer := snaps[i-1], snaps[i]
		interval := tradesBetween(trades, older.Timestamp, newer.Timestamp)
		rep.Intervals++

		for _, side := range bookSides {
			remaining := sizesByPrice(newer.Levels(side))
			levels := older.Levels(side)
			reductions := make([]float64, len(levels))
			for j, lvl := range levels {
				reductions[j] = lvl.Size - remaining[lvl.Price]
			}
			explained := pt.allocate(interval, side, levels, reductions)

			for depth, lvl := range levels {
				reduction := reductions[depth]
				if reduction <= sizeEpsilon {
					rep.Counts.Present++
					continue
				}
				executed := explained[depth]
				if executed+sizeEpsilon >= reduction {
					rep.Counts.Executed++
					continue
				}

				size := reduction - executed
				notional := lvl.Price * size
				key := levelKey{side, lvl.Price}
				firstSeen, ok := presentSince[key]
				if !ok {
					firstSeen = older.Timestamp
				}
				rep.Phantoms = append(rep.Phantoms, domain.PhantomOrder{
					Symbol:     older.Symbol,
					Side:       side,
					Price:      lvl.Price,
					Size:       size,
					Notional:   notional,
					Depth:      depth,
					FirstSeen:  firstSeen,
					LastSeen:   older.Timestamp,
					VanishedAt: newer.Timestamp,
					Large:      notional > pt.th.LargeOrderNotional,
				})
				rep.Counts.Phantom++
			}

			for _, lvl := range older.Levels(side) {
				if _, ok := remaining[lvl.Price]; !ok {
					delete(presentSince, levelKey{side, lvl.Price})
				}
			}
			for _, lvl := range newer.Levels(side) {
				key := levelKey{side, lvl.Price}
				if _, ok := presentSince[key]; !ok {
					presentSince[key] = newer.Timestamp
				}
			}
		}
	}
	return rep
}

// allocate spreads the size of each trade in the interval over the reduced
// levels it could have consumed, nearest price first, and returns the size
// explained per level. A trade's size is spent once, so the explained total
// never exceeds what was executed on that side.
func (pt PhantomTracker) allocate(trades []domain.ExecutedTrade, side domain.BookSide, levels []domain.PriceLevel, reductions []float64) []float64 {
	explained := make([]float64, len(levels))
	for _, t := range trades {
		if t.Side.BookSide() != side {
			continue
		}
		left := t.Size
		for left > sizeEpsilon {
			best := -1
			bestDist := math.Inf(1)
			for j, lvl := range levels {
				if reductions[j]-explained[j] <= sizeEpsilon {
					continue
				}
				dist := math.Abs(t.Price - lvl.Price)
				if dist > pt.th.PriceTolerance*lvl.Price {
					continue
				}
				if dist < bestDist {
					best, bestDist = j, dist
				}
			}
			if best < 0 {
				break
			}
			take := math.Min(left, reductions[best]-explained[best])
			explained[best] += take
			left -= take
		}
	}
	return explained
}

// tradesBetween returns the sub-slice of ascending trades in (from, to].
func tradesBetween(trades []domain.ExecutedTrade, from, to time.Time) []domain.ExecutedTrade {
	lo := sort.Search(len(trades), func(i int) bool { return trades[i].Timestamp.After(from) })
	hi := sort.Search(len(trades), func(i int) bool { return trades[i].Timestamp.After(to) })
	if lo >= hi {
		return nil
	}
	return trades[lo:hi]
}

func sizesByPrice(levels []domain.PriceLevel) map[float64]float64 {
	m := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		m[lvl.Price] += lvl.Size
	}
	return m
}
