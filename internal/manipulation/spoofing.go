package manipulation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// SpoofingDetector scores the concentration of large phantom orders and the
// layering sub-pattern.
type SpoofingDetector struct {
	th Thresholds
}

// NewSpoofingDetector returns a detector bound to th.
func NewSpoofingDetector(th Thresholds) SpoofingDetector {
	return SpoofingDetector{th: th}
}

// SpoofingScore is min(k * large/divisor, k).
func (d SpoofingDetector) SpoofingScore(largeCount int) float64 {
	if largeCount <= 0 {
		return 0
	}
	k := d.th.SpoofingMaxContribution
	return math.Min(k*float64(largeCount)/d.th.SpoofingDivisor, k)
}

// Score returns the spoofing and layering pattern scores for a phantom report.
func (d SpoofingDetector) Score(rep PhantomReport) (spoofing, layering domain.PatternScore) {
	spoofing = domain.PatternScore{Kind: domain.KindSpoofing}
	layering = domain.PatternScore{Kind: domain.KindLayering}

	if rep.Intervals == 0 {
		spoofing.Evidence = domain.Evidence{Summary: "no snapshot intervals to diff", NoData: true}
		layering.Evidence = domain.Evidence{Summary: "no snapshot intervals to diff", NoData: true}
		return spoofing, layering
	}

	large := rep.LargeCount()
	spoofing.Score = d.SpoofingScore(large)
	spoofing.Evidence = domain.Evidence{
		Summary: fmt.Sprintf("%d large phantom orders (of %d) across %d intervals", large, len(rep.Phantoms), rep.Intervals),
		Counters: map[string]float64{
			"large_phantoms": float64(large),
			"phantoms":       float64(len(rep.Phantoms)),
			"intervals":      float64(rep.Intervals),
		},
	}

	run, side := longestLayeringRun(rep.Phantoms)
	layering.Evidence = domain.Evidence{
		Summary:  fmt.Sprintf("longest run of adjacent large phantoms: %d", run),
		Counters: map[string]float64{"run": float64(run), "min_levels": float64(d.th.LayeringMinLevels)},
	}
	if run >= d.th.LayeringMinLevels {
		layering.Score = math.Min(1, float64(run)/float64(2*d.th.LayeringMinLevels))
		layering.Evidence.Summary = fmt.Sprintf("%d adjacent large phantoms on %s side", run, side)
	}
	return spoofing, layering
}

type intervalSide struct {
	vanishedAt time.Time
	side       domain.BookSide
}

// longestLayeringRun finds the longest run of consecutive book depths holding
// large phantoms that vanished in the same interval on the same side.
func longestLayeringRun(phantoms []domain.PhantomOrder) (int, domain.BookSide) {
	depths := make(map[intervalSide][]int)
	for _, p := range phantoms {
		if !p.Large {
			continue
		}
		k := intervalSide{p.VanishedAt, p.Side}
		depths[k] = append(depths[k], p.Depth)
	}

	best, bestSide := 0, domain.BookSide("")
	for k, ds := range depths {
		sort.Ints(ds)
		run := 1
		for i := range ds {
			if i > 0 && ds[i] == ds[i-1]+1 {
				run++
			} else if i > 0 {
				run = 1
			}
			if run > best || (run == best && k.side < bestSide) {
				best, bestSide = run, k.side
			}
		}
	}
	return best, bestSide
}
