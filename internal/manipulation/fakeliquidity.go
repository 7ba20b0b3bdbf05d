package manipulation

import (
	"fmt"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// FakeLiquidityDetector scores the share of observed levels that vanished
// without execution. The score is a two-tier step, not a continuous curve.
type FakeLiquidityDetector struct {
	th Thresholds
}

// NewFakeLiquidityDetector returns a detector bound to th.
func NewFakeLiquidityDetector(th Thresholds) FakeLiquidityDetector {
	return FakeLiquidityDetector{th: th}
}

// Tier maps a phantom ratio to its step score. Both comparisons are strict.
func (d FakeLiquidityDetector) Tier(ratio float64) float64 {
	switch {
	case ratio > d.th.FakeLiquidityHigh:
		return d.th.FakeLiquidityHighScore
	case ratio > d.th.FakeLiquidityLow:
		return d.th.FakeLiquidityLowScore
	default:
		return 0
	}
}

// Score abstains when no levels were observed.
func (d FakeLiquidityDetector) Score(counts LevelCounts) domain.PatternScore {
	out := domain.PatternScore{Kind: domain.KindFakeLiquidity}
	total := counts.Total()
	if total == 0 {
		out.Evidence = domain.Evidence{Summary: "no levels observed", NoData: true}
		return out
	}

	ratio := float64(counts.Phantom) / float64(total)
	out.Score = d.Tier(ratio)
	out.Evidence = domain.Evidence{
		Summary: fmt.Sprintf("phantom ratio %.4f (%d/%d)", ratio, counts.Phantom, total),
		Counters: map[string]float64{
			"phantom_ratio": ratio,
			"phantom":       float64(counts.Phantom),
			"present":       float64(counts.Present),
			"executed":      float64(counts.Executed),
		},
	}
	return out
}
