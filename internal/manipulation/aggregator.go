package manipulation

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// detector groups pattern kinds by the detector that produced them; layering
// is a by-product of the spoofing detector and does not count as independent
// evidence.
type detector int

const (
	detectorSpoofing detector = iota
	detectorWashTrading
	detectorFakeLiquidity
)

func detectorOf(kind domain.ManipulationKind) detector {
	switch kind {
	case domain.KindSpoofing, domain.KindLayering:
		return detectorSpoofing
	case domain.KindWashTrading:
		return detectorWashTrading
	case domain.KindFakeLiquidity:
		return detectorFakeLiquidity
	default:
		panic(fmt.Sprintf("manipulation: unhandled kind %v", kind))
	}
}

// AggregateInput is everything one aggregation needs.
type AggregateInput struct {
	Symbol           string
	Timestamp        time.Time
	Samples          int
	InsufficientData bool
	Scores           []domain.PatternScore
}

// LikelihoodAggregator folds pattern scores into an Assessment.
type LikelihoodAggregator struct {
	th Thresholds
}

// NewLikelihoodAggregator returns an aggregator bound to th.
func NewLikelihoodAggregator(th Thresholds) LikelihoodAggregator {
	return LikelihoodAggregator{th: th}
}

// FiredDetectors counts independent detectors with a non-zero score.
func FiredDetectors(scores []domain.PatternScore) int {
	seen := make(map[detector]bool, 3)
	for _, s := range scores {
		if s.Fired() {
			seen[detectorOf(s.Kind)] = true
		}
	}
	return len(seen)
}

// Aggregate is a pure function of its input and the bound thresholds.
func (a LikelihoodAggregator) Aggregate(in AggregateInput) domain.Assessment {
	fired := FiredDetectors(in.Scores)
	corr := 1.0
	if fired >= 2 {
		corr = a.th.CorrelationFactor
	}

	var likelihood float64
	for _, s := range in.Scores {
		term := a.th.Weights.For(s.Kind) * clamp01(s.Score)
		if s.Fired() {
			term *= corr
		}
		likelihood += term
	}
	likelihood = clamp01(likelihood)

	cc := NewConfidenceCalculator(a.th)
	confidence := cc.Adjust(cc.Base(in.Samples), fired)

	patterns := make([]domain.PatternScore, len(in.Scores))
	copy(patterns, in.Scores)

	return domain.Assessment{
		Symbol:           in.Symbol,
		Timestamp:        in.Timestamp,
		Likelihood:       likelihood,
		Confidence:       confidence,
		Severity:         SeverityFor(likelihood, a.th.Severity),
		AlertEligible:    likelihood >= a.th.AlertThreshold,
		InsufficientData: in.InsufficientData,
		Samples:          in.Samples,
		DetectorsFired:   fired,
		ConfigVersion:    a.th.Version,
		Patterns:         patterns,
	}
}

// SeverityFor maps a likelihood onto the configured bands.
func SeverityFor(likelihood float64, bands SeverityBands) domain.Severity {
	switch {
	case likelihood <= 0:
		return domain.SeverityNone
	case likelihood < bands.Medium:
		return domain.SeverityLow
	case likelihood < bands.High:
		return domain.SeverityMedium
	case likelihood < bands.Critical:
		return domain.SeverityHigh
	default:
		return domain.SeverityCritical
	}
}
