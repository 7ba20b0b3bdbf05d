package manipulation

import "math"

// ConfidenceCalculator discounts assessments built on thin history.
type ConfidenceCalculator struct {
	th Thresholds
}

// NewConfidenceCalculator returns a calculator bound to th.
func NewConfidenceCalculator(th Thresholds) ConfidenceCalculator {
	return ConfidenceCalculator{th: th}
}

// Base returns 1.0, multiplied by the penalty factor while samples are below
// the minimum, bounded to [MinConfidence, 1].
func (c ConfidenceCalculator) Base(samples int) float64 {
	conf := 1.0
	if samples < c.th.MinConfidenceSamples {
		conf *= c.th.ConfidencePenalty
	}
	return c.bound(conf)
}

// Adjust applies the single-signal discount when exactly one independent
// detector fired.
func (c ConfidenceCalculator) Adjust(base float64, detectorsFired int) float64 {
	if detectorsFired == 1 {
		base *= c.th.SingleSignalFactor
	}
	return c.bound(base)
}

func (c ConfidenceCalculator) bound(v float64) float64 {
	return math.Max(c.th.MinConfidence, math.Min(1, v))
}
