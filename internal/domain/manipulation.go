package domain

import (
	"fmt"
	"time"
)

// ManipulationKind is the closed set of patterns the detectors score.
type ManipulationKind int

const (
	KindSpoofing ManipulationKind = iota
	KindLayering
	KindWashTrading
	KindFakeLiquidity
)

// AllKinds lists every ManipulationKind in report order.
var AllKinds = [...]ManipulationKind{KindSpoofing, KindLayering, KindWashTrading, KindFakeLiquidity}

func (k ManipulationKind) String() string {
	switch k {
	case KindSpoofing:
		return "spoofing"
	case KindLayering:
		return "layering"
	case KindWashTrading:
		return "wash_trading"
	case KindFakeLiquidity:
		return "fake_liquidity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ManipulationKind) MarshalText() ([]byte, error) {
	switch k {
	case KindSpoofing, KindLayering, KindWashTrading, KindFakeLiquidity:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("%w: unknown manipulation kind %d", ErrInvalidInput, int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ManipulationKind) UnmarshalText(b []byte) error {
	kind, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseKind maps a wire name back to its kind.
func ParseKind(s string) (ManipulationKind, error) {
	for _, k := range AllKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown manipulation kind %q", ErrInvalidInput, s)
}

// PhantomOrder is a book level that vanished (or shrank) between two
// snapshots without executed trades explaining the reduction.
type PhantomOrder struct {
	Symbol     string    `json:"symbol"`
	Side       BookSide  `json:"side"`
	Price      float64   `json:"price"`
	Size       float64   `json:"size"`
	Notional   float64   `json:"notional"`
	Depth      int       `json:"depth"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	VanishedAt time.Time `json:"vanished_at"`
	Large      bool      `json:"large"`
}

// Evidence summarises what a detector saw.
type Evidence struct {
	Summary  string             `json:"summary"`
	NoData   bool               `json:"no_data,omitempty"`
	Counters map[string]float64 `json:"counters,omitempty"`
}

// PatternScore is one detector's verdict for an evaluation cycle.
type PatternScore struct {
	Kind     ManipulationKind `json:"kind"`
	Score    float64          `json:"score"`
	Evidence Evidence         `json:"evidence"`
}

// Fired reports whether the detector produced a non-zero score.
func (p PatternScore) Fired() bool {
	return p.Score > 0
}

// Severity buckets an overall likelihood.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Assessment is the per-cycle manipulation verdict for a symbol.
type Assessment struct {
	ID               string         `json:"id,omitempty"`
	Symbol           string         `json:"symbol"`
	Timestamp        time.Time      `json:"timestamp"`
	Likelihood       float64        `json:"overall_likelihood"`
	Confidence       float64        `json:"confidence"`
	Severity         Severity       `json:"severity"`
	AlertEligible    bool           `json:"alert_eligible"`
	InsufficientData bool           `json:"insufficient_data"`
	Samples          int            `json:"samples"`
	DetectorsFired   int            `json:"detectors_fired"`
	ConfigVersion    uint64         `json:"config_version"`
	Patterns         []PatternScore `json:"pattern_scores"`
}

// Warmup returns an error wrapping ErrInsufficientData while the assessment
// was scored on too little history, and nil otherwise. The assessment is
// still valid; its confidence carries the penalty.
func (a Assessment) Warmup() error {
	if !a.InsufficientData {
		return nil
	}
	return fmt.Errorf("%w: %s scored on %d samples", ErrInsufficientData, a.Symbol, a.Samples)
}

// Pattern returns the score for kind, if present.
func (a Assessment) Pattern(kind ManipulationKind) (PatternScore, bool) {
	for _, p := range a.Patterns {
		if p.Kind == kind {
			return p, true
		}
	}
	return PatternScore{}, false
}
