package manipulation

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// Wash-trading group aggregation modes.
const (
	AggregateMax  = "max"
	AggregateTopN = "top_n"
)

// weightSumTolerance bounds float drift when checking that weights sum to 1.
const weightSumTolerance = 1e-6

// PatternWeights are the per-kind aggregation weights. They must sum to 1.
type PatternWeights struct {
	Spoofing      float64 `toml:"spoofing" json:"spoofing" validate:"gte=0,lte=1"`
	Layering      float64 `toml:"layering" json:"layering" validate:"gte=0,lte=1"`
	WashTrading   float64 `toml:"wash_trading" json:"wash_trading" validate:"gte=0,lte=1"`
	FakeLiquidity float64 `toml:"fake_liquidity" json:"fake_liquidity" validate:"gte=0,lte=1"`
}

// For returns the weight assigned to kind.
func (w PatternWeights) For(kind domain.ManipulationKind) float64 {
	switch kind {
	case domain.KindSpoofing:
		return w.Spoofing
	case domain.KindLayering:
		return w.Layering
	case domain.KindWashTrading:
		return w.WashTrading
	case domain.KindFakeLiquidity:
		return w.FakeLiquidity
	default:
		panic(fmt.Sprintf("manipulation: unhandled kind %v", kind))
	}
}

// Sum returns the total weight.
func (w PatternWeights) Sum() float64 {
	return w.Spoofing + w.Layering + w.WashTrading + w.FakeLiquidity
}

// SeverityBands are the lower likelihood bounds of the medium, high and
// critical severities. Anything above zero and below Medium is low.
type SeverityBands struct {
	Medium   float64 `toml:"medium" json:"medium" validate:"gt=0,lte=1"`
	High     float64 `toml:"high" json:"high" validate:"gt=0,lte=1"`
	Critical float64 `toml:"critical" json:"critical" validate:"gt=0,lte=1"`
}

// Thresholds is the complete tunable detection configuration. A value is
// read-only once published; the engine picks up a new one between cycles.
type Thresholds struct {
	// Version is assigned by the holder on every accepted swap.
	Version uint64 `toml:"-" json:"version"`

	LargeOrderNotional      float64 `toml:"large_order_notional_threshold" json:"large_order_notional_threshold" validate:"gt=0"`
	SpoofingDivisor         float64 `toml:"spoofing_divisor" json:"spoofing_divisor" validate:"gt=0"`
	SpoofingMaxContribution float64 `toml:"spoofing_max_contribution" json:"spoofing_max_contribution" validate:"gt=0,lte=1"`
	LayeringMinLevels       int     `toml:"layering_min_levels" json:"layering_min_levels" validate:"gte=2"`
	PhantomWindow           int     `toml:"phantom_window" json:"phantom_window" validate:"gte=2"`
	PriceTolerance          float64 `toml:"price_tolerance" json:"price_tolerance" validate:"gte=0,lt=1"`

	WashRegularityThreshold float64 `toml:"wash_trading_regularity_threshold" json:"wash_trading_regularity_threshold" validate:"gt=0,lte=1"`
	WashSizeTolerance       float64 `toml:"wash_size_tolerance" json:"wash_size_tolerance" validate:"gte=0,lte=1"`
	WashBucketSeconds       float64 `toml:"wash_bucket_seconds" json:"wash_bucket_seconds" validate:"gt=0"`
	WashMinGroupSize        int     `toml:"wash_min_group_size" json:"wash_min_group_size" validate:"gte=3"`
	WashAggregate           string  `toml:"wash_aggregate" json:"wash_aggregate" validate:"oneof=max top_n"`
	WashTopN                int     `toml:"wash_top_n" json:"wash_top_n" validate:"gte=1"`

	FakeLiquidityHigh      float64 `toml:"fake_liquidity_high_threshold" json:"fake_liquidity_high_threshold" validate:"gte=0,lte=1"`
	FakeLiquidityLow       float64 `toml:"fake_liquidity_low_threshold" json:"fake_liquidity_low_threshold" validate:"gte=0,lte=1"`
	FakeLiquidityHighScore float64 `toml:"fake_liquidity_high_score" json:"fake_liquidity_high_score" validate:"gte=0,lte=1"`
	FakeLiquidityLowScore  float64 `toml:"fake_liquidity_low_score" json:"fake_liquidity_low_score" validate:"gte=0,lte=1"`

	MinConfidenceSamples int     `toml:"min_confidence_samples" json:"min_confidence_samples" validate:"gte=0"`
	ConfidencePenalty    float64 `toml:"confidence_penalty_factor" json:"confidence_penalty_factor" validate:"gt=0,lte=1"`
	MinConfidence        float64 `toml:"min_confidence" json:"min_confidence" validate:"gt=0,lte=1"`
	SingleSignalFactor   float64 `toml:"single_signal_confidence_factor" json:"single_signal_confidence_factor" validate:"gt=0,lte=1"`

	CorrelationFactor float64        `toml:"correlation_factor" json:"correlation_factor" validate:"gte=1"`
	Weights           PatternWeights `toml:"pattern_weights" json:"pattern_weights"`
	Severity          SeverityBands  `toml:"severity_bands" json:"severity_bands"`
	AlertThreshold    float64        `toml:"alert_likelihood_threshold" json:"alert_likelihood_threshold" validate:"gte=0,lte=1"`

	SnapshotCapacity int `toml:"snapshot_history_capacity" json:"snapshot_history_capacity" validate:"gte=2"`
	TradeCapacity    int `toml:"trade_window_capacity" json:"trade_window_capacity" validate:"gte=3"`
}

// DefaultThresholds returns the baseline calibration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		LargeOrderNotional:      25_000,
		SpoofingDivisor:         3,
		SpoofingMaxContribution: 0.5,
		LayeringMinLevels:       3,
		PhantomWindow:           10,
		PriceTolerance:          0.0005,

		WashRegularityThreshold: 0.2,
		WashSizeTolerance:       0.1,
		WashBucketSeconds:       60,
		WashMinGroupSize:        3,
		WashAggregate:           AggregateMax,
		WashTopN:                3,

		FakeLiquidityHigh:      0.30,
		FakeLiquidityLow:       0.20,
		FakeLiquidityHighScore: 0.7,
		FakeLiquidityLowScore:  0.4,

		MinConfidenceSamples: 20,
		ConfidencePenalty:    0.7,
		MinConfidence:        0.05,
		SingleSignalFactor:   0.9,

		CorrelationFactor: 1.2,
		Weights: PatternWeights{
			Spoofing:      0.30,
			Layering:      0.25,
			WashTrading:   0.25,
			FakeLiquidity: 0.20,
		},
		Severity: SeverityBands{
			Medium:   0.25,
			High:     0.50,
			Critical: 0.75,
		},
		AlertThreshold: 0.50,

		SnapshotCapacity: 500,
		TradeCapacity:    500,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every range and cross-field rule and reports all problems
// at once wrapped in domain.ErrInvalidConfig. Values are never clamped.
func (t Thresholds) Validate() error {
	if errs := t.Problems(); len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// Problems lists every validation failure; it is empty for a usable value.
func (t Thresholds) Problems() []string {
	var errs []string

	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	if sum := t.Weights.Sum(); math.Abs(sum-1) > weightSumTolerance {
		errs = append(errs, fmt.Sprintf("pattern_weights must sum to 1.0, got %.6f", sum))
	}
	if t.FakeLiquidityLow > t.FakeLiquidityHigh {
		errs = append(errs, fmt.Sprintf("fake_liquidity_low_threshold %.4f exceeds high threshold %.4f",
			t.FakeLiquidityLow, t.FakeLiquidityHigh))
	}
	if t.FakeLiquidityLowScore > t.FakeLiquidityHighScore {
		errs = append(errs, "fake_liquidity_low_score exceeds fake_liquidity_high_score")
	}
	if !(t.Severity.Medium < t.Severity.High && t.Severity.High < t.Severity.Critical) {
		errs = append(errs, fmt.Sprintf("severity_bands must be strictly increasing, got %.2f/%.2f/%.2f",
			t.Severity.Medium, t.Severity.High, t.Severity.Critical))
	}
	return errs
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Thresholds.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s failed %s (got %v)", field, fe.Tag(), fe.Value())
}
