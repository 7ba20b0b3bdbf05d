package manipulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// alternating builds two-sided trades of equal size at the given offsets.
func alternating(offsets ...time.Duration) []domain.ExecutedTrade {
	out := make([]domain.ExecutedTrade, len(offsets))
	for i, off := range offsets {
		side := domain.TradeSideBuy
		if i%2 == 1 {
			side = domain.TradeSideSell
		}
		out[i] = trade(at(off), 2000, 1.5, side)
	}
	return out
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestWashTrading_RegularTimingIsFlagged(t *testing.T) {
	th := DefaultThresholds()
	th.WashRegularityThreshold = 0.35

	// inter-arrival 1.00s, 1.01s, 0.99s, 1.00s
	trades := alternating(0, ms(1000), ms(2010), ms(3000), ms(4000))

	score := NewWashTradingDetector(th).Score(trades)

	assert.Equal(t, domain.KindWashTrading, score.Kind)
	assert.InDelta(t, 1.0, score.Score, 0.01)
	assert.Equal(t, 1.0, score.Evidence.Counters["flagged_groups"])
}

func TestWashTrading_SimultaneousTradesScoreOne(t *testing.T) {
	d := NewWashTradingDetector(DefaultThresholds())

	r := d.RegularityOf([]time.Time{at(0), at(0), at(0)})
	assert.True(t, r.Flagged)
	assert.Equal(t, 1.0, r.Score)

	score := d.Score(alternating(0, 0, 0))
	assert.Equal(t, 1.0, score.Score)
}

func TestWashTrading_Cases(t *testing.T) {
	tests := []struct {
		name   string
		trades []domain.ExecutedTrade
		want   float64
	}{
		{
			name:   "irregular timing",
			trades: alternating(0, ms(1000), ms(6000), ms(6500), ms(16500)),
			want:   0,
		},
		{
			name: "one-sided flow does not qualify",
			trades: []domain.ExecutedTrade{
				trade(at(0), 2000, 1, domain.TradeSideBuy),
				trade(at(ms(1000)), 2000, 1, domain.TradeSideBuy),
				trade(at(ms(2000)), 2000, 1, domain.TradeSideBuy),
			},
			want: 0,
		},
		{
			name: "incomparable sizes do not group",
			trades: []domain.ExecutedTrade{
				trade(at(0), 2000, 1, domain.TradeSideBuy),
				trade(at(ms(1000)), 2000, 5, domain.TradeSideSell),
				trade(at(ms(2000)), 2000, 20, domain.TradeSideBuy),
			},
			want: 0,
		},
		{
			name:   "trades spread beyond the bucket do not group",
			trades: alternating(0, 50*time.Second, 100*time.Second),
			want:   0,
		},
		{
			name:   "too few trades",
			trades: alternating(0, ms(1000)),
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewWashTradingDetector(DefaultThresholds()).Score(tt.trades)
			assert.Equal(t, tt.want, got.Score)
		})
	}
}

func TestWashTrading_GroupingInterleavedSizes(t *testing.T) {
	trades := []domain.ExecutedTrade{
		trade(at(0), 2000, 1, domain.TradeSideBuy),
		trade(at(ms(100)), 2000, 7, domain.TradeSideSell),
		trade(at(ms(1000)), 2000, 1.05, domain.TradeSideSell),
		trade(at(ms(1100)), 2000, 7, domain.TradeSideBuy),
		trade(at(ms(2000)), 2000, 0.95, domain.TradeSideBuy),
	}

	groups := NewWashTradingDetector(DefaultThresholds()).Group(trades)

	require.Len(t, groups, 2)
	assert.Len(t, groups[0].Trades, 3)
	assert.True(t, groups[0].OppositeSides())
	assert.Len(t, groups[1].Trades, 2)
}

func TestWashTrading_TopNAggregate(t *testing.T) {
	th := DefaultThresholds()
	th.WashAggregate = AggregateTopN
	th.WashTopN = 2
	th.WashRegularityThreshold = 0.35

	perfect := alternating(0, ms(1000), ms(2000))
	// slightly jittered group of a different size, 20s later
	jittered := []domain.ExecutedTrade{
		trade(at(20*time.Second), 2000, 9, domain.TradeSideBuy),
		trade(at(20*time.Second+ms(1000)), 2000, 9, domain.TradeSideSell),
		trade(at(20*time.Second+ms(2200)), 2000, 9, domain.TradeSideBuy),
	}
	d := NewWashTradingDetector(th)
	r := d.RegularityOf([]time.Time{jittered[0].Timestamp, jittered[1].Timestamp, jittered[2].Timestamp})
	require.True(t, r.Flagged)

	got := d.Score(append(perfect, jittered...))
	assert.InDelta(t, (1.0+r.Score)/2, got.Score, 1e-9)

	th.WashAggregate = AggregateMax
	got = NewWashTradingDetector(th).Score(append(alternating(0, ms(1000), ms(2000)), jittered...))
	assert.InDelta(t, 1.0, got.Score, 1e-9)
}
