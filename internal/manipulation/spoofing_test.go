package manipulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

// fourVanishingLevels builds five snapshots in which one large bid level
// disappears per interval.
func fourVanishingLevels() []domain.OrderBookSnapshot {
	levels := []domain.PriceLevel{lv(100, 300), lv(99, 300), lv(98, 300), lv(97, 300), lv(96, 1)}
	asks := []domain.PriceLevel{lv(101, 1)}
	snaps := []domain.OrderBookSnapshot{book(at(0), levels, asks)}
	for i, p := range []float64{100, 99, 98, 97} {
		levels = without(levels, p)
		snaps = append(snaps, book(at(time.Duration(i+1)*time.Second), levels, asks))
	}
	return snaps
}

func TestSpoofing_FourLargePhantomsCapAtK(t *testing.T) {
	th := DefaultThresholds()
	th.SpoofingDivisor = 3

	rep := NewPhantomTracker(th).Track(fourVanishingLevels(), nil)
	require.Equal(t, 4, rep.LargeCount())

	spoof, layer := NewSpoofingDetector(th).Score(rep)
	assert.Equal(t, domain.KindSpoofing, spoof.Kind)
	assert.InDelta(t, 0.5, spoof.Score, 1e-12)
	assert.Equal(t, 0.0, layer.Score, "one level per interval is not layering")
}

func TestSpoofing_ScoreCurve(t *testing.T) {
	th := DefaultThresholds()
	d := NewSpoofingDetector(th)

	tests := []struct {
		large int
		want  float64
	}{
		{0, 0},
		{1, 0.5 / 3},
		{2, 1.0 / 3},
		{3, 0.5},
		{10, 0.5},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, d.SpoofingScore(tt.large), 1e-12, "large=%d", tt.large)
	}
}

func TestSpoofing_MonotonicInLargeCount(t *testing.T) {
	for _, divisor := range []float64{1, 3, 5, 7.5} {
		th := DefaultThresholds()
		th.SpoofingDivisor = divisor
		d := NewSpoofingDetector(th)
		prev := d.SpoofingScore(0)
		for n := 1; n <= 20; n++ {
			cur := d.SpoofingScore(n)
			assert.GreaterOrEqual(t, cur, prev, "divisor=%v n=%d", divisor, n)
			prev = cur
		}
	}
}

func TestSpoofing_NoSnapshotsIsZeroNotError(t *testing.T) {
	spoof, layer := NewSpoofingDetector(DefaultThresholds()).Score(PhantomReport{})
	assert.Equal(t, 0.0, spoof.Score)
	assert.True(t, spoof.Evidence.NoData)
	assert.Equal(t, 0.0, layer.Score)
	assert.True(t, layer.Evidence.NoData)
}

func TestLayering_AdjacentLevelsInOneInterval(t *testing.T) {
	th := DefaultThresholds()
	asks := []domain.PriceLevel{lv(101, 300), lv(102, 300), lv(103, 300), lv(104, 300), lv(110, 1)}

	tests := []struct {
		name   string
		remove []float64
		want   float64
	}{
		{"two adjacent is below minimum", []float64{101, 102}, 0},
		{"three adjacent", []float64{101, 102, 103}, 0.5},
		{"four adjacent", []float64{101, 102, 103, 104}, 4.0 / 6.0},
		{"gap breaks the run", []float64{101, 102, 104}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps := []domain.OrderBookSnapshot{
				book(at(0), nil, asks),
				book(at(time.Second), nil, without(asks, tt.remove...)),
			}
			rep := NewPhantomTracker(th).Track(snaps, nil)
			_, layer := NewSpoofingDetector(th).Score(rep)
			assert.Equal(t, domain.KindLayering, layer.Kind)
			assert.InDelta(t, tt.want, layer.Score, 1e-12)
		})
	}
}
