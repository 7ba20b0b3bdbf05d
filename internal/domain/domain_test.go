package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderBookSnapshot_Validate(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lv := func(price, size float64) PriceLevel { return PriceLevel{Price: price, Size: size} }

	tests := []struct {
		name    string
		bids    []PriceLevel
		asks    []PriceLevel
		wantErr string
	}{
		{name: "well formed", bids: []PriceLevel{lv(100, 1), lv(99, 2)}, asks: []PriceLevel{lv(101, 1), lv(102, 2)}},
		{name: "one sided", bids: []PriceLevel{lv(100, 1)}},
		{name: "empty book"},
		{name: "zero size", bids: []PriceLevel{lv(100, 0)}, wantErr: "size"},
		{name: "negative price", asks: []PriceLevel{lv(-1, 1)}, wantErr: "price"},
		{name: "bids ascending", bids: []PriceLevel{lv(97, 1), lv(99, 1)}, wantErr: "out of order"},
		{name: "asks descending", asks: []PriceLevel{lv(102, 1), lv(101, 1)}, wantErr: "out of order"},
		{name: "duplicate bid price", bids: []PriceLevel{lv(99, 300), lv(99, 300)}, wantErr: "out of order"},
		{name: "duplicate ask price", asks: []PriceLevel{lv(101, 1), lv(101, 2)}, wantErr: "out of order"},
		{name: "crossed book", bids: []PriceLevel{lv(100, 1)}, asks: []PriceLevel{lv(98, 1)}, wantErr: "crossed"},
		{name: "locked book", bids: []PriceLevel{lv(100, 1)}, asks: []PriceLevel{lv(100, 1)}, wantErr: "crossed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := OrderBookSnapshot{Symbol: "BTC-USD", Timestamp: ts, Bids: tt.bids, Asks: tt.asks}.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOrderBookSnapshot_ValidateIdentity(t *testing.T) {
	assert.ErrorIs(t, OrderBookSnapshot{Timestamp: time.Now()}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, OrderBookSnapshot{Symbol: "BTC-USD"}.Validate(), ErrInvalidInput)
}

func TestExecutedTrade_Validate(t *testing.T) {
	ok := ExecutedTrade{Symbol: "BTC-USD", Timestamp: time.Now(), Price: 100, Size: 1, Side: TradeSideBuy}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Side = "hold"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)

	bad = ok
	bad.Size = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidInput)
}

func TestAssessment_Warmup(t *testing.T) {
	assert.NoError(t, Assessment{Symbol: "BTC-USD", Samples: 40}.Warmup())

	err := Assessment{Symbol: "BTC-USD", Samples: 3, InsufficientData: true}.Warmup()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Contains(t, err.Error(), "3 samples")
}
