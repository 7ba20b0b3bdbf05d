package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/config"
	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

var t0 = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

func book(sym string, sec int, bidSize float64) domain.OrderBookSnapshot {
	return domain.OrderBookSnapshot{
		Symbol:    sym,
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
		Bids:      []domain.PriceLevel{{Price: 100, Size: bidSize}},
		Asks:      []domain.PriceLevel{{Price: 101, Size: 5}},
	}
}

func trade(sym string, sec int) domain.ExecutedTrade {
	return domain.ExecutedTrade{
		Symbol:    sym,
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
		Price:     100,
		Size:      1,
		Side:      domain.TradeSideSell,
	}
}

// recorder collects assessments; when gate is set, the first call blocks
// until it is closed.
type recorder struct {
	mu      sync.Mutex
	got     []domain.Assessment
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newRecorder() *recorder {
	return &recorder{entered: make(chan struct{}, 64)}
}

func (r *recorder) OnAssessment(_ context.Context, a domain.Assessment) {
	r.mu.Lock()
	r.got = append(r.got, a)
	r.mu.Unlock()
	r.entered <- struct{}{}
	if r.gate != nil {
		r.once.Do(func() { <-r.gate })
	}
}

func (r *recorder) all() []domain.Assessment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Assessment(nil), r.got...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for assessment")
	}
}

func newTestEngine(t *testing.T, em Emitter, opts Options) (*Engine, *metrics.Metrics, *config.DetectionHolder) {
	t.Helper()
	holder, err := config.NewDetectionHolder(manipulation.DefaultThresholds())
	require.NoError(t, err)
	m := metrics.New()
	e := New(holder, em, m, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return e, m, holder
}

func TestEngine_EmitsPerSymbol(t *testing.T) {
	rec := newRecorder()
	e, m, _ := newTestEngine(t, rec, Options{})
	ctx := context.Background()

	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 0, 10)))
	rec.wait(t)
	require.NoError(t, e.IngestSnapshot(ctx, book("ETH-USD", 0, 10)))
	rec.wait(t)
	require.NoError(t, e.Close())

	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, e.Symbols())
	last, ok := e.Last("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", last.Symbol)
	assert.Equal(t, uint64(1), last.ConfigVersion)
	assert.True(t, last.InsufficientData)
	assert.ErrorIs(t, last.Warmup(), domain.ErrInsufficientData)
	assert.Len(t, last.Patterns, 4)

	_, ok = e.Last("SOL-USD")
	assert.False(t, ok)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSymbols))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("book")))
}

func TestEngine_RejectsInvalidEvents(t *testing.T) {
	rec := newRecorder()
	e, m, _ := newTestEngine(t, rec, Options{})
	ctx := context.Background()

	bad := book("BTC-USD", 0, 10)
	bad.Bids[0].Size = -1
	err := e.IngestSnapshot(ctx, bad)
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	unordered := book("BTC-USD", 0, 10)
	unordered.Bids = []domain.PriceLevel{{Price: 97, Size: 1}, {Price: 99, Size: 300}, {Price: 99, Size: 300}}
	require.ErrorIs(t, e.IngestSnapshot(ctx, unordered), domain.ErrInvalidInput)

	tr := trade("BTC-USD", 0)
	tr.Side = "hold"
	require.ErrorIs(t, e.IngestTrade(ctx, tr), domain.ErrInvalidInput)

	require.ErrorIs(t, e.Ingest(ctx, domain.MarketEvent{Type: "quote"}), domain.ErrInvalidInput)

	require.NoError(t, e.Close())
	assert.Empty(t, rec.all())
	assert.Empty(t, e.Symbols())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("book", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("trade", "invalid")))
}

func TestEngine_OutOfOrderBatchEmitsNothing(t *testing.T) {
	rec := newRecorder()
	e, m, _ := newTestEngine(t, rec, Options{})
	ctx := context.Background()

	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 10, 10)))
	rec.wait(t)
	require.NoError(t, e.IngestTrade(ctx, trade("BTC-USD", 10)))
	rec.wait(t)
	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 5, 10)))
	require.NoError(t, e.IngestTrade(ctx, trade("BTC-USD", 3)))
	require.NoError(t, e.Close())

	assert.Len(t, rec.all(), 2)
	last, ok := e.Last("BTC-USD")
	require.True(t, ok)
	assert.Equal(t, t0.Add(10*time.Second), last.Timestamp)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("book", "out_of_order")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("trade", "out_of_order")))
}

func TestEngine_CoalescesBackToBackSnapshots(t *testing.T) {
	rec := newRecorder()
	rec.gate = make(chan struct{})
	e, m, _ := newTestEngine(t, rec, Options{})
	ctx := context.Background()

	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 0, 10)))
	rec.wait(t) // actor is now parked inside the emitter

	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 1, 9)))
	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 2, 8)))
	require.NoError(t, e.IngestTrade(ctx, trade("BTC-USD", 2)))
	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 3, 7)))
	close(rec.gate)

	rec.wait(t)
	require.NoError(t, e.Close())

	got := rec.all()
	require.Len(t, got, 2, "one evaluation per drained batch")
	assert.Equal(t, 3, got[1].Samples)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsCoalesced))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsIngested.WithLabelValues("trade")))
}

func TestEngine_BackpressureHonoursContext(t *testing.T) {
	rec := newRecorder()
	rec.gate = make(chan struct{})
	e, _, _ := newTestEngine(t, rec, Options{QueueSize: 1})

	require.NoError(t, e.IngestSnapshot(context.Background(), book("BTC-USD", 0, 10)))
	rec.wait(t)
	require.NoError(t, e.IngestSnapshot(context.Background(), book("BTC-USD", 1, 10)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := e.IngestSnapshot(ctx, book("BTC-USD", 2, 10))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(rec.gate)
	require.NoError(t, e.Close())
	assert.Len(t, rec.all(), 2)
}

func TestEngine_PanicIsolatedToSymbol(t *testing.T) {
	var mu sync.Mutex
	var good []domain.Assessment
	em := EmitterFunc(func(_ context.Context, a domain.Assessment) {
		if a.Symbol == "BAD" {
			panic("boom")
		}
		mu.Lock()
		good = append(good, a)
		mu.Unlock()
	})
	e, m, _ := newTestEngine(t, em, Options{})
	ctx := context.Background()

	require.NoError(t, e.IngestSnapshot(ctx, book("BAD", 0, 10)))
	require.NoError(t, e.IngestSnapshot(ctx, book("GOOD", 0, 10)))
	require.Eventually(t, func() bool { return testutil.ToFloat64(m.EvalPanics) == 1 }, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, e.IngestTrade(ctx, trade("BAD", 1)))
	require.NoError(t, e.IngestTrade(ctx, trade("GOOD", 1)))
	require.NoError(t, e.Close())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EvalPanics), "BAD actor survives its own panic")
	mu.Lock()
	assert.Len(t, good, 2)
	mu.Unlock()
}

func TestEngine_PicksUpThresholdSwaps(t *testing.T) {
	rec := newRecorder()
	e, _, holder := newTestEngine(t, rec, Options{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", i, 10)))
		rec.wait(t)
	}
	last, _ := e.Last("BTC-USD")
	assert.Equal(t, 4, last.Samples)
	assert.Equal(t, uint64(1), last.ConfigVersion)

	next := holder.Current()
	next.SnapshotCapacity = 2
	_, err := holder.Update(next)
	require.NoError(t, err)

	require.NoError(t, e.IngestSnapshot(ctx, book("BTC-USD", 5, 10)))
	rec.wait(t)
	require.NoError(t, e.Close())

	last, _ = e.Last("BTC-USD")
	assert.Equal(t, 2, last.Samples, "history resized to the new capacity")
	assert.Equal(t, uint64(2), last.ConfigVersion)
}

func TestEngine_ClosedRejectsIngest(t *testing.T) {
	e, _, _ := newTestEngine(t, newRecorder(), Options{})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.IngestSnapshot(context.Background(), book("BTC-USD", 0, 10)), ErrClosed)
}

func TestEngine_CloseKeepsEveryAcceptedEvent(t *testing.T) {
	e, m, _ := newTestEngine(t, EmitterFunc(func(context.Context, domain.Assessment) {}), Options{QueueSize: 4, MaxBatch: 2})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := e.IngestTrade(context.Background(), trade("BTC-USD", 0)); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, e.Close())
	wg.Wait()

	assert.Positive(t, accepted)
	assert.Equal(t, float64(accepted), testutil.ToFloat64(m.EventsIngested.WithLabelValues("trade")))
}

func TestEngine_RunClosesOnCancel(t *testing.T) {
	rec := newRecorder()
	e, _, _ := newTestEngine(t, rec, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.IngestSnapshot(context.Background(), book("BTC-USD", 0, 10)))
	rec.wait(t)
	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, e.IngestTrade(context.Background(), trade("BTC-USD", 1)), ErrClosed)
}

func TestCheckAssessment(t *testing.T) {
	ok := domain.Assessment{Likelihood: 0.4, Confidence: 1, Patterns: []domain.PatternScore{{Score: 0.2}}}
	assert.NoError(t, checkAssessment(ok))

	bad := ok
	bad.Patterns = []domain.PatternScore{{Kind: domain.KindWashTrading, Score: 1.5}}
	assert.Error(t, checkAssessment(bad))

	nan := ok
	nan.Confidence = math.NaN()
	assert.Error(t, checkAssessment(nan))
}
