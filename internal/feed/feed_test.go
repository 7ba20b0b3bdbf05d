package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

const (
	bookLine  = `{"type":"book","book":{"symbol":"BTC-USD","timestamp":"2026-03-02T14:00:00Z","bids":[{"price":100,"size":2}],"asks":[{"price":101,"size":3}]}}`
	tradeLine = `{"type":"trade","trade":{"symbol":"BTC-USD","timestamp":"2026-03-02T14:00:01Z","price":100,"size":1,"side":"sell"}}`
	badSide   = `{"type":"trade","trade":{"symbol":"BTC-USD","timestamp":"2026-03-02T14:00:02Z","price":100,"size":1,"side":"hold"}}`
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recordingSink struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (s *recordingSink) Ingest(_ context.Context, ev domain.MarketEvent) error {
	if ev.Trade != nil && !ev.Trade.Side.Valid() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestReplayFeed_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	body := strings.Join([]string{bookLine, "", tradeLine, badSide, "not json"}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	sink := &recordingSink{}
	f, err := NewReplayFeed(path, nil, sink, discard())
	require.NoError(t, err)

	stats, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 4, Ingested: 2, Rejected: 2}, stats)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventBook, sink.events[0].Type)
	assert.Equal(t, 2.0, sink.events[0].Book.Bids[0].Size)
	assert.Equal(t, domain.TradeSideSell, sink.events[1].Trade.Side)
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := m[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, body := range m {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m memBlobs) Exists(_ context.Context, p string) (bool, error) {
	_, ok := m[p]
	return ok, nil
}

func TestReplayFeed_S3Source(t *testing.T) {
	blobs := memBlobs{"recordings/btc.jsonl": bookLine + "\n" + tradeLine + "\n"}
	sink := &recordingSink{}

	f, err := NewReplayFeed("s3://recordings/btc.jsonl", blobs, sink, discard())
	require.NoError(t, err)
	stats, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Ingested)

	missing, err := NewReplayFeed("s3://nope.jsonl", blobs, sink, discard())
	require.NoError(t, err)
	_, err = missing.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = NewReplayFeed("s3://x.jsonl", nil, sink, discard())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = NewReplayFeed("s3://", blobs, sink, discard())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestReplayFeed_S3Prefix(t *testing.T) {
	blobs := memBlobs{
		"recordings/2026-03-02/b.jsonl": tradeLine + "\n",
		"recordings/2026-03-02/a.jsonl": bookLine + "\n",
		"recordings/2026-03-02/notes.txt": "ignored",
		"recordings/2026-03-03/c.jsonl": tradeLine + "\n",
	}
	sink := &recordingSink{}

	f, err := NewReplayFeed("s3://recordings/2026-03-02/", blobs, sink, discard())
	require.NoError(t, err)
	stats, err := f.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Lines: 2, Ingested: 2}, stats)
	require.Len(t, sink.events, 2)
	assert.Equal(t, domain.EventBook, sink.events[0].Type, "objects replay in key order")
	assert.Equal(t, domain.EventTrade, sink.events[1].Type)

	empty, err := NewReplayFeed("s3://recordings/2026-04-01/", blobs, sink, discard())
	require.NoError(t, err)
	_, err = empty.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// chanBus hands out pre-built subscription channels in order.
type chanBus struct {
	mu   sync.Mutex
	subs []chan []byte
	n    int
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n >= len(b.subs) {
		return nil, errors.New("no more subscriptions")
	}
	ch := b.subs[b.n]
	b.n++
	return ch, nil
}

func (b *chanBus) Publish(context.Context, string, []byte) error      { return nil }
func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func TestPubSubFeed_ForwardsAndReconnects(t *testing.T) {
	first := make(chan []byte, 4)
	second := make(chan []byte, 4)
	bus := &chanBus{subs: []chan []byte{first, second}}
	sink := &recordingSink{}
	m := metrics.New()

	f := NewPubSubFeed(bus, "md:events", 10*time.Millisecond, sink, m, discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	first <- []byte(bookLine)
	first <- []byte("{broken")
	close(first)
	second <- []byte(tradeLine)

	require.Eventually(t, func() bool { return sink.count() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsRejected.WithLabelValues("unknown", "decode")))
}

type fakeGroup struct {
	mu      sync.Mutex
	batches [][]domain.StreamMessage
	acked   []string
	group   string
}

func (g *fakeGroup) EnsureGroup(_ context.Context, _, group string) error {
	g.group = group
	return nil
}

func (g *fakeGroup) GroupRead(ctx context.Context, _, _, _ string, _ int, block time.Duration) ([]domain.StreamMessage, error) {
	g.mu.Lock()
	if len(g.batches) > 0 {
		b := g.batches[0]
		g.batches = g.batches[1:]
		g.mu.Unlock()
		return b, nil
	}
	g.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(block):
		return nil, nil
	}
}

func (g *fakeGroup) Ack(_ context.Context, _, _ string, ids ...string) error {
	g.mu.Lock()
	g.acked = append(g.acked, ids...)
	g.mu.Unlock()
	return nil
}

func (g *fakeGroup) ackedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.acked...)
}

func TestStreamFeed_AcksEverything(t *testing.T) {
	g := &fakeGroup{batches: [][]domain.StreamMessage{
		{{ID: "1-0", Payload: []byte(bookLine)}, {ID: "2-0", Payload: []byte("garbage")}},
		{{ID: "3-0", Payload: []byte(tradeLine)}},
	}}
	sink := &recordingSink{}
	f := NewStreamFeed(g, StreamConfig{Stream: "stream:md:events", Group: "marketguard", Consumer: "c1", Block: 10 * time.Millisecond}, sink, nil, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	require.Eventually(t, func() bool { return len(g.ackedIDs()) == 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "marketguard", g.group)
	assert.Equal(t, []string{"1-0", "2-0", "3-0"}, g.ackedIDs())
	assert.Equal(t, 2, sink.count())
}
