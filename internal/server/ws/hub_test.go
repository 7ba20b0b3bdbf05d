package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// chanBus is an in-memory SignalBus that exposes one subscription channel.
type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }


func startHub(t *testing.T, bus domain.SignalBus, cfg Config) (*Hub, string) {
	t.Helper()
	hub := NewHub(bus, discardLogger(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &env))
	return env.Type, env.Payload
}

func TestHub_StreamsAssessments(t *testing.T) {
	hub, url := startHub(t, nil, Config{
		Status: func() map[string]any { return map[string]any{"detection_version": 3} },
	})
	conn := dial(t, url)

	typ, payload := readEnvelope(t, conn)
	require.Equal(t, "status", typ)
	assert.Contains(t, string(payload), `"detection_version":3`)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Send(domain.Assessment{Symbol: "BTC-USD", Likelihood: 0.7, Severity: domain.SeverityHigh})

	typ, payload = readEnvelope(t, conn)
	require.Equal(t, "assessment", typ)
	var a domain.Assessment
	require.NoError(t, json.Unmarshal(payload, &a))
	assert.Equal(t, "BTC-USD", a.Symbol)
	assert.Equal(t, domain.SeverityHigh, a.Severity)
}

func TestHub_FiltersBySymbol(t *testing.T) {
	hub, url := startHub(t, nil, Config{})
	conn := dial(t, url+"?symbols=ETH-USD")

	typ, _ := readEnvelope(t, conn)
	require.Equal(t, "status", typ)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Send(domain.Assessment{Symbol: "BTC-USD"})
	hub.Send(domain.Assessment{Symbol: "ETH-USD"})

	typ, payload := readEnvelope(t, conn)
	require.Equal(t, "assessment", typ)
	assert.Contains(t, string(payload), `"symbol":"ETH-USD"`)
}

func TestHub_ForwardsBusMessages(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 1)}
	hub, url := startHub(t, bus, Config{Channel: "assessments"})
	conn := dial(t, url)
	readEnvelope(t, conn)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	bus.ch <- []byte(`{"symbol":"SOL-USD","overall_likelihood":0.2,"severity":"low"}`)

	typ, payload := readEnvelope(t, conn)
	require.Equal(t, "assessment", typ)
	assert.Contains(t, string(payload), `"symbol":"SOL-USD"`)
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{subs: initialSubs("")}
	assert.True(t, c.isSubscribed("ANY"))

	c = &client{subs: initialSubs("BTC-*, ETH-USD")}
	assert.True(t, c.isSubscribed("BTC-USD"))
	assert.True(t, c.isSubscribed("ETH-USD"))
	assert.False(t, c.isSubscribed("ETH-EUR"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Symbols: []string{"ETH-EUR"}})
	assert.True(t, c.isSubscribed("ETH-EUR"))
	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Symbols: []string{"BTC-*"}})
	assert.False(t, c.isSubscribed("BTC-USD"))
}
