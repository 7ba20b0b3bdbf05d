// Package feed delivers normalized market-data events to the engine from
// Redis Pub/Sub, a Redis Stream consumer group, or a recorded JSONL file.
package feed

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// Sink accepts decoded events. The engine implements it.
type Sink interface {
	Ingest(ctx context.Context, ev domain.MarketEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev domain.MarketEvent) error

// Ingest calls f.
func (f SinkFunc) Ingest(ctx context.Context, ev domain.MarketEvent) error { return f(ctx, ev) }

// dispatcher decodes raw payloads and forwards them, counting and
// throttling the log for anything that fails.
type dispatcher struct {
	sink    Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
	warn    rate.Sometimes
}

func newDispatcher(sink Sink, m *metrics.Metrics, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		sink:    sink,
		metrics: m,
		logger:  logger,
		warn:    rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// handle returns a non-nil error only when ctx ended while ingesting.
func (d *dispatcher) handle(ctx context.Context, raw []byte) (bool, error) {
	ev, err := domain.DecodeMarketEvent(raw)
	if err != nil {
		if d.metrics != nil {
			d.metrics.EventsRejected.WithLabelValues("unknown", "decode").Inc()
		}
		d.warn.Do(func() {
			d.logger.Warn("undecodable event dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(raw)),
			)
		})
		return false, nil
	}

	if err := d.sink.Ingest(ctx, ev); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.warn.Do(func() {
			d.logger.Warn("event rejected",
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		})
		return false, nil
	}
	return true, nil
}
