package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// GroupStream is a Redis Stream consumer-group client.
type GroupStream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	GroupRead(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]domain.StreamMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

// StreamConfig names the stream position this consumer owns.
type StreamConfig struct {
	Stream         string
	Group          string
	Consumer       string
	BatchSize      int
	Block          time.Duration
	ReconnectDelay time.Duration
}

// StreamFeed reads a stream through a consumer group, so events survive a
// restart. Every entry is acknowledged once handled, including entries that
// fail to decode.
type StreamFeed struct {
	client   GroupStream
	cfg      StreamConfig
	dispatch *dispatcher
	logger   *slog.Logger
}

// NewStreamFeed creates a StreamFeed. m may be nil.
func NewStreamFeed(client GroupStream, cfg StreamConfig, sink Sink, m *metrics.Metrics, logger *slog.Logger) *StreamFeed {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	log := logger.With(
		slog.String("component", "stream_feed"),
		slog.String("stream", cfg.Stream),
		slog.String("group", cfg.Group),
	)
	return &StreamFeed{
		client:   client,
		cfg:      cfg,
		dispatch: newDispatcher(sink, m, log),
		logger:   log,
	}
}

// Run consumes until ctx is cancelled.
func (f *StreamFeed) Run(ctx context.Context) error {
	if err := f.client.EnsureGroup(ctx, f.cfg.Stream, f.cfg.Group); err != nil {
		return err
	}
	f.logger.Info("feed started", slog.String("consumer", f.cfg.Consumer))
	defer f.logger.Info("feed stopped")

	for ctx.Err() == nil {
		msgs, err := f.client.GroupRead(ctx, f.cfg.Stream, f.cfg.Group, f.cfg.Consumer, f.cfg.BatchSize, f.cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("stream read failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("delay", f.cfg.ReconnectDelay),
			)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(f.cfg.ReconnectDelay):
			}
			continue
		}

		ids := make([]string, 0, len(msgs))
		for _, m := range msgs {
			if _, err := f.dispatch.handle(ctx, m.Payload); err != nil {
				break
			}
			ids = append(ids, m.ID)
		}
		if len(ids) > 0 {
			if err := f.client.Ack(context.WithoutCancel(ctx), f.cfg.Stream, f.cfg.Group, ids...); err != nil {
				f.logger.Warn("stream ack failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}
