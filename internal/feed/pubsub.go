package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// PubSubFeed subscribes to a Pub/Sub channel and forwards every message in
// arrival order. A dropped subscription is re-established after a delay.
type PubSubFeed struct {
	bus            domain.SignalBus
	channel        string
	reconnectDelay time.Duration
	dispatch       *dispatcher
	logger         *slog.Logger
}

// NewPubSubFeed creates a PubSubFeed. m may be nil.
func NewPubSubFeed(bus domain.SignalBus, channel string, reconnectDelay time.Duration, sink Sink, m *metrics.Metrics, logger *slog.Logger) *PubSubFeed {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	log := logger.With(slog.String("component", "pubsub_feed"), slog.String("channel", channel))
	return &PubSubFeed{
		bus:            bus,
		channel:        channel,
		reconnectDelay: reconnectDelay,
		dispatch:       newDispatcher(sink, m, log),
		logger:         log,
	}
}

// Run consumes until ctx is cancelled.
func (f *PubSubFeed) Run(ctx context.Context) error {
	f.logger.Info("feed started")
	defer f.logger.Info("feed stopped")

	for {
		ch, err := f.bus.Subscribe(ctx, f.channel)
		if err != nil {
			f.logger.Warn("subscribe failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("delay", f.reconnectDelay),
			)
		} else if err := f.consume(ctx, ch); err != nil {
			return nil
		}

		if ctx.Err() != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectDelay):
		}
	}
}

// consume drains ch until it closes. It returns an error once ctx is done.
func (f *PubSubFeed) consume(ctx context.Context, ch <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					f.logger.Warn("subscription closed, reconnecting")
				}
				return ctx.Err()
			}
			if _, err := f.dispatch.handle(ctx, raw); err != nil {
				return err
			}
		}
	}
}
