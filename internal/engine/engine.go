// Package engine routes normalized market data to one actor per symbol.
// Each actor owns that symbol's histories, evaluates the detectors once per
// drained batch and hands the result to an Emitter.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// ErrClosed is returned by ingestion after Close.
var ErrClosed = errors.New("engine: closed")

// Emitter receives every assessment the engine produces, whether or not it
// is alert-eligible. Implementations must not block for long: they run on
// the symbol's actor goroutine.
type Emitter interface {
	OnAssessment(ctx context.Context, a domain.Assessment)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, a domain.Assessment)

// OnAssessment calls f.
func (f EmitterFunc) OnAssessment(ctx context.Context, a domain.Assessment) { f(ctx, a) }

// ThresholdSource yields the detection thresholds in effect. It is read
// once per evaluation cycle.
type ThresholdSource interface {
	Current() manipulation.Thresholds
}

// Options sizes the actors.
type Options struct {
	QueueSize int
	MaxBatch  int
}

// Engine owns the symbol to actor map. The mutex guards only the map; each
// actor's state is touched by its own goroutine.
type Engine struct {
	thresholds ThresholdSource
	emitter    Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	opts       Options

	life   context.Context
	cancel context.CancelFunc
	quit   chan struct{}
	group  errgroup.Group

	mu      sync.Mutex
	actors  map[string]*actor
	closed  bool
	sending sync.WaitGroup // enqueues past the closed check

	invalidLog rate.Sometimes
}

// New creates an Engine. Actors are started lazily on the first event for
// a symbol and stop on Close.
func New(thresholds ThresholdSource, emitter Emitter, m *metrics.Metrics, opts Options, logger *slog.Logger) *Engine {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = 256
	}
	life, cancel := context.WithCancel(context.Background())
	return &Engine{
		thresholds: thresholds,
		emitter:    emitter,
		metrics:    m,
		logger:     logger.With(slog.String("component", "engine")),
		opts:       opts,
		life:       life,
		cancel:     cancel,
		quit:       make(chan struct{}),
		actors:     make(map[string]*actor),
		invalidLog: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// Run blocks until ctx is cancelled, then closes the engine and waits for
// every actor to finish its queued events.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		slog.Int("queue_size", e.opts.QueueSize),
		slog.Int("max_batch", e.opts.MaxBatch),
	)
	<-ctx.Done()
	err := e.Close()
	e.logger.Info("engine stopped")
	return err
}

// Close stops accepting events, lets every actor evaluate what is already
// queued and waits for them to exit. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	first := !e.closed
	e.closed = true
	e.mu.Unlock()

	if first {
		e.sending.Wait()
		close(e.quit)
	}
	err := e.group.Wait()
	e.cancel()
	return err
}

// IngestSnapshot validates snap and queues it for its symbol. It blocks
// while the symbol's queue is full until ctx is done.
func (e *Engine) IngestSnapshot(ctx context.Context, snap domain.OrderBookSnapshot) error {
	if err := snap.Validate(); err != nil {
		e.rejectInvalid(domain.EventBook, err)
		return fmt.Errorf("engine: ingest snapshot: %w", err)
	}
	snap.Bids = cloneLevels(snap.Bids)
	snap.Asks = cloneLevels(snap.Asks)
	return e.enqueue(ctx, snap.Symbol, event{book: &snap})
}

// IngestTrade validates trade and queues it for its symbol.
func (e *Engine) IngestTrade(ctx context.Context, trade domain.ExecutedTrade) error {
	if err := trade.Validate(); err != nil {
		e.rejectInvalid(domain.EventTrade, err)
		return fmt.Errorf("engine: ingest trade: %w", err)
	}
	return e.enqueue(ctx, trade.Symbol, event{trade: &trade})
}

// Ingest dispatches a decoded envelope.
func (e *Engine) Ingest(ctx context.Context, ev domain.MarketEvent) error {
	switch ev.Type {
	case domain.EventBook:
		if ev.Book == nil {
			return fmt.Errorf("engine: ingest: %w: book event without book", domain.ErrInvalidInput)
		}
		return e.IngestSnapshot(ctx, *ev.Book)
	case domain.EventTrade:
		if ev.Trade == nil {
			return fmt.Errorf("engine: ingest: %w: trade event without trade", domain.ErrInvalidInput)
		}
		return e.IngestTrade(ctx, *ev.Trade)
	default:
		return fmt.Errorf("engine: ingest: %w: unknown event type %q", domain.ErrInvalidInput, ev.Type)
	}
}

// Last returns the most recent assessment emitted for symbol.
func (e *Engine) Last(symbol string) (domain.Assessment, bool) {
	e.mu.Lock()
	a, ok := e.actors[symbol]
	e.mu.Unlock()
	if !ok {
		return domain.Assessment{}, false
	}
	as := a.last.Load()
	if as == nil {
		return domain.Assessment{}, false
	}
	return *as, true
}

// Symbols lists every symbol with a running actor, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	out := make([]string, 0, len(e.actors))
	for s := range e.actors {
		out = append(out, s)
	}
	e.mu.Unlock()
	sort.Strings(out)
	return out
}

func (e *Engine) enqueue(ctx context.Context, symbol string, ev event) error {
	a, err := e.actorFor(symbol)
	if err != nil {
		return err
	}
	defer e.sending.Done()
	select {
	case a.inbox <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine: enqueue %s: %w", symbol, ctx.Err())
	}
}

// actorFor returns the symbol's actor, starting it if needed, and registers
// the caller as an in-flight sender that must call e.sending.Done.
func (e *Engine) actorFor(symbol string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	e.sending.Add(1)
	if a, ok := e.actors[symbol]; ok {
		return a, nil
	}

	th := e.thresholds.Current()
	a := newActor(symbol, th, e.opts.QueueSize)
	e.actors[symbol] = a
	e.metrics.ActiveSymbols.Inc()
	e.group.Go(func() error {
		e.runActor(a)
		return nil
	})
	e.logger.Debug("actor started", slog.String("symbol", symbol))
	return a, nil
}

func (e *Engine) rejectInvalid(typ domain.EventType, err error) {
	e.metrics.EventsRejected.WithLabelValues(string(typ), "invalid").Inc()
	e.invalidLog.Do(func() {
		e.logger.Warn("invalid event rejected",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	})
}

func cloneLevels(in []domain.PriceLevel) []domain.PriceLevel {
	if in == nil {
		return nil
	}
	out := make([]domain.PriceLevel, len(in))
	copy(out, in)
	return out
}
