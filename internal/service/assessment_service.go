package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/metrics"
)

// AssessmentConfig controls where assessments are delivered.
type AssessmentConfig struct {
	QueueSize          int
	PersistAll         bool
	PublishChannel     string
	Stream             string
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// AssessmentService receives every assessment from the engine, keeps the
// last-known one per symbol in memory and fans it out to the cache, the bus
// and the store on a single worker goroutine. Any sink may be nil.
type AssessmentService struct {
	cache   domain.AssessmentCache
	bus     domain.SignalBus
	store   domain.AssessmentStore
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	cfg     AssessmentConfig
	logger  *slog.Logger

	queue chan domain.Assessment

	mu        sync.RWMutex
	latest    map[string]domain.Assessment
	listeners []func(domain.Assessment)

	dropLog rate.Sometimes
}

// NewAssessmentService creates an AssessmentService.
func NewAssessmentService(
	cache domain.AssessmentCache,
	bus domain.SignalBus,
	store domain.AssessmentStore,
	m *metrics.Metrics,
	cfg AssessmentConfig,
	logger *slog.Logger,
) *AssessmentService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	log := logger.With(slog.String("component", "assessment_service"))

	st := gobreaker.Settings{Name: "assessment_store", Timeout: cfg.BreakerTimeout}
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
	}
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn("circuit breaker state change",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	return &AssessmentService{
		cache:   cache,
		bus:     bus,
		store:   store,
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: m,
		cfg:     cfg,
		logger:  log,
		queue:   make(chan domain.Assessment, cfg.QueueSize),
		latest:  make(map[string]domain.Assessment),
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// OnAssessment records a as the symbol's last-known state and queues it for
// delivery. It never blocks: when the queue is full the delivery is dropped
// and counted, but the in-memory state is still updated.
func (s *AssessmentService) OnAssessment(_ context.Context, a domain.Assessment) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	s.mu.Lock()
	s.latest[a.Symbol] = a
	s.mu.Unlock()

	select {
	case s.queue <- a:
	default:
		s.metrics.EmitterDropped.Inc()
		s.dropLog.Do(func() {
			s.logger.Warn("assessment queue full, delivery dropped",
				slog.String("symbol", a.Symbol),
				slog.Int("queue_size", s.cfg.QueueSize),
			)
		})
	}
}

// OnDeliver registers fn to receive every delivered assessment. It runs on
// the worker goroutine.
func (s *AssessmentService) OnDeliver(fn func(domain.Assessment)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Run delivers queued assessments until ctx is cancelled, then flushes what
// is left with a short grace period.
func (s *AssessmentService) Run(ctx context.Context) error {
	s.logger.Info("assessment service started")
	for {
		select {
		case a := <-s.queue:
			s.deliver(ctx, a)
		case <-ctx.Done():
			s.flush(ctx)
			s.logger.Info("assessment service stopped")
			return nil
		}
	}
}

func (s *AssessmentService) flush(ctx context.Context) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for {
		select {
		case a := <-s.queue:
			s.deliver(fctx, a)
		default:
			return
		}
	}
}

func (s *AssessmentService) deliver(ctx context.Context, a domain.Assessment) {
	if s.cache != nil {
		if err := s.cache.SetLatest(ctx, a); err != nil {
			s.sinkError(ctx, "cache", a, err)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(a)
		if err != nil {
			s.sinkError(ctx, "encode", a, err)
		} else {
			if s.cfg.PublishChannel != "" {
				if err := s.bus.Publish(ctx, s.cfg.PublishChannel, payload); err != nil {
					s.sinkError(ctx, "publish", a, err)
				}
			}
			if s.cfg.Stream != "" {
				if err := s.bus.StreamAppend(ctx, s.cfg.Stream, payload); err != nil {
					s.sinkError(ctx, "stream", a, err)
				}
			}
		}
	}

	if s.store != nil && (a.AlertEligible || s.cfg.PersistAll) {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.store.Insert(ctx, a)
		})
		if err != nil {
			s.sinkError(ctx, "store", a, err)
		}
	}

	s.mu.RLock()
	ls := s.listeners
	s.mu.RUnlock()
	for _, fn := range ls {
		fn(a)
	}
}

func (s *AssessmentService) sinkError(ctx context.Context, sink string, a domain.Assessment, err error) {
	s.metrics.SinkErrors.WithLabelValues(sink).Inc()
	s.logger.WarnContext(ctx, "assessment delivery failed",
		slog.String("sink", sink),
		slog.String("symbol", a.Symbol),
		slog.String("assessment_id", a.ID),
		slog.String("error", err.Error()),
	)
}

// Latest returns the last-known assessment for symbol, from memory first and
// then from the cache. It returns domain.ErrNotFound when neither has one.
func (s *AssessmentService) Latest(ctx context.Context, symbol string) (domain.Assessment, error) {
	s.mu.RLock()
	a, ok := s.latest[symbol]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}
	if s.cache == nil {
		return domain.Assessment{}, fmt.Errorf("assessment %s: %w", symbol, domain.ErrNotFound)
	}
	a, err := s.cache.GetLatest(ctx, symbol)
	if err != nil {
		return domain.Assessment{}, fmt.Errorf("assessment %s: %w", symbol, err)
	}
	return a, nil
}

// LatestAll returns the last-known assessment of every symbol seen by this
// process, ordered by symbol.
func (s *AssessmentService) LatestAll() []domain.Assessment {
	s.mu.RLock()
	out := make([]domain.Assessment, 0, len(s.latest))
	for _, a := range s.latest {
		out = append(out, a)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols merges the symbols known in memory with those in the cache.
func (s *AssessmentService) Symbols(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	s.mu.RLock()
	for sym := range s.latest {
		seen[sym] = struct{}{}
	}
	s.mu.RUnlock()

	if s.cache != nil {
		cached, err := s.cache.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("assessment symbols: %w", err)
		}
		for _, sym := range cached {
			seen[sym] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// History lists persisted assessments for symbol, newest first.
func (s *AssessmentService) History(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.Assessment, error) {
	if s.store == nil {
		return nil, fmt.Errorf("assessment history: %w: no store configured", domain.ErrNotFound)
	}
	out, err := s.store.ListBySymbol(ctx, symbol, opts)
	if err != nil {
		return nil, fmt.Errorf("assessment history %s: %w", symbol, err)
	}
	return out, nil
}
