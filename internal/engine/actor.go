package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/history"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
)

// event carries exactly one of book or trade.
type event struct {
	book  *domain.OrderBookSnapshot
	trade *domain.ExecutedTrade
}

func (ev event) kind() domain.EventType {
	if ev.book != nil {
		return domain.EventBook
	}
	return domain.EventTrade
}

type actor struct {
	symbol string
	inbox  chan event
	snaps  *history.SnapshotHistory
	trades *history.TradeWindow
	last   atomic.Pointer[domain.Assessment]

	orderLog  rate.Sometimes
	warmupLog rate.Sometimes
}

func newActor(symbol string, th manipulation.Thresholds, queueSize int) *actor {
	return &actor{
		symbol:    symbol,
		inbox:     make(chan event, queueSize),
		snaps:     history.NewSnapshotHistory(th.SnapshotCapacity),
		trades:    history.NewTradeWindow(th.TradeCapacity),
		orderLog:  rate.Sometimes{First: 3, Interval: 30 * time.Second},
		warmupLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

// drain appends whatever is already queued, up to limit events in total.
func (a *actor) drain(batch []event, limit int) []event {
	for len(batch) < limit {
		select {
		case ev := <-a.inbox:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (e *Engine) runActor(a *actor) {
	batch := make([]event, 0, e.opts.MaxBatch)
	for {
		select {
		case ev := <-a.inbox:
			batch = a.drain(append(batch[:0], ev), e.opts.MaxBatch)
			e.process(a, batch)
		case <-e.quit:
			for {
				batch = a.drain(batch[:0], e.opts.MaxBatch)
				if len(batch) == 0 {
					return
				}
				e.process(a, batch)
			}
		}
	}
}

// process applies one batch to the histories and, when anything was
// accepted, runs one evaluation cycle. A panic aborts only this cycle.
func (e *Engine) process(a *actor, batch []event) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.EvalPanics.Inc()
			e.logger.Error("evaluation panic recovered",
				slog.String("symbol", a.symbol),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	th := e.thresholds.Current()
	if a.snaps.Cap() != th.SnapshotCapacity {
		a.snaps.Resize(th.SnapshotCapacity)
	}
	if a.trades.Cap() != th.TradeCapacity {
		a.trades.Resize(th.TradeCapacity)
	}

	if a.apply(e, batch) == 0 {
		return
	}

	start := time.Now()
	as := manipulation.Evaluate(manipulation.Input{
		Symbol:    a.symbol,
		Samples:   a.snaps.Len(),
		Snapshots: a.snaps.Recent(th.PhantomWindow),
		Trades:    a.trades.Items(),
	}, th)
	e.metrics.EvalDuration.Observe(time.Since(start).Seconds())

	if err := checkAssessment(as); err != nil {
		e.metrics.EvalDiscarded.Inc()
		e.logger.Error("assessment discarded",
			slog.String("symbol", a.symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := as.Warmup(); err != nil {
		a.warmupLog.Do(func() {
			e.logger.Debug("scoring with penalized confidence",
				slog.String("symbol", a.symbol),
				slog.Int("min_samples", th.MinConfidenceSamples),
				slog.String("error", err.Error()),
			)
		})
	}
	a.last.Store(&as)
	e.metrics.Assessments.WithLabelValues(string(as.Severity)).Inc()
	e.metrics.Likelihood.WithLabelValues(a.symbol).Set(as.Likelihood)
	if as.AlertEligible {
		e.logger.Info("manipulation alert",
			slog.String("symbol", a.symbol),
			slog.Float64("likelihood", as.Likelihood),
			slog.Float64("confidence", as.Confidence),
			slog.String("severity", string(as.Severity)),
		)
	}
	e.emitter.OnAssessment(e.life, as)
}

// apply pushes the batch into the histories and returns how many events
// were accepted. A snapshot directly followed by a newer snapshot is
// superseded and skipped; trades are always applied.
func (a *actor) apply(e *Engine, batch []event) int {
	accepted := 0
	for i, ev := range batch {
		if ev.book != nil && i+1 < len(batch) {
			if next := batch[i+1].book; next != nil && !next.Timestamp.Before(ev.book.Timestamp) {
				e.metrics.EventsCoalesced.Inc()
				continue
			}
		}

		var err error
		if ev.book != nil {
			err = a.snaps.Push(*ev.book)
		} else {
			err = a.trades.Push(*ev.trade)
		}
		typ := string(ev.kind())
		if err != nil {
			reason := "invalid"
			if errors.Is(err, domain.ErrOutOfOrder) {
				reason = "out_of_order"
			}
			e.metrics.EventsRejected.WithLabelValues(typ, reason).Inc()
			a.orderLog.Do(func() {
				e.logger.Warn("event rejected",
					slog.String("symbol", a.symbol),
					slog.String("type", typ),
					slog.String("error", err.Error()),
				)
			})
			continue
		}
		e.metrics.EventsIngested.WithLabelValues(typ).Inc()
		accepted++
	}
	return accepted
}

// checkAssessment refuses to publish non-finite or out-of-range values.
func checkAssessment(a domain.Assessment) error {
	if !unit(a.Likelihood) {
		return fmt.Errorf("engine: likelihood %v out of range", a.Likelihood)
	}
	if !unit(a.Confidence) {
		return fmt.Errorf("engine: confidence %v out of range", a.Confidence)
	}
	for _, p := range a.Patterns {
		if !unit(p.Score) {
			return fmt.Errorf("engine: %s score %v out of range", p.Kind, p.Score)
		}
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
