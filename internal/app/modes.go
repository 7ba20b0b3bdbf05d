package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketguard/internal/config"
	"github.com/alanyoungcy/marketguard/internal/domain"
	"github.com/alanyoungcy/marketguard/internal/engine"
	"github.com/alanyoungcy/marketguard/internal/feed"
	"github.com/alanyoungcy/marketguard/internal/manipulation"
	"github.com/alanyoungcy/marketguard/internal/metrics"
	"github.com/alanyoungcy/marketguard/internal/pipeline"
	"github.com/alanyoungcy/marketguard/internal/server"
	"github.com/alanyoungcy/marketguard/internal/server/handler"
	"github.com/alanyoungcy/marketguard/internal/server/ws"
	"github.com/alanyoungcy/marketguard/internal/service"
)

// Serve runs the live detection service: a feed drives the engine, the
// assessment service fans verdicts out, and the API, config watcher and
// archiver run alongside until ctx is cancelled.
func (a *App) Serve(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg
	logger := a.logger.With(slog.String("mode", "serve"))
	m := metrics.New()

	holder, err := config.NewDetectionHolder(cfg.Detection)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	m.ConfigVersion.Set(float64(holder.Version()))
	holder.OnChange(func(th manipulation.Thresholds) {
		m.ConfigVersion.Set(float64(th.Version))
	})

	svc := service.NewAssessmentService(
		deps.AssessmentCache,
		deps.SignalBus,
		deps.AssessmentStore,
		m,
		service.AssessmentConfig{
			QueueSize:          cfg.Emitter.QueueSize,
			PersistAll:         cfg.Emitter.PersistAll,
			PublishChannel:     cfg.Emitter.PublishChannel,
			Stream:             cfg.Emitter.Stream,
			BreakerMaxFailures: uint32(cfg.Emitter.BreakerMaxFailures),
			BreakerTimeout:     cfg.Emitter.BreakerTimeout.Duration,
		},
		a.logger,
	)

	eng := engine.New(holder, svc, m, engine.Options{
		QueueSize: cfg.Engine.QueueSize,
		MaxBatch:  cfg.Engine.MaxBatch,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)

	// The service outlives the feed context so it can deliver what the
	// engine flushes on shutdown.
	svcCtx, stopSvc := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSvc()
	g.Go(func() error {
		return svc.Run(svcCtx)
	})
	g.Go(func() error {
		defer stopSvc()
		return eng.Run(ctx)
	})

	if src := a.newFeed(deps, eng, m); src != nil {
		g.Go(func() error {
			return src.Run(ctx)
		})
	} else {
		logger.Warn("no market-data feed configured", slog.String("source", cfg.Feed.Source))
	}

	if cfg.Reload.Enabled && a.configPath != "" {
		watcher := config.NewWatcher(a.configPath, holder, a.level, cfg.Reload.Debounce.Duration, a.logger)
		watcher.OnReload(a.reloadRecorder(deps.AuditStore, m))
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}

	if cfg.Archive.Enabled {
		if deps.Archiver == nil {
			logger.Warn("archive enabled but s3 or postgres is unavailable, archiver not started")
		} else {
			archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, cfg.Archive.RetentionDays, a.logger)
			g.Go(func() error {
				return archiver.RunCron(ctx, cfg.Archive.Cron)
			})
		}
	}

	if cfg.Server.Enabled {
		// With a bus the hub follows the published channel so every replica
		// streams every verdict; without one it is fed in-process.
		var hubBus domain.SignalBus
		if deps.SignalBus != nil && cfg.Emitter.PublishChannel != "" {
			hubBus = deps.SignalBus
		}
		hub := ws.NewHub(hubBus, a.logger, ws.Config{
			Channel: cfg.Emitter.PublishChannel,
			Status: func() map[string]any {
				return map[string]any{
					"detection_version": holder.Version(),
					"active_symbols":    len(eng.Symbols()),
				}
			},
			CheckOrigin: originChecker(cfg.Server.CORSOrigins),
		})
		if hubBus == nil {
			svc.OnDeliver(hub.Send)
		}

		handlers := server.Handlers{
			Health:      handler.NewHealthHandler(deps.Health, a.logger),
			Assessments: handler.NewAssessmentHandler(svc, a.logger),
			Detection:   handler.NewDetectionHandler(holder, deps.AuditStore, m, a.logger),
		}
		if deps.AuditStore != nil {
			handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
		}
		srv := server.NewServer(server.Config{
			Port:        cfg.Server.Port,
			CORSOrigins: cfg.Server.CORSOrigins,
			APIKey:      cfg.Server.APIKey,
			RateLimit:   cfg.Server.RateLimit,
			RateBurst:   cfg.Server.RateBurst,
		}, handlers, hub, m, a.logger)

		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	logger.Info("serve mode running",
		slog.String("feed", cfg.Feed.Source),
		slog.Bool("server", cfg.Server.Enabled),
		slog.Bool("archive", deps.Archiver != nil && cfg.Archive.Enabled),
		slog.Uint64("detection_version", holder.Version()),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runner is a long-running input source.
type runner interface {
	Run(ctx context.Context) error
}

func (a *App) newFeed(deps *Dependencies, sink feed.Sink, m *metrics.Metrics) runner {
	fc := a.cfg.Feed
	switch fc.Source {
	case "pubsub":
		if deps.SignalBus == nil {
			return nil
		}
		return feed.NewPubSubFeed(deps.SignalBus, fc.Channel, fc.ReconnectDelay.Duration, sink, m, a.logger)
	case "stream":
		if deps.Streams == nil {
			return nil
		}
		return feed.NewStreamFeed(deps.Streams, feed.StreamConfig{
			Stream:         fc.Stream,
			Group:          fc.Group,
			Consumer:       fc.Consumer,
			BatchSize:      fc.BatchSize,
			Block:          fc.Block.Duration,
			ReconnectDelay: fc.ReconnectDelay.Duration,
		}, sink, m, a.logger)
	default:
		return nil
	}
}

// reloadRecorder counts and audits every file-driven reload attempt.
func (a *App) reloadRecorder(audit domain.AuditStore, m *metrics.Metrics) config.ReloadListener {
	return func(ctx context.Context, th manipulation.Thresholds, err error) {
		result := "applied"
		detail := map[string]any{"source": "file", "version": th.Version}
		if err != nil {
			result = "rejected"
			detail["error"] = err.Error()
		}
		m.ConfigReloads.WithLabelValues("file", result).Inc()
		if audit == nil {
			return
		}
		if aerr := audit.Log(ctx, "detection."+result, detail); aerr != nil {
			a.logger.Error("audit log failed", slog.String("error", aerr.Error()))
		}
	}
}

// originChecker accepts WebSocket upgrades from the configured CORS origins.
// With no origins configured any origin is accepted.
func originChecker(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(origins) == 0 {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Replay feeds a recorded JSONL event file through a fresh engine and writes
// one JSON assessment per line to out. Only the S3 backend is wired, for
// s3:// sources.
func (a *App) Replay(ctx context.Context, source string, out io.Writer) (feed.ReplayStats, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return feed.ReplayStats{}, err
	}

	holder, err := config.NewDetectionHolder(a.cfg.Detection)
	if err != nil {
		return feed.ReplayStats{}, fmt.Errorf("app: %w", err)
	}

	var (
		mu      sync.Mutex
		enc     = json.NewEncoder(out)
		emitted int
	)
	emit := engine.EmitterFunc(func(_ context.Context, as domain.Assessment) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(as); err != nil {
			a.logger.Error("write assessment", slog.String("error", err.Error()))
			return
		}
		emitted++
	})

	eng := engine.New(holder, emit, metrics.New(), engine.Options{
		QueueSize: a.cfg.Engine.QueueSize,
		MaxBatch:  a.cfg.Engine.MaxBatch,
	}, a.logger)

	rf, err := feed.NewReplayFeed(source, deps.BlobReader, eng, a.logger)
	if err != nil {
		eng.Close()
		return feed.ReplayStats{}, fmt.Errorf("app: %w", err)
	}

	stats, runErr := rf.Run(ctx)
	if err := eng.Close(); err != nil && runErr == nil {
		runErr = err
	}

	mu.Lock()
	n := emitted
	mu.Unlock()
	a.logger.Info("replay complete",
		slog.String("source", source),
		slog.Int("lines", stats.Lines),
		slog.Int("ingested", stats.Ingested),
		slog.Int("rejected", stats.Rejected),
		slog.Int("assessments", n),
	)
	return stats, runErr
}
