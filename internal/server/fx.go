// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/api"
	"github.com/JakeFAU/urlhealth/internal/clock/system"
	"github.com/JakeFAU/urlhealth/internal/config"
	"github.com/JakeFAU/urlhealth/internal/dispatcher"
	"github.com/JakeFAU/urlhealth/internal/id/uuid"
	"github.com/JakeFAU/urlhealth/internal/limiter"
	"github.com/JakeFAU/urlhealth/internal/metrics"
	"github.com/JakeFAU/urlhealth/internal/policy/ratelimit"
	"github.com/JakeFAU/urlhealth/internal/policy/simple"
	"github.com/JakeFAU/urlhealth/internal/probe"
	collyprober "github.com/JakeFAU/urlhealth/internal/prober/colly"
	"github.com/JakeFAU/urlhealth/internal/progress"
	progresssinks "github.com/JakeFAU/urlhealth/internal/progress/sinks"
	"github.com/JakeFAU/urlhealth/internal/telemetry"
)

// Version is reported as the tracing service version. Set at link time.
var Version = "dev"

// Pipeline is the probing stack shared by the HTTP service and the CLI.
type Pipeline struct {
	Dispatcher *dispatcher.Dispatcher
	Limiters   api.LimiterSource

	logger         *zap.Logger
	progressHub    *progress.Hub
	tracerShutdown telemetry.ShutdownFunc
}

// NewPipeline builds the prober, politeness policy, limiter, progress hub and
// tracer from cfg. Collectors register against the default Prometheus registry.
func NewPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Pipeline, error) {
	return newPipeline(ctx, cfg, logger, prometheus.DefaultRegisterer)
}

func newPipeline(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	p := &Pipeline{logger: logger}

	_, shutdown, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.TracingEnabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.OTLPInsecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}, logger.Named("telemetry"))
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	p.tracerShutdown = shutdown

	emitter, err := p.setupProgress(cfg, reg)
	if err != nil {
		_ = p.tracerShutdown(ctx)
		return nil, err
	}

	prober := collyprober.New(collyprober.Config{
		UserAgent: cfg.Probe.UserAgent,
		Timeout:   cfg.ProbeTimeout(),
	}, logger.Named("prober"))
	logger.Info("using colly prober",
		zap.String("user_agent", cfg.Probe.UserAgent),
		zap.Duration("timeout", cfg.ProbeTimeout()),
	)

	p.Dispatcher = dispatcher.New(prober,
		dispatcher.WithPoliteness(setupPoliteness(cfg, logger)),
		dispatcher.WithEmitter(emitter),
		dispatcher.WithClock(system.New()),
		dispatcher.WithLogger(logger),
	)
	p.Limiters = newLimiterSource(
		cfg.Probe.LimiterScope,
		cfg.Probe.MaxParallelTasks,
		limiter.WithHooks(metrics.LimiterHooks()),
	)
	logger.Info("probe limiter configured",
		zap.String("scope", cfg.Probe.LimiterScope),
		zap.Int("max_parallel_tasks", cfg.Probe.MaxParallelTasks),
	)
	return p, nil
}

func (p *Pipeline) setupProgress(cfg config.Config, reg prometheus.Registerer) (progress.Emitter, error) {
	if !cfg.Progress.Enabled {
		p.logger.Info("progress tracking disabled")
		return progress.Discard, nil
	}
	var sinkList []progress.Sink
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(p.logger.Named("progress_log")))
		p.logger.Debug("Added progress log sink")
	}
	if cfg.Progress.MetricsEnabled {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("progress metrics sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		p.logger.Debug("Added progress metrics sink")
	}
	if len(sinkList) == 0 {
		p.logger.Warn("progress tracking enabled but no sinks configured")
		return progress.Discard, nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMS) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutMS) * time.Millisecond,
		Logger:         p.logger.Named("progress_hub"),
	}
	p.progressHub = progress.NewHub(hubCfg, sinkList...)
	p.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return p.progressHub, nil
}

func setupPoliteness(cfg config.Config, logger *zap.Logger) probe.Politeness {
	if !cfg.RateLimit.Enabled {
		logger.Info("rate limiter disabled, using simple policy")
		return simple.New()
	}
	logger.Info("rate limiter enabled",
		zap.Float64("per_host_rps", cfg.RateLimit.PerHostRPS),
		zap.Int("per_host_burst", cfg.RateLimit.PerHostBurst),
	)
	return ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.PerHostRPS,
		DefaultBurst: cfg.RateLimit.PerHostBurst,
		OnDelay:      metrics.ObserveRateLimitDelay,
	})
}

// newLimiterSource shares one limiter across batches for the global scope
// and hands each batch its own for the request scope.
func newLimiterSource(scope string, capacity int, opts ...limiter.Option) api.LimiterSource {
	if scope == config.LimiterScopeRequest {
		return func() dispatcher.Limiter {
			return limiter.New(capacity, opts...)
		}
	}
	shared := limiter.New(capacity, opts...)
	return func() dispatcher.Limiter {
		return shared
	}
}

// Close flushes progress sinks and the tracer.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if p.progressHub != nil {
		if err := p.progressHub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if p.tracerShutdown != nil {
		if err := p.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// App contains the application's dependencies.
type App struct {
	*Pipeline
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("building application dependencies",
		zap.String("addr", cfg.Addr()),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
	)
	pipeline, err := NewPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return newApp(pipeline, cfg, logger), nil
}

func newApp(pipeline *Pipeline, cfg config.Config, logger *zap.Logger) *App {
	return &App{
		Pipeline:  pipeline,
		cfg:       cfg,
		logger:    logger,
		apiServer: api.NewServer(pipeline.Dispatcher, pipeline.Limiters, uuid.New(), cfg, logger),
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves HTTP until ctx ends or SIGINT/SIGTERM arrives, then drains.
// In-flight batches get the configured shutdown timeout to finish before
// their contexts are canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")
	a.apiServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("server shutdown incomplete, canceling in-flight batches", zap.Error(err))
		cancelBase()
		if cerr := srv.Close(); cerr != nil {
			a.logger.Error("server close error", zap.Error(cerr))
		}
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	closeErr := a.Close(closeCtx)
	return errors.Join(<-serveErr, closeErr)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	err := a.Pipeline.Close(ctx)
	if err != nil {
		a.logger.Warn("pipeline close failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return err
}
