package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtelegin/herald/internal/api"
	"github.com/mtelegin/herald/internal/config"
	"github.com/mtelegin/herald/internal/contacts"
	"github.com/mtelegin/herald/internal/engine"
	"github.com/mtelegin/herald/internal/metrics"
	"github.com/mtelegin/herald/internal/notify"
	"github.com/mtelegin/herald/internal/profiles"
	"github.com/mtelegin/herald/internal/store"
	"github.com/mtelegin/herald/internal/template"
	"github.com/mtelegin/herald/internal/transport"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Store
	contacts      *contacts.SQLiteStore
	engine        *engine.Engine
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	amqpSink      *notify.AMQPSink
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	// Engine state store
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	// Contact and profile database shared with the console
	cs, err := contacts.OpenSQLite(cfg.Contacts.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open contact database: %w", err)
	}
	if err := cs.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate contact database: %w", err)
	}

	registry := profiles.NewSQLiteRegistry(cs.DB(), profiles.Limits{
		MaxPerHour: cfg.Engine.DefaultMaxPerHour,
		MaxPerDay:  cfg.Engine.DefaultMaxPerDay,
		MinDelay:   cfg.Engine.DefaultMinDelay,
		MaxDelay:   cfg.Engine.DefaultMaxDelay,
	})

	// Messenger driver
	var driver transport.Driver
	switch {
	case cfg.Engine.SandboxMode:
		logger.Info("sandbox mode enabled, sends are recorded locally")
		driver = transport.NewSandbox(0)
	case cfg.Engine.GatewayURL != "":
		logger.Info("messenger gateway configured", "url", cfg.Engine.GatewayURL)
		driver = transport.NewGateway(cfg.Engine.GatewayURL, cfg.Engine.GatewayToken, cfg.Engine.TransportTimeout)
	default:
		logger.Warn("no gateway_url configured, falling back to the sandbox driver")
		driver = transport.NewSandbox(0)
	}

	// Metrics
	m := metrics.New()
	metrics.SetGlobal(m)

	collector, err := metrics.NewCollector(st.DB(), m, cfg.Storage.Path, cfg.Storage.SnapshotInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	// Notification sinks
	sinks := notify.MultiSink{notify.NewLogSink(logger.With("component", "notify"))}
	var amqpSink *notify.AMQPSink
	if cfg.Notifications.Enabled {
		amqpSink, err = notify.NewAMQPSink(cfg.Notifications.URL, cfg.Notifications.Queue,
			logger.With("component", "amqp_sink"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect notification sink: %w", err)
		}
		sinks = append(sinks, amqpSink)
		logger.Info("AMQP notifications enabled", "queue", cfg.Notifications.Queue)
	}

	eng, err := engine.New(engine.Config{
		DispatchTick:     cfg.Engine.DispatchTick,
		TransportTimeout: cfg.Engine.TransportTimeout,
		ProgressWindow:   time.Duration(cfg.Engine.ProgressWindowMinutes) * time.Minute,
		SnapshotInterval: cfg.Storage.SnapshotInterval,
		SchedulerTick:    cfg.Engine.SchedulerTick,
		AutoResumeDelay:  cfg.Engine.AutoResumeDelay,
		SendRetries:      cfg.Engine.SendRetries,

		DefaultWorkHoursStart: cfg.Engine.DefaultWorkHoursStart,
		DefaultWorkHoursEnd:   cfg.Engine.DefaultWorkHoursEnd,
		DefaultWorkDays:       cfg.Engine.DefaultWorkDays,
	}, st, cs, registry, driver, sinks, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	tmplStore, err := template.NewStorage(st.DB())
	if err != nil {
		return nil, fmt.Errorf("failed to open template storage: %w", err)
	}

	apiServer := api.NewServer(eng, registry, tmplStore, &cfg.Server, logger)

	return &App{
		config:        cfg,
		store:         st,
		contacts:      cs,
		engine:        eng,
		apiServer:     apiServer,
		metricsServer: metricsServer,
		collector:     collector,
		amqpSink:      amqpSink,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting herald",
		"api_addr", a.config.Server.ListenAddr,
		"storage", a.config.Storage.Path,
		"contacts", a.config.Contacts.SQLitePath,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resume campaigns interrupted by the previous shutdown before
	// the API starts accepting writes
	if err := a.engine.Recover(); err != nil {
		return fmt.Errorf("recovery failed: %w", err)
	}

	a.collector.Start(ctx)
	a.engine.StartLoops()

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server if enabled
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if a.config.Storage.RetentionDays > 0 {
		go a.retentionLoop(ctx)
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// retentionLoop prunes finished campaigns older than the retention window
func (a *App) retentionLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		cutoff := time.Now().AddDate(0, 0, -a.config.Storage.RetentionDays)
		pruned, err := a.store.PruneFinished(cutoff)
		if err != nil {
			a.logger.Error("retention prune failed", "error", err)
		} else if pruned > 0 {
			a.logger.Info("pruned finished campaigns", "count", pruned, "cutoff", cutoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting API writes first
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Stop running campaigns, persisting their remaining queues
	if err := a.engine.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("engine shutdown error", "error", err)
	}

	// Persist counters
	if err := a.collector.Stop(); err != nil {
		a.logger.Error("metrics collector stop error", "error", err)
	}

	if a.amqpSink != nil {
		if err := a.amqpSink.Close(); err != nil {
			a.logger.Error("notification sink close error", "error", err)
		}
	}

	if err := a.contacts.Close(); err != nil {
		a.logger.Error("contact database close error", "error", err)
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("state store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
