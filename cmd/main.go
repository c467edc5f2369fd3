package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/torturbo/internal/adapters/http/api"
	"github.com/okian/torturbo/internal/adapters/http/site"
	"github.com/okian/torturbo/internal/adapters/http/swagger"
	"github.com/okian/torturbo/internal/adapters/repository"
	"github.com/okian/torturbo/internal/adapters/statusapi"
	app "github.com/okian/torturbo/internal/app"
	"github.com/okian/torturbo/internal/config"
	"github.com/okian/torturbo/pkg/logger"
	"github.com/okian/torturbo/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Bootstrap logging so config errors are visible
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "torturbo exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (dotenv -> defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if err := setupLogging(cfg); err != nil {
		return err
	}
	setupMetrics(cfg)
	log := logger.Get()

	svc, closeHistory, err := newService(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeHistory()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("status_url", cfg.StatusURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// setupLogging re-initializes the global logger with the configured format
// and level. Unknown levels fall back to info.
func setupLogging(cfg *config.Config) error {
	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(context.Background(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return nil
}

// newService wires the status client, the optional SQLite history and the
// dashboard service. The returned func closes the SQLite store.
func newService(ctx context.Context, cfg *config.Config) (*app.Service, func(), error) {
	log := logger.Get()

	clientOpts := []statusapi.Option{statusapi.WithTimeout(cfg.RequestTimeout())}
	if cfg.StatusProxy != "" {
		clientOpts = append(clientOpts, statusapi.WithSOCKS5(cfg.StatusProxy))
	}
	client, err := statusapi.NewClient(cfg.StatusURL, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("status client: %w", err)
	}

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithSource(client.URL()),
		app.WithPollInterval(cfg.PollInterval()),
		app.WithRequestTimeout(cfg.RequestTimeout()),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithHistoryCapacity(cfg.HistoryCapacity),
		app.WithMaxHistoryLimit(cfg.MaxHistoryLimit),
	}

	closeHistory := func() {}
	if cfg.HistoryPath != "" {
		store, err := repository.NewSQLiteStore(ctx, cfg.HistoryPath,
			repository.WithCapacity(cfg.HistoryCapacity))
		if err != nil {
			return nil, nil, fmt.Errorf("open history: %w", err)
		}
		log.Info(ctx, "using sqlite history", logger.String("path", cfg.HistoryPath))
		opts = append(opts, app.WithHistoryStore(store))
		closeHistory = func() {
			if err := store.Close(); err != nil {
				log.Warn(context.Background(), "closing history failed", logger.Error(err))
			}
		}
	}

	svc, err := app.New(client, opts...)
	if err != nil {
		closeHistory()
		return nil, nil, err
	}
	return svc, closeHistory, nil
}

// newMux registers every route: the dashboard and its API, the static
// assets and the API docs.
func newMux(ctx context.Context, svc *app.Service) *http.ServeMux {
	mux := http.NewServeMux()

	apiServer := api.NewServer(svc, svc, api.WithLogger(logger.Get().Named("api")))
	apiServer.Register(ctx, mux)

	site.Register(ctx, mux)
	swagger.Register(ctx, mux)
	return mux
}

// setupMetrics rebuilds the collectors with the configured naming.
func setupMetrics(cfg *config.Config) {
	metrics.Init(
		metrics.WithNamespace(cfg.MetricsNamespace),
		metrics.WithInstance(cfg.MetricsInstance),
		metrics.WithRefreshInterval(cfg.SystemMetricsInterval()),
	)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	updateSystemMetrics()

	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
