package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hyperengineering/somnus/internal/api"
	"github.com/hyperengineering/somnus/internal/config"
	"github.com/hyperengineering/somnus/internal/metrics"
	"github.com/hyperengineering/somnus/internal/snapshot"
	"github.com/hyperengineering/somnus/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "somnus",
	Short:        "Somnus - dream and mood journal analytics",
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(forecastCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(backupCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	setupLogger(os.Stdout, cfg.Log)
	slog.Info("configuration loaded",
		"storage_backend", cfg.Storage.Backend,
		"timezone", cfg.Journal.Timezone,
		"dev_mode", cfg.DevMode,
	)

	// 4. Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// 5. Storage and services
	a, err := newApp(ctx, cfg, m)
	if err != nil {
		return err
	}

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		a.Close()
		return err
	}

	// 6. Initialize HTTP router
	handler := api.NewHandler(api.HandlerConfig{
		Journal:       a.journal,
		Sleep:         a.sleep,
		Forecasts:     a.forecasts,
		Goals:         a.goals,
		Detector:      a.detector,
		Metrics:       m,
		Limiter:       api.NewUserRateLimiter(cfg.RateLimit.ForecastsPerMinute, cfg.RateLimit.Burst),
		APIKey:        cfg.Auth.APIKey,
		Version:       Version,
		ProviderModel: a.model,
		BlobBackend:   cfg.Storage.Backend,
		HistoryDays:   cfg.Forecast.HistoryDays,
	})
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Worker.ForecastInterval); interval > 0 {
		coordinator := worker.NewForecastCoordinator(a.journal, a.forecasts, interval,
			cfg.Worker.ActiveWindowDays, cfg.Forecast.HistoryDays, m)
		startWorker(ctx, &wg, "forecast-coordinator", coordinator.Run)
	}
	if interval := time.Duration(cfg.Worker.BackupInterval); interval > 0 {
		backups := worker.NewBackupWorker(a.db, uploader, cfg.Worker.BackupDir, interval,
			cfg.Worker.BackupRetain, m)
		startWorker(ctx, &wg, "backup", backups.Run)
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Wait for workers to complete
	wg.Wait()

	// 11c. Close stores
	if err := a.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// setupLogger installs the default slog logger in the configured format.
func setupLogger(w io.Writer, cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}

// loadCLIConfig loads configuration for one-shot commands. Logs go to
// stderr so command output stays machine-readable.
func loadCLIConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(cmd.ErrOrStderr(), config.LogConfig{Level: "warn", Format: cfg.Log.Format})
	return cfg, nil
}
