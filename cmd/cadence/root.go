package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/cadence/internal/api"
	"github.com/hyperengineering/cadence/internal/config"
	"github.com/hyperengineering/cadence/internal/netmon"
	"github.com/hyperengineering/cadence/internal/snapshot"
	"github.com/hyperengineering/cadence/internal/store"
	enginesync "github.com/hyperengineering/cadence/internal/sync"
	"github.com/hyperengineering/cadence/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "cadence",
	Short: "Cadence - offline-first habit tracking core",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(habitCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(newLogHandler(cfg.Log))
	slog.SetDefault(logger)
	slog.Info("configuration loaded")

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path, "device_id", db.DeviceID())

	// Connectivity: probe the remote unless forced offline
	var monitor enginesync.Connectivity
	var probe *netmon.ProbeMonitor
	if cfg.Sync.Offline {
		monitor = netmon.NewStaticMonitor(false)
		slog.Info("sync forced offline")
	} else {
		probe = netmon.NewProbeMonitor(
			cfg.Remote.BaseURL+"/api/v1/health",
			time.Duration(cfg.Sync.ProbeInterval),
			time.Duration(cfg.Sync.ProbeTimeout),
		)
		monitor = probe
	}

	dispatcher := enginesync.NewHTTPDispatcher(
		cfg.Remote.BaseURL,
		cfg.Remote.APIKey,
		db.DeviceID(),
		time.Duration(cfg.Remote.Timeout),
	)
	policy := enginesync.RetryPolicy{
		Base:       time.Duration(cfg.Sync.RetryBase),
		MaxRetries: cfg.Sync.MaxRetries,
		Jitter:     time.Duration(cfg.Sync.RetryJitter),
	}
	engine := enginesync.New(db, db, dispatcher, policy, monitor, enginesync.NewClock())
	slog.Info("sync engine initialized", "max_retries", policy.MaxRetries)

	uploader, err := snapshot.NewUploader(cfg.Backup)
	if err != nil {
		return err
	}

	handler := api.NewHandler(db, engine, cfg.Server.APIKey, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	if probe != nil {
		startWorker(ctx, &wg, "netmon", probe.Run)
	}
	startWorker(ctx, &wg, "sync-engine", engine.Run)
	startWorker(ctx, &wg, "janitor",
		worker.NewJanitor(db, time.Duration(cfg.Sync.JanitorInterval)).Run)
	if cfg.Backup.Bucket != "" {
		startWorker(ctx, &wg, "backup",
			worker.NewBackupWorker(db, uploader, time.Duration(cfg.Backup.Interval)).Run)
	}

	go func() {
		slog.Info("control API listening", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully; anything else should take the process down.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogHandler(cfg config.LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.NewJSONHandler(os.Stdout, opts)
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

// startWorker launches a background worker goroutine that respects context
// cancellation. Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
