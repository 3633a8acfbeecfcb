package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperengineering/inspecta/internal/api"
	"github.com/hyperengineering/inspecta/internal/config"
	"github.com/hyperengineering/inspecta/internal/syncengine"
	"github.com/hyperengineering/inspecta/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:          "inspecta",
	Short:        "Inspecta - offline-first vehicle inspection checklists",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local agent API and background workers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checklistCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(backupCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "level", cfg.Log.Level, "template_cache", cfg.Templates.Cache)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	if err := os.MkdirAll(a.mediaDir(), 0o755); err != nil {
		a.Close()
		return fmt.Errorf("create media dir: %w", err)
	}

	if cfg.Auth.AgentKey == "" {
		slog.Warn("agent key not set, protected routes reject every request")
	}
	handler := api.NewHandler(a.orch, a.store, cfg.Auth.AgentKey, Version, a.mediaDir())
	router := api.NewRouter(handler)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	var wg sync.WaitGroup
	syncer := worker.SyncerFunc(func(ctx context.Context) (*syncengine.SyncStats, error) {
		stats, _, err := a.orch.SyncOfflineData(ctx)
		return stats, err
	})
	startWorker(ctx, &wg, "sync", worker.NewSyncWorker(syncer, time.Duration(cfg.Sync.Interval)).Run)
	if cfg.Backup.Bucket != "" {
		startWorker(ctx, &wg, "backup", worker.NewBackupWorker(a.backups, time.Duration(cfg.Backup.Interval)).Run)
	}

	go func() {
		slog.Info("server starting", "address", addr, "version", Version)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
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

	if err := a.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
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

// startWorker launches a background worker goroutine tracked by wg.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
