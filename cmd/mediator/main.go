// Command mediator runs the blackhole-to-cloud-downloader lifecycle
// engine alongside its read-only dashboard and legacy-API stub. Grounded
// on cmd/worker/main.go's bootstrap-then-serve shape: load config, open
// storage, build collaborators, start servers on their own goroutines,
// and shut everything down together on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epichb/premiumarr-go/internal/clock"
	"github.com/epichb/premiumarr-go/internal/config"
	"github.com/epichb/premiumarr-go/internal/dashboard"
	"github.com/epichb/premiumarr-go/internal/engine"
	"github.com/epichb/premiumarr-go/internal/fetcher"
	"github.com/epichb/premiumarr-go/internal/integrator"
	"github.com/epichb/premiumarr-go/internal/ledger"
	"github.com/epichb/premiumarr-go/internal/legacyapi"
	"github.com/epichb/premiumarr-go/internal/logging"
	"github.com/epichb/premiumarr-go/internal/remote"
	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.New(cfg.Dashboard.LogLevel, cfg.Paths.LogPath())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{cfg.Paths.BlackholePath, cfg.Paths.DownloadPath, cfg.Paths.DonePath, cfg.Paths.ArchivePath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.ErrorContext(ctx, "creating required directory failed", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := ledger.Open(ctx, cfg.Paths.DBPath(), ledger.DBConfig{})
	if err != nil {
		logger.ErrorContext(ctx, "opening ledger failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	policy, err := retrypolicy.New(retrypolicy.Config{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		OnRetry: func(attempt int, op string, err error) {
			logger.WarnContext(ctx, "retrying operation", "op", op, "attempt", attempt, "error", err)
		},
	})
	if err != nil {
		logger.ErrorContext(ctx, "building retry policy failed", "error", err)
		os.Exit(1)
	}

	remoteClient := remote.New(cfg.Remote.APIKey, cfg.Remote.HTTPTimeout, policy, logger)
	fetcherClient := fetcher.New(cfg.Remote.HTTPTimeout, policy, logger)
	moveIntegrator := integrator.New(store, cfg.Engine.MaxStateRetryCount)

	eng := engine.New(store, remoteClient, fetcherClient, moveIntegrator, clock.Real{}, engine.Config{
		BlackholePath:            cfg.Paths.BlackholePath,
		DownloadPath:             cfg.Paths.DownloadPath,
		DonePath:                 cfg.Paths.DonePath,
		ArchivePath:              cfg.Paths.ArchivePath(),
		RootDirName:              cfg.Remote.RootDirName,
		RoundSleep:               cfg.Engine.RecheckCloudDelay,
		MaxRetryCount:            cfg.Engine.MaxRetryCount,
		MaxCloudDLMoveRetryCount: cfg.Engine.MaxCloudDLMoveRetryCount,
		MaxStateRetryCount:       cfg.Engine.MaxStateRetryCount,
		DownloadThreads:          cfg.Engine.DownloadThreads,
		DownloadSpeedLimitKB:     cfg.Engine.DownloadSpeedLimitKB,
	}, logger)

	dash := dashboard.New(store, dashboard.Config{
		Host:     cfg.Dashboard.Host,
		Port:     cfg.Dashboard.Port,
		APIKey:   cfg.Dashboard.APIKey,
		PageSize: cfg.Dashboard.PageSize,
	}, logger)

	legacy := legacyapi.New(cfg.Paths.BlackholePath, logger)
	legacySrv := &http.Server{Addr: ":8085", Handler: legacy.Handler()}

	errCh := make(chan error, 3)

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := legacySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.InfoContext(ctx, "premiumarr mediator started",
		"blackhole", cfg.Paths.BlackholePath,
		"dashboard_port", cfg.Dashboard.Port,
		"round_sleep", cfg.Engine.RecheckCloudDelay)

	select {
	case <-ctx.Done():
		logger.InfoContext(context.Background(), "received shutdown signal")
	case err := <-errCh:
		logger.ErrorContext(context.Background(), "a server goroutine failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := dash.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "dashboard shutdown error", "error", err)
	}
	if err := legacySrv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorContext(shutdownCtx, "legacy API shutdown error", "error", err)
	}
}
