// Package engine drives the descriptor lifecycle: a single logical thread
// that walks the blackhole, uploads descriptors, watches remote transfers,
// fetches finished files, cleans up the remote side, and integrates the
// result into the done tree. One round runs stages A through G in strict
// sequence (spec §4.6); restart recovery rebuilds every in-memory queue from
// the ledger alone (spec §4.7).
//
// Grounded on internal/worker/worker.go's Start(ctx) ticker loop and its
// RunScheduleOnce/RunProcessOnce split for deterministic single-round
// testing, generalized from two independent tickers to one driver tick
// running seven stages per round.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/epichb/premiumarr-go/internal/fetcher"
	"github.com/epichb/premiumarr-go/internal/integrator"
	"github.com/epichb/premiumarr-go/internal/ledger"
	"github.com/epichb/premiumarr-go/internal/remote"
)

// Config is the engine's own tuning surface, copied in by the caller from
// internal/config so this package stays free of a config dependency.
type Config struct {
	BlackholePath string
	DownloadPath  string
	DonePath      string
	ArchivePath   string
	RootDirName   string

	RoundSleep               time.Duration
	MaxRetryCount            int
	MaxCloudDLMoveRetryCount int
	MaxStateRetryCount       int
	DownloadThreads          int
	DownloadSpeedLimitKB     int
}

// store is the subset of *ledger.Store the engine drives transitions
// through. Narrowed to an interface so engine tests can fake it if needed,
// though production wiring always passes *ledger.Store.
type store interface {
	Insert(ctx context.Context, fullPath, categoryPath, nzbName string, createdAt time.Time) (int64, error)
	GetByID(ctx context.Context, id int64) (ledger.Job, error)
	Found(ctx context.Context) ([]ledger.Job, error)
	Uploaded(ctx context.Context) ([]ledger.Job, error)
	InCloud(ctx context.Context) ([]ledger.Job, error)
	Downloaded(ctx context.Context) ([]ledger.Job, error)
	Cleaned(ctx context.Context) ([]ledger.Job, error)
	MarkUploaded(ctx context.Context, id int64, dlID string, timeout time.Time) error
	MarkInCloud(ctx context.Context, id int64, dlFolderID string) error
	MarkDownloaded(ctx context.Context, id int64) error
	MarkCleaned(ctx context.Context, id int64) error
	MarkDone(ctx context.Context, id int64, doneAt time.Time) error
	MarkFailed(ctx context.Context, id int64) error
	IncrementDLRetry(ctx context.Context, id int64) (int, error)
	SetMessageAndTimeout(ctx context.Context, id int64, message string, timeout time.Time) error
	ResetToFound(ctx context.Context, id int64) error
}

// remoteFacade is the subset of *remote.Client the engine needs.
type remoteFacade interface {
	AccountInfo(ctx context.Context) error
	EnsureRootFolder(ctx context.Context, name string) (string, error)
	WalkFolder(ctx context.Context, folderID, relPrefix string) ([]remote.FileRef, error)
	UploadDescriptor(ctx context.Context, path, parentFolderID string) (string, error)
	ListTransfers(ctx context.Context) ([]remote.Transfer, error)
	RetryTransfer(ctx context.Context, transferID string) error
	DeleteTransfer(ctx context.Context, transferID string) error
}

// localFetcher is the subset of *fetcher.Fetcher the engine needs.
type localFetcher interface {
	Download(ctx context.Context, url, destDir, filename string, threads, speedLimitKB int) error
}

// moveIntegrator is the subset of *integrator.Integrator the engine needs.
type moveIntegrator interface {
	MoveAndIntegrate(ctx context.Context, src, dst string, degradeID *int64) error
}

// Engine is the lifecycle driver. It owns no goroutines of its own besides
// the one it is run on; the fetcher's internal workers and the dashboard's
// HTTP server are independent.
type Engine struct {
	store      store
	remote     remoteFacade
	fetcher    localFetcher
	integrator moveIntegrator
	clock      Clock
	cfg        Config
	logger     *slog.Logger

	rootFolderID string

	uploadQueue   []workItem
	watchSet      map[string]*watchEntry
	fetchQueue    []fetchItem
	loggedIgnored map[string]bool

	cooldown func() time.Duration
}

// Clock is the narrow time source the engine needs, satisfied by
// internal/clock.Real and internal/clock.Fixed.
type Clock interface {
	Now() time.Time
}

// New builds an Engine. store, remoteClient, fetcherClient and moveInt must
// be non-nil.
func New(st *ledger.Store, remoteClient *remote.Client, fetcherClient *fetcher.Fetcher, moveInt *integrator.Integrator, clk Clock, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:         st,
		remote:        remoteClient,
		fetcher:       fetcherClient,
		integrator:    moveInt,
		clock:         clk,
		cfg:           cfg,
		logger:        logger,
		watchSet:      make(map[string]*watchEntry),
		loggedIgnored: make(map[string]bool),
		cooldown:      randomCooldown,
	}
}

// Bootstrap verifies the remote account, resolves the cloud root folder, and
// rebuilds the in-memory queues from the ledger. Run calls it itself; callers
// driving rounds with RunOnce must call it once first.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.remote.AccountInfo(ctx); err != nil {
		return fmt.Errorf("checking remote account: %w", err)
	}

	folderID, err := e.remote.EnsureRootFolder(ctx, e.cfg.RootDirName)
	if err != nil {
		return fmt.Errorf("ensuring remote root folder: %w", err)
	}
	e.rootFolderID = folderID

	if err := e.restoreQueues(ctx); err != nil {
		return fmt.Errorf("restoring queues: %w", err)
	}
	return nil
}

// Run drives the lifecycle forever, sleeping RoundSleep between rounds and
// recovering from a panicking round with a 60-120s cool-down (spec §5,
// "restarted after any uncaught exception").
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping engine: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		e.safeRunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.RoundSleep):
		}
	}
}

func (e *Engine) safeRunOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			delay := e.cooldown()
			e.logger.ErrorContext(ctx, "lifecycle round panicked, cooling down before retrying",
				"panic", r, "cooldown", delay)
			time.Sleep(delay)
		}
	}()

	if err := e.RunOnce(ctx); err != nil {
		e.logger.ErrorContext(ctx, "lifecycle round returned an error", "error", err)
	}
}

// RunOnce runs stages A through F exactly once, in order. Exposed for tests
// to drive a single deterministic round, mirroring the teacher's
// RunScheduleOnce/RunProcessOnce split.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.stageIngest(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage ingest failed", "error", err)
	}
	if err := e.stageUpload(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage upload failed", "error", err)
	}
	if err := e.stageWatch(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage watch failed", "error", err)
	}
	if err := e.stageFetch(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage fetch failed", "error", err)
	}
	if err := e.stageCleanup(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage cleanup failed", "error", err)
	}
	if err := e.stageFinalMove(ctx); err != nil {
		e.logger.ErrorContext(ctx, "stage final move failed", "error", err)
	}
	return nil
}

// randomCooldown picks a delay in [60s, 120s), the recover-and-restart
// window spec §5 calls for.
func randomCooldown() time.Duration {
	return 60*time.Second + time.Duration(rand.Int63n(int64(60*time.Second)))
}
