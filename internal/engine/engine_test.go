package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epichb/premiumarr-go/internal/clock"
	"github.com/epichb/premiumarr-go/internal/engine"
	"github.com/epichb/premiumarr-go/internal/fetcher"
	"github.com/epichb/premiumarr-go/internal/integrator"
	"github.com/epichb/premiumarr-go/internal/ledger"
	"github.com/epichb/premiumarr-go/internal/remote"
	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPolicy(t *testing.T) *retrypolicy.Policy {
	t.Helper()
	p, err := retrypolicy.New(retrypolicy.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	require.NoError(t, err)
	return p
}

// fakePremiumize serves just enough of the premiumize.me API surface for the
// engine to drive one full round: account sanity check, root-folder
// ensure, upload, transfer listing/retry/delete, and folder traversal.
// transferStatus and transferMessage are read on every /transfer/list call,
// so a test can mutate them between rounds.
type fakePremiumize struct {
	t               *testing.T
	server          *httptest.Server
	transferStatus  string
	transferMessage string
	includeTransfer bool
	folderEntries   []map[string]any
	deleteCalls     int
	retryCalls      int
}

func newFakePremiumize(t *testing.T) *fakePremiumize {
	t.Helper()
	f := &fakePremiumize{t: t, transferStatus: "finished", includeTransfer: true}
	mux := http.NewServeMux()

	mux.HandleFunc("/account/info", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "success"})
	})

	mux.HandleFunc("/folder/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "success"})
	})

	mux.HandleFunc("/folder/list", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			writeJSON(w, map[string]any{
				"status": "success",
				"content": []map[string]any{
					{"id": "root-folder", "name": "premiumarr", "type": "folder"},
				},
			})
			return
		}
		writeJSON(w, map[string]any{"status": "success", "content": f.folderEntries})
	})

	mux.HandleFunc("/transfer/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "success", "id": "transfer-1"})
	})

	mux.HandleFunc("/transfer/list", func(w http.ResponseWriter, r *http.Request) {
		transfers := []map[string]any{}
		if f.includeTransfer {
			transfers = append(transfers, map[string]any{
				"id": "transfer-1", "name": "A.nzb", "status": f.transferStatus,
				"message": f.transferMessage, "folder_id": "remote-folder-1",
			})
		}
		writeJSON(w, map[string]any{"status": "success", "transfers": transfers})
	})

	mux.HandleFunc("/transfer/retry", func(w http.ResponseWriter, r *http.Request) {
		f.retryCalls++
		writeJSON(w, map[string]any{"status": "success"})
	})

	mux.HandleFunc("/transfer/delete", func(w http.ResponseWriter, r *http.Request) {
		f.deleteCalls++
		writeJSON(w, map[string]any{"status": "success"})
	})

	mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
		content := []byte("episode bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
		w.Write(content)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type testRig struct {
	engine *engine.Engine
	store  *ledger.Store
	fake   *fakePremiumize
	paths  engine.Config
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ctx := context.Background()

	store, err := ledger.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fake := newFakePremiumize(t)
	policy := newTestPolicy(t)
	remoteClient := remote.New("test-key", 5*time.Second, policy, discardLogger())
	remoteClient.SetBaseURL(fake.server.URL)
	fetcherClient := fetcher.New(5*time.Second, policy, discardLogger())
	integ := integrator.New(store, 3)

	dir := t.TempDir()
	cfg := engine.Config{
		BlackholePath:            filepath.Join(dir, "blackhole"),
		DownloadPath:             filepath.Join(dir, "downloads"),
		DonePath:                 filepath.Join(dir, "done"),
		ArchivePath:              filepath.Join(dir, "archive"),
		RootDirName:              "premiumarr",
		RoundSleep:               time.Millisecond,
		MaxRetryCount:            3,
		MaxCloudDLMoveRetryCount: 2,
		MaxStateRetryCount:       2,
		DownloadThreads:          1,
		DownloadSpeedLimitKB:     -1,
	}
	require.NoError(t, os.MkdirAll(cfg.BlackholePath, 0o755))

	clk := clock.NewFixed(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	e := engine.New(store, remoteClient, fetcherClient, integ, clk, cfg, discardLogger())

	return &testRig{engine: e, store: store, fake: fake, paths: cfg}
}

func writeDescriptor(t *testing.T, rig *testRig, relDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(rig.paths.BlackholePath, relDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunOnceHappyPathIntegratesFileAndArchivesDescriptor(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	writeDescriptor(t, rig, "Series", "A.nzb", "descriptor-bytes")

	rig.fake.folderEntries = []map[string]any{
		{"id": "file-1", "name": "A.mkv", "type": "file", "link": rig.fake.server.URL + "/dl/A.mkv"},
	}

	require.NoError(t, rig.engine.Bootstrap(ctx))
	require.NoError(t, rig.engine.RunOnce(ctx))

	jobs, err := rig.store.TerminalPage(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, ledger.StateDone, jobs[0].State)

	got, err := os.ReadFile(filepath.Join(rig.paths.DonePath, "Series", "A.nzb", "A.mkv"))
	require.NoError(t, err)
	assert.Equal(t, "episode bytes", string(got))

	archived, err := os.ReadFile(filepath.Join(rig.paths.ArchivePath, "A.nzb"))
	require.NoError(t, err)
	assert.Equal(t, "descriptor-bytes", string(archived))

	assert.Equal(t, 1, rig.fake.deleteCalls, "the remote transfer is deleted exactly once during cleanup")
}

func TestRunOnceUploadMissingDescriptorFailsJob(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	rig.fake.includeTransfer = false

	missingPath := filepath.Join(rig.paths.BlackholePath, "B.nzb")
	id, err := rig.store.Insert(ctx, missingPath, "", "B.nzb", time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, rig.engine.Bootstrap(ctx))
	require.NoError(t, rig.engine.RunOnce(ctx))

	job, err := rig.store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFailed, job.State)
}

func TestRunOnceDegradesLostTransferBackToFound(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t)
	writeDescriptor(t, rig, "Series", "C.nzb", "descriptor-bytes")
	rig.fake.transferStatus = "waiting"
	rig.fake.transferMessage = "queued for download"

	require.NoError(t, rig.engine.Bootstrap(ctx))
	require.NoError(t, rig.engine.RunOnce(ctx)) // ingest + upload: job now uploaded, watched

	jobs, err := rig.store.Uploaded(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	firstMoveRetry := jobs[0].CldDLMoveRetryC

	rig.fake.includeTransfer = false // transfer vanishes from the next listing
	require.NoError(t, rig.engine.RunOnce(ctx))

	// Stage B (upload) runs before Stage C (watch) within a round, so a job
	// degraded by Stage C this round is only re-uploaded on the next one.
	job, err := rig.store.GetByID(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFound, job.State)
	assert.Equal(t, firstMoveRetry+1, job.CldDLMoveRetryC)

	rig.fake.includeTransfer = true // the re-upload must not immediately look lost again
	require.NoError(t, rig.engine.RunOnce(ctx))
	job, err = rig.store.GetByID(ctx, jobs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateUploaded, job.State, "degraded job is re-uploaded on the following round")
}
