package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/epichb/premiumarr-go/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	ctx := context.Background()
	store, err := ledger.OpenInMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestInsertAndDuplicatePath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/Series/A.nzb", "/Series", "A.nzb", now)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = store.Insert(ctx, "/blackhole/Series/A.nzb", "/Series", "A.nzb", now)
	assert.ErrorIs(t, err, ledger.ErrDuplicatePath)

	job, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFound, job.State)
	assert.Equal(t, "A.nzb", job.NZBName)
}

func TestInsertAfterTerminalIsAllowed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/A.nzb", "/", "A.nzb", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id))

	secondID, err := store.Insert(ctx, "/blackhole/A.nzb", "/", "A.nzb", now)
	require.NoError(t, err)
	assert.NotEqual(t, id, secondID)
}

func TestLifecycleTransitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/A.nzb", "/Series", "A.nzb", now)
	require.NoError(t, err)

	require.NoError(t, store.MarkUploaded(ctx, id, "T1", now.Add(25*time.Minute)))
	job, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateUploaded, job.State)
	require.NotNil(t, job.DLID)
	assert.Equal(t, "T1", *job.DLID)

	require.NoError(t, store.MarkInCloud(ctx, id, "F1"))
	job, err = store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateInCloud, job.State)
	require.NotNil(t, job.DLFolderID)

	require.NoError(t, store.MarkDownloaded(ctx, id))
	require.NoError(t, store.MarkCleaned(ctx, id))
	require.NoError(t, store.MarkDone(ctx, id, now))

	job, err = store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDone, job.State)
	require.NotNil(t, job.DoneAt)
}

// TestResetToFoundClearsEpisodeFields verifies P4: after a degrade, dl_id,
// dl_folder_id, dl_retry_count, cld_dl_timeout_time and message reset while
// full_path, category_path, created_at and nzb_name are preserved.
func TestResetToFoundClearsEpisodeFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/A.nzb", "/Series", "A.nzb", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(ctx, id, "T1", now.Add(25*time.Minute)))
	_, err = store.IncrementDLRetry(ctx, id)
	require.NoError(t, err)
	require.NoError(t, store.SetMessageAndTimeout(ctx, id, "Moving to cloud", now.Add(15*time.Minute)))

	require.NoError(t, store.ResetToFound(ctx, id))

	job, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateFound, job.State)
	assert.Nil(t, job.DLID)
	assert.Nil(t, job.DLFolderID)
	assert.Zero(t, job.DLRetryCount)
	assert.Nil(t, job.CldDLTimeoutTime)
	assert.Nil(t, job.Message)
	assert.Equal(t, 1, job.CldDLMoveRetryC)
	assert.Equal(t, "/Series", job.CategoryPath)
	assert.Equal(t, "A.nzb", job.NZBName)
	assert.Equal(t, "/blackhole/A.nzb", job.FullPath)
}

// TestResetToFoundIsMonotoneAcrossDegrades verifies P2: cld_dl_move_retry_c
// never decreases across repeated degrades.
func TestResetToFoundIsMonotoneAcrossDegrades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/A.nzb", "/", "A.nzb", now)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.MarkUploaded(ctx, id, "T1", now.Add(25*time.Minute)))
		require.NoError(t, store.ResetToFound(ctx, id))
		job, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, i, job.CldDLMoveRetryC)
	}
}

func TestCurrentWorkReturnsOnlyNonTerminalRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	foundID, err := store.Insert(ctx, "/blackhole/found.nzb", "/", "found.nzb", now)
	require.NoError(t, err)

	uploadedID, err := store.Insert(ctx, "/blackhole/uploaded.nzb", "/", "uploaded.nzb", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(ctx, uploadedID, "T1", now.Add(25*time.Minute)))

	doneID, err := store.Insert(ctx, "/blackhole/done.nzb", "/", "done.nzb", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkUploaded(ctx, doneID, "T2", now.Add(25*time.Minute)))
	require.NoError(t, store.MarkInCloud(ctx, doneID, "F2"))
	require.NoError(t, store.MarkDownloaded(ctx, doneID))
	require.NoError(t, store.MarkCleaned(ctx, doneID))
	require.NoError(t, store.MarkDone(ctx, doneID, now))

	work, err := store.CurrentWork(ctx)
	require.NoError(t, err)
	ids := make([]int64, 0, len(work))
	for _, j := range work {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []int64{foundID, uploadedID}, ids)
}

func TestMarkFailedIsTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	id, err := store.Insert(ctx, "/blackhole/A.nzb", "/", "A.nzb", now)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, id))

	job, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, job.State.Terminal())
}

func TestGetByIDNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByID(context.Background(), 9999)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
