package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/epichb/premiumarr-go/internal/integrator"
	"github.com/epichb/premiumarr-go/internal/ledger"
	"github.com/epichb/premiumarr-go/internal/remote"
	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

const descriptorSuffix = ".nzb"

// uploadDeadline is the initial stuck-detection deadline Stage B sets on a
// freshly-uploaded transfer; progressDeadline is the deadline progress
// resets to once the remote reports a new message.
const (
	uploadDeadline   = 25 * time.Minute
	progressDeadline = 15 * time.Minute
)

// stuckMoveMarker is the message prefix the remote reports while it is
// relocating a finished transfer into permanent cloud storage.
const stuckMoveMarker = "Moving to cloud"

// stageIngest is Stage A: walk the blackhole, track new descriptors.
func (e *Engine) stageIngest(ctx context.Context) error {
	root := e.cfg.BlackholePath
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		if !strings.EqualFold(filepath.Ext(path), descriptorSuffix) {
			if !e.loggedIgnored[path] {
				e.logger.InfoContext(ctx, "ignoring non-descriptor file in blackhole", "path", path)
				e.loggedIgnored[path] = true
			}
			return nil
		}

		category := categoryFor(root, path)
		id, err := e.store.Insert(ctx, path, category, filepath.Base(path), e.clock.Now())
		if err != nil {
			if errors.Is(err, ledger.ErrDuplicatePath) {
				return nil
			}
			e.logger.ErrorContext(ctx, "tracking new descriptor failed", "path", path, "error", err)
			return nil
		}

		e.uploadQueue = append(e.uploadQueue, workItem{
			ID:           id,
			FullPath:     path,
			CategoryPath: category,
			NZBName:      filepath.Base(path),
		})
		e.logger.InfoContext(ctx, "tracking new descriptor", "path", path, "category", category, "job_id", id)
		return nil
	})
}

// categoryFor flattens path's directory, relative to root, into a single
// category string: the full nested subpath, not just its leading component
// (original_source/src/manager.py:155's category_path = root[len(blackhole):],
// materialized whole by move_to_done). A descriptor at
// BLACKHOLE/Series/Sub/A.nzb categorizes as "Series/Sub".
func categoryFor(root, path string) string {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// stageUpload is Stage B: hand each pending descriptor to the remote.
func (e *Engine) stageUpload(ctx context.Context) error {
	pending := e.uploadQueue
	e.uploadQueue = nil

	for _, item := range pending {
		dlID, err := e.remote.UploadDescriptor(ctx, item.FullPath, e.rootFolderID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				e.logger.ErrorContext(ctx, "descriptor vanished before upload, failing job", "job_id", item.ID, "path", item.FullPath)
			} else {
				e.logger.ErrorContext(ctx, "upload failed, failing job", "job_id", item.ID, "error", err)
			}
			if mfErr := e.store.MarkFailed(ctx, item.ID); mfErr != nil {
				e.logger.ErrorContext(ctx, "marking job failed after upload error", "job_id", item.ID, "error", mfErr)
			}
			continue
		}

		deadline := e.clock.Now().Add(uploadDeadline)
		if err := e.store.MarkUploaded(ctx, item.ID, dlID, deadline); err != nil {
			e.logger.ErrorContext(ctx, "recording upload failed", "job_id", item.ID, "error", err)
			continue
		}

		e.watchSet[dlID] = &watchEntry{
			workItem: item,
			DLID:     dlID,
			Deadline: deadline,
		}
		e.logger.InfoContext(ctx, "uploaded descriptor", "job_id", item.ID, "dl_id", dlID)
	}
	return nil
}

// stageWatch is Stage C: partition watched transfers into finished, failed,
// progressing, and lost, advancing or degrading the ledger accordingly.
func (e *Engine) stageWatch(ctx context.Context) error {
	if len(e.watchSet) == 0 {
		return nil
	}

	transfers, err := e.remote.ListTransfers(ctx)
	if err != nil {
		return fmt.Errorf("listing remote transfers: %w", err)
	}

	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		entry, ok := e.watchSet[t.ID]
		if !ok {
			continue
		}
		seen[t.ID] = true

		switch {
		case t.Status == remote.StatusFinished:
			e.watchPromoteFinished(ctx, entry, t)
		case t.Status.Failed():
			e.watchHandleFailed(ctx, entry, t)
		case t.Status.Progressing():
			e.watchHandleProgressing(ctx, entry, t)
		default:
			e.logger.WarnContext(ctx, "unrecognized transfer status, leaving in watch set",
				"job_id", entry.ID, "status", t.Status)
		}
	}

	for dlID, entry := range e.watchSet {
		if seen[dlID] {
			continue
		}
		e.logger.WarnContext(ctx, "watched transfer missing from listing, treating as stuck move", "job_id", entry.ID, "dl_id", dlID)
		e.degradeOrFailWatchEntry(ctx, entry)
	}

	return nil
}

func (e *Engine) watchPromoteFinished(ctx context.Context, entry *watchEntry, t remote.Transfer) {
	if err := e.store.MarkInCloud(ctx, entry.ID, t.FolderID); err != nil {
		e.logger.ErrorContext(ctx, "recording in_cloud transition failed", "job_id", entry.ID, "error", err)
		return
	}
	// Name is the ledger's nzb_name, not the remote-reported transfer name:
	// Stage F re-derives the same local directory from a ledger row alone
	// after a restart, so the two stages must agree on a value the ledger
	// actually stores.
	e.fetchQueue = append(e.fetchQueue, fetchItem{
		workItem: entry.workItem,
		Name:     entry.NZBName,
		FolderID: t.FolderID,
	})
	delete(e.watchSet, entry.DLID)
	e.logger.InfoContext(ctx, "transfer finished, queued for fetch", "job_id", entry.ID, "folder_id", t.FolderID)
}

func (e *Engine) watchHandleFailed(ctx context.Context, entry *watchEntry, t remote.Transfer) {
	count, err := e.store.IncrementDLRetry(ctx, entry.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "incrementing dl_retry_count failed", "job_id", entry.ID, "error", err)
		return
	}
	entry.DLRetryCount = count

	if count >= e.cfg.MaxRetryCount {
		// TODO: notify upstream (e.g. Sonarr/Radarr) on terminal failure; the
		// ledger row is marked failed but nothing downstream is told.
		e.logger.ErrorContext(ctx, "remote transfer failed past retry budget, failing job",
			"job_id", entry.ID, "status", t.Status, "dl_retry_count", count)
		if err := e.store.MarkFailed(ctx, entry.ID); err != nil {
			e.logger.ErrorContext(ctx, "marking job failed after retry exhaustion", "job_id", entry.ID, "error", err)
		}
		if err := e.remote.DeleteTransfer(ctx, t.ID); err != nil {
			e.logger.WarnContext(ctx, "best-effort transfer delete failed", "job_id", entry.ID, "error", err)
		}
		e.archiveDescriptor(ctx, entry.FullPath, entry.NZBName)
		delete(e.watchSet, entry.DLID)
		return
	}

	if err := e.remote.RetryTransfer(ctx, t.ID); err != nil {
		e.logger.WarnContext(ctx, "retry_transfer call failed, leaving in watch set", "job_id", entry.ID, "error", err)
	}
}

func (e *Engine) watchHandleProgressing(ctx context.Context, entry *watchEntry, t remote.Transfer) {
	if prefix3(t.Message) != prefix3(entry.LastMessage) {
		entry.LastMessage = t.Message
		entry.Deadline = e.clock.Now().Add(progressDeadline)
		if err := e.store.SetMessageAndTimeout(ctx, entry.ID, t.Message, entry.Deadline); err != nil {
			e.logger.ErrorContext(ctx, "recording transfer progress failed", "job_id", entry.ID, "error", err)
		}
		return
	}

	if e.clock.Now().Before(entry.Deadline) {
		return
	}

	if !strings.Contains(t.Message, stuckMoveMarker) {
		e.logger.ErrorContext(ctx, "unexpected stuck state, leaving watch entry in place for operator review",
			"job_id", entry.ID, "message", t.Message)
		return
	}

	if err := e.remote.DeleteTransfer(ctx, t.ID); err != nil {
		e.logger.WarnContext(ctx, "best-effort transfer delete failed before degrade", "job_id", entry.ID, "error", err)
	}
	e.degradeOrFailWatchEntry(ctx, entry)
}

// cloudMoveBudgetExceeded reports whether id's cld_dl_move_retry_c has
// already reached the configured budget. Reads the ledger's count rather
// than any in-memory copy: a watchEntry's CldDLMoveRetryC is only ever
// populated from the ledger at restoreQueues (restart recovery), so every
// fresh upload and every re-upload after a degrade starts it at zero and it
// never again reflects reality during continuous operation.
func (e *Engine) cloudMoveBudgetExceeded(ctx context.Context, id int64) (bool, error) {
	job, err := e.store.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return job.CldDLMoveRetryC >= e.cfg.MaxCloudDLMoveRetryCount, nil
}

// degradeOrFailWatchEntry enforces the cld_dl_move_retry_c budget (P3) before
// degrading a stuck-move or lost watch entry: past budget the job fails
// outright instead of cycling through another upload, mirroring the
// integrator's own degrade (internal/integrator.degrade).
func (e *Engine) degradeOrFailWatchEntry(ctx context.Context, entry *watchEntry) {
	exceeded, err := e.cloudMoveBudgetExceeded(ctx, entry.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "reading cld_dl_move_retry_c failed", "job_id", entry.ID, "error", err)
		return
	}
	if exceeded {
		e.logger.ErrorContext(ctx, "stuck move exhausted retry budget, failing job", "job_id", entry.ID)
		if err := e.store.MarkFailed(ctx, entry.ID); err != nil {
			e.logger.ErrorContext(ctx, "marking job failed after stuck-move exhaustion", "job_id", entry.ID, "error", err)
		}
		delete(e.watchSet, entry.DLID)
		return
	}
	e.degradeWatchEntry(ctx, entry)
}

// degradeWatchEntry resets a stuck/lost upload back to found and re-enqueues
// it for upload, per spec §4.6 Stage C's lost/stuck-move handling. Callers
// must check cloudMoveBudgetExceeded first; this always bumps the ledger's
// cld_dl_move_retry_c.
func (e *Engine) degradeWatchEntry(ctx context.Context, entry *watchEntry) {
	if err := e.store.ResetToFound(ctx, entry.ID); err != nil {
		e.logger.ErrorContext(ctx, "resetting job to found failed", "job_id", entry.ID, "error", err)
		return
	}
	e.uploadQueue = append(e.uploadQueue, entry.workItem)
	delete(e.watchSet, entry.DLID)
}

// stageFetch is Stage D: walk finished transfers' folders and fetch every
// file into the local staging area.
func (e *Engine) stageFetch(ctx context.Context) error {
	pending := e.fetchQueue
	e.fetchQueue = nil

	for _, item := range pending {
		refs, err := e.remote.WalkFolder(ctx, item.FolderID, item.Name)
		if err != nil {
			var stateErr *retrypolicy.StateRetryError
			if !errors.As(err, &stateErr) {
				e.logger.ErrorContext(ctx, "traversal failed unexpectedly", "job_id", item.ID, "error", err)
			}
			e.degradeFetchItem(ctx, item, err)
			continue
		}

		if err := e.fetchAll(ctx, item, refs); err != nil {
			e.degradeFetchItem(ctx, item, err)
			continue
		}

		if err := e.store.MarkDownloaded(ctx, item.ID); err != nil {
			e.logger.ErrorContext(ctx, "recording downloaded transition failed", "job_id", item.ID, "error", err)
			continue
		}
		e.logger.InfoContext(ctx, "all files fetched", "job_id", item.ID, "files", len(refs))
	}
	return nil
}

func (e *Engine) fetchAll(ctx context.Context, item fetchItem, refs []remote.FileRef) error {
	for _, ref := range refs {
		destDir := filepath.Join(e.cfg.DownloadPath, filepath.FromSlash(ref.RelativePath))
		if err := e.fetcher.Download(ctx, ref.Link, destDir, ref.Filename, e.cfg.DownloadThreads, e.cfg.DownloadSpeedLimitKB); err != nil {
			return fmt.Errorf("fetching %s: %w", ref.Filename, err)
		}
	}
	return nil
}

func (e *Engine) degradeFetchItem(ctx context.Context, item fetchItem, cause error) {
	e.logger.ErrorContext(ctx, "fetch failed, degrading to found", "job_id", item.ID, "error", cause)

	exceeded, err := e.cloudMoveBudgetExceeded(ctx, item.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "reading cld_dl_move_retry_c failed", "job_id", item.ID, "error", err)
		return
	}
	if exceeded {
		e.logger.ErrorContext(ctx, "fetch degrade exhausted retry budget, failing job", "job_id", item.ID)
		if err := e.store.MarkFailed(ctx, item.ID); err != nil {
			e.logger.ErrorContext(ctx, "marking job failed after fetch-degrade exhaustion", "job_id", item.ID, "error", err)
		}
		return
	}

	if err := e.store.ResetToFound(ctx, item.ID); err != nil {
		e.logger.ErrorContext(ctx, "resetting job to found failed", "job_id", item.ID, "error", err)
		return
	}
	e.uploadQueue = append(e.uploadQueue, item.workItem)
}

// stageCleanup is Stage E: best-effort delete the remote transfer for every
// downloaded row, then mark it cleaned regardless of the delete's outcome.
func (e *Engine) stageCleanup(ctx context.Context) error {
	rows, err := e.store.Downloaded(ctx)
	if err != nil {
		return fmt.Errorf("loading downloaded rows: %w", err)
	}

	for _, job := range rows {
		if job.DLID != nil {
			if err := e.remote.DeleteTransfer(ctx, *job.DLID); err != nil {
				e.logger.WarnContext(ctx, "best-effort remote cleanup failed, proceeding anyway", "job_id", job.ID, "error", err)
			}
		}
		if err := e.store.MarkCleaned(ctx, job.ID); err != nil {
			e.logger.ErrorContext(ctx, "recording cleaned transition failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// stageFinalMove is Stage F: integrate the staged files into the done tree,
// then archive the descriptor, then mark done.
func (e *Engine) stageFinalMove(ctx context.Context) error {
	rows, err := e.store.Cleaned(ctx)
	if err != nil {
		return fmt.Errorf("loading cleaned rows: %w", err)
	}

	for _, job := range rows {
		id := job.ID
		src := filepath.Join(e.cfg.DownloadPath, job.NZBName)
		dst := filepath.Join(e.cfg.DonePath, job.CategoryPath, job.NZBName)

		if err := e.integrator.MoveAndIntegrate(ctx, src, dst, &id); err != nil {
			var stateErr *retrypolicy.StateRetryError
			if errors.As(err, &stateErr) {
				e.logger.WarnContext(ctx, "final move degraded job", "job_id", id, "cause", stateErr.Err)
				e.requeueIfFound(ctx, job)
				continue
			}
			e.logger.ErrorContext(ctx, "final move failed unexpectedly", "job_id", id, "error", err)
			continue
		}

		e.archiveDescriptor(ctx, job.FullPath, job.NZBName)

		if err := e.store.MarkDone(ctx, id, e.clock.Now()); err != nil {
			e.logger.ErrorContext(ctx, "recording done transition failed", "job_id", id, "error", err)
			continue
		}
		e.logger.InfoContext(ctx, "job done", "job_id", id, "nzb_name", job.NZBName)
	}
	return nil
}

// requeueIfFound re-adds a job to the upload queue if the integrator's
// degrade contract reset it to found rather than failing it outright.
func (e *Engine) requeueIfFound(ctx context.Context, job ledger.Job) {
	updated, err := e.store.GetByID(ctx, job.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "re-reading degraded job failed", "job_id", job.ID, "error", err)
		return
	}
	if updated.State != ledger.StateFound {
		return
	}
	e.uploadQueue = append(e.uploadQueue, workItem{
		ID:           job.ID,
		FullPath:     job.FullPath,
		CategoryPath: job.CategoryPath,
		NZBName:      job.NZBName,
	})
}

// archiveDescriptor moves a descriptor file into the config-side archive
// directory. Best-effort: a failure here is cosmetic and never degrades the
// job (REDESIGN FLAG (b): only ever called after the main move into the done
// tree has succeeded, just before MarkDone, or after the job was marked
// failed).
func (e *Engine) archiveDescriptor(ctx context.Context, fullPath, nzbName string) {
	dst := filepath.Join(e.cfg.ArchivePath, nzbName)
	if err := e.integrator.MoveAndIntegrate(ctx, fullPath, dst, nil); err != nil {
		if errors.Is(err, integrator.ErrSourceMissing) {
			return
		}
		e.logger.WarnContext(ctx, "archiving descriptor failed, leaving it in place", "path", fullPath, "error", err)
	}
}

// prefix3 returns the first three bytes of s, or s itself if shorter, used
// for Stage C's stuck-detection heuristic.
func prefix3(s string) string {
	if len(s) <= 3 {
		return s
	}
	return s[:3]
}
