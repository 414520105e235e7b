package engine

import (
	"context"
	"fmt"
	"time"
)

// workItem carries the descriptor identity every queue needs regardless of
// which stage currently owns it.
type workItem struct {
	ID           int64
	FullPath     string
	CategoryPath string
	NZBName      string
}

// watchEntry is a Stage C watch-set member, keyed by remote transfer handle.
type watchEntry struct {
	workItem
	DLID            string
	DLRetryCount    int
	CldDLMoveRetryC int
	Deadline        time.Time
	LastMessage     string
}

// fetchItem is a Stage D work-queue member. Name is always the ledger's
// nzb_name (not the remote-reported transfer name) so Stage F can re-derive
// the same local directory from a bare ledger row after a restart.
type fetchItem struct {
	workItem
	Name     string
	FolderID string
}

// restoreQueues rebuilds the three in-memory queues purely from the ledger
// (spec §4.7 Restart recovery). Called once at Bootstrap.
func (e *Engine) restoreQueues(ctx context.Context) error {
	found, err := e.store.Found(ctx)
	if err != nil {
		return fmt.Errorf("loading found rows: %w", err)
	}
	for _, j := range found {
		e.uploadQueue = append(e.uploadQueue, workItem{
			ID:           j.ID,
			FullPath:     j.FullPath,
			CategoryPath: j.CategoryPath,
			NZBName:      j.NZBName,
		})
	}

	uploaded, err := e.store.Uploaded(ctx)
	if err != nil {
		return fmt.Errorf("loading uploaded rows: %w", err)
	}
	for _, j := range uploaded {
		entry := &watchEntry{
			workItem: workItem{
				ID:           j.ID,
				FullPath:     j.FullPath,
				CategoryPath: j.CategoryPath,
				NZBName:      j.NZBName,
			},
			DLRetryCount:    j.DLRetryCount,
			CldDLMoveRetryC: j.CldDLMoveRetryC,
		}
		if j.DLID != nil {
			entry.DLID = *j.DLID
		}
		if j.CldDLTimeoutTime != nil {
			entry.Deadline = *j.CldDLTimeoutTime
		}
		if j.Message != nil {
			entry.LastMessage = *j.Message
		}
		if entry.DLID != "" {
			e.watchSet[entry.DLID] = entry
		}
	}

	inCloud, err := e.store.InCloud(ctx)
	if err != nil {
		return fmt.Errorf("loading in_cloud rows: %w", err)
	}
	for _, j := range inCloud {
		item := fetchItem{
			workItem: workItem{
				ID:           j.ID,
				FullPath:     j.FullPath,
				CategoryPath: j.CategoryPath,
				NZBName:      j.NZBName,
			},
			Name: j.NZBName,
		}
		if j.DLFolderID != nil {
			item.FolderID = *j.DLFolderID
		}
		e.fetchQueue = append(e.fetchQueue, item)
	}

	e.logger.InfoContext(ctx, "restored in-memory queues from ledger",
		"upload_queue", len(e.uploadQueue),
		"watch_set", len(e.watchSet),
		"fetch_queue", len(e.fetchQueue))
	return nil
}
