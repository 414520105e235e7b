// Package integrator implements the recursive merge-move used at every
// handoff between the staging area and the categorized "done" tree: move a
// source tree into a destination tree, overwriting conflicting files,
// removing emptied source directories as it goes.
//
// Grounded on internal/storage/fs/store.go's os/path-filepath conventions,
// generalized from "write one JSON blob" to "merge an arbitrary tree", and
// on original_source/src/file_manager.py's exact degrade contract: a failed
// move without a degrade target propagates as a transient error the caller
// retries; a failed move with a degrade target atomically bumps the job's
// state_retry_count, marking it failed past budget or resetting it to found
// otherwise.
package integrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

// DegradeStore is the subset of the ledger an Integrator needs to apply the
// degrade contract (spec §4.3). Satisfied by *ledger.Store.
type DegradeStore interface {
	IncrementStateRetry(ctx context.Context, id int64) (int, error)
	MarkFailed(ctx context.Context, id int64) error
	ResetToFound(ctx context.Context, id int64) error
}

// Integrator performs merge-moves, degrading a ledger row on failure when a
// degrade id is supplied.
type Integrator struct {
	store              DegradeStore
	maxStateRetryCount int
}

// New builds an Integrator. maxStateRetryCount is MAX_STATE_RETRY_COUNT.
func New(store DegradeStore, maxStateRetryCount int) *Integrator {
	return &Integrator{store: store, maxStateRetryCount: maxStateRetryCount}
}

// MoveAndIntegrate recursively merges src into dst. If degradeID is nil, a
// failure is returned as-is (the caller is expected to retry the whole
// operation from scratch on its next round). If degradeID is set, a failure
// instead degrades that ledger row and returns a *retrypolicy.StateRetryError
// wrapping the filesystem error; if the ledger update itself fails, that
// ledger error is returned instead.
func (i *Integrator) MoveAndIntegrate(ctx context.Context, src, dst string, degradeID *int64) error {
	err := moveAndIntegrate(src, dst)
	if err == nil {
		return nil
	}
	if degradeID == nil {
		return err
	}
	return i.degrade(ctx, *degradeID, err)
}

func (i *Integrator) degrade(ctx context.Context, id int64, cause error) error {
	count, incErr := i.store.IncrementStateRetry(ctx, id)
	if incErr != nil {
		return fmt.Errorf("incrementing state_retry_count for job %d: %w", id, incErr)
	}

	if count >= i.maxStateRetryCount {
		if err := i.store.MarkFailed(ctx, id); err != nil {
			return fmt.Errorf("marking job %d failed after state retry exhaustion: %w", id, err)
		}
		return &retrypolicy.StateRetryError{Op: "move_and_integrate", Err: cause}
	}

	if err := i.store.ResetToFound(ctx, id); err != nil {
		return fmt.Errorf("resetting job %d to found: %w", id, err)
	}
	return &retrypolicy.StateRetryError{Op: "move_and_integrate", Err: cause}
}

func moveAndIntegrate(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		return fmt.Errorf("statting %s: %w", src, err)
	}

	if info.IsDir() {
		return mergeDir(src, dst)
	}
	return mergeFile(src, dst)
}

func mergeDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dst, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("reading directory %s: %w", src, err)
	}

	for _, entry := range entries {
		childSrc := filepath.Join(src, entry.Name())
		childDst := filepath.Join(dst, entry.Name())
		if err := moveAndIntegrate(childSrc, childDst); err != nil {
			return err
		}
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("removing emptied directory %s: %w", src, err)
	}
	return nil
}

func mergeFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", dst, err)
	}

	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing conflicting destination %s: %w", dst, err)
	}

	if err := os.Rename(src, dst); err != nil {
		if !isCrossDeviceError(err) {
			return fmt.Errorf("moving %s to %s: %w", src, dst, err)
		}
		if err := copyThenRemove(src, dst); err != nil {
			return fmt.Errorf("copying %s to %s: %w", src, dst, err)
		}
	}
	return nil
}

// copyThenRemove is os.Rename's fallback for moves that cross filesystem
// boundaries, mirroring shutil.move's behavior in the original implementation.
func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := in.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
