// Package fetcher downloads a URL to a local destination using multiple
// concurrent byte-range workers, an optional shared bandwidth cap, and
// bounded per-range retries. Idempotent on filename: if the destination
// already exists, Download is a no-op (spec §4.5).
//
// Grounded on the job/worker/result channel shape in
// other_examples/.../internal-engine-worker.go (GoNZB), generalized from
// NNTP segment fetch to HTTP byte-range fetch, and built on
// golang.org/x/sync/errgroup + golang.org/x/time/rate rather than hand-rolled
// channels, since both are already part of the dependency graph this module
// draws from.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dustin/go-humanize"

	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

// Fetcher downloads URLs to local paths with threaded ranges.
type Fetcher struct {
	httpClient *http.Client
	policy     *retrypolicy.Policy
	logger     *slog.Logger
}

// New builds a Fetcher.
func New(timeout time.Duration, policy *retrypolicy.Policy, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		policy:     policy,
		logger:     logger,
	}
}

type byteRange struct {
	start, end int64 // inclusive; end == -1 means "to EOF"
}

// Download retrieves url into destDir/filename using up to threads
// concurrent byte-range workers, throttled to speedLimitKB kilobytes per
// second in aggregate (speedLimitKB <= 0 disables the cap).
func (f *Fetcher) Download(ctx context.Context, url, destDir, filename string, threads, speedLimitKB int) error {
	dest := filepath.Join(destDir, filename)
	if _, err := os.Stat(dest); err == nil {
		f.logger.InfoContext(ctx, "fetch skipped, destination already exists", "filename", filename)
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statting destination %s: %w", dest, err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating destination directory %s: %w", destDir, err)
	}

	size, acceptsRanges, err := f.probe(ctx, url)
	if err != nil {
		return fmt.Errorf("probing %s: %w", url, err)
	}

	if !acceptsRanges || size <= 0 {
		threads = 1
	}
	if threads < 1 {
		threads = 1
	}

	tmpPath := dest + ".part"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tmpPath, err)
	}
	if size > 0 {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return fmt.Errorf("preallocating %s: %w", tmpPath, err)
		}
	}

	limiter := rateLimiter(speedLimitKB)
	ranges := splitRanges(size, threads)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ranges {
		r := r
		g.Go(func() error {
			return f.policy.DoOrFail(gctx, "fetch_range", func(ctx context.Context) error {
				return f.fetchRange(ctx, url, file, r, limiter)
			})
		})
	}

	if err := g.Wait(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("downloading %s: %w", filename, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("finalizing %s: %w", dest, err)
	}

	f.logger.InfoContext(ctx, "fetch complete", "filename", filename, "size", humanize.Bytes(uint64(max64(size, 0))))
	return nil
}

// probe issues a small ranged GET to learn the content length and whether
// the server honors byte ranges, without downloading the whole body.
func (f *Fetcher) probe(ctx context.Context, url string) (size int64, acceptsRanges bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, false, retrypolicy.Retryable(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total := parseContentRangeTotal(resp.Header.Get("Content-Range"))
		return total, true, nil
	case http.StatusOK:
		return resp.ContentLength, false, nil
	default:
		return 0, false, fmt.Errorf("probe request failed with status %d", resp.StatusCode)
	}
}

func (f *Fetcher) fetchRange(ctx context.Context, url string, file *os.File, r byteRange, limiter *rate.Limiter) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building range request: %w", err)
	}
	if r.end >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.start, r.end))
	} else if r.start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", r.start))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return retrypolicy.Retryable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return retrypolicy.Retryable(fmt.Errorf("range request failed with status %d", resp.StatusCode))
	}

	offset := r.start
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if limiter != nil {
				if err := waitN(ctx, limiter, n); err != nil {
					return fmt.Errorf("rate limiter: %w", err)
				}
			}
			if _, err := file.WriteAt(buf[:n], offset); err != nil {
				return fmt.Errorf("writing at offset %d: %w", offset, err)
			}
			offset += int64(n)
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return retrypolicy.Retryable(fmt.Errorf("reading response body: %w", readErr))
		}
	}
}

// waitN calls limiter.WaitN in chunks no larger than the limiter's burst,
// since rate.Limiter rejects requests for more than it can ever grant.
func waitN(ctx context.Context, limiter *rate.Limiter, n int) error {
	burst := limiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

func rateLimiter(speedLimitKB int) *rate.Limiter {
	if speedLimitKB <= 0 {
		return nil
	}
	bytesPerSec := speedLimitKB * 1024
	burst := bytesPerSec
	if burst < 32*1024 {
		burst = 32 * 1024
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// splitRanges divides [0, size) into up to threads contiguous byte ranges.
// If size is unknown (<=0) or threads is 1, it returns a single open-ended
// range covering the whole body.
func splitRanges(size int64, threads int) []byteRange {
	if size <= 0 || threads <= 1 {
		return []byteRange{{start: 0, end: -1}}
	}

	chunk := size / int64(threads)
	if chunk == 0 {
		return []byteRange{{start: 0, end: -1}}
	}

	ranges := make([]byteRange, 0, threads)
	var start int64
	for i := 0; i < threads; i++ {
		end := start + chunk - 1
		if i == threads-1 {
			end = size - 1
		}
		ranges = append(ranges, byteRange{start: start, end: end})
		start = end + 1
	}
	return ranges
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
