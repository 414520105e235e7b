package fetcher_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epichb/premiumarr-go/internal/fetcher"
	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// rangeServer serves content from memory, honoring Range requests so the
// multi-threaded fetch path can be exercised end to end.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			w.Write(content)
			return
		}

		var start, end int64
		_, err := fmt.Sscanf(rangeHeader, "bytes=%d-%d", &start, &end)
		if err != nil {
			// open-ended range "bytes=N-"
			fmt.Sscanf(rangeHeader, "bytes=%d-", &start)
			end = int64(len(content)) - 1
		}
		if end >= int64(len(content)) {
			end = int64(len(content)) - 1
		}

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(content)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[start : end+1])
	}))
}

func newTestFetcher(t *testing.T) *fetcher.Fetcher {
	t.Helper()
	policy, err := retrypolicy.New(retrypolicy.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	require.NoError(t, err)
	return fetcher.New(5*time.Second, policy, discardLogger())
}

func TestDownloadReassemblesRangedContent(t *testing.T) {
	content := []byte(strings.Repeat("abcdefghij", 1000)) // 10000 bytes
	server := rangeServer(t, content)
	defer server.Close()

	dir := t.TempDir()
	f := newTestFetcher(t)

	err := f.Download(context.Background(), server.URL, dir, "out.bin", 4, -1)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDownloadIsIdempotentOnExistingFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("should not be fetched"))
	}))
	defer server.Close()

	f := newTestFetcher(t)
	err := f.Download(context.Background(), server.URL, dir, "out.bin", 2, -1)
	require.NoError(t, err)
	assert.Equal(t, 0, calls)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestDownloadSingleThreadWhenRangesUnsupported(t *testing.T) {
	content := []byte("no ranges here")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(http.StatusOK)
		io.Copy(w, strings_NewReader(content))
	}))
	defer server.Close()

	dir := t.TempDir()
	f := newTestFetcher(t)

	err := f.Download(context.Background(), server.URL, dir, "out.bin", 8, -1)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func strings_NewReader(b []byte) io.Reader {
	return strings.NewReader(string(b))
}
