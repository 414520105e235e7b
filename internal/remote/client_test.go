package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epichb/premiumarr-go/internal/remote"
	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

func newTestClient(t *testing.T, server *httptest.Server) *remote.Client {
	t.Helper()
	policy, err := retrypolicy.New(retrypolicy.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	})
	require.NoError(t, err)

	c := remote.New("test-key", time.Second, policy, discardLogger())
	c.SetBaseURL(server.URL)
	return c
}

func TestListTransfersParsesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transfer/list", r.URL.Path)
		w.Write([]byte(`{
			"status": "success",
			"transfers": [
				{"id":"T1","name":"A.nzb","message":"100% done","status":"finished","progress":1,"folder_id":"F1","src":"x"}
			]
		}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	transfers, err := c.ListTransfers(context.Background())
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "T1", transfers[0].ID)
	assert.True(t, transfers[0].Status == "finished")
}

func TestEnsureRootFolderReturnsExistingID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/folder/create":
			w.Write([]byte(`{"status":"error","message":"This folder already exists."}`))
		case "/folder/list":
			w.Write([]byte(`{"status":"success","content":[{"id":"F1","name":"premiumarr","type":"folder","created_at":1}]}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	id, err := c.EnsureRootFolder(context.Background(), "premiumarr")
	require.NoError(t, err)
	assert.Equal(t, "F1", id)
}

func TestUploadDescriptorCircumventsDuplicateWithoutMutatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "A.nzb")
	require.NoError(t, os.WriteFile(path, []byte("original content"), 0o644))

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write([]byte(`{"status":"error","message":"You have already added this nzb file."}`))
			return
		}
		w.Write([]byte(`{"status":"success","id":"T1"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	id, err := c.UploadDescriptor(context.Background(), path, "F1")
	require.NoError(t, err)
	assert.Equal(t, "T1", id)
	assert.Equal(t, 2, calls)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original content", string(data))
}

func TestWalkFolderFlattensNestedTree(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		switch id {
		case "F1":
			w.Write([]byte(`{"status":"success","content":[
				{"id":"sub","name":"Season1","type":"folder","created_at":1},
				{"id":"f1","name":"root.txt","type":"file","created_at":1,"size":1,"link":"L0","directlink":"D0"}
			]}`))
		case "sub":
			w.Write([]byte(`{"status":"success","content":[
				{"id":"f2","name":"ep1.mkv","type":"file","created_at":1,"size":2,"link":"L1","directlink":"D1"}
			]}`))
		default:
			t.Fatalf("unexpected folder id %q", id)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	refs, err := c.WalkFolder(context.Background(), "F1", "")
	require.NoError(t, err)
	require.Len(t, refs, 2)

	byName := map[string]string{}
	for _, r := range refs {
		byName[r.Filename] = r.RelativePath
	}
	assert.Equal(t, "", byName["root.txt"])
	assert.Equal(t, "Season1", byName["ep1.mkv"])
}
