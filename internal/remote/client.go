// Package remote is a typed facade over the cloud-downloader HTTP API,
// modeled directly on original_source/src/premiumize_api.py: the same
// method set, the same response shapes, and the same duplicate-descriptor
// upload workaround, but operating on a byte-slice copy of the descriptor
// rather than mutating the file on disk (see DESIGN.md).
//
// Every call is routed through internal/retrypolicy. The one hand-rolled
// loop is UploadDescriptor's bounded duplicate-descriptor bypass, which runs
// inside a single retry-policy attempt.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/epichb/premiumarr-go/internal/retrypolicy"
)

const defaultBaseURL = "https://www.premiumize.me/api"

// randSource abstracts math/rand.Intn so tests can make the duplicate-bypass
// loop deterministic.
type randSource interface {
	Intn(n int) int
}

// Client is a typed facade over the cloud-downloader's HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	policy     *retrypolicy.Policy
	logger     *slog.Logger
	rng        randSource
}

// New builds a Client. logger receives a per-call correlation id (`req_id`)
// attribute so facade calls can be traced through the logs.
func New(apiKey string, timeout time.Duration, policy *retrypolicy.Policy, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		policy:     policy,
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AccountInfo is a sanity check used at startup; any non-error JSON response
// is treated as success.
func (c *Client) AccountInfo(ctx context.Context) error {
	reqID := uuid.NewString()
	return c.policy.DoOrFail(ctx, "account_info", func(ctx context.Context) error {
		_, err := c.get(ctx, reqID, "/account/info", nil)
		return retryableHTTPError(err)
	})
}

type apiEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EnsureRootFolder idempotently creates-or-looks-up a folder named name at
// the account root and returns its folder handle. Both "created" and
// "already exists" are treated as success.
func (c *Client) EnsureRootFolder(ctx context.Context, name string) (string, error) {
	reqID := uuid.NewString()
	var folderID string

	err := c.policy.DoOrFail(ctx, "ensure_root_folder", func(ctx context.Context) error {
		body, err := c.post(ctx, reqID, "/folder/create", url.Values{"name": {name}})
		if err != nil {
			return retryableHTTPError(err)
		}
		var env apiEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decoding create-folder response: %w", err)
		}
		if env.Status != "success" && env.Message != "This folder already exists." {
			return retrypolicy.Retryable(fmt.Errorf("create folder %q: %s", name, env.Message))
		}

		root, err := c.listRootFolder(ctx, reqID)
		if err != nil {
			return retryableHTTPError(err)
		}
		for _, item := range root {
			if item.Name == name {
				folderID = item.ID
				return nil
			}
		}
		return retrypolicy.Retryable(fmt.Errorf("folder %q not found in root listing after create", name))
	})
	if err != nil {
		return "", err
	}
	return folderID, nil
}

// SetBaseURL overrides the API base URL, used by tests to point the client
// at an httptest.Server instead of the real premiumize.me endpoint.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

func (c *Client) listRootFolder(ctx context.Context, reqID string) ([]FolderEntry, error) {
	body, err := c.get(ctx, reqID, "/folder/list", nil)
	if err != nil {
		return nil, err
	}
	return decodeFolderList(body)
}

// ListFolder returns the immediate contents of the folder identified by
// folderID. Exhaustion surfaces as a *retrypolicy.StateRetryError (spec §4.2
// on_state_fail): WalkFolder's traversal degrades rather than aborts the
// round (spec §4.6 Stage D).
func (c *Client) ListFolder(ctx context.Context, folderID string) ([]FolderEntry, error) {
	reqID := uuid.NewString()
	var entries []FolderEntry

	err := c.policy.DoOrDegrade(ctx, "list_folder", func(ctx context.Context) error {
		body, err := c.get(ctx, reqID, "/folder/list", url.Values{"id": {folderID}})
		if err != nil {
			return retryableHTTPError(err)
		}
		parsed, err := decodeFolderList(body)
		if err != nil {
			return fmt.Errorf("decoding folder list: %w", err)
		}
		entries = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

type folderListPayload struct {
	Status  string               `json:"status"`
	Content []folderEntryPayload `json:"content"`
	Name    *string              `json:"name"`
}

type folderEntryPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	CreatedAt  int64  `json:"created_at"`
	Size       int64  `json:"size"`
	Link       string `json:"link"`
	DirectLink string `json:"directlink"`
}

func decodeFolderList(body []byte) ([]FolderEntry, error) {
	var payload folderListPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("folder listing status: %s", payload.Status)
	}

	entries := make([]FolderEntry, 0, len(payload.Content))
	for _, item := range payload.Content {
		entries = append(entries, FolderEntry{
			ID:         item.ID,
			Name:       item.Name,
			Type:       EntryType(item.Type),
			CreatedAt:  item.CreatedAt,
			Size:       item.Size,
			Link:       item.Link,
			DirectLink: item.DirectLink,
		})
	}
	return entries, nil
}

// WalkFolder recursively descends folderID, accumulating a depth-first list
// of file refs with relative paths joined by each subfolder's name (spec
// §4.6 Stage D).
func (c *Client) WalkFolder(ctx context.Context, folderID, relPrefix string) ([]FileRef, error) {
	entries, err := c.ListFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}

	var refs []FileRef
	for _, e := range entries {
		if e.IsFolder() {
			nested, err := c.WalkFolder(ctx, e.ID, joinRelPath(relPrefix, e.Name))
			if err != nil {
				return nil, err
			}
			refs = append(refs, nested...)
			continue
		}
		refs = append(refs, FileRef{
			Link:         e.Link,
			RelativePath: relPrefix,
			Filename:     e.Name,
		})
	}
	return refs, nil
}

func joinRelPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// UploadDescriptor uploads the descriptor at path into parentFolderID,
// returning a transfer handle. A "duplicate descriptor" response is handled
// by mutating an in-memory copy of the descriptor bytes (appending 1-100
// trailing spaces) and retrying — the file on disk is never touched.
func (c *Client) UploadDescriptor(ctx context.Context, path, parentFolderID string) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading descriptor %s: %w", path, err)
	}

	reqID := uuid.NewString()
	var transferID string

	err = c.policy.DoOrFail(ctx, "upload_descriptor", func(ctx context.Context) error {
		payload := original
		for attempt := 0; ; attempt++ {
			body, err := c.postMultipart(ctx, reqID, "/transfer/create",
				url.Values{"folder_id": {parentFolderID}}, payload)
			if err != nil {
				return retryableHTTPError(err)
			}

			var resp struct {
				ID      string `json:"id"`
				Status  string `json:"status"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return fmt.Errorf("decoding upload response: %w", err)
			}

			if resp.Status == "success" || resp.ID != "" {
				transferID = resp.ID
				return nil
			}
			if resp.Message != "You have already added this nzb file." {
				return retrypolicy.Retryable(fmt.Errorf("upload descriptor: %s", resp.Message))
			}
			if attempt >= 20 {
				return retrypolicy.Retryable(fmt.Errorf("upload descriptor: exhausted duplicate-bypass attempts"))
			}

			padded := make([]byte, len(original)+1+c.rng.Intn(100))
			copy(padded, original)
			for i := len(original); i < len(padded); i++ {
				padded[i] = ' '
			}
			payload = padded
		}
	})
	if err != nil {
		return "", err
	}
	return transferID, nil
}

// ListTransfers returns every in-flight transfer.
func (c *Client) ListTransfers(ctx context.Context) ([]Transfer, error) {
	reqID := uuid.NewString()
	var transfers []Transfer

	err := c.policy.DoOrFail(ctx, "get_transfers", func(ctx context.Context) error {
		body, err := c.get(ctx, reqID, "/transfer/list", nil)
		if err != nil {
			return retryableHTTPError(err)
		}

		var payload struct {
			Status    string `json:"status"`
			Transfers []struct {
				ID       string  `json:"id"`
				Name     string  `json:"name"`
				Message  string  `json:"message"`
				Status   string  `json:"status"`
				Progress float64 `json:"progress"`
				FolderID string  `json:"folder_id"`
				Src      string  `json:"src"`
			} `json:"transfers"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return fmt.Errorf("decoding transfer list: %w", err)
		}
		if payload.Status != "success" {
			return retrypolicy.Retryable(fmt.Errorf("transfer list status: %s", payload.Status))
		}

		transfers = make([]Transfer, 0, len(payload.Transfers))
		for _, t := range payload.Transfers {
			transfers = append(transfers, Transfer{
				ID:       t.ID,
				Name:     t.Name,
				Message:  t.Message,
				Status:   TransferStatus(t.Status),
				Progress: t.Progress,
				FolderID: t.FolderID,
				Src:      t.Src,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return transfers, nil
}

// RetryTransfer asks the remote to retry a stalled/errored transfer.
func (c *Client) RetryTransfer(ctx context.Context, transferID string) error {
	reqID := uuid.NewString()
	return c.policy.DoOrFail(ctx, "retry_transfer", func(ctx context.Context) error {
		body, err := c.post(ctx, reqID, "/transfer/retry", url.Values{"id": {transferID}})
		if err != nil {
			return retryableHTTPError(err)
		}
		var env apiEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decoding retry-transfer response: %w", err)
		}
		if env.Status != "success" {
			return retrypolicy.Retryable(fmt.Errorf("retry transfer %s: %s", transferID, env.Message))
		}
		return nil
	})
}

// DeleteTransfer deletes a transfer. Idempotent from the engine's
// perspective: an "already deleted"-class error is swallowed by the caller,
// not here.
func (c *Client) DeleteTransfer(ctx context.Context, transferID string) error {
	reqID := uuid.NewString()
	return c.policy.DoOrFail(ctx, "delete_transfer", func(ctx context.Context) error {
		body, err := c.post(ctx, reqID, "/transfer/delete", url.Values{"id": {transferID}})
		if err != nil {
			return retryableHTTPError(err)
		}
		var env apiEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decoding delete-transfer response: %w", err)
		}
		if env.Status != "success" {
			return retrypolicy.Retryable(fmt.Errorf("delete transfer %s: %s", transferID, env.Message))
		}
		return nil
	})
}

func (c *Client) get(ctx context.Context, reqID, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if query == nil {
		query = url.Values{}
	}
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.do(req, reqID, path)
}

func (c *Client) post(ctx context.Context, reqID, path string, form url.Values) ([]byte, error) {
	if form == nil {
		form = url.Values{}
	}
	form.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, reqID, path)
}

func (c *Client) postMultipart(ctx context.Context, reqID, path string, form url.Values, fileBytes []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for key, values := range form {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, fmt.Errorf("writing form field %s: %w", key, err)
			}
		}
	}
	if err := w.WriteField("apikey", c.apiKey); err != nil {
		return nil, fmt.Errorf("writing apikey field: %w", err)
	}

	part, err := w.CreateFormFile("file", "upload.nzb")
	if err != nil {
		return nil, fmt.Errorf("creating multipart file part: %w", err)
	}
	if _, err := part.Write(fileBytes); err != nil {
		return nil, fmt.Errorf("writing multipart file content: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, reqID, path)
}

func (c *Client) do(req *http.Request, reqID, path string) ([]byte, error) {
	c.logger.DebugContext(req.Context(), "remote call", "req_id", reqID, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading response body: %w", path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

// retryableHTTPError marks transport-level errors (timeouts, connection
// resets, 5xx wrapped upstream) as retryable; see spec §7 category 1.
func retryableHTTPError(err error) error {
	if err == nil {
		return nil
	}
	return retrypolicy.Retryable(err)
}
