// Package legacyapi stubs the SABnzbd wire protocol, grounded directly on
// original_source/src/sabnzbd_api.py and webserver.py's /api route. Its
// only functional side effect is addfile: it writes the uploaded
// descriptor into the blackhole, so upstream automation speaking the
// legacy protocol feeds the same ingest path Stage A already scans.
// Everything else (version/get_config/queue/history) is a static or
// near-static stub, matching the original's own behavior closely enough
// to satisfy clients that merely probe for a SABnzbd-compatible API.
package legacyapi

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
)

const apiVersion = "4.4.1"

// Server serves the legacy /api endpoint.
type Server struct {
	blackholePath string
	logger        *slog.Logger
	router        chi.Router
}

// New builds a legacy API server that drops uploaded descriptors into
// blackholePath.
func New(blackholePath string, logger *slog.Logger) *Server {
	s := &Server{blackholePath: blackholePath, logger: logger}

	r := chi.NewRouter()
	r.Get("/api", s.handleGet)
	r.Post("/api", s.handlePost)
	s.router = r
	return s
}

// Handler returns the router so cmd/mediator can mount it alongside the
// dashboard.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("mode") {
	case "version":
		writeJSON(w, map[string]any{"version": apiVersion})
	case "get_config":
		writeJSON(w, getConfigStub())
	case "queue":
		writeJSON(w, map[string]any{"queue": map[string]any{
			"my_home": s.blackholePath, "paused": false, "slots": []any{},
		}})
	case "history":
		writeJSON(w, map[string]any{"history": map[string]any{
			"paused": false, "slots": []any{},
		}})
	case "":
		writeJSON(w, map[string]string{"error": "No mode specified"})
	default:
		writeJSON(w, map[string]string{"error": "Invalid mode"})
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("mode") != "addfile" {
		writeJSON(w, map[string]string{"error": "Invalid mode"})
		return
	}

	file, header, err := readUploadedDescriptor(r)
	if err != nil {
		writeJSON(w, map[string]string{"error": "No file provided"})
		return
	}
	defer file.Close()

	nzoID, err := s.addFile(r.Context(), file, header.Filename)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "legacy addfile failed", "filename", header.Filename, "error", err)
		writeJSON(w, map[string]string{"error": "failed to save descriptor"})
		return
	}

	writeJSON(w, map[string]any{"status": true, "nzo_ids": []string{nzoID}})
}

// readUploadedDescriptor accepts either field name the original stub
// checks ("nzbfile" first, then "name").
func readUploadedDescriptor(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, fmt.Errorf("parsing multipart form: %w", err)
	}
	for _, field := range []string{"nzbfile", "name"} {
		if files := r.MultipartForm.File[field]; len(files) > 0 {
			f, err := files[0].Open()
			if err != nil {
				return nil, nil, fmt.Errorf("opening uploaded file: %w", err)
			}
			return f, files[0], nil
		}
	}
	return nil, nil, fmt.Errorf("no nzbfile or name field in request")
}

// addFile writes the descriptor straight into the blackhole root, under
// the same ingest path Stage A walks, and returns a synthetic transfer id
// the same way the original fabricates a random nzo_id.
func (s *Server) addFile(ctx context.Context, r io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("legacy-upload-%d.nzb", time.Now().UnixNano())
	}
	dst := filepath.Join(s.blackholePath, filepath.Base(filename))

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating %s: %w", dst, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("writing %s: %w", dst, err)
	}

	s.logger.InfoContext(ctx, "legacy addfile wrote descriptor into blackhole", "path", dst)
	return syntheticID(), nil
}

// syntheticID fabricates a short, random nzo_id-shaped identifier ("NZO"
// followed by seven base32 characters), standing in for the random ID
// sabnzbd_api.py generates for add_file.
func syntheticID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "NZO" + base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:])
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func getConfigStub() map[string]any {
	return map[string]any{
		"config": map[string]any{
			"misc": map[string]any{
				"complete_dir":         "/complete/dir",
				"tv_categories":        []string{"tv", "Series"},
				"enable_tv_sorting":    true,
				"movie_categories":     []string{"Movies", "Films"},
				"enable_movie_sorting": true,
				"history_retention":    "7 days",
			},
			"categories": []any{},
			"servers":    []any{},
			"sorters":    []any{},
		},
	}
}
