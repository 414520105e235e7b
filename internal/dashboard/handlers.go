package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/epichb/premiumarr-go/internal/ledger"
)

// store is the subset of *ledger.Store the dashboard reads from. Grounded
// on original_source/src/db.py's aggregate helpers, which back the
// original webserver.py's /api/current_state and /api/done_failed routes.
type store interface {
	CurrentWork(ctx context.Context) ([]ledger.Job, error)
	TerminalPage(ctx context.Context, limit, offset int) ([]ledger.Job, error)
	CountsByState(ctx context.Context) (map[ledger.State]int, error)
	RetrySums(ctx context.Context) (dlRetry, stateRetry, moveRetry int, err error)
	TotalCount(ctx context.Context) (int, error)
	LastAdded(ctx context.Context) (*ledger.Job, error)
	LastDone(ctx context.Context) (*ledger.Job, error)
	SizeKB(ctx context.Context) (float64, error)
}

// entryView is the truncated, display-only shape of a job row.
// Descriptor names longer than 90 chars are cut to 87 chars + "..." in list
// views (after original_source/src/db.py's SUBSTR(nzb_name,1,87) || '...');
// names of 90 chars or fewer are shown whole. Display-only, never applied
// to the stored value.
type entryView struct {
	ID           int64      `json:"id"`
	State        string     `json:"state"`
	CategoryPath string     `json:"category_path"`
	NZBName      string     `json:"nzb_name"`
	CreatedAt    time.Time  `json:"created_at"`
	DoneAt       *time.Time `json:"done_at,omitempty"`
	DLRetryCount int        `json:"dl_retry_count"`
}

func truncateName(name string) string {
	if len(name) <= 90 {
		return name
	}
	return name[:87] + "..."
}

func toEntryView(j ledger.Job) entryView {
	return entryView{
		ID:           j.ID,
		State:        string(j.State),
		CategoryPath: j.CategoryPath,
		NZBName:      truncateName(j.NZBName),
		CreatedAt:    j.CreatedAt,
		DoneAt:       j.DoneAt,
		DLRetryCount: j.DLRetryCount,
	}
}

// handleCurrentState serves the in-flight queue plus the ledger's
// aggregate counts, mirroring original_source/webserver.py's
// /api/current_state.
func (s *Server) handleCurrentState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	work, err := s.store.CurrentWork(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading current work: "+err.Error())
		return
	}

	counts, err := s.store.CountsByState(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading state counts: "+err.Error())
		return
	}

	dlRetry, stateRetry, moveRetry, err := s.store.RetrySums(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading retry sums: "+err.Error())
		return
	}

	sizeKB, err := s.store.SizeKB(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading db size: "+err.Error())
		return
	}

	views := make([]entryView, 0, len(work))
	for _, j := range work {
		views = append(views, toEntryView(j))
	}

	writeJSON(w, r, map[string]any{
		"current_work":    views,
		"counts_by_state": countsByStateJSON(counts),
		"retry_sums": map[string]int{
			"dl_retry_count":    dlRetry,
			"state_retry_count": stateRetry,
			"cld_dl_move_retry": moveRetry,
		},
		"db_size_kb":    sizeKB,
		"db_size_human": humanizeKB(sizeKB),
	})
}

// handleDoneFailed serves a page of terminal (done/failed) jobs using the
// same limit/offset query params as original_source/webserver.py's
// /api/done_failed (defaulting limit to DashboardConfig.PageSize rather
// than the original's hardcoded 10).
func (s *Server) handleDoneFailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := parsePositiveInt(r.URL.Query().Get("limit"), s.pageSize)
	offset := parsePositiveInt(r.URL.Query().Get("offset"), 0)

	jobs, err := s.store.TerminalPage(ctx, limit, offset)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading terminal page: "+err.Error())
		return
	}

	views := make([]entryView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, toEntryView(j))
	}

	writeJSON(w, r, map[string]any{
		"limit":   limit,
		"offset":  offset,
		"entries": views,
	})
}

// handleSummary serves last-added/last-done timestamps and the total job
// count, the remaining aggregates original_source/src/db.py exposes.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := s.store.TotalCount(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading total count: "+err.Error())
		return
	}

	lastAdded, err := s.store.LastAdded(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading last added: "+err.Error())
		return
	}
	lastDone, err := s.store.LastDone(ctx)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "loading last done: "+err.Error())
		return
	}

	resp := map[string]any{"total_count": total}
	if lastAdded != nil {
		resp["last_added"] = toEntryView(*lastAdded)
	}
	if lastDone != nil {
		resp["last_done"] = toEntryView(*lastDone)
	}
	writeJSON(w, r, resp)
}

func countsByStateJSON(counts map[ledger.State]int) map[string]int {
	out := make(map[string]int, len(counts))
	for state, n := range counts {
		out[string(state)] = n
	}
	return out
}

func parsePositiveInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func humanizeKB(kb float64) string {
	return humanize.Bytes(uint64(kb * 1024))
}
