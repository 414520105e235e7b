package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeJSON encodes v as the body of a 200 response. Grounded on the JSON
// envelope shape internal/infrastructure/http/response's tests describe
// (OK/Error helpers); that package ships no buildable implementation in
// the teacher itself, so this is a fresh, minimal reimplementation of the
// same contract rather than an adaptation of dead code.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode dashboard response", "error", err)
	}
}

// writeError encodes a {"error": msg} body with the given status code.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode dashboard error response", "error", err)
	}
}
