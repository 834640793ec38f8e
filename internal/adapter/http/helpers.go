package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/formbridge/ingest/internal/domain/errkind"
)

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeInternalError logs the actual error server-side and returns a generic,
// kind-tagged envelope to the client (spec §4.13: opaque-safe message).
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeErrEnvelope(w, http.StatusInternalServerError, errkind.StoreUnavailable, "internal server error")
}
