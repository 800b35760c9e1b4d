// Package httputil holds the JSON response helpers shared by the
// authorization and resource servers.
package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
)

// WriteJSON serializes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response body", slog.String("error", err.Error()))
	}
}

// WriteOAuthError writes an RFC 6749 error body.
func WriteOAuthError(w http.ResponseWriter, status int, e *oauth.Error) {
	WriteJSON(w, status, e)
}
