// Package resource implements the OAuth2-protected MCP tool server. Every
// tool call arrives with a bearer token that is verified against the
// authorization server before any handler runs.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quartzlabs/gatekeeper-mcp/internal/config"
	"github.com/quartzlabs/gatekeeper-mcp/internal/httputil"
	"github.com/quartzlabs/gatekeeper-mcp/internal/introspect"
	"github.com/quartzlabs/gatekeeper-mcp/internal/logging"
	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/pkg/mcp"
)

// Server is the resource server: the tool registry, the demo data store, and
// the introspection client that vouches for bearer tokens.
type Server struct {
	cfg          config.ResourceServer
	introspector introspect.Introspector
	registry     *mcp.Server
	data         *dataStore
	log          *slog.Logger
}

// New builds a resource server. The introspector is usually a Cache around a
// Remote; tests pass a Local.
func New(cfg config.ResourceServer, introspector introspect.Introspector, log *slog.Logger) *Server {
	s := &Server{
		cfg:          cfg,
		introspector: introspector,
		registry:     mcp.NewServer(),
		data:         newDataStore(),
		log:          log,
	}
	s.registerTools()
	return s
}

// Register attaches all endpoints to the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/tools", s.handleListTools)
	mux.HandleFunc("/tools/call", s.handleToolCall)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "resource-server"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Tools()})
}

// bearerToken pulls the token out of the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return header[len(prefix):], true
}

// writeUnauthorized answers 401 with the RFC 6750 challenge. Used when the
// caller's identity could not be established at all.
func writeUnauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="resource", error="invalid_token"`)
	httputil.WriteOAuthError(w, http.StatusUnauthorized, oauth.NewError(oauth.ErrUnauthorized, "%s", description))
}

// writeForbidden answers 403. The caller is known; the token just does not
// carry what the operation needs.
func writeForbidden(w http.ResponseWriter, scope string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm="resource", error="insufficient_scope", scope=%q`, scope))
	httputil.WriteOAuthError(w, http.StatusForbidden, oauth.NewError(oauth.ErrForbidden, "token lacks required scope %q", scope))
}

// authenticate verifies the bearer token and returns the principal behind
// it. A missing, unknown, expired, or revoked token is indistinguishable to
// the caller: all are 401. An unreachable authorization server is 503 —
// the request is refused, but not blamed on the token.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*oauth.Introspection, bool) {
	log := logging.From(r.Context())

	token, ok := bearerToken(r)
	if !ok {
		writeUnauthorized(w, "missing bearer token")
		return nil, false
	}

	principal, err := s.introspector.Introspect(r.Context(), token)
	if err != nil {
		if errors.Is(err, introspect.ErrUnavailable) {
			log.Error("introspection unavailable", slog.String("error", err.Error()))
			httputil.WriteOAuthError(w, http.StatusServiceUnavailable,
				oauth.NewError(oauth.ErrUnavailable, "token verification is temporarily unavailable"))
			return nil, false
		}
		log.Error("introspection failed", slog.String("error", err.Error()))
		writeUnauthorized(w, "token could not be verified")
		return nil, false
	}
	if !principal.Active {
		writeUnauthorized(w, "token is not active")
		return nil, false
	}
	return principal, true
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteOAuthError(w, http.StatusMethodNotAllowed, oauth.NewError(oauth.ErrInvalidRequest, "method not allowed"))
		return
	}
	log := logging.From(r.Context())

	var call mcp.ToolCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		httputil.WriteOAuthError(w, http.StatusBadRequest, oauth.NewError(oauth.ErrInvalidRequest, "malformed tool call body"))
		return
	}

	tool, err := s.registry.Lookup(call.Name)
	if err != nil {
		httputil.WriteOAuthError(w, http.StatusNotFound, oauth.NewError(oauth.ErrInvalidRequest, "%s", err.Error()))
		return
	}

	var principal *oauth.Introspection
	if !tool.Public {
		p, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if tool.RequiredScope != "" && !oauth.HasScope(p.Scope, tool.RequiredScope) {
			log.Warn("tool call refused for missing scope",
				slog.String("tool", tool.Name),
				slog.String("username", p.Username),
				slog.String("scope", p.Scope))
			writeForbidden(w, tool.RequiredScope)
			return
		}
		principal = p
	}

	result, err := s.dispatch(call, principal)
	if err != nil {
		log.Error("tool call failed",
			slog.String("tool", tool.Name),
			slog.String("error", err.Error()))
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if principal != nil {
		log.Info("tool call served",
			slog.String("tool", tool.Name),
			slog.String("username", principal.Username),
			slog.String("client_id", principal.ClientID))
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
