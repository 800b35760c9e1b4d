package resource

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quartzlabs/gatekeeper-mcp/internal/oauth"
	"github.com/quartzlabs/gatekeeper-mcp/pkg/mcp"
)

// record is one stored data item. Ownership gates reads: only the owner or
// an admin-scoped caller may see it.
type record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Data      string    `json:"data"`
	UpdatedAt time.Time `json:"updated_at"`
}

// dataStore is the in-memory backing store for the demo tools.
type dataStore struct {
	mu      sync.RWMutex
	records map[string]record
}

func newDataStore() *dataStore {
	ds := &dataStore{records: make(map[string]record)}
	now := time.Now()
	for _, r := range []record{
		{ID: "doc-1", Owner: "alice", Data: "alice's quarterly notes", UpdatedAt: now},
		{ID: "doc-2", Owner: "bob", Data: "bob's draft", UpdatedAt: now},
		{ID: "doc-3", Owner: "alice", Data: "shared planning sketch", UpdatedAt: now},
	} {
		ds.records[r.ID] = r
	}
	return ds
}

func (ds *dataStore) get(id string) (record, bool) {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	r, ok := ds.records[id]
	return r, ok
}

func (ds *dataStore) put(r record) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.records[r.ID] = r
}

// visibleTo lists the records a caller may read, sorted by ID.
func (ds *dataStore) visibleTo(username string, admin bool) []record {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var out []record
	for _, r := range ds.records {
		if admin || r.Owner == username {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (ds *dataStore) count() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return len(ds.records)
}

// registerTools declares the tool catalog. RequiredScope is what the bearer
// token must carry before the handler even runs; finer checks (ownership)
// happen inside the handlers.
func (s *Server) registerTools() {
	s.registry.RegisterTool(mcp.Tool{
		Name:        "get_user_profile",
		Description: "Return the authenticated caller's identity and granted scopes",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	})
	s.registry.RegisterTool(mcp.Tool{
		Name:        "list_resources",
		Description: "List the data records visible to the caller",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	})
	s.registry.RegisterTool(mcp.Tool{
		Name:        "read_data",
		Description: "Read one data record by id; callers may read their own records, admins may read any",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "Record ID"},
			},
			"required": []string{"id"},
		},
		RequiredScope: "read",
	})
	s.registry.RegisterTool(mcp.Tool{
		Name:        "write_data",
		Description: "Create or overwrite a data record owned by the caller",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id":   map[string]any{"type": "string", "description": "Record ID"},
				"data": map[string]any{"type": "string", "description": "Record contents"},
			},
			"required": []string{"id", "data"},
		},
		RequiredScope: "write",
	})
	s.registry.RegisterTool(mcp.Tool{
		Name:          "admin_operation",
		Description:   "Return server statistics; admin only",
		InputSchema:   map[string]any{"type": "object", "properties": map[string]any{}},
		RequiredScope: "admin",
	})
	s.registry.RegisterTool(mcp.Tool{
		Name:        "public_info",
		Description: "Describe this server; no authentication required",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		Public:      true,
	})
}

// dispatch runs a tool call for an authenticated principal. The scope gate
// has already passed; this is the business logic.
func (s *Server) dispatch(call mcp.ToolCall, principal *oauth.Introspection) (mcp.ToolResult, error) {
	switch call.Name {
	case "get_user_profile":
		return s.getUserProfile(principal)
	case "list_resources":
		return s.listResources(principal)
	case "read_data":
		return s.readData(call, principal)
	case "write_data":
		return s.writeData(call, principal)
	case "admin_operation":
		return s.adminOperation(principal)
	case "public_info":
		return s.publicInfo()
	default:
		return mcp.NewErrorResult(fmt.Sprintf("unknown tool %q", call.Name)), nil
	}
}

func jsonResult(v any) (mcp.ToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.ToolResult{}, fmt.Errorf("encoding tool result: %w", err)
	}
	return mcp.NewTextResult(string(body)), nil
}

func (s *Server) getUserProfile(principal *oauth.Introspection) (mcp.ToolResult, error) {
	return jsonResult(map[string]any{
		"username":  principal.Username,
		"client_id": principal.ClientID,
		"scope":     principal.Scope,
		"expires":   time.Unix(principal.Exp, 0).UTC().Format(time.RFC3339),
	})
}

func (s *Server) listResources(principal *oauth.Introspection) (mcp.ToolResult, error) {
	admin := oauth.HasScope(principal.Scope, "admin")
	records := s.data.visibleTo(principal.Username, admin)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return jsonResult(map[string]any{"resources": ids, "count": len(ids)})
}

func (s *Server) readData(call mcp.ToolCall, principal *oauth.Introspection) (mcp.ToolResult, error) {
	id, _ := call.Arguments["id"].(string)
	if id == "" {
		return mcp.NewErrorResult("argument \"id\" is required"), nil
	}
	r, ok := s.data.get(id)
	if !ok {
		return mcp.NewErrorResult(fmt.Sprintf("no record %q", id)), nil
	}
	if r.Owner != principal.Username && !oauth.HasScope(principal.Scope, "admin") {
		return mcp.NewErrorResult(fmt.Sprintf("record %q belongs to another user", id)), nil
	}
	return jsonResult(r)
}

func (s *Server) writeData(call mcp.ToolCall, principal *oauth.Introspection) (mcp.ToolResult, error) {
	id, _ := call.Arguments["id"].(string)
	data, _ := call.Arguments["data"].(string)
	if id == "" || data == "" {
		return mcp.NewErrorResult("arguments \"id\" and \"data\" are required"), nil
	}
	if existing, ok := s.data.get(id); ok && existing.Owner != principal.Username && !oauth.HasScope(principal.Scope, "admin") {
		return mcp.NewErrorResult(fmt.Sprintf("record %q belongs to another user", id)), nil
	}
	r := record{ID: id, Owner: principal.Username, Data: data, UpdatedAt: time.Now()}
	s.data.put(r)
	return jsonResult(r)
}

func (s *Server) publicInfo() (mcp.ToolResult, error) {
	return jsonResult(map[string]any{
		"server":      "resource-server",
		"description": "OAuth2-protected MCP tool server",
		"auth_server": s.cfg.AuthServerURL,
	})
}

func (s *Server) adminOperation(principal *oauth.Introspection) (mcp.ToolResult, error) {
	return jsonResult(map[string]any{
		"records":    s.data.count(),
		"registered": len(s.registry.Tools()),
		"invoked_by": principal.Username,
		"server":     "resource-server",
	})
}
