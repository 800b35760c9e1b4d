// Package mcp holds the tool registry and wire types for an MCP-style tool
// server. Transport and authorization live with the caller; this package only
// knows which tools exist.
package mcp

import "fmt"

// Server is a tool registry. Registration happens once at startup; lookups
// after that are read-only, so no locking is needed.
type Server struct {
	tools  []Tool
	byName map[string]Tool
}

// NewServer creates an empty registry.
func NewServer() *Server {
	return &Server{byName: make(map[string]Tool)}
}

// RegisterTool adds a tool. Re-registering a name replaces the old entry.
func (s *Server) RegisterTool(tool Tool) {
	if _, exists := s.byName[tool.Name]; exists {
		for i := range s.tools {
			if s.tools[i].Name == tool.Name {
				s.tools[i] = tool
				break
			}
		}
	} else {
		s.tools = append(s.tools, tool)
	}
	s.byName[tool.Name] = tool
}

// Tools lists every registered tool in registration order.
func (s *Server) Tools() []Tool {
	out := make([]Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Lookup resolves a tool by name.
func (s *Server) Lookup(name string) (Tool, error) {
	tool, ok := s.byName[name]
	if !ok {
		return Tool{}, fmt.Errorf("unknown tool %q", name)
	}
	return tool, nil
}
