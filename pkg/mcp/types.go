package mcp

// Tool describes one MCP tool a server exposes. RequiredScope is the OAuth
// scope a bearer token must carry to invoke it; a tool with an empty
// RequiredScope still needs a valid token unless Public is set.
type Tool struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	InputSchema   map[string]any `json:"inputSchema"`
	RequiredScope string         `json:"requiredScope,omitempty"`
	Public        bool           `json:"public,omitempty"`
}

// ToolCall is a tool invocation request.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is what a tool call returns.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one block of a tool result.
type ContentBlock struct {
	Type string `json:"type"` // "text" or "image"
	Text string `json:"text,omitempty"`
}

// NewTextResult wraps plain text in a successful tool result.
func NewTextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// NewErrorResult wraps an error message in a failed tool result.
func NewErrorResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}, IsError: true}
}
