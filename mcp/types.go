package mcp

import (
	"encoding/json"
	"strings"
)

// Protocol versions understood by the client, newest first
const (
	ProtocolVersion20250618 = "2025-06-18"
	ProtocolVersion20250326 = "2025-03-26"
	ProtocolVersion20241105 = "2024-11-05"

	// LatestProtocolVersion is requested in the initialize call
	LatestProtocolVersion = ProtocolVersion20250618
)

// SupportedProtocolVersions lists the versions a server may answer with
var SupportedProtocolVersions = []string{
	ProtocolVersion20250618,
	ProtocolVersion20250326,
	ProtocolVersion20241105,
}

// Methods
const (
	MethodInitialize              = "initialize"
	MethodNotificationInitialized = "notifications/initialized"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
)

// Implementation describes the name and version of an MCP peer
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is sent by the client to begin the handshake
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// ToolsCapability is present if the server offers tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ServerCapabilities are the capabilities announced by the server
type ServerCapabilities struct {
	Tools        *ToolsCapability           `json:"tools,omitempty"`
	Logging      json.RawMessage            `json:"logging,omitempty"`
	Prompts      json.RawMessage            `json:"prompts,omitempty"`
	Resources    json.RawMessage            `json:"resources,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// InitializeResult is the server answer to initialize
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ToolDescriptor is a tool as announced by tools/list
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams is the tools/list request
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is a page of tools
type ListToolsResult struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// CallToolParams is the tools/call request
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Content is an item of a tool result
type Content struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Data     string          `json:"data,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// CallToolResult is the tools/call result
type CallToolResult struct {
	Content           []Content       `json:"content"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
	IsError           bool            `json:"isError,omitempty"`
}

// Text returns the text items of the result joined by new lines.
// When the result has no text, the structured content is returned.
func (r *CallToolResult) Text() string {
	var texts []string
	for _, c := range r.Content {
		switch c.Type {
		case "text":
			texts = append(texts, c.Text)
		case "resource":
			var res struct {
				Text string `json:"text"`
			}
			if json.Unmarshal(c.Resource, &res) == nil && res.Text != "" {
				texts = append(texts, res.Text)
			}
		}
	}
	if len(texts) == 0 && len(r.StructuredContent) > 0 {
		return string(r.StructuredContent)
	}
	return strings.Join(texts, "\n")
}
