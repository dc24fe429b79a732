// Package facade implements the protocol façade (C7): the JSON-RPC tool
// dialect, the agent-card discovery document, and the SSE progress stream,
// all sharing one tool catalog and one task runner. Grounded on the
// teacher's internal/web (HTTP handler conventions, jsonResponse/jsonError
// helpers, method-switch routing) and internal/gateway/ws_control_plane.go
// (event-session loop shape, adapted from WebSocket frames to one-way SSE
// events).
package facade

import (
	"encoding/json"
)

// RPCRequest is the JSON-RPC 2.0 envelope accepted at POST /v1, per
// spec.md §4.7/§6.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC error code plus a stable errorKind string so
// clients can branch on failure class without parsing message text.
type RPCError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	ErrorKind string `json:"errorKind,omitempty"`
}

const (
	// ErrCodeMethodNotFound matches spec.md §4.7's −32601 for unknown method.
	ErrCodeMethodNotFound = -32601
	// ErrCodeInvalidParams matches spec.md §4.7's −32602 for malformed params.
	ErrCodeInvalidParams = -32602
	// ErrCodeParseError is returned when the request body itself isn't valid JSON-RPC.
	ErrCodeParseError = -32700
	// ErrCodeApplication is the base code for tool-execution failures; the
	// accompanying errorKind string is what clients are expected to branch on.
	ErrCodeApplication = -32000
)

// ContentItem is one element of a tools/call result, matching spec.md
// §4.7's `{content: [{type:"text", text}] | [{type:"image", mimeType, data}]}`
// contract. Tool implementations are expected to return a single
// ContentItem (as json.RawMessage) from Execute; the façade wraps it into
// the content array.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// ToolListEntry is one entry of a tools/list response.
type ToolListEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	RiskClass   string          `json:"riskClass,omitempty"`
	Async       bool            `json:"async,omitempty"`
}

type toolsListResult struct {
	Tools []ToolListEntry `json:"tools"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Async     bool            `json:"async"`
}

type tasksStatusParams struct {
	TaskID string `json:"taskId"`
}

type taskStatusResult struct {
	TaskID          string          `json:"taskId"`
	Status          string          `json:"status"`
	ProgressPercent int             `json:"progressPercent"`
	ProgressMessage string          `json:"progressMessage,omitempty"`
	ResultPayload   json.RawMessage `json:"resultPayload,omitempty"`
	ErrorDetails    string          `json:"errorDetails,omitempty"`
	Screenshots     []string        `json:"screenshots,omitempty"`
}

type taskSubmittedResult struct {
	TaskID string `json:"taskId"`
}

// AgentCard is the discovery document at GET /.well-known/agent.json, per
// spec.md §4.7.
type AgentCard struct {
	Name         string             `json:"name"`
	Description  string             `json:"description"`
	Version      string             `json:"version"`
	URL          string             `json:"url"`
	Capabilities AgentCapabilities  `json:"capabilities"`
}

// AgentCapabilities advertises protocol features the card's consumer can rely on.
type AgentCapabilities struct {
	Streaming bool `json:"streaming"`
}
