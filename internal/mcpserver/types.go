// Package mcpserver implements the JSON-RPC 2.0 tool/resource/prompt
// surface described by spec.md 4.12: MCP (Model Context Protocol)
// served over HTTP, with process-wide registries populated at startup
// and scope-gated at call time. The registration-model idiom (items
// register themselves into a process-wide map, read-only thereafter) is
// grounded on the teacher's config.MCPServerRegistry init-once
// container (pkg/config/registry, referenced by pkg/mcp/client.go),
// here inverted from "client registry of servers to call" to "server
// registry of tools to expose".
package mcpserver

import "encoding/json"

// JSON-RPC 2.0 error codes (spec.md 4.12).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MaxBatchSize bounds how many requests a single JSON-RPC batch may
// carry (spec.md 4.12).
const MaxBatchSize = 10

// MaxBodyBytes bounds the raw request body size (spec.md 4.12).
const MaxBodyBytes = 1 << 20 // 1 MiB

// Request is one JSON-RPC 2.0 request object. ID is raw JSON so both
// string and numeric ids round-trip; a missing ID marks a notification
// (spec.md 4.12: "Notifications... produce no response").
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether this request carries no id.
func (r Request) IsNotification() bool { return len(r.ID) == 0 }

// Response is one JSON-RPC 2.0 response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func errorResponse(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

// ToolResult is a tool handler's verbatim return shape (spec.md 4.12):
// textual content plus an isError flag for scope/validation failures
// that are reported as a tool result, never a JSON-RPC error.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool-result content. Only the "text"
// variant is produced by this server.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextResult builds a single-block text ToolResult.
func TextResult(text string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// ErrorResult builds a single-block text ToolResult with IsError set —
// the scope-gating and schema-validation failure shape spec.md 4.12
// requires (a result, not a JSON-RPC error).
func ErrorResult(reason string) ToolResult {
	return ToolResult{Content: []ContentBlock{{Type: "text", Text: reason}}, IsError: true}
}

// HandlerContext carries the auth/environment a tool or resource
// handler runs with; the execution context itself is passed as the
// handler's own context.Context argument (spec.md 4.12).
type HandlerContext struct {
	Auth Auth
	Env  map[string]string
}

// Auth describes the caller's scope grant. Session auth (AllScopes) is
// treated as "all scopes" per spec.md 4.12/glossary.
type Auth struct {
	AllScopes bool
	Scopes    map[string]struct{}
}

// Allows reports whether auth admits a required scope. A nil/empty
// required scope means public (spec.md 4.12).
func (a Auth) Allows(required *string) bool {
	if required == nil || *required == "" {
		return true
	}
	if a.AllScopes {
		return true
	}
	_, ok := a.Scopes[*required]
	return ok
}
