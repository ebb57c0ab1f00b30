package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServerInfo advertises the protocol version and capability set via
// "initialize" and the well-known configuration document (spec.md 6).
type ServerInfo struct {
	ProtocolVersion string
	Name            string
	Version         string
}

// Dispatcher is the JSON-RPC 2.0 server described by spec.md 4.12. It
// holds no state beyond the Registry it was constructed with — the
// registry itself is the only process-wide mutable-at-startup state
// (spec.md 5, 9).
type Dispatcher struct {
	registry *Registry
	info     ServerInfo
}

// New constructs a Dispatcher over a fully-populated Registry.
func New(registry *Registry, info ServerInfo) *Dispatcher {
	return &Dispatcher{registry: registry, info: info}
}

// Handle parses body as either a single JSON-RPC request or a batch
// (max MaxBatchSize) and returns the response(s) to send back. A nil
// return means nothing should be written (every request in the batch
// was a notification), per spec.md 4.12.
func (d *Dispatcher) Handle(ctx context.Context, body []byte, auth Auth) ([]Response, error) {
	if len(body) > MaxBodyBytes {
		return []Response{errorResponse(nil, CodeInvalidRequest, "request body exceeds 1 MiB limit")}, nil
	}

	trimmed := trimLeadingSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			return []Response{errorResponse(nil, CodeParseError, "parse error")}, nil
		}
		if len(raw) > MaxBatchSize {
			return []Response{errorResponse(nil, CodeInvalidRequest, fmt.Sprintf("batch exceeds max size of %d", MaxBatchSize))}, nil
		}
		var responses []Response
		for _, item := range raw {
			if resp, ok := d.handleOne(ctx, item, auth); ok {
				responses = append(responses, resp)
			}
		}
		return responses, nil
	}

	resp, ok := d.handleOne(ctx, body, auth)
	if !ok {
		return nil, nil
	}
	return []Response{resp}, nil
}

// handleOne dispatches a single JSON-RPC request object, returning
// (response, true) unless it was a notification, in which case
// (zeroValue, false) signals "no response" (spec.md 4.12).
func (d *Dispatcher) handleOne(ctx context.Context, raw json.RawMessage, auth Auth) (Response, bool) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, CodeParseError, "parse error"), true
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "invalid request: expected jsonrpc 2.0 object with a method"), true
	}

	isNotification := req.IsNotification()

	switch req.Method {
	case "initialize":
		return d.respond(req, isNotification, d.handleInitialize())
	case "ping":
		return d.respond(req, isNotification, map[string]any{})
	case "tools/list":
		return d.respond(req, isNotification, d.handleToolsList(auth))
	case "tools/call":
		result, err := d.handleToolsCall(ctx, req.Params, auth)
		if err != nil {
			return errorResponse(req.ID, CodeInvalidParams, err.Error()), true
		}
		return d.respond(req, isNotification, result)
	case "resources/list":
		return d.respond(req, isNotification, d.handleResourcesList(auth))
	case "resources/templates/list":
		return d.respond(req, isNotification, d.handleTemplatesList(auth))
	case "resources/read":
		result, err := d.handleResourcesRead(ctx, req.Params, auth)
		if err != nil {
			return errorResponse(req.ID, CodeInvalidParams, err.Error()), true
		}
		return d.respond(req, isNotification, result)
	case "prompts/list":
		return d.respond(req, isNotification, d.handlePromptsList(auth))
	case "prompts/get":
		result, err := d.handlePromptsGet(ctx, req.Params, auth)
		if err != nil {
			return errorResponse(req.ID, CodeInvalidParams, err.Error()), true
		}
		return d.respond(req, isNotification, result)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method)), true
	}
}

// respond suppresses the response entirely for a notification, per
// spec.md 4.12.
func (d *Dispatcher) respond(req Request, isNotification bool, result any) (Response, bool) {
	if isNotification {
		return Response{}, false
	}
	return resultResponse(req.ID, result), true
}

func (d *Dispatcher) handleInitialize() map[string]any {
	return map[string]any{
		"protocolVersion": d.info.ProtocolVersion,
		"serverInfo":      map[string]string{"name": d.info.Name, "version": d.info.Version},
		"capabilities": map[string]any{
			"tools":     map[string]any{},
			"resources": map[string]any{},
			"prompts":   map[string]any{},
		},
	}
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (d *Dispatcher) handleToolsList(auth Auth) map[string]any {
	tools := d.registry.ToolsFor(auth)
	out := make([]toolSummary, 0, len(tools))
	for _, t := range tools {
		out = append(out, toolSummary{Name: t.Name, Description: t.Description})
	}
	return map[string]any{"tools": out}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage, auth Auth) (ToolResult, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolResult{}, fmt.Errorf("invalid tools/call params: %w", err)
	}

	tool, ok := d.registry.tools[req.Name]
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", req.Name)), nil
	}
	// Scope is re-checked at call time even though tools/list already
	// filtered the list — a failure here is reported as a tool result
	// with isError, never a JSON-RPC error (spec.md 4.12).
	if !auth.Allows(tool.RequiredScope) {
		return ErrorResult(fmt.Sprintf("insufficient scope: tool %q requires scope %q", req.Name, derefScope(tool.RequiredScope))), nil
	}

	args, err := decodeArgs(req.Arguments)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if violations := tool.Schema.Validate(args); len(violations) > 0 {
		return ErrorResult(fmt.Sprintf("argument validation failed: %v", violations)), nil
	}

	result, err := tool.Handler(ctx, args, HandlerContext{Auth: auth})
	if err != nil {
		return ErrorResult(err.Error()), nil
	}
	return result, nil
}

type resourceSummary struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type templateSummary struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (d *Dispatcher) handleResourcesList(auth Auth) map[string]any {
	resources := d.registry.ResourcesFor(auth)
	out := make([]resourceSummary, 0, len(resources))
	for _, r := range resources {
		out = append(out, resourceSummary{URI: r.URI, Name: r.Name, Description: r.Description})
	}
	return map[string]any{"resources": out}
}

func (d *Dispatcher) handleTemplatesList(auth Auth) map[string]any {
	templates := d.registry.TemplatesFor(auth)
	out := make([]templateSummary, 0, len(templates))
	for _, r := range templates {
		out = append(out, templateSummary{URITemplate: r.URITemplate, Name: r.Name, Description: r.Description})
	}
	return map[string]any{"resourceTemplates": out}
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, params json.RawMessage, auth Auth) (ToolResult, error) {
	var req struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return ToolResult{}, fmt.Errorf("invalid resources/read params: %w", err)
	}

	res, pathParams, ok := d.registry.ResolveResource(req.URI)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown resource %q", req.URI)), nil
	}
	if !auth.Allows(res.RequiredScope) {
		return ErrorResult(fmt.Sprintf("insufficient scope: resource %q requires scope %q", req.URI, derefScope(res.RequiredScope))), nil
	}

	return res.Handler(ctx, req.URI, pathParams, HandlerContext{Auth: auth})
}

type promptSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (d *Dispatcher) handlePromptsList(auth Auth) map[string]any {
	prompts := d.registry.PromptsFor(auth)
	out := make([]promptSummary, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, promptSummary{Name: p.Name, Description: p.Description})
	}
	return map[string]any{"prompts": out}
}

func (d *Dispatcher) handlePromptsGet(ctx context.Context, params json.RawMessage, auth Auth) (map[string]any, error) {
	var req struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid prompts/get params: %w", err)
	}

	p, ok := d.registry.prompts[req.Name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt %q", req.Name)
	}
	if !auth.Allows(p.RequiredScope) {
		return nil, fmt.Errorf("insufficient scope: prompt %q requires scope %q", req.Name, derefScope(p.RequiredScope))
	}

	args, err := decodeArgs(req.Arguments)
	if err != nil {
		return nil, err
	}
	text, err := p.Render(ctx, args, HandlerContext{Auth: auth})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messages": []map[string]any{
			{"role": "user", "content": map[string]string{"type": "text", "text": text}},
		},
	}, nil
}

func derefScope(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}
