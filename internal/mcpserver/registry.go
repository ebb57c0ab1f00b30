package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolHandler implements a tool's behavior (spec.md 4.12). args is
// already schema-validated.
type ToolHandler func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error)

// Tool is a registered MCP tool.
type Tool struct {
	Name          string
	Description   string
	Schema        Schema // argument schema, validated before Handler runs
	RequiredScope *string
	Handler       ToolHandler
}

// ResourceHandler reads a resource by its resolved URI and any
// template-extracted parameters.
type ResourceHandler func(ctx context.Context, uri string, params map[string]string, hc HandlerContext) (ToolResult, error)

// Resource is a registered MCP resource. Exactly one of URI (exact
// match) or URITemplate ("uri-template" with {var} parameters) is set,
// per spec.md 4.12's "exact-URI lookup first, then template lookup".
type Resource struct {
	URI           string
	URITemplate   string
	Name          string
	Description   string
	RequiredScope *string
	Handler       ResourceHandler
}

// Prompt is a registered MCP prompt template.
type Prompt struct {
	Name          string
	Description   string
	RequiredScope *string
	Render        func(ctx context.Context, args map[string]any, hc HandlerContext) (string, error)
}

// Registry is the process-wide tool/resource/prompt lookup populated
// once at composition-root startup and read-only thereafter (spec.md
// 5, 9; spec.md 4.12's "Registration model").
type Registry struct {
	tools     map[string]Tool
	resources map[string]Resource
	templates []Resource
	prompts   map[string]Prompt
}

// NewRegistry constructs an empty Registry. Call RegisterTool /
// RegisterResource / RegisterPrompt during startup, before serving.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
		prompts:   make(map[string]Prompt),
	}
}

// RegisterTool adds a tool. Only legal during startup.
func (r *Registry) RegisterTool(t Tool) { r.tools[t.Name] = t }

// RegisterResource adds a resource (exact URI or template). Only legal
// during startup.
func (r *Registry) RegisterResource(res Resource) {
	if res.URITemplate != "" {
		r.templates = append(r.templates, res)
		return
	}
	r.resources[res.URI] = res
}

// RegisterPrompt adds a prompt. Only legal during startup.
func (r *Registry) RegisterPrompt(p Prompt) { r.prompts[p.Name] = p }

// ToolsFor returns the tools auth admits, sorted by name for stable output.
func (r *Registry) ToolsFor(auth Auth) []Tool {
	var out []Tool
	for _, t := range r.tools {
		if auth.Allows(t.RequiredScope) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ResourcesFor returns the exact-URI resources auth admits.
func (r *Registry) ResourcesFor(auth Auth) []Resource {
	var out []Resource
	for _, res := range r.resources {
		if auth.Allows(res.RequiredScope) {
			out = append(out, res)
		}
	}
	return out
}

// TemplatesFor returns the templated resources auth admits.
func (r *Registry) TemplatesFor(auth Auth) []Resource {
	var out []Resource
	for _, res := range r.templates {
		if auth.Allows(res.RequiredScope) {
			out = append(out, res)
		}
	}
	return out
}

// PromptsFor returns the prompts auth admits.
func (r *Registry) PromptsFor(auth Auth) []Prompt {
	var out []Prompt
	for _, p := range r.prompts {
		if auth.Allows(p.RequiredScope) {
			out = append(out, p)
		}
	}
	return out
}

// ResolveResource tries an exact URI match first, then each registered
// template in turn, per spec.md 4.12.
func (r *Registry) ResolveResource(uri string) (Resource, map[string]string, bool) {
	if res, ok := r.resources[uri]; ok {
		return res, nil, true
	}
	for _, tmpl := range r.templates {
		if params, ok := matchTemplate(tmpl.URITemplate, uri); ok {
			return tmpl, params, true
		}
	}
	return Resource{}, nil, false
}

// matchTemplate matches a simple RFC 6570-subset "uri-template" of the
// form "scheme://fixed/{var}/more" against a concrete uri, extracting
// {var} segments.
func matchTemplate(tmpl, uri string) (map[string]string, bool) {
	tParts := strings.Split(tmpl, "/")
	uParts := strings.Split(uri, "/")
	if len(tParts) != len(uParts) {
		return nil, false
	}
	params := make(map[string]string)
	for i, tp := range tParts {
		if strings.HasPrefix(tp, "{") && strings.HasSuffix(tp, "}") {
			params[tp[1:len(tp)-1]] = uParts[i]
			continue
		}
		if tp != uParts[i] {
			return nil, false
		}
	}
	return params, true
}

// Schema is a minimal JSON-Schema-shaped argument validator: required
// field presence and a coarse type check per field. It is intentionally
// narrow — spec.md 4.12 only requires "validates arguments against the
// tool's schema", not a full JSON Schema implementation.
type Schema struct {
	Required []string
	Types    map[string]string // field -> "string"|"number"|"boolean"|"object"|"array"
}

// Validate checks args against the schema, returning a slice of
// human-readable violations (empty if valid).
func (s Schema) Validate(args map[string]any) []string {
	var violations []string
	for _, field := range s.Required {
		if _, ok := args[field]; !ok {
			violations = append(violations, fmt.Sprintf("missing required field %q", field))
		}
	}
	for field, wantType := range s.Types {
		v, ok := args[field]
		if !ok {
			continue
		}
		if !typeMatches(v, wantType) {
			violations = append(violations, fmt.Sprintf("field %q must be of type %s", field, wantType))
		}
	}
	return violations
}

func typeMatches(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}

// decodeArgs unmarshals a tools/call params.arguments payload into a
// plain map, tolerating a missing/null arguments field as {}.
func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
