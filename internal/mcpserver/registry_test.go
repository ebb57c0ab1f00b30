package mcpserver

import (
	"context"
	"testing"
)

func TestAuthAllows(t *testing.T) {
	admin := "admin"
	anon := Auth{}
	scoped := Auth{Scopes: map[string]struct{}{"admin": {}}}
	all := Auth{AllScopes: true}

	if !anon.Allows(nil) {
		t.Error("nil required scope must be public")
	}
	if anon.Allows(&admin) {
		t.Error("anonymous caller must not be admitted to a scoped tool")
	}
	if !scoped.Allows(&admin) {
		t.Error("caller holding the exact scope must be admitted")
	}
	if !all.Allows(&admin) {
		t.Error("AllScopes must admit any required scope")
	}
}

func TestSchemaValidate(t *testing.T) {
	s := Schema{
		Required: []string{"groupSlug"},
		Types:    map[string]string{"groupSlug": "string", "limit": "number"},
	}

	if v := s.Validate(map[string]any{"groupSlug": "tampadevs"}); len(v) != 0 {
		t.Errorf("expected no violations, got %v", v)
	}
	if v := s.Validate(map[string]any{}); len(v) != 1 {
		t.Errorf("expected one missing-field violation, got %v", v)
	}
	if v := s.Validate(map[string]any{"groupSlug": "x", "limit": "ten"}); len(v) != 1 {
		t.Errorf("expected one type-mismatch violation, got %v", v)
	}
}

func TestMatchTemplate(t *testing.T) {
	params, ok := matchTemplate("event://{id}", "event://abc-123")
	if !ok || params["id"] != "abc-123" {
		t.Fatalf("expected match with id=abc-123, got %v ok=%v", params, ok)
	}

	if _, ok := matchTemplate("event://{id}", "group://abc-123"); ok {
		t.Error("mismatched scheme must not match")
	}
}

func TestRegistryResolveResourcePrefersExactMatch(t *testing.T) {
	reg := NewRegistry()
	exactCalled, templateCalled := false, false
	reg.RegisterResource(Resource{
		URI: "event://pinned",
		Handler: func(ctx context.Context, uri string, params map[string]string, hc HandlerContext) (ToolResult, error) {
			exactCalled = true
			return ToolResult{}, nil
		},
	})
	reg.RegisterResource(Resource{
		URITemplate: "event://{id}",
		Handler: func(ctx context.Context, uri string, params map[string]string, hc HandlerContext) (ToolResult, error) {
			templateCalled = true
			return ToolResult{}, nil
		},
	})

	res, _, ok := reg.ResolveResource("event://pinned")
	if !ok {
		t.Fatal("expected a match")
	}
	_, _ = res.Handler(context.Background(), "event://pinned", nil, HandlerContext{})
	if !exactCalled || templateCalled {
		t.Error("exact match must win over a template that would also match")
	}
}
