package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
)

func newTestDispatcher() *Dispatcher {
	reg := NewRegistry()
	adminScope := "admin"
	reg.RegisterTool(Tool{
		Name:        "admin_only",
		Description: "restricted tool",
		RequiredScope: &adminScope,
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			return TextResult("secret"), nil
		},
	})
	reg.RegisterTool(Tool{
		Name:        "public_echo",
		Description: "open tool",
		Schema:      Schema{Required: []string{"msg"}, Types: map[string]string{"msg": "string"}},
		Handler: func(ctx context.Context, args map[string]any, hc HandlerContext) (ToolResult, error) {
			return TextResult(args["msg"].(string)), nil
		},
	})
	return New(reg, ServerInfo{ProtocolVersion: "2024-11-05", Name: "test", Version: "0.0.1"})
}

func callTool(t *testing.T, d *Dispatcher, auth Auth, name string, args map[string]any) Response {
	t.Helper()
	argsJSON, _ := json.Marshal(args)
	params, _ := json.Marshal(map[string]any{"name": name, "arguments": json.RawMessage(argsJSON)})
	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/call", Params: params})

	resps, err := d.Handle(context.Background(), body, auth)
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 1 {
		t.Fatalf("expected exactly one response, got %d", len(resps))
	}
	return resps[0]
}

func toolResultOf(t *testing.T, resp Response) ToolResult {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatal(err)
	}
	var tr ToolResult
	if err := json.Unmarshal(raw, &tr); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestDispatcherToolsCallRejectsMissingScopeAsToolResultNotRPCError(t *testing.T) {
	d := newTestDispatcher()
	resp := callTool(t, d, Auth{}, "admin_only", nil)

	if resp.Error != nil {
		t.Fatalf("scope failures must surface as a tool result, not a JSON-RPC error: %+v", resp.Error)
	}
	tr := toolResultOf(t, resp)
	if !tr.IsError {
		t.Error("expected IsError true for an insufficient-scope call")
	}
}

func TestDispatcherToolsCallAdmitsMatchingScope(t *testing.T) {
	d := newTestDispatcher()
	resp := callTool(t, d, Auth{Scopes: map[string]struct{}{"admin": {}}}, "admin_only", nil)

	tr := toolResultOf(t, resp)
	if tr.IsError {
		t.Fatalf("admin-scoped caller should succeed, got error result: %+v", tr)
	}
	if tr.Content[0].Text != "secret" {
		t.Errorf("Text = %q, want secret", tr.Content[0].Text)
	}
}

func TestDispatcherToolsCallAllScopesBypassesAnyRequirement(t *testing.T) {
	d := newTestDispatcher()
	resp := callTool(t, d, Auth{AllScopes: true}, "admin_only", nil)

	tr := toolResultOf(t, resp)
	if tr.IsError {
		t.Fatalf("AllScopes session should bypass scope gating, got: %+v", tr)
	}
}

func TestDispatcherToolsCallValidatesSchema(t *testing.T) {
	d := newTestDispatcher()
	resp := callTool(t, d, Auth{}, "public_echo", map[string]any{})

	tr := toolResultOf(t, resp)
	if !tr.IsError {
		t.Error("expected a schema validation failure for a missing required field")
	}
}

func TestDispatcherToolsListFiltersByScope(t *testing.T) {
	d := newTestDispatcher()
	body, _ := json.Marshal(Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})

	resps, err := d.Handle(context.Background(), body, Auth{})
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := json.Marshal(resps[0].Result)
	var out struct {
		Tools []toolSummary `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	for _, tool := range out.Tools {
		if tool.Name == "admin_only" {
			t.Error("tools/list must not advertise a tool the caller lacks scope for")
		}
	}
}

func TestDispatcherBatchRequestRunsEachIndependently(t *testing.T) {
	d := newTestDispatcher()
	body := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"ping"},
		{"jsonrpc":"2.0","id":2,"method":"unknown_method"}
	]`)

	resps, err := d.Handle(context.Background(), body, Auth{})
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 2 {
		t.Fatalf("expected 2 responses (notification suppressed), got %d", len(resps))
	}
	if resps[1].Error == nil || resps[1].Error.Code != CodeMethodNotFound {
		t.Errorf("expected method-not-found error for unknown method, got %+v", resps[1])
	}
}
