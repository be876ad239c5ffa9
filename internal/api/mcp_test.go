package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/lifeledger/lifeledger/internal/storage"
)

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	deps, _ := newTestDeps(t)
	return MCPDeps{
		Store:      deps.Store,
		Prefs:      deps.Prefs,
		Dispatcher: deps.Dispatcher,
		Status:     deps.Status,
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_AddEntry(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddEntry(deps)

	req := makeCallToolRequest("add_entry", map[string]interface{}{
		"title":   "From an agent",
		"content": "Dictated this entry over MCP.",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	entries, err := deps.Store.ListEntries(10, 0)
	if err != nil {
		t.Fatalf("listing entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Content != "Dictated this entry over MCP." {
		t.Errorf("unexpected content: %q", e.Content)
	}
	// Enrichment was queued for every kind.
	if e.QuoteTaskID == "" || e.MoodTaskID == "" || e.TagsTaskID == "" {
		t.Errorf("enrichment not dispatched: %+v", e)
	}
}

func TestMCPTool_AddEntryValidation(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddEntry(deps)

	for name, args := range map[string]map[string]interface{}{
		"missing content": {"title": "x"},
		"blank content":   {"content": "   "},
		"bad mood":        {"content": "ok", "mood": "wistful"},
	} {
		result, err := handler(context.Background(), makeCallToolRequest("add_entry", args))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if !result.IsError {
			t.Errorf("%s: expected tool error", name)
		}
	}
}

func TestMCPTool_GetEntryAndAIStatus(t *testing.T) {
	deps := newTestMCPDeps(t)

	addResult, err := mcpAddEntry(deps)(context.Background(), makeCallToolRequest("add_entry", map[string]interface{}{
		"content": "check my status",
		"mood":    "calm",
	}))
	if err != nil || addResult.IsError {
		t.Fatalf("add_entry failed: %v %v", err, addResult)
	}
	entries, _ := deps.Store.ListEntries(1, 0)
	id := entries[0].ID

	getResult, err := mcpGetEntry(deps)(context.Background(), makeCallToolRequest("get_entry", map[string]interface{}{
		"entry_id": id,
	}))
	if err != nil || getResult.IsError {
		t.Fatalf("get_entry failed: %v", err)
	}
	var entry entryResponse
	if err := json.Unmarshal([]byte(toolText(t, getResult)), &entry); err != nil {
		t.Fatalf("parsing entry: %v", err)
	}
	if entry.ID != id || entry.Mood != "calm" {
		t.Errorf("unexpected entry: %+v", entry)
	}

	statusResult, err := mcpAIStatus(deps)(context.Background(), makeCallToolRequest("ai_status", map[string]interface{}{
		"entry_id": id,
	}))
	if err != nil || statusResult.IsError {
		t.Fatalf("ai_status failed: %v", err)
	}
	var status struct {
		TaskStatuses map[string]string `json:"task_statuses"`
		AllDone      bool              `json:"all_done"`
	}
	if err := json.Unmarshal([]byte(toolText(t, statusResult)), &status); err != nil {
		t.Fatalf("parsing status: %v", err)
	}
	// Mood was user-supplied, so its kind finalized at dispatch time.
	if status.TaskStatuses["mood_status"] != "SUCCESS" {
		t.Errorf("expected mood SUCCESS, got %v", status.TaskStatuses)
	}
	if status.TaskStatuses["quote_status"] != "PENDING" {
		t.Errorf("expected quote PENDING, got %v", status.TaskStatuses)
	}
}

func TestMCPTool_ListTags(t *testing.T) {
	deps := newTestMCPDeps(t)

	result, err := mcpListTags(deps)(context.Background(), makeCallToolRequest("list_tags", nil))
	if err != nil || result.IsError {
		t.Fatalf("list_tags failed: %v", err)
	}
	if toolText(t, result) != "[]" {
		t.Errorf("expected empty list, got %s", toolText(t, result))
	}

	deps.Store.CreateTag(storage.Tag{ID: "t1", Name: "Work", Emoji: "💼"})
	result, err = mcpListTags(deps)(context.Background(), makeCallToolRequest("list_tags", nil))
	if err != nil || result.IsError {
		t.Fatalf("list_tags failed: %v", err)
	}
	var tags []struct {
		Name  string `json:"name"`
		Emoji string `json:"emoji"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &tags); err != nil {
		t.Fatalf("parsing tags: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "Work" {
		t.Errorf("unexpected tags: %+v", tags)
	}
}

func TestMCPResource_Preferences(t *testing.T) {
	deps := newTestMCPDeps(t)

	contents, err := mcpResourcePreferences(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "journal://preferences"},
	})
	if err != nil {
		t.Fatalf("reading resource: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var prefs map[string]bool
	if err := json.Unmarshal([]byte(text.Text), &prefs); err != nil {
		t.Fatalf("parsing preferences: %v", err)
	}
	if !prefs["enable_quotes"] {
		t.Errorf("defaults must be enabled: %v", prefs)
	}
}
