package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lifeledger/lifeledger/internal/enrich"
	"github.com/lifeledger/lifeledger/internal/profile"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store      *storage.Store
	Prefs      *profile.Manager
	Dispatcher *enrich.Dispatcher
	Status     *enrich.Aggregator
}

// NewMCPServer creates an MCP server exposing the journal to local agents.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"lifeledger",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("lifeledger — local personal journal with AI-enriched entries (quotes, mood, tags)."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_entry",
			mcp.WithDescription("Create a journal entry. AI enrichment (quote, mood, tags) is queued in the background."),
			mcp.WithString("title", mcp.Description("Title for the entry")),
			mcp.WithString("content", mcp.Description("The entry text"), mcp.Required()),
			mcp.WithString("mood", mcp.Description("Optional mood (happy, sad, angry, calm, neutral, excited). If omitted, AI detects it.")),
			mcp.WithArray("tags", mcp.Description("Optional tag names. If omitted, AI suggests matching tags.")),
		),
		mcpAddEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("get_entry",
			mcp.WithDescription("Fetch a journal entry by id, including any AI-derived quote, mood, and tags."),
			mcp.WithString("entry_id", mcp.Description("Entry id"), mcp.Required()),
		),
		mcpGetEntry(deps),
	)

	s.AddTool(
		mcp.NewTool("ai_status",
			mcp.WithDescription("Report the enrichment progress of an entry: per-kind task states and whether all are done."),
			mcp.WithString("entry_id", mcp.Description("Entry id"), mcp.Required()),
		),
		mcpAIStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("list_tags",
			mcp.WithDescription("List all known tags."),
		),
		mcpListTags(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journal://recent",
			"Recent Entries",
			mcp.WithResourceDescription("Last 10 journal entries as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"journal://preferences",
			"AI Preferences",
			mcp.WithResourceDescription("Current AI enrichment switches as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpAddEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcpError("content is required"), nil
		}

		title := req.GetString("title", "")
		mood := req.GetString("mood", "")
		if mood != "" && !validMood(mood) {
			return mcpError(fmt.Sprintf("unknown mood %q", mood)), nil
		}
		tagNames := req.GetStringSlice("tags", nil)

		now := time.Now().UTC()
		entry := storage.Entry{
			ID:        uuid.New().String(),
			Title:     title,
			Content:   content,
			Mood:      mood,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.SaveEntry(entry); err != nil {
			return mcpError(fmt.Sprintf("failed to save: %v", err)), nil
		}

		userTags, err := resolveTags(deps.Store, tagNames)
		if err != nil {
			return mcpError(fmt.Sprintf("saved entry but failed to save tags: %v", err)), nil
		}
		if len(userTags) > 0 {
			ids := make([]string, len(userTags))
			for i, t := range userTags {
				ids[i] = t.ID
			}
			if err := deps.Store.SetEntryTags(entry.ID, ids); err != nil {
				return mcpError(fmt.Sprintf("saved entry but failed to save tags: %v", err)), nil
			}
		}
		entry.Tags = userTags

		deps.Dispatcher.DispatchCreate(enrich.Mutation{
			Entry:          entry,
			ContentChanged: true,
			MoodSupplied:   mood != "",
			TagsSupplied:   len(userTags) > 0,
		})

		return mcpText(fmt.Sprintf("Stored entry %s", entry.ID)), nil
	}
}

func mcpGetEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entry_id")
		if err != nil {
			return mcpError("entry_id is required"), nil
		}

		entry, err := deps.Store.GetEntry(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get entry: %v", err)), nil
		}

		b, err := json.Marshal(renderEntry(entry))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entry: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAIStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("entry_id")
		if err != nil {
			return mcpError("entry_id is required"), nil
		}

		status, err := deps.Status.Status(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"task_statuses": map[string]string{
				"quote_status": string(status.Kinds[enrich.KindQuote]),
				"mood_status":  string(status.Kinds[enrich.KindMood]),
				"tags_status":  string(status.Kinds[enrich.KindTags]),
			},
			"all_done": status.AllDone,
			"ai_quote": status.AIQuote,
			"mood":     status.Mood,
			"tags":     status.TagNames,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListTags(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		tags, err := deps.Store.ListTags()
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list tags: %v", err)), nil
		}
		if len(tags) == 0 {
			return mcpText("[]"), nil
		}

		type tagResult struct {
			Name  string `json:"name"`
			Emoji string `json:"emoji,omitempty"`
		}
		results := make([]tagResult, len(tags))
		for i, t := range tags {
			results[i] = tagResult{Name: t.Name, Emoji: t.Emoji}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal tags: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := deps.Store.ListEntries(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries: %w", err)
		}

		out := make([]entryResponse, len(entries))
		for i, e := range entries {
			out[i] = renderEntry(e)
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal entries: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		prefs, err := deps.Prefs.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get preferences: %w", err)
		}

		b, err := json.Marshal(prefs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
