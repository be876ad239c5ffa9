package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a journal entry",
	Long: `Create a journal entry. AI enrichment runs in the background.

Examples:
  lifeledger add --content "Finally shipped the release today."
  lifeledger add --title "Rough day" --content "..." --mood sad
  lifeledger add --content "..." --tags Work,Health`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		mood, _ := cmd.Flags().GetString("mood")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if content == "" {
			return fmt.Errorf("--content is required")
		}

		req := map[string]any{
			"title":   title,
			"content": content,
		}
		if mood != "" {
			req["mood"] = mood
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/entries", req)
		if err != nil {
			return err
		}

		var result struct {
			EntryID string            `json:"entry_id"`
			TaskIDs map[string]string `json:"task_ids"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Created entry %s (%d enrichment tasks queued)", result.EntryID, len(result.TaskIDs))
		return nil
	},
}

func init() {
	addCmd.Flags().String("title", "", "title for the entry")
	addCmd.Flags().String("content", "", "the entry text")
	addCmd.Flags().String("mood", "", "mood (happy, sad, angry, calm, neutral, excited)")
	addCmd.Flags().String("tags", "", "comma-separated tag names")
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <entry-id>",
	Short: "Show a single entry as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/entries/"+args[0])
		if err != nil {
			return err
		}

		var entry any
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entry)
	},
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/entries?limit=%d", limit))
		if err != nil {
			return err
		}

		var entries []struct {
			ID        string   `json:"id"`
			Title     string   `json:"title"`
			Mood      string   `json:"mood"`
			Tags      []string `json:"tags"`
			CreatedAt string   `json:"created_at"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Println("No entries found.")
			return nil
		}

		for _, e := range entries {
			title := e.Title
			if title == "" {
				title = "(untitled)"
			}
			line := fmt.Sprintf("%s  %s  %s",
				colorize(colorCyan, e.ID[:8]),
				e.CreatedAt,
				title,
			)
			if e.Mood != "" {
				line += fmt.Sprintf("  [%s]", e.Mood)
			}
			if len(e.Tags) > 0 {
				line += "  " + strings.Join(e.Tags, ",")
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 20, "maximum number of entries to list")
}

// --- ai-status ---

var aiStatusCmd = &cobra.Command{
	Use:   "ai-status <entry-id>",
	Short: "Show the AI enrichment progress of an entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/entries/"+args[0]+"/ai-status")
		if err != nil {
			return err
		}

		var status struct {
			TaskStatuses map[string]string `json:"task_statuses"`
			AllDone      bool              `json:"all_done"`
			AIQuote      string            `json:"ai_quote"`
			Mood         string            `json:"mood"`
			Tags         []string          `json:"tags"`
		}
		if err := decodeJSON(resp, &status); err != nil {
			return err
		}

		printStatus("Quote", "%s", status.TaskStatuses["quote_status"])
		printStatus("Mood", "%s", status.TaskStatuses["mood_status"])
		printStatus("Tags", "%s", status.TaskStatuses["tags_status"])
		if status.AllDone {
			printSuccess("All enrichment done")
		}
		if status.AIQuote != "" {
			fmt.Printf("\n  %q\n", status.AIQuote)
		}
		if status.Mood != "" {
			fmt.Printf("  Mood: %s\n", status.Mood)
		}
		if len(status.Tags) > 0 {
			fmt.Printf("  Tags: %s\n", strings.Join(status.Tags, ", "))
		}
		return nil
	},
}

// --- tags ---

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List all known tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tags")
		if err != nil {
			return err
		}

		var tags []struct {
			Name  string `json:"name"`
			Emoji string `json:"emoji"`
		}
		if err := decodeJSON(resp, &tags); err != nil {
			return err
		}

		if len(tags) == 0 {
			fmt.Println("No tags defined.")
			return nil
		}
		for _, t := range tags {
			if t.Emoji != "" {
				fmt.Printf("%s %s\n", t.Emoji, t.Name)
			} else {
				fmt.Println(t.Name)
			}
		}
		return nil
	},
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update AI preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the AI enrichment switches",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/preferences")
		if err != nil {
			return err
		}

		var prefs map[string]bool
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		for _, key := range []string{"enable_quotes", "enable_mood_detection", "enable_tag_suggestion"} {
			fmt.Printf("  %s = %t\n", colorize(colorBold, key), prefs[key])
		}
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <true|false>",
	Short: "Set one AI enrichment switch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		enabled := value == "true"
		if !enabled && value != "false" {
			return fmt.Errorf("value must be true or false, got %q", value)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/preferences", map[string]bool{key: enabled})
		if err != nil {
			return err
		}

		var prefs map[string]bool
		if err := decodeJSON(resp, &prefs); err != nil {
			return err
		}

		printSuccess("Set %s = %t", key, enabled)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Generate AI insights for a period of entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, _ := cmd.Flags().GetString("period")
		suggest, _ := cmd.Flags().GetBool("suggestions")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/insights?period="+period)
		if err != nil {
			return err
		}

		var report struct {
			Highlights []string `json:"highlights"`
			Challenges []string `json:"challenges"`
			KeyThemes  []string `json:"key_themes"`
		}
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		printSection := func(label string, items []string) {
			fmt.Printf("\n%s\n", colorize(colorBold, label))
			if len(items) == 0 {
				fmt.Println("  (none)")
				return
			}
			for _, item := range items {
				fmt.Printf("  - %s\n", item)
			}
		}
		printSection("Highlights", report.Highlights)
		printSection("Challenges", report.Challenges)
		printSection("Key themes", report.KeyThemes)

		if !suggest {
			return nil
		}

		suggResp, err := client.post(cmd.Context(), "/suggestions", report)
		if err != nil {
			return err
		}
		var parsed struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := decodeJSON(suggResp, &parsed); err != nil {
			return err
		}
		printSection("Suggestions", parsed.Suggestions)
		return nil
	},
}

func init() {
	insightsCmd.Flags().String("period", "last_30_days", "period: last_7_days, last_30_days, last_90_days, all_time")
	insightsCmd.Flags().Bool("suggestions", false, "also generate actionable suggestions")
}
