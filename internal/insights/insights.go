package insights

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lifeledger/lifeledger/internal/gateway"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// Valid time periods for insight generation.
const (
	PeriodLast7Days  = "last_7_days"
	PeriodLast30Days = "last_30_days"
	PeriodLast90Days = "last_90_days"
	PeriodAllTime    = "all_time"
)

// DefaultSuggestion is returned when there is nothing concrete to build
// suggestions from.
const DefaultSuggestion = "Keep reflecting on your days. Each entry is a valuable piece of your personal story."

// EntrySource lists the storage operations the service needs.
// Implemented by storage.Store.
type EntrySource interface {
	ListEntriesSince(since time.Time) ([]storage.Entry, error)
}

// Completer sends a prompt to the AI gateway.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts gateway.CallOptions) (string, error)
}

// Report is the structured analysis of a period of journal entries.
type Report struct {
	Highlights []string `json:"highlights"`
	Challenges []string `json:"challenges"`
	KeyThemes  []string `json:"key_themes"`
}

// Service generates period insights and life suggestions. Both are
// synchronous best-effort calls: nothing is persisted, and a gateway
// failure surfaces directly to the caller.
type Service struct {
	store  EntrySource
	ai     Completer
	logger *slog.Logger
}

func NewService(store EntrySource, ai Completer) *Service {
	return &Service{
		store:  store,
		ai:     ai,
		logger: slog.Default(),
	}
}

// periodStart resolves a period name to its window start. Unknown periods
// default to the last 30 days, matching the dashboard behavior.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case PeriodLast7Days:
		return now.AddDate(0, 0, -7)
	case PeriodLast90Days:
		return now.AddDate(0, 0, -90)
	case PeriodAllTime:
		return time.Time{}
	default:
		return now.AddDate(0, 0, -30)
	}
}

// GenerateInsights analyzes the entries in the period and extracts
// highlights, challenges, and recurring themes. An empty period yields an
// empty report without calling the gateway.
func (s *Service) GenerateInsights(ctx context.Context, period string) (Report, error) {
	entries, err := s.store.ListEntriesSince(periodStart(period, time.Now()))
	if err != nil {
		return Report{}, fmt.Errorf("loading entries: %w", err)
	}
	if len(entries) == 0 {
		s.logger.Warn("no entries found for insights period", "period", period)
		return Report{Highlights: []string{}, Challenges: []string{}, KeyThemes: []string{}}, nil
	}

	var combined strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&combined, "\n--- Entry from %s ---\n%s\n", e.CreatedAt.Format("2006-01-02"), e.Content)
	}

	prompt := "You are an insightful life coach. Analyze this collection of journal entries. " +
		"Summarize the key points into three categories: 'highlights', 'challenges', and 'key_themes'. " +
		"List 2-4 points for each. If a category is empty, return an empty list for it. " +
		"Respond ONLY with a valid JSON object.\n\n" +
		"Journal Entries:\n\"\"\"\n" + combined.String() + "\n\"\"\""

	answer, err := s.ai.Complete(ctx, prompt, gateway.CallOptions{
		MaxTokens:   1000,
		Temperature: 0.5,
		JSONObject:  true,
	})
	if err != nil {
		return Report{}, fmt.Errorf("requesting insights: %w", err)
	}

	obj, err := extractJSONObject(answer)
	if err != nil {
		return Report{}, fmt.Errorf("parsing insights answer: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return Report{}, fmt.Errorf("parsing insights answer: %w", err)
	}
	for _, key := range []string{"highlights", "challenges", "key_themes"} {
		if _, ok := fields[key]; !ok {
			return Report{}, fmt.Errorf("insights answer missing %q", key)
		}
	}

	var report Report
	if err := json.Unmarshal([]byte(obj), &report); err != nil {
		return Report{}, fmt.Errorf("parsing insights answer: %w", err)
	}
	return report, nil
}

// GenerateSuggestions turns an insights report into 2-3 actionable
// suggestions. With nothing to work from it short-circuits to a fixed
// reflective suggestion without calling the gateway.
func (s *Service) GenerateSuggestions(ctx context.Context, report Report) ([]string, error) {
	if len(report.Highlights) == 0 && len(report.Challenges) == 0 {
		s.logger.Warn("no highlights or challenges, returning default suggestion")
		return []string{DefaultSuggestion}, nil
	}

	highlights := "None provided."
	if len(report.Highlights) > 0 {
		highlights = "- " + strings.Join(report.Highlights, "\n- ")
	}
	challenges := "None provided."
	if len(report.Challenges) > 0 {
		challenges = "- " + strings.Join(report.Challenges, "\n- ")
	}

	prompt := "You are an empathetic and action-oriented AI life coach. Your client has shared the following " +
		"summary from their journal. Your task is to provide 2-3 concrete, encouraging, and actionable " +
		"suggestions based on this summary. Directly address the user's points.\n\n" +
		"**User's Highlights (Things that went well):**\n" + highlights + "\n\n" +
		"**User's Challenges (Things that were difficult):**\n" + challenges + "\n\n" +
		"**Your Task:**\n" +
		"1. **Acknowledge and Build:** Start with a suggestion that builds on a highlight.\n" +
		"2. **Offer a Small Step:** Provide a gentle, manageable suggestion for one of the challenges.\n" +
		"3. **Provide an Insightful Question:** End with a thoughtful question that encourages deeper reflection.\n" +
		"4. **Important:** Respond ONLY with a JSON object in the format: " +
		`{"suggestions": ["Suggestion 1...", "Suggestion 2...", "Suggestion 3..."]}. ` +
		"Do NOT add any introductory text, markdown, or explanations outside of the JSON."

	answer, err := s.ai.Complete(ctx, prompt, gateway.CallOptions{
		MaxTokens:   500,
		Temperature: 0.7,
		JSONObject:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("requesting suggestions: %w", err)
	}

	obj, err := extractJSONObject(answer)
	if err != nil {
		return nil, fmt.Errorf("parsing suggestions answer: %w", err)
	}

	var parsed struct {
		Suggestions []string `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return nil, fmt.Errorf("parsing suggestions answer: %w", err)
	}
	if len(parsed.Suggestions) == 0 {
		return nil, fmt.Errorf("suggestions answer is empty or malformed")
	}
	return parsed.Suggestions, nil
}

// extractJSONObject returns the outermost JSON object in s. Models
// sometimes surround the requested JSON with prose.
func extractJSONObject(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found")
	}
	return s[start : end+1], nil
}
