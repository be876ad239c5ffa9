package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lifeledger/lifeledger/internal/enrich"
	"github.com/lifeledger/lifeledger/internal/insights"
	"github.com/lifeledger/lifeledger/internal/profile"
	"github.com/lifeledger/lifeledger/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// AppDeps holds the collaborators the HTTP layer wires together.
type AppDeps struct {
	Store      *storage.Store
	Prefs      *profile.Manager
	Dispatcher *enrich.Dispatcher
	Status     *enrich.Aggregator
	Insights   *insights.Service
	Token      string
}

// NewAppHandler builds the journal HTTP API.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/entries", handleCreateEntry(deps))
		r.Get("/entries", handleListEntries(deps))
		r.Get("/entries/{id}", handleGetEntry(deps))
		r.Put("/entries/{id}", handleUpdateEntry(deps))
		r.Delete("/entries/{id}", handleDeleteEntry(deps))
		r.Get("/entries/{id}/ai-status", handleAIStatus(deps))

		r.Get("/tags", handleListTags(deps))
		r.Post("/tags", handleCreateTag(deps))

		r.Get("/preferences", handleGetPreferences(deps))
		r.Patch("/preferences", handlePatchPreferences(deps))

		r.Get("/insights", handleInsights(deps))
		r.Post("/suggestions", handleSuggestions(deps))
	})

	return r
}

type entryRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Mood    string   `json:"mood"`
	Tags    []string `json:"tags"`
}

type entryResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Mood      string    `json:"mood"`
	AIQuote   string    `json:"ai_quote"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func renderEntry(e storage.Entry) entryResponse {
	tags := make([]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = t.Name
	}
	return entryResponse{
		ID:        e.ID,
		Title:     e.Title,
		Content:   e.Content,
		Mood:      e.Mood,
		AIQuote:   e.AIQuote,
		Tags:      tags,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func validMood(mood string) bool {
	for _, m := range enrich.MoodVocabulary {
		if mood == m {
			return true
		}
	}
	return false
}

// capitalizeTag normalizes a user-supplied tag name for creation: first
// rune upper, rest lower. Existing tags keep their stored capitalization.
func capitalizeTag(name string) string {
	runes := []rune(strings.ToLower(name))
	if len(runes) > 0 {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}

// resolveTags maps user-supplied tag names to tag records, creating
// missing ones. Lookup is case-insensitive.
func resolveTags(store *storage.Store, names []string) ([]storage.Tag, error) {
	var tags []storage.Tag
	seen := make(map[string]bool)
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		tag, err := store.GetOrCreateTag(uuid.New().String(), capitalizeTag(name), "")
		if err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

// taskIDsJSON renders the dispatched task ids the way the polling client
// expects them.
func taskIDsJSON(taskIDs map[enrich.Kind]string) map[string]string {
	out := make(map[string]string, len(taskIDs))
	for kind, id := range taskIDs {
		out[string(kind)+"_task_id"] = id
	}
	return out
}

func handleCreateEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req entryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Mood != "" && !validMood(req.Mood) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mood %q", req.Mood)
			return
		}

		now := time.Now().UTC()
		entry := storage.Entry{
			ID:        uuid.New().String(),
			Title:     req.Title,
			Content:   req.Content,
			Mood:      req.Mood,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.SaveEntry(entry); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save entry: %v", err)
			return
		}

		userTags, err := resolveTags(deps.Store, req.Tags)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save tags: %v", err)
			return
		}
		if len(userTags) > 0 {
			ids := make([]string, len(userTags))
			for i, t := range userTags {
				ids[i] = t.ID
			}
			if err := deps.Store.SetEntryTags(entry.ID, ids); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save tags: %v", err)
				return
			}
		}
		entry.Tags = userTags

		taskIDs := deps.Dispatcher.DispatchCreate(enrich.Mutation{
			Entry:          entry,
			ContentChanged: true,
			MoodSupplied:   req.Mood != "",
			TagsSupplied:   len(userTags) > 0,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"entry_id": entry.ID,
			"task_ids": taskIDsJSON(taskIDs),
		})
	}
}

func handleUpdateEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		id := chi.URLParam(r, "id")
		existing, err := deps.Store.GetEntry(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load entry: %v", err)
			return
		}

		var req entryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if req.Mood != "" && !validMood(req.Mood) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown mood %q", req.Mood)
			return
		}

		contentChanged := req.Content != existing.Content
		moodSupplied := req.Mood != "" && req.Mood != existing.Mood

		mood := existing.Mood
		if req.Mood != "" {
			mood = req.Mood
		}
		if err := deps.Store.UpdateEntryContent(id, req.Title, req.Content, mood); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update entry: %v", err)
			return
		}

		// A content change starts a new enrichment cycle for every kind.
		if contentChanged {
			if err := deps.Store.ResetEntryLedger(id); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to reset enrichment state: %v", err)
				return
			}
		}

		tagsSupplied := false
		if req.Tags != nil {
			userTags, err := resolveTags(deps.Store, req.Tags)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save tags: %v", err)
				return
			}
			ids := make([]string, len(userTags))
			for i, t := range userTags {
				ids[i] = t.ID
			}
			if err := deps.Store.SetEntryTags(id, ids); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to save tags: %v", err)
				return
			}
			tagsSupplied = len(userTags) > 0
		}

		entry, err := deps.Store.GetEntry(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload entry: %v", err)
			return
		}

		taskIDs := deps.Dispatcher.DispatchUpdate(enrich.Mutation{
			Entry:          entry,
			ContentChanged: contentChanged,
			MoodSupplied:   moodSupplied,
			TagsSupplied:   tagsSupplied,
		})

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"entry_id": entry.ID,
			"task_ids": taskIDsJSON(taskIDs),
		})
	}
}

func handleGetEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		entry, err := deps.Store.GetEntry(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get entry: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(renderEntry(entry))
	}
}

func handleListEntries(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Store.ListEntries(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list entries: %v", err)
			return
		}

		out := make([]entryResponse, len(entries))
		for i, e := range entries {
			out[i] = renderEntry(e)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleDeleteEntry(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteEntry(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete entry: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleAIStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		status, err := deps.Status.Status(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get status: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"entry_id": status.EntryID,
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
	}
}

func handleListTags(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags, err := deps.Store.ListTags()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list tags: %v", err)
			return
		}
		type tagResponse struct {
			Name  string `json:"name"`
			Emoji string `json:"emoji,omitempty"`
		}
		out := make([]tagResponse, len(tags))
		for i, t := range tags {
			out[i] = tagResponse{Name: t.Name, Emoji: t.Emoji}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}

func handleCreateTag(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Name  string `json:"name"`
			Emoji string `json:"emoji"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		tag, err := deps.Store.GetOrCreateTag(uuid.New().String(), capitalizeTag(name), req.Emoji)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create tag: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"name": tag.Name, "emoji": tag.Emoji})
	}
}

func handleGetPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefs, err := deps.Prefs.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prefs)
	}
}

func handlePatchPreferences(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			EnableQuotes        *bool `json:"enable_quotes"`
			EnableMoodDetection *bool `json:"enable_mood_detection"`
			EnableTagSuggestion *bool `json:"enable_tag_suggestion"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		updates := map[string]*bool{
			profile.KeyEnableQuotes:        req.EnableQuotes,
			profile.KeyEnableMoodDetection: req.EnableMoodDetection,
			profile.KeyEnableTagSuggestion: req.EnableTagSuggestion,
		}
		for key, value := range updates {
			if value == nil {
				continue
			}
			if err := deps.Prefs.Set(key, *value); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to set preference: %v", err)
				return
			}
		}

		prefs, err := deps.Prefs.Get()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get preferences: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(prefs)
	}
}

func handleInsights(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		period := r.URL.Query().Get("period")
		report, err := deps.Insights.GenerateInsights(r.Context(), period)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to generate insights: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func handleSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var report insights.Report
		if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		suggestions, err := deps.Insights.GenerateSuggestions(r.Context(), report)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "failed to generate suggestions: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"suggestions": suggestions})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
