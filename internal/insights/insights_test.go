package insights

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lifeledger/lifeledger/internal/gateway"
	"github.com/lifeledger/lifeledger/internal/storage"
)

type fakeSource struct {
	entries []storage.Entry
	since   time.Time
	err     error
}

func (f *fakeSource) ListEntriesSince(since time.Time) ([]storage.Entry, error) {
	f.since = since
	return f.entries, f.err
}

type fakeCompleter struct {
	response string
	err      error
	calls    int
	prompt   string
	opts     gateway.CallOptions
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, opts gateway.CallOptions) (string, error) {
	f.calls++
	f.prompt = prompt
	f.opts = opts
	return f.response, f.err
}

func sampleEntries() []storage.Entry {
	return []storage.Entry{
		{ID: "e1", Content: "Shipped the release.", CreatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)},
		{ID: "e2", Content: "Slept badly again.", CreatedAt: time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)},
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	cases := map[string]time.Time{
		PeriodLast7Days:  now.AddDate(0, 0, -7),
		PeriodLast30Days: now.AddDate(0, 0, -30),
		PeriodLast90Days: now.AddDate(0, 0, -90),
		PeriodAllTime:    {},
		"unknown":        now.AddDate(0, 0, -30),
		"":               now.AddDate(0, 0, -30),
	}
	for period, want := range cases {
		if got := periodStart(period, now); !got.Equal(want) {
			t.Errorf("periodStart(%q) = %v, want %v", period, got, want)
		}
	}
}

func TestGenerateInsights(t *testing.T) {
	src := &fakeSource{entries: sampleEntries()}
	ai := &fakeCompleter{response: `{"highlights":["shipped"],"challenges":["sleep"],"key_themes":["work"]}`}
	svc := NewService(src, ai)

	report, err := svc.GenerateInsights(context.Background(), PeriodLast7Days)
	if err != nil {
		t.Fatalf("GenerateInsights: %v", err)
	}
	if len(report.Highlights) != 1 || report.Highlights[0] != "shipped" {
		t.Errorf("unexpected highlights: %v", report.Highlights)
	}
	if !ai.opts.JSONObject || ai.opts.MaxTokens != 1000 {
		t.Errorf("unexpected call options: %+v", ai.opts)
	}
	if !strings.Contains(ai.prompt, "--- Entry from 2026-08-20 ---") {
		t.Errorf("prompt missing dated entry header:\n%s", ai.prompt)
	}
	if !strings.Contains(ai.prompt, "Shipped the release.") {
		t.Error("prompt missing entry content")
	}
}

func TestGenerateInsightsEmptyPeriod(t *testing.T) {
	ai := &fakeCompleter{}
	svc := NewService(&fakeSource{}, ai)

	report, err := svc.GenerateInsights(context.Background(), PeriodLast30Days)
	if err != nil {
		t.Fatalf("GenerateInsights: %v", err)
	}
	if ai.calls != 0 {
		t.Error("gateway must not be called with no entries")
	}
	if report.Highlights == nil || report.Challenges == nil || report.KeyThemes == nil {
		t.Errorf("empty report must have non-nil slices: %+v", report)
	}
}

func TestGenerateInsightsSurroundingProse(t *testing.T) {
	src := &fakeSource{entries: sampleEntries()}
	ai := &fakeCompleter{response: "Here you go:\n{\"highlights\":[],\"challenges\":[],\"key_themes\":[\"rest\"]}\nHope this helps!"}
	svc := NewService(src, ai)

	report, err := svc.GenerateInsights(context.Background(), PeriodAllTime)
	if err != nil {
		t.Fatalf("GenerateInsights: %v", err)
	}
	if len(report.KeyThemes) != 1 || report.KeyThemes[0] != "rest" {
		t.Errorf("JSON not extracted from prose: %+v", report)
	}
}

func TestGenerateInsightsMissingKey(t *testing.T) {
	src := &fakeSource{entries: sampleEntries()}
	ai := &fakeCompleter{response: `{"highlights":[],"challenges":[]}`}
	svc := NewService(src, ai)

	if _, err := svc.GenerateInsights(context.Background(), PeriodLast7Days); err == nil {
		t.Error("missing key_themes must be an error")
	}
}

func TestGenerateInsightsGatewayError(t *testing.T) {
	src := &fakeSource{entries: sampleEntries()}
	ai := &fakeCompleter{err: errors.New("upstream down")}
	svc := NewService(src, ai)

	if _, err := svc.GenerateInsights(context.Background(), PeriodLast7Days); err == nil {
		t.Error("gateway failure must surface")
	}
}

func TestGenerateSuggestions(t *testing.T) {
	ai := &fakeCompleter{response: `{"suggestions":["Keep shipping.","Try an earlier bedtime."]}`}
	svc := NewService(&fakeSource{}, ai)

	got, err := svc.GenerateSuggestions(context.Background(), Report{
		Highlights: []string{"shipped the release"},
		Challenges: []string{"poor sleep"},
	})
	if err != nil {
		t.Fatalf("GenerateSuggestions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 suggestions, got %v", got)
	}
	if !strings.Contains(ai.prompt, "- shipped the release") {
		t.Error("prompt missing highlights")
	}
	if ai.opts.MaxTokens != 500 {
		t.Errorf("unexpected call options: %+v", ai.opts)
	}
}

func TestGenerateSuggestionsEmptyReportShortCircuits(t *testing.T) {
	ai := &fakeCompleter{}
	svc := NewService(&fakeSource{}, ai)

	got, err := svc.GenerateSuggestions(context.Background(), Report{})
	if err != nil {
		t.Fatalf("GenerateSuggestions: %v", err)
	}
	if ai.calls != 0 {
		t.Error("gateway must not be called for an empty report")
	}
	if len(got) != 1 || got[0] != DefaultSuggestion {
		t.Errorf("expected the default suggestion, got %v", got)
	}
}

func TestGenerateSuggestionsMalformedAnswer(t *testing.T) {
	ai := &fakeCompleter{response: `{"suggestions":[]}`}
	svc := NewService(&fakeSource{}, ai)

	_, err := svc.GenerateSuggestions(context.Background(), Report{Highlights: []string{"x"}})
	if err == nil {
		t.Error("empty suggestions answer must be an error")
	}
}
