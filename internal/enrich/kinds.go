package enrich

import (
	"fmt"
	"strings"
	"time"

	"github.com/lifeledger/lifeledger/internal/gateway"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// Kind identifies one independently-schedulable enrichment of a journal
// entry. The three kinds are dispatched, retried, and reconciled
// separately and may complete in any order.
type Kind string

const (
	KindQuote Kind = "quote"
	KindMood  Kind = "mood"
	KindTags  Kind = "tags"
)

// Kinds lists all enrichment kinds in a stable order.
var Kinds = []Kind{KindQuote, KindMood, KindTags}

// JobType returns the job queue type string for this kind.
func (k Kind) JobType() string {
	return "enrich_" + string(k)
}

// JobTypes returns the queue type strings for all kinds.
func JobTypes() []string {
	types := make([]string, len(Kinds))
	for i, k := range Kinds {
		types[i] = k.JobType()
	}
	return types
}

// KindFromJobType maps a queue type string back to its kind.
func KindFromJobType(jobType string) (Kind, bool) {
	k := Kind(strings.TrimPrefix(jobType, "enrich_"))
	switch k {
	case KindQuote, KindMood, KindTags:
		return k, true
	}
	return "", false
}

// MoodVocabulary is the fixed set of mood labels. The mood task never
// stores anything outside this set.
var MoodVocabulary = []string{"happy", "sad", "angry", "calm", "neutral", "excited"}

const (
	// FallbackQuote is stored when quote generation fails for good.
	FallbackQuote = "Could not generate a quote at this time."

	// FallbackMood is stored when the AI answer is missing or not in the
	// vocabulary.
	FallbackMood = "neutral"

	// FallbackTagName is applied when no AI-suggested tag matches an
	// existing one.
	FallbackTagName  = "General"
	fallbackTagEmoji = "🗒️"
)

// kindSpec is the per-kind descriptor: how to build the prompt, how to
// call the gateway, and how long to back off between retries. The shared
// task machinery in worker.go is parameterized by this table instead of
// branching per kind.
type kindSpec struct {
	snippetLimit int
	callOpts     gateway.CallOptions
	retryBackoff time.Duration
}

var kindSpecs = map[Kind]kindSpec{
	KindQuote: {
		snippetLimit: 1000,
		callOpts:     gateway.CallOptions{MaxTokens: 120, Temperature: 0.7},
		retryBackoff: 120 * time.Second,
	},
	KindMood: {
		snippetLimit: 1500,
		callOpts:     gateway.CallOptions{MaxTokens: 10, Temperature: 0.2},
		retryBackoff: 45 * time.Second,
	},
	KindTags: {
		snippetLimit: 2000,
		callOpts:     gateway.CallOptions{MaxTokens: 50, Temperature: 0.3},
		retryBackoff: 50 * time.Second,
	},
}

// RetryBackoff returns the fixed retry delay for a kind.
func (k Kind) RetryBackoff() time.Duration {
	return kindSpecs[k].retryBackoff
}

// snippet truncates content to a bounded prefix so prompt cost stays
// predictable regardless of entry length.
func snippet(content string, limit int) string {
	if len(content) > limit {
		return content[:limit] + "..."
	}
	return content
}

func buildQuotePrompt(content string) string {
	return fmt.Sprintf(
		"Analyze the following journal entry snippet. Provide ONE single, short (1-2 sentences), "+
			"insightful quote from a well-known Persian (Iranian) OR English-speaking figure that is "+
			"highly relevant to the themes expressed. Format the response as: \"Quote text.\" - Author's Name. "+
			"If the snippet is too vague, select a general inspiring quote about life or growth.\n\n"+
			"Journal Entry Snippet:\n\"\"\"\n%s\n\"\"\"\n\n"+
			"Provide only the quote and its attribution below:\n",
		snippet(content, kindSpecs[KindQuote].snippetLimit),
	)
}

func buildMoodPrompt(content string) string {
	return fmt.Sprintf(
		"Analyze the emotional tone of the journal entry below. "+
			"Choose exactly ONE primary mood from the list: %s. "+
			"Return only the single, lowercase mood word.\n\n"+
			"Journal Entry:\n\"\"\"\n%s\n\"\"\"\n\n"+
			"Primary Mood:",
		strings.Join(MoodVocabulary, ", "),
		snippet(content, kindSpecs[KindMood].snippetLimit),
	)
}

func buildTagsPrompt(content string, available []string) string {
	return fmt.Sprintf(
		"Analyze the following journal entry. From the list of available tags below, "+
			"select up to 3 that are the most relevant. Your response must be a single, "+
			"comma-separated list containing ONLY tags from the provided list.\n\n"+
			"AVAILABLE TAGS:\n[%s]\n\n"+
			"JOURNAL ENTRY:\n\"\"\"\n%s\n\"\"\"\n\n"+
			"Relevant Tags from List:",
		strings.Join(available, ", "),
		snippet(content, kindSpecs[KindTags].snippetLimit),
	)
}

// normalizeQuote strips surrounding quote characters and whitespace from
// an AI-generated quote.
func normalizeQuote(response string) string {
	return strings.Trim(response, "\"' \n")
}

// validateMood extracts the first token of the AI answer and checks it
// against the vocabulary, case-insensitively. Returns the canonical
// lowercase mood and whether it was recognized.
func validateMood(response string) (string, bool) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(response)))
	if len(fields) == 0 {
		return "", false
	}
	candidate := strings.Trim(fields[0], "\".,")
	for _, mood := range MoodVocabulary {
		if candidate == mood {
			return mood, true
		}
	}
	return "", false
}

// matchTags resolves a comma-separated AI answer against the set of tags
// that already exist. Matching is case-insensitive and the stored
// capitalization wins. AI output never creates tags.
func matchTags(response string, available []storage.Tag) []storage.Tag {
	byName := make(map[string]storage.Tag, len(available))
	for _, t := range available {
		byName[strings.ToLower(t.Name)] = t
	}

	var matched []storage.Tag
	seen := make(map[string]bool)
	for _, raw := range strings.Split(response, ",") {
		name := strings.ToLower(strings.Trim(raw, " \".,\n"))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if t, ok := byName[name]; ok {
			matched = append(matched, t)
		}
	}
	return matched
}
