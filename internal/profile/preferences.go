package profile

import (
	"fmt"
	"strconv"
	"sync"
)

// Preference keys as stored in the preferences table.
const (
	KeyEnableQuotes        = "ai.enable_quotes"
	KeyEnableMoodDetection = "ai.enable_mood_detection"
	KeyEnableTagSuggestion = "ai.enable_tag_suggestion"
)

// Preferences are the per-user AI enrichment switches. All default to
// enabled when never set.
type Preferences struct {
	EnableQuotes        bool `json:"enable_quotes"`
	EnableMoodDetection bool `json:"enable_mood_detection"`
	EnableTagSuggestion bool `json:"enable_tag_suggestion"`
}

// PreferenceStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type PreferenceStore interface {
	SetPreference(key, value string) error
	GetAllPreferences() (map[string]string, error)
}

// Manager provides cached access to the AI preferences. Both the dispatch
// policy and the status aggregator read through it, so a flipped switch is
// observed consistently within one process.
type Manager struct {
	store PreferenceStore

	mu     sync.RWMutex
	cached *Preferences
}

func NewManager(store PreferenceStore) *Manager {
	return &Manager{store: store}
}

// Get returns the current preferences, reading storage on the first call
// after an invalidation.
func (m *Manager) Get() (Preferences, error) {
	m.mu.RLock()
	if m.cached != nil {
		p := *m.cached
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return *m.cached, nil
	}

	keys, err := m.store.GetAllPreferences()
	if err != nil {
		return Preferences{}, fmt.Errorf("loading preferences: %w", err)
	}

	p := Preferences{
		EnableQuotes:        boolPreference(keys, KeyEnableQuotes),
		EnableMoodDetection: boolPreference(keys, KeyEnableMoodDetection),
		EnableTagSuggestion: boolPreference(keys, KeyEnableTagSuggestion),
	}
	m.cached = &p
	return p, nil
}

// Set persists one preference key and invalidates the cache.
func (m *Manager) Set(key string, enabled bool) error {
	switch key {
	case KeyEnableQuotes, KeyEnableMoodDetection, KeyEnableTagSuggestion:
	default:
		return fmt.Errorf("unknown preference key %q", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SetPreference(key, strconv.FormatBool(enabled)); err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	m.cached = nil
	return nil
}

// boolPreference parses a stored flag, defaulting to true when the key was
// never written or holds an unparseable value.
func boolPreference(keys map[string]string, key string) bool {
	v, ok := keys[key]
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
