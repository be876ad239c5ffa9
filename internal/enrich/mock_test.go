package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lifeledger/lifeledger/internal/gateway"
	"github.com/lifeledger/lifeledger/internal/profile"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// fakeStore is an in-memory stand-in for storage.Store covering the
// worker, dispatcher, and aggregator interfaces.
type fakeStore struct {
	entries map[string]*storage.Entry
	jobs    map[string]*storage.Job
	jobIDs  []string // enqueue order
	tags    []storage.Tag

	enqueueErr  error
	dispatchErr error
	quoteErr    error

	completed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entries: make(map[string]*storage.Entry),
		jobs:    make(map[string]*storage.Job),
	}
}

func (f *fakeStore) addEntry(e storage.Entry) {
	c := e
	f.entries[e.ID] = &c
}

func (f *fakeStore) ClaimNextJob(types []string) (*storage.Job, error) {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	now := time.Now()
	for _, id := range f.jobIDs {
		j := f.jobs[id]
		if j.Status == "pending" && allowed[j.Type] && !j.RunAfter.After(now) {
			j.Status = "running"
			c := *j
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) EnqueueJob(job storage.Job) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	job.Status = "pending"
	c := job
	f.jobs[job.ID] = &c
	f.jobIDs = append(f.jobIDs, job.ID)
	return nil
}

func (f *fakeStore) GetJob(id string) (storage.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return storage.Job{}, storage.ErrNotFound
	}
	return *j, nil
}

func (f *fakeStore) CompleteJob(id string) error {
	j, ok := f.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = "completed"
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) FailJob(id, errMsg string, backoff time.Duration) (bool, error) {
	j, ok := f.jobs[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	j.Attempts++
	j.LastError = errMsg
	if j.Attempts >= j.MaxAttempts {
		j.Status = "failed"
		return true, nil
	}
	j.Status = "pending"
	j.RunAfter = time.Now().Add(backoff)
	return false, nil
}

func (f *fakeStore) FailJobTerminal(id, errMsg string) error {
	j, ok := f.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = "failed"
	j.Attempts = j.MaxAttempts
	j.LastError = errMsg
	return nil
}

func (f *fakeStore) GetEntry(id string) (storage.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return storage.Entry{}, storage.ErrNotFound
	}
	return *e, nil
}

func (f *fakeStore) SetEntryQuote(id, quote string) error {
	if f.quoteErr != nil {
		return f.quoteErr
	}
	e, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.AIQuote = quote
	e.QuoteProcessed = true
	return nil
}

func (f *fakeStore) ClearEntryQuote(id string) error {
	e, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.AIQuote = ""
	e.QuoteProcessed = true
	return nil
}

func (f *fakeStore) SetEntryMood(id, mood string) error {
	e, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Mood = mood
	e.MoodProcessed = true
	return nil
}

func (f *fakeStore) SetEntryDispatch(id, kind, taskID string) error {
	if f.dispatchErr != nil {
		return f.dispatchErr
	}
	e, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	switch kind {
	case "quote":
		e.QuoteTaskID, e.QuoteProcessed = taskID, false
	case "mood":
		e.MoodTaskID, e.MoodProcessed = taskID, false
	case "tags":
		e.TagsTaskID, e.TagsProcessed = taskID, false
	default:
		return fmt.Errorf("unknown enrichment kind %q", kind)
	}
	return nil
}

func (f *fakeStore) MarkEntryProcessed(id string, kinds ...string) error {
	e, ok := f.entries[id]
	if !ok {
		return storage.ErrNotFound
	}
	for _, kind := range kinds {
		switch kind {
		case "quote":
			e.QuoteProcessed = true
		case "mood":
			e.MoodProcessed = true
		case "tags":
			e.TagsProcessed = true
		default:
			return fmt.Errorf("unknown enrichment kind %q", kind)
		}
	}
	return nil
}

func (f *fakeStore) ListTags() ([]storage.Tag, error) {
	return f.tags, nil
}

func (f *fakeStore) GetOrCreateTag(id, name, emoji string) (storage.Tag, error) {
	for _, t := range f.tags {
		if t.Name == name {
			return t, nil
		}
	}
	t := storage.Tag{ID: id, Name: name, Emoji: emoji}
	f.tags = append(f.tags, t)
	return t, nil
}

func (f *fakeStore) AddEntryTags(entryID string, tagIDs []string) error {
	e, ok := f.entries[entryID]
	if !ok {
		return storage.ErrNotFound
	}
	for _, tagID := range tagIDs {
		for _, t := range f.tags {
			if t.ID == tagID {
				e.Tags = append(e.Tags, t)
			}
		}
	}
	return nil
}

// fakeCompleter scripts gateway answers per call.
type fakeCompleter struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, opts gateway.CallOptions) (string, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", errors.New("fakeCompleter: no scripted response")
}

// fakePrefs returns fixed preferences, optionally failing.
type fakePrefs struct {
	prefs profile.Preferences
	err   error
}

func allEnabled() *fakePrefs {
	return &fakePrefs{prefs: profile.Preferences{
		EnableQuotes:        true,
		EnableMoodDetection: true,
		EnableTagSuggestion: true,
	}}
}

func (f *fakePrefs) Get() (profile.Preferences, error) {
	if f.err != nil {
		return profile.Preferences{}, f.err
	}
	return f.prefs, nil
}
