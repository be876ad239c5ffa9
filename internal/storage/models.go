package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entry is a journal entry together with its AI enrichment ledger.
// The *TaskID / *Processed pairs track the most recent enrichment
// dispatch per kind; an empty task id means none recorded.
type Entry struct {
	ID      string
	Title   string
	Content string
	Mood    string // one of the mood vocabulary, or "" if unset
	AIQuote string

	QuoteTaskID string
	MoodTaskID  string
	TagsTaskID  string

	QuoteProcessed bool
	MoodProcessed  bool
	TagsProcessed  bool

	Tags      []Tag
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Tag struct {
	ID    string
	Name  string
	Emoji string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
