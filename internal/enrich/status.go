package enrich

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lifeledger/lifeledger/internal/storage"
)

// KindStatus is the client-facing state of one enrichment kind.
type KindStatus string

const (
	StatusDisabledByUser KindStatus = "DISABLED_BY_USER"
	StatusPending        KindStatus = "PENDING"
	StatusStarted        KindStatus = "STARTED"
	StatusRetry          KindStatus = "RETRY"
	StatusSuccess        KindStatus = "SUCCESS"
	StatusFailure        KindStatus = "FAILURE"
)

// EntryStatus is the consolidated answer to one status poll.
type EntryStatus struct {
	EntryID  string
	Kinds    map[Kind]KindStatus
	AllDone  bool
	AIQuote  string
	Mood     string
	TagNames []string
}

// StatusStore lists the storage operations the aggregator needs.
// Implemented by storage.Store.
type StatusStore interface {
	GetEntry(id string) (storage.Entry, error)
	GetJob(id string) (storage.Job, error)
	MarkEntryProcessed(id string, kinds ...string) error
}

// Aggregator is the read-side reconciliation pass behind the polling
// endpoint. It never dispatches work; it only inspects the ledger and the
// live queue state, lazily finalizing flags for terminal observations the
// tasks have not written back yet.
type Aggregator struct {
	store  StatusStore
	prefs  Preferences
	logger *slog.Logger
}

func NewAggregator(store StatusStore, prefs Preferences) *Aggregator {
	return &Aggregator{
		store:  store,
		prefs:  prefs,
		logger: slog.Default(),
	}
}

// Status resolves the per-kind states for an entry and an aggregate
// all-done signal. Any processed flags discovered during the pass are
// persisted in a single batched write, not one write per kind.
func (a *Aggregator) Status(entryID string) (EntryStatus, error) {
	entry, err := a.store.GetEntry(entryID)
	if err != nil {
		return EntryStatus{}, fmt.Errorf("loading entry: %w", err)
	}

	prefs, err := a.prefs.Get()
	if err != nil {
		return EntryStatus{}, fmt.Errorf("loading preferences: %w", err)
	}

	type kindLedger struct {
		taskID    string
		processed bool
		enabled   bool
	}
	ledger := map[Kind]kindLedger{
		KindQuote: {entry.QuoteTaskID, entry.QuoteProcessed, prefs.EnableQuotes},
		KindMood:  {entry.MoodTaskID, entry.MoodProcessed, prefs.EnableMoodDetection},
		KindTags:  {entry.TagsTaskID, entry.TagsProcessed, prefs.EnableTagSuggestion},
	}

	statuses := make(map[Kind]KindStatus, len(Kinds))
	var toMark []string
	allDone := true

	for _, kind := range Kinds {
		l := ledger[kind]
		switch {
		case !l.enabled:
			statuses[kind] = StatusDisabledByUser
			if !l.processed {
				// Lazy reconciliation: a disabled kind needs no further action.
				toMark = append(toMark, string(kind))
			}

		case l.processed:
			statuses[kind] = StatusSuccess

		case l.taskID != "":
			status, terminal := a.taskStatus(l.taskID)
			statuses[kind] = status
			if terminal {
				toMark = append(toMark, string(kind))
			} else {
				allDone = false
			}

		default:
			// Dispatched-but-no-task-id should not occur: every submission
			// failure path marks the kind processed. Report pending for rows
			// written by older software.
			statuses[kind] = StatusPending
			allDone = false
		}
	}

	if len(toMark) > 0 {
		if err := a.store.MarkEntryProcessed(entryID, toMark...); err != nil && !errors.Is(err, storage.ErrNotFound) {
			a.logger.Error("persisting reconciled flags", "entry_id", entryID, "kinds", toMark, "error", err)
		} else {
			a.logger.Info("reconciled processed flags", "entry_id", entryID, "kinds", toMark)
		}
	}

	quote := entry.AIQuote
	if !prefs.EnableQuotes {
		quote = ""
	}
	tagNames := make([]string, len(entry.Tags))
	for i, t := range entry.Tags {
		tagNames[i] = t.Name
	}

	return EntryStatus{
		EntryID:  entry.ID,
		Kinds:    statuses,
		AllDone:  allDone,
		AIQuote:  quote,
		Mood:     entry.Mood,
		TagNames: tagNames,
	}, nil
}

// taskStatus maps live queue state onto the polling protocol and reports
// whether the task has reached a terminal state.
func (a *Aggregator) taskStatus(taskID string) (KindStatus, bool) {
	job, err := a.store.GetJob(taskID)
	if errors.Is(err, storage.ErrNotFound) {
		return StatusPending, false
	}
	if err != nil {
		a.logger.Error("querying task state", "task_id", taskID, "error", err)
		return StatusPending, false
	}

	switch job.Status {
	case "completed":
		return StatusSuccess, true
	case "failed":
		return StatusFailure, true
	case "running":
		return StatusStarted, false
	default: // pending
		if job.Attempts > 0 {
			return StatusRetry, false
		}
		return StatusPending, false
	}
}
