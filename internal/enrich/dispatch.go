package enrich

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lifeledger/lifeledger/internal/profile"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// DispatchStore lists the storage operations the dispatcher needs.
// Implemented by storage.Store.
type DispatchStore interface {
	EnqueueJob(job storage.Job) error
	GetJob(id string) (storage.Job, error)
	SetEntryDispatch(id, kind, taskID string) error
	MarkEntryProcessed(id string, kinds ...string) error
	ClearEntryQuote(id string) error
}

// Preferences reads the user's AI enrichment switches.
// Implemented by profile.Manager.
type Preferences interface {
	Get() (profile.Preferences, error)
}

// Dispatcher decides, at entry create/update time, which enrichment kinds
// to submit to the job queue. It runs inside the entry mutation path and
// never fails it: enrichment is best-effort, and any per-kind problem is
// logged and resolved by marking that kind processed so the UI cannot get
// stuck on a spinner.
type Dispatcher struct {
	store       DispatchStore
	prefs       Preferences
	maxAttempts int
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher. maxAttempts bounds task retries;
// <= 0 defaults to 3.
func NewDispatcher(store DispatchStore, prefs Preferences, maxAttempts int) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Dispatcher{
		store:       store,
		prefs:       prefs,
		maxAttempts: maxAttempts,
		logger:      slog.Default(),
	}
}

// Mutation describes the entry mutation the dispatcher reacts to. Entry
// is the post-persist state including current tags and ledger fields.
type Mutation struct {
	Entry          storage.Entry
	ContentChanged bool // always true on create
	MoodSupplied   bool // user set the mood in this mutation
	TagsSupplied   bool // user set tags in this mutation
}

// DispatchCreate evaluates the create-time decision table and returns the
// task ids submitted, keyed by kind.
func (d *Dispatcher) DispatchCreate(m Mutation) map[Kind]string {
	prefs := d.preferences()
	taskIDs := make(map[Kind]string)

	if prefs.EnableQuotes {
		d.dispatch(KindQuote, m.Entry.ID, taskIDs)
	} else {
		// Opted out: clear any stored quote and make sure no spinner shows.
		if err := d.store.ClearEntryQuote(m.Entry.ID); err != nil {
			d.logger.Error("clearing quote for disabled preference", "entry_id", m.Entry.ID, "error", err)
		}
	}

	if prefs.EnableMoodDetection && !m.MoodSupplied {
		d.dispatch(KindMood, m.Entry.ID, taskIDs)
	} else {
		d.skip(KindMood, m.Entry.ID)
	}

	if prefs.EnableTagSuggestion && !m.TagsSupplied {
		d.dispatch(KindTags, m.Entry.ID, taskIDs)
	} else {
		d.skip(KindTags, m.Entry.ID)
	}

	return taskIDs
}

// DispatchUpdate evaluates the update-time decision table. A kind is
// re-dispatched only when its preference is enabled, the user did not
// supply the value in this mutation, and either the content changed or
// the derived value is still empty. An unchanged-content update never
// re-dispatches a kind whose previous task is still in flight.
func (d *Dispatcher) DispatchUpdate(m Mutation) map[Kind]string {
	prefs := d.preferences()
	taskIDs := make(map[Kind]string)
	e := m.Entry

	// quote
	switch {
	case !prefs.EnableQuotes:
		if err := d.store.ClearEntryQuote(e.ID); err != nil {
			d.logger.Error("clearing quote for disabled preference", "entry_id", e.ID, "error", err)
		}
	case m.ContentChanged || e.AIQuote == "":
		if m.ContentChanged || !d.outstanding(e.QuoteTaskID, e.QuoteProcessed) {
			d.dispatch(KindQuote, e.ID, taskIDs)
		}
	}

	// mood
	switch {
	case m.MoodSupplied:
		// User input pre-empts AI.
		d.skip(KindMood, e.ID)
	case !prefs.EnableMoodDetection:
		d.skip(KindMood, e.ID)
	case m.ContentChanged || e.Mood == "":
		if m.ContentChanged || !d.outstanding(e.MoodTaskID, e.MoodProcessed) {
			d.dispatch(KindMood, e.ID, taskIDs)
		}
	}

	// tags
	switch {
	case m.TagsSupplied:
		d.skip(KindTags, e.ID)
	case !prefs.EnableTagSuggestion:
		d.skip(KindTags, e.ID)
	case m.ContentChanged || len(e.Tags) == 0:
		if m.ContentChanged || !d.outstanding(e.TagsTaskID, e.TagsProcessed) {
			d.dispatch(KindTags, e.ID, taskIDs)
		}
	}

	return taskIDs
}

// dispatch submits one task and records it on the ledger. A submission
// failure must not abort the mutation or block the other kinds: the kind
// is marked processed instead, eliminating the ambiguous
// dispatched-but-no-task state entirely.
func (d *Dispatcher) dispatch(kind Kind, entryID string, taskIDs map[Kind]string) {
	taskID := uuid.New().String()
	payload, err := json.Marshal(TaskPayload{EntryID: entryID})
	if err != nil {
		d.logger.Error("marshaling task payload", "entry_id", entryID, "kind", kind, "error", err)
		d.skip(kind, entryID)
		return
	}

	job := storage.Job{
		ID:          taskID,
		Type:        kind.JobType(),
		PayloadJSON: string(payload),
		MaxAttempts: d.maxAttempts,
	}
	if err := d.store.EnqueueJob(job); err != nil {
		d.logger.Error("submitting enrichment task", "entry_id", entryID, "kind", kind, "error", err)
		d.skip(kind, entryID)
		return
	}

	if err := d.store.SetEntryDispatch(entryID, string(kind), taskID); err != nil {
		d.logger.Error("recording dispatch", "entry_id", entryID, "kind", kind, "task_id", taskID, "error", err)
		d.skip(kind, entryID)
		return
	}

	d.logger.Info("enrichment task dispatched", "entry_id", entryID, "kind", kind, "task_id", taskID)
	taskIDs[kind] = taskID
}

// skip forces the processed flag for a kind that will not be dispatched.
func (d *Dispatcher) skip(kind Kind, entryID string) {
	if err := d.store.MarkEntryProcessed(entryID, string(kind)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		d.logger.Error("marking kind processed", "entry_id", entryID, "kind", kind, "error", err)
	}
}

// outstanding reports whether a previous task for the kind is still in
// flight: ledger not processed, a task id recorded, and the job in a
// non-terminal queue state.
func (d *Dispatcher) outstanding(taskID string, processed bool) bool {
	if processed || taskID == "" {
		return false
	}
	job, err := d.store.GetJob(taskID)
	if err != nil {
		return false
	}
	return job.Status == "pending" || job.Status == "running"
}

// preferences loads the AI switches, degrading to all-enabled (their
// default) when the read fails.
func (d *Dispatcher) preferences() profile.Preferences {
	prefs, err := d.prefs.Get()
	if err != nil {
		d.logger.Error("loading preferences, assuming defaults", "error", err)
		return profile.Preferences{EnableQuotes: true, EnableMoodDetection: true, EnableTagSuggestion: true}
	}
	return prefs
}
