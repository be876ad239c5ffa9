package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lifeledger/lifeledger/internal/gateway"
	"github.com/lifeledger/lifeledger/internal/storage"
)

// Store lists the storage operations the worker needs.
// Implemented by storage.Store.
type Store interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id, errMsg string, backoff time.Duration) (bool, error)
	FailJobTerminal(id, errMsg string) error

	GetEntry(id string) (storage.Entry, error)
	SetEntryQuote(id, quote string) error
	SetEntryMood(id, mood string) error
	MarkEntryProcessed(id string, kinds ...string) error
	ListTags() ([]storage.Tag, error)
	GetOrCreateTag(id, name, emoji string) (storage.Tag, error)
	AddEntryTags(entryID string, tagIDs []string) error
}

// Completer sends a prompt to the AI gateway.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts gateway.CallOptions) (string, error)
}

// TaskPayload is the job payload shared by all enrichment kinds.
type TaskPayload struct {
	EntryID string `json:"entry_id"`
}

// Worker processes enrichment jobs from the SQLite job queue. One claimed
// job is one task attempt for one kind on one entry.
//
// The invariant the worker maintains: every job it finishes — success,
// permanent failure, or retry exhaustion — leaves the entry's processed
// flag for that kind set to true, so no entry stays pending forever. The
// only exception is an entry that no longer exists, where there is nothing
// left to mark.
type Worker struct {
	store  Store
	ai     Completer
	poll   time.Duration
	logger *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, ai Completer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:  store,
		ai:     ai,
		poll:   pollInterval,
		logger: slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single enrichment job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(JobTypes())
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	w.processJob(ctx, job)
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) {
	kind, ok := KindFromJobType(job.Type)
	if !ok {
		w.logger.Error("unknown job type", "job_id", job.ID, "type", job.Type)
		w.failTerminal(job.ID, "unknown job type "+job.Type)
		return
	}

	var payload TaskPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		w.logger.Error("malformed job payload", "job_id", job.ID, "error", err)
		w.failTerminal(job.ID, "malformed payload: "+err.Error())
		return
	}

	entry, err := w.store.GetEntry(payload.EntryID)
	if errors.Is(err, storage.ErrNotFound) {
		// Entry was deleted after dispatch. Terminal, no retry, nothing to write.
		w.logger.Warn("entry no longer exists", "job_id", job.ID, "entry_id", payload.EntryID, "kind", kind)
		w.failTerminal(job.ID, "entry no longer exists")
		return
	}
	if err != nil {
		w.retryOrFinalize(kind, payload.EntryID, job, fmt.Errorf("loading entry: %w", err))
		return
	}

	w.runTask(ctx, kind, entry, job)
}

// runTask executes one enrichment attempt for one kind.
func (w *Worker) runTask(ctx context.Context, kind Kind, entry storage.Entry, job *storage.Job) {
	// Kinds whose value the user already supplied finalize without an AI call.
	if skip, reason := w.shouldSkip(kind, entry); skip {
		w.logger.Info("skipping enrichment", "entry_id", entry.ID, "kind", kind, "reason", reason)
		w.markProcessed(entry.ID, kind)
		w.complete(job.ID)
		return
	}

	var available []storage.Tag
	if kind == KindTags {
		var err error
		available, err = w.store.ListTags()
		if err != nil {
			w.retryOrFinalize(kind, entry.ID, job, fmt.Errorf("listing tags: %w", err))
			return
		}
		if len(available) == 0 {
			// Nothing to suggest from. The fallback tag covers unusable AI
			// answers, not an empty vocabulary.
			w.logger.Warn("no tags defined, cannot suggest", "entry_id", entry.ID)
			w.markProcessed(entry.ID, kind)
			w.complete(job.ID)
			return
		}
	}

	prompt := w.buildPrompt(kind, entry, available)
	response, err := w.ai.Complete(ctx, prompt, kindSpecs[kind].callOpts)
	if err != nil {
		if gateway.IsRetryable(err) {
			w.retryOrFinalize(kind, entry.ID, job, err)
			return
		}
		// Missing credential or malformed output: retrying cannot help.
		// Degrade to the kind's fallback value immediately.
		w.logger.Warn("enrichment failed, applying fallback",
			"entry_id", entry.ID, "kind", kind, "error", err)
		w.finalizeFallback(kind, entry.ID)
		w.complete(job.ID)
		return
	}

	w.applyResult(kind, entry, response, available)
	w.complete(job.ID)
}

func (w *Worker) shouldSkip(kind Kind, entry storage.Entry) (bool, string) {
	switch kind {
	case KindMood:
		if entry.Mood != "" {
			return true, "mood already set"
		}
	case KindTags:
		if len(entry.Tags) > 0 {
			return true, "tags already present"
		}
	}
	return false, ""
}

func (w *Worker) buildPrompt(kind Kind, entry storage.Entry, available []storage.Tag) string {
	switch kind {
	case KindQuote:
		return buildQuotePrompt(entry.Content)
	case KindMood:
		return buildMoodPrompt(entry.Content)
	default:
		names := make([]string, len(available))
		for i, t := range available {
			names[i] = t.Name
		}
		return buildTagsPrompt(entry.Content, names)
	}
}

// applyResult validates and writes a successful AI answer. Unrecognized
// answers degrade to the kind's fallback value; the ledger is finalized
// either way.
func (w *Worker) applyResult(kind Kind, entry storage.Entry, response string, available []storage.Tag) {
	switch kind {
	case KindQuote:
		quote := normalizeQuote(response)
		if quote == "" {
			quote = FallbackQuote
		}
		if err := w.store.SetEntryQuote(entry.ID, quote); err != nil {
			w.logFinalizeError(kind, entry.ID, err)
		}

	case KindMood:
		mood, ok := validateMood(response)
		if !ok {
			w.logger.Warn("AI returned unrecognized mood, falling back",
				"entry_id", entry.ID, "response", response)
			mood = FallbackMood
		}
		if err := w.store.SetEntryMood(entry.ID, mood); err != nil {
			w.logFinalizeError(kind, entry.ID, err)
		}

	case KindTags:
		matched := matchTags(response, available)
		if len(matched) == 0 {
			w.logger.Warn("no valid tags in AI answer, applying fallback",
				"entry_id", entry.ID, "response", response)
			w.applyFallbackTag(entry.ID)
		} else {
			ids := make([]string, len(matched))
			for i, t := range matched {
				ids[i] = t.ID
			}
			if err := w.store.AddEntryTags(entry.ID, ids); err != nil {
				w.logFinalizeError(kind, entry.ID, err)
			}
		}
		w.markProcessed(entry.ID, kind)
	}
}

// retryOrFinalize records a failed attempt. When attempts remain the job
// goes back to the queue and the ledger stays in flight; when they are
// exhausted the fallback value is written so the entry never stays
// pending.
func (w *Worker) retryOrFinalize(kind Kind, entryID string, job *storage.Job, cause error) {
	w.logger.Warn("enrichment attempt failed",
		"job_id", job.ID, "entry_id", entryID, "kind", kind,
		"attempt", job.Attempts+1, "max_attempts", job.MaxAttempts, "error", cause)

	exhausted, err := w.store.FailJob(job.ID, cause.Error(), kindSpecs[kind].retryBackoff)
	if err != nil {
		w.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
		// Can't trust the queue state; finalize so the ledger is not stuck.
		exhausted = true
	}
	if exhausted {
		w.logger.Warn("retries exhausted, applying fallback", "job_id", job.ID, "entry_id", entryID, "kind", kind)
		w.finalizeFallback(kind, entryID)
	}
}

// finalizeFallback writes the kind's fallback value and sets the
// processed flag. This is the unconditional finalization step behind the
// pipeline's no-stuck-pending guarantee.
func (w *Worker) finalizeFallback(kind Kind, entryID string) {
	switch kind {
	case KindQuote:
		if err := w.store.SetEntryQuote(entryID, FallbackQuote); err != nil {
			w.logFinalizeError(kind, entryID, err)
		}
	case KindMood:
		if err := w.store.SetEntryMood(entryID, FallbackMood); err != nil {
			w.logFinalizeError(kind, entryID, err)
		}
	case KindTags:
		w.applyFallbackTag(entryID)
		w.markProcessed(entryID, kind)
	}
}

func (w *Worker) applyFallbackTag(entryID string) {
	tag, err := w.store.GetOrCreateTag(uuid.New().String(), FallbackTagName, fallbackTagEmoji)
	if err != nil {
		w.logger.Error("ensuring fallback tag", "entry_id", entryID, "error", err)
		return
	}
	if err := w.store.AddEntryTags(entryID, []string{tag.ID}); err != nil {
		w.logFinalizeError(KindTags, entryID, err)
	}
}

func (w *Worker) markProcessed(entryID string, kind Kind) {
	if err := w.store.MarkEntryProcessed(entryID, string(kind)); err != nil {
		w.logFinalizeError(kind, entryID, err)
	}
}

func (w *Worker) logFinalizeError(kind Kind, entryID string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		// Entry deleted while the task was running; nothing left to finalize.
		w.logger.Warn("entry vanished during finalization", "entry_id", entryID, "kind", kind)
		return
	}
	w.logger.Error("finalizing enrichment", "entry_id", entryID, "kind", kind, "error", err)
}

func (w *Worker) complete(jobID string) {
	if err := w.store.CompleteJob(jobID); err != nil {
		w.logger.Error("completing job", "job_id", jobID, "error", err)
	}
}

func (w *Worker) failTerminal(jobID, msg string) {
	if err := w.store.FailJobTerminal(jobID, msg); err != nil {
		w.logger.Error("failing job", "job_id", jobID, "error", err)
	}
}
