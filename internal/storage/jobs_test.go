package storage

import (
	"errors"
	"testing"
	"time"
)

func enqueueTestJob(t *testing.T, s *Store, id, jobType string) {
	t.Helper()
	err := s.EnqueueJob(Job{
		ID:          id,
		Type:        jobType,
		PayloadJSON: `{"entry_id":"e1"}`,
	})
	if err != nil {
		t.Fatalf("EnqueueJob(%s): %v", id, err)
	}
}

func TestClaimNextJob(t *testing.T) {
	s := openTestStore(t)

	enqueueTestJob(t, s, "j1", "enrich_quote")

	job, err := s.ClaimNextJob([]string{"enrich_quote", "enrich_mood"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job, got nil")
	}
	if job.ID != "j1" || job.Status != "running" {
		t.Errorf("unexpected claimed job: %+v", job)
	}

	// Claimed job must not be claimable again.
	again, err := s.ClaimNextJob([]string{"enrich_quote"})
	if err != nil {
		t.Fatalf("second ClaimNextJob: %v", err)
	}
	if again != nil {
		t.Errorf("job claimed twice: %+v", again)
	}
}

func TestClaimNextJobFiltersType(t *testing.T) {
	s := openTestStore(t)

	enqueueTestJob(t, s, "j1", "other_work")

	job, err := s.ClaimNextJob([]string{"enrich_quote"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a job of the wrong type: %+v", job)
	}
}

func TestClaimNextJobRespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	err := s.EnqueueJob(Job{
		ID:          "j1",
		Type:        "enrich_mood",
		PayloadJSON: "{}",
		RunAfter:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"enrich_mood"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job != nil {
		t.Errorf("claimed a job before run_after: %+v", job)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	enqueueTestJob(t, s, "j1", "enrich_quote")
	if err := s.CompleteJob("j1"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	job, err := s.GetJob("j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("expected completed, got %q", job.Status)
	}

	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailJobRetriesThenExhausts(t *testing.T) {
	s := openTestStore(t)

	enqueueTestJob(t, s, "j1", "enrich_quote")

	exhausted, err := s.FailJob("j1", "upstream timeout", 45*time.Second)
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if exhausted {
		t.Fatal("exhausted after first attempt with max_attempts=3")
	}

	job, _ := s.GetJob("j1")
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("expected pending with 1 attempt, got %+v", job)
	}
	if job.LastError != "upstream timeout" {
		t.Errorf("last_error not recorded: %q", job.LastError)
	}
	if !job.RunAfter.After(time.Now().Add(30 * time.Second)) {
		t.Errorf("run_after not pushed out by backoff: %v", job.RunAfter)
	}

	if _, err := s.FailJob("j1", "again", time.Second); err != nil {
		t.Fatalf("FailJob 2: %v", err)
	}
	exhausted, err = s.FailJob("j1", "final", time.Second)
	if err != nil {
		t.Fatalf("FailJob 3: %v", err)
	}
	if !exhausted {
		t.Fatal("expected exhaustion on third attempt")
	}

	job, _ = s.GetJob("j1")
	if job.Status != "failed" || job.Attempts != 3 {
		t.Errorf("expected failed with 3 attempts, got %+v", job)
	}
}

func TestFailJobNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.FailJob("missing", "x", time.Second); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFailJobTerminal(t *testing.T) {
	s := openTestStore(t)

	enqueueTestJob(t, s, "j1", "enrich_tags")
	if err := s.FailJobTerminal("j1", "entry no longer exists"); err != nil {
		t.Fatalf("FailJobTerminal: %v", err)
	}

	job, _ := s.GetJob("j1")
	if job.Status != "failed" {
		t.Errorf("expected failed, got %q", job.Status)
	}
	if job.Attempts != job.MaxAttempts {
		t.Errorf("expected attempts pinned to max, got %d/%d", job.Attempts, job.MaxAttempts)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
