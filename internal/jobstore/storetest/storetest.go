// Package storetest holds the behavioural suite every domain.JobStore
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediagen/internal/domain"
)

// Factory returns a fresh, empty store. Cleanup is registered on t.
type Factory func(t *testing.T) domain.JobStore

// Run executes every contract test against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetUnknown", func(t *testing.T) { testGetUnknown(t, newStore(t)) })
	t.Run("ClaimEmpty", func(t *testing.T) { testClaimEmpty(t, newStore(t)) })
	t.Run("ClaimOldestFirst", func(t *testing.T) { testClaimOldestFirst(t, newStore(t)) })
	t.Run("RetryLifecycle", func(t *testing.T) { testRetryLifecycle(t, newStore(t)) })
	t.Run("CompleteTwice", func(t *testing.T) { testCompleteTwice(t, newStore(t)) })
	t.Run("CompleteRequiresReference", func(t *testing.T) { testCompleteRequiresReference(t, newStore(t)) })
	t.Run("MarkRequiresProcessing", func(t *testing.T) { testMarkRequiresProcessing(t, newStore(t)) })
	t.Run("MarkUnknown", func(t *testing.T) { testMarkUnknown(t, newStore(t)) })
	t.Run("RetryCeiling", func(t *testing.T) { testRetryCeiling(t, newStore(t)) })
	t.Run("FailIsTerminal", func(t *testing.T) { testFailIsTerminal(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func mustCreate(t *testing.T, s domain.JobStore, prompt string, maxRetries int) *domain.Job {
	t.Helper()
	j, err := s.Create(context.Background(), prompt, map[string]any{"width": float64(512)}, maxRetries)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return j
}

func mustClaim(t *testing.T, s domain.JobStore, now time.Time) *domain.Job {
	t.Helper()
	j, err := s.ClaimDue(context.Background(), now)
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if j == nil {
		t.Fatalf("ClaimDue returned no job")
	}
	return j
}

func mustGet(t *testing.T, s domain.JobStore, id string) *domain.Job {
	t.Helper()
	j, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return j
}

// claimTime is far enough after any store-assigned creation timestamp that
// pending jobs are always due.
func claimTime() time.Time {
	return time.Now().UTC().Add(time.Minute)
}

func testCreateAndGet(t *testing.T, s domain.JobStore) {
	created := mustCreate(t, s, "a red bicycle", 3)
	if created.ID == "" {
		t.Fatalf("expected generated id")
	}
	if created.State != domain.JobStatePending {
		t.Fatalf("state = %s, want pending", created.State)
	}
	got := mustGet(t, s, created.ID)
	if got.Prompt != "a red bicycle" {
		t.Fatalf("prompt = %q", got.Prompt)
	}
	if got.MaxRetries != 3 || got.RetryCount != 0 {
		t.Fatalf("retries = %d/%d, want 0/3", got.RetryCount, got.MaxRetries)
	}
	if got.ResultReference != "" || got.NextAttemptAt != nil {
		t.Fatalf("unexpected result/next attempt on new job: %#v", got)
	}
	if w, ok := got.Parameters["width"].(float64); !ok || w != 512 {
		t.Fatalf("parameters = %#v", got.Parameters)
	}
}

func testGetUnknown(t *testing.T, s domain.JobStore) {
	_, err := s.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testClaimEmpty(t *testing.T, s domain.JobStore) {
	j, err := s.ClaimDue(context.Background(), claimTime())
	if err != nil {
		t.Fatalf("ClaimDue: %v", err)
	}
	if j != nil {
		t.Fatalf("expected no job, got %s", j.ID)
	}
}

func testClaimOldestFirst(t *testing.T, s domain.JobStore) {
	first := mustCreate(t, s, "first", 3)
	time.Sleep(5 * time.Millisecond)
	second := mustCreate(t, s, "second", 3)

	now := claimTime()
	got := mustClaim(t, s, now)
	if got.ID != first.ID {
		t.Fatalf("claimed %s, want oldest %s", got.ID, first.ID)
	}
	if got.State != domain.JobStateProcessing {
		t.Fatalf("claimed state = %s", got.State)
	}
	if got.StartedAt == nil {
		t.Fatalf("expected started_at on first claim")
	}
	got = mustClaim(t, s, now)
	if got.ID != second.ID {
		t.Fatalf("claimed %s, want %s", got.ID, second.ID)
	}
	if j, _ := s.ClaimDue(context.Background(), now); j != nil {
		t.Fatalf("processing jobs must not be claimable, got %s", j.ID)
	}
}

func testRetryLifecycle(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "retry me", 3)
	now := claimTime()
	mustClaim(t, s, now)

	next := now.Add(2 * time.Minute)
	if err := s.MarkRetry(ctx, created.ID, "provider timeout", next, now); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	got := mustGet(t, s, created.ID)
	if got.State != domain.JobStateRetrying {
		t.Fatalf("state = %s, want retrying", got.State)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.LastError != "provider timeout" {
		t.Fatalf("last_error = %q", got.LastError)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(next) {
		t.Fatalf("next_attempt_at = %v, want %v", got.NextAttemptAt, next)
	}

	if j, err := s.ClaimDue(ctx, next.Add(-time.Second)); err != nil || j != nil {
		t.Fatalf("job claimed before next_attempt_at: %v %v", j, err)
	}
	reclaimed := mustClaim(t, s, next)
	if reclaimed.ID != created.ID {
		t.Fatalf("reclaimed %s, want %s", reclaimed.ID, created.ID)
	}
	if reclaimed.RetryCount != 1 {
		t.Fatalf("reclaimed retry_count = %d, want 1", reclaimed.RetryCount)
	}
	if reclaimed.NextAttemptAt != nil {
		t.Fatalf("next_attempt_at must be cleared on claim")
	}

	if err := s.MarkCompleted(ctx, created.ID, "generated/"+created.ID+"/artifact.png", next); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	got = mustGet(t, s, created.ID)
	if got.State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", got.State)
	}
	if got.ResultReference == "" {
		t.Fatalf("expected result reference")
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected completed_at")
	}
	if got.LastError != "provider timeout" {
		t.Fatalf("last_error should be kept from the failed attempt, got %q", got.LastError)
	}
}

func testCompleteTwice(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "once", 3)
	now := claimTime()
	mustClaim(t, s, now)
	if err := s.MarkCompleted(ctx, created.ID, "ref-1", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	err := s.MarkCompleted(ctx, created.ID, "ref-2", now.Add(time.Second))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second MarkCompleted = %v, want ErrInvalidTransition", err)
	}
	got := mustGet(t, s, created.ID)
	if got.State != domain.JobStateCompleted || got.ResultReference != "ref-1" {
		t.Fatalf("job changed after rejected transition: %s %q", got.State, got.ResultReference)
	}
}

func testCompleteRequiresReference(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "no artifact", 3)
	now := claimTime()
	mustClaim(t, s, now)
	err := s.MarkCompleted(ctx, created.ID, "", now)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkCompleted with empty reference = %v, want ErrInvalidTransition", err)
	}
	got := mustGet(t, s, created.ID)
	if got.State != domain.JobStateProcessing || got.ResultReference != "" || got.CompletedAt != nil {
		t.Fatalf("job changed after rejected completion: %s %q", got.State, got.ResultReference)
	}
	if err := s.MarkCompleted(ctx, created.ID, "ref-ok", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
}

func testMarkRequiresProcessing(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "pending", 3)
	now := claimTime()
	checks := map[string]error{
		"complete": s.MarkCompleted(ctx, created.ID, "ref", now),
		"retry":    s.MarkRetry(ctx, created.ID, "boom", now, now),
		"fail":     s.MarkFailed(ctx, created.ID, "boom", now),
	}
	for op, err := range checks {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s on pending job = %v, want ErrInvalidTransition", op, err)
		}
	}
	got := mustGet(t, s, created.ID)
	if got.State != domain.JobStatePending || got.RetryCount != 0 {
		t.Fatalf("pending job mutated: %s retry=%d", got.State, got.RetryCount)
	}
}

func testMarkUnknown(t *testing.T, s domain.JobStore) {
	err := s.MarkCompleted(context.Background(), "00000000-0000-0000-0000-000000000000", "ref", claimTime())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testRetryCeiling(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "ceiling", 1)
	now := claimTime()
	mustClaim(t, s, now)
	if err := s.MarkRetry(ctx, created.ID, "first", now, now); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	mustClaim(t, s, now)
	err := s.MarkRetry(ctx, created.ID, "second", now, now)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("MarkRetry past ceiling = %v, want ErrInvalidTransition", err)
	}
	got := mustGet(t, s, created.ID)
	if got.RetryCount != 1 || got.State != domain.JobStateProcessing {
		t.Fatalf("job mutated past ceiling: retry=%d state=%s", got.RetryCount, got.State)
	}
}

func testFailIsTerminal(t *testing.T, s domain.JobStore) {
	ctx := context.Background()
	created := mustCreate(t, s, "doomed", 3)
	now := claimTime()
	mustClaim(t, s, now)
	if err := s.MarkFailed(ctx, created.ID, "invalid input", now); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got := mustGet(t, s, created.ID)
	if got.State != domain.JobStateFailed || got.LastError != "invalid input" {
		t.Fatalf("unexpected failed job: %s %q", got.State, got.LastError)
	}
	if got.ResultReference != "" {
		t.Fatalf("failed job must not carry a result reference")
	}
	if j, _ := s.ClaimDue(ctx, now.Add(time.Hour)); j != nil {
		t.Fatalf("failed job claimed again")
	}
	if err := s.MarkRetry(ctx, created.ID, "again", now, now); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("retry after failure = %v, want ErrInvalidTransition", err)
	}
}

func testConcurrentClaim(t *testing.T, s domain.JobStore) {
	created := mustCreate(t, s, "contended", 3)
	now := claimTime()

	const callers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner []string
		errs   []error
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			j, err := s.ClaimDue(context.Background(), now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				winner = append(winner, j.ID)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("claim errors: %v", errs)
	}
	if len(winner) != 1 || winner[0] != created.ID {
		t.Fatalf("expected exactly one caller to receive %s, got %v", created.ID, winner)
	}
}
