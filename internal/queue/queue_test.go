package queue

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/safebeacon/core/internal/errors"
	"github.com/safebeacon/core/internal/models"
)

func testQueue(cfg Config) (*Queue, *time.Time) {
	q := New(nil, cfg)
	now := time.Unix(1_700_000_000, 0)
	q.now = func() time.Time { return now }
	return q, &now
}

func notePayload(contactID models.UUID, note string) models.ActionPayload {
	return models.UpdateContactPayload{ContactID: contactID, Note: &note}
}

func TestEnqueueDequeueOrder(t *testing.T) {
	q, _ := testQueue(DefaultConfig())

	first, err := q.Enqueue(notePayload("contact-a", "one"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	second, err := q.Enqueue(notePayload("contact-b", "two"))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if got == nil || got.Action.ID != first.Action.ID {
		t.Fatalf("expected first enqueued action, got %+v", got)
	}
	if got.Status != models.ActionStatusProcessing {
		t.Errorf("dequeued item should be processing, got %s", got.Status)
	}

	got, err = q.DequeueNext()
	if err != nil {
		t.Fatalf("dequeue failed: %v", err)
	}
	if got == nil || got.Action.ID != second.Action.ID {
		t.Fatalf("expected second enqueued action, got %+v", got)
	}
}

func TestAtMostOneInFlightPerEntity(t *testing.T) {
	q, _ := testQueue(DefaultConfig())

	first, _ := q.Enqueue(notePayload("contact-a", "one"))
	q.Enqueue(notePayload("contact-a", "two"))

	got, _ := q.DequeueNext()
	if got == nil || got.Action.ID != first.Action.ID {
		t.Fatalf("expected first action for entity, got %+v", got)
	}

	// Second action for the same entity must wait for the first to resolve.
	got, _ = q.DequeueNext()
	if got != nil {
		t.Fatalf("expected no ready item while entity in flight, got %+v", got)
	}

	if err := q.MarkCompleted(first.Action.ID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	got, _ = q.DequeueNext()
	if got == nil {
		t.Fatal("expected second action after first completed")
	}
}

func TestDifferentEntitiesIndependent(t *testing.T) {
	q, _ := testQueue(DefaultConfig())

	q.Enqueue(notePayload("contact-a", "one"))
	other, _ := q.Enqueue(notePayload("contact-b", "two"))

	q.DequeueNext() // contact-a now processing
	got, _ := q.DequeueNext()
	if got == nil || got.Action.ID != other.Action.ID {
		t.Fatalf("expected contact-b action despite contact-a in flight, got %+v", got)
	}
}

func TestBackoffBlocksEntityOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff = Backoff{Base: 10 * time.Second, Max: time.Minute}
	q, now := testQueue(cfg)

	first, _ := q.Enqueue(notePayload("contact-a", "one"))
	q.Enqueue(notePayload("contact-a", "two"))

	q.DequeueNext()
	if _, err := q.Requeue(first.Action.ID, errors.New("timeout")); err != nil {
		t.Fatalf("requeue failed: %v", err)
	}

	// Inside the backoff window nothing for the entity is ready, not even
	// the younger action: per-entity order survives retries.
	got, _ := q.DequeueNext()
	if got != nil {
		t.Fatalf("expected nothing ready inside backoff window, got %+v", got)
	}

	*now = now.Add(11 * time.Second)
	got, _ = q.DequeueNext()
	if got == nil || got.Action.ID != first.Action.ID {
		t.Fatalf("expected retried first action after backoff, got %+v", got)
	}
	if got.Action.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", got.Action.RetryCount)
	}
}

func TestRetryExhaustionFailsAction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	cfg.Backoff = Backoff{Base: time.Millisecond, Max: time.Millisecond}
	q, now := testQueue(cfg)

	item, _ := q.Enqueue(notePayload("contact-a", "one"))

	var last *models.OfflineActionItem
	for i := 0; i < 3; i++ {
		*now = now.Add(time.Second)
		got, err := q.DequeueNext()
		if err != nil || got == nil {
			t.Fatalf("attempt %d: expected ready item, got %+v err %v", i+1, got, err)
		}
		last, err = q.Requeue(item.Action.ID, errors.New("unreachable"))
		if err != nil {
			t.Fatalf("requeue failed: %v", err)
		}
	}

	if last.Status != models.ActionStatusFailed {
		t.Fatalf("expected failed after %d attempts, got %s", 3, last.Status)
	}
	if last.Action.RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", last.Action.RetryCount)
	}

	// Failed items stay visible but are never dequeued.
	if got, _ := q.DequeueNext(); got != nil {
		t.Errorf("failed item should not be dequeued, got %+v", got)
	}
	if q.Len() != 1 {
		t.Errorf("failed item should remain in queue, len = %d", q.Len())
	}
}

func TestFailedItemDoesNotBlockEntity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	q, now := testQueue(cfg)

	first, _ := q.Enqueue(notePayload("contact-a", "one"))
	second, _ := q.Enqueue(notePayload("contact-a", "two"))

	q.DequeueNext()
	q.Requeue(first.Action.ID, errors.New("rejected")) // exhausts the single attempt

	*now = now.Add(time.Second)
	got, _ := q.DequeueNext()
	if got == nil || got.Action.ID != second.Action.ID {
		t.Fatalf("terminal failure should unblock the entity, got %+v", got)
	}
}

func TestMarkFailedRequiresProcessing(t *testing.T) {
	q, _ := testQueue(DefaultConfig())
	item, _ := q.Enqueue(notePayload("contact-a", "one"))

	err := q.MarkFailed(item.Action.ID, "rejected")
	if !apperrors.Is(err, apperrors.ErrBadTransition) {
		t.Errorf("expected BAD_STATUS_TRANSITION for pending item, got %v", err)
	}

	err = q.MarkCompleted(item.Action.ID)
	if !apperrors.Is(err, apperrors.ErrBadTransition) {
		t.Errorf("expected BAD_STATUS_TRANSITION for pending item, got %v", err)
	}
}

func TestReleaseKeepsRetryBudget(t *testing.T) {
	q, _ := testQueue(DefaultConfig())
	item, _ := q.Enqueue(notePayload("contact-a", "one"))

	q.DequeueNext()
	if err := q.Release(item.Action.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	got, ok := q.Get(item.Action.ID)
	if !ok || got.Status != models.ActionStatusPending {
		t.Fatalf("released item should be pending, got %+v", got)
	}
	if got.Action.RetryCount != 0 {
		t.Errorf("release must not count an attempt, retry count = %d", got.Action.RetryCount)
	}

	// Ready again immediately.
	if got, _ := q.DequeueNext(); got == nil {
		t.Error("released item should be dequeueable at once")
	}
}

func TestRetryFailedPreservesRetryCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.Backoff = Backoff{Base: time.Millisecond, Max: time.Millisecond}
	q, now := testQueue(cfg)

	item, _ := q.Enqueue(notePayload("contact-a", "one"))
	for i := 0; i < 2; i++ {
		*now = now.Add(time.Second)
		q.DequeueNext()
		q.Requeue(item.Action.ID, errors.New("unreachable"))
	}

	if count := q.RetryFailed(); count != 1 {
		t.Fatalf("RetryFailed = %d, want 1", count)
	}
	got, _ := q.Get(item.Action.ID)
	if got.Status != models.ActionStatusPending {
		t.Fatalf("retried item should be pending, got %s", got.Status)
	}
	if got.Action.RetryCount != 2 {
		t.Errorf("retry count must be preserved, got %d", got.Action.RetryCount)
	}

	// One more transient failure fails it again immediately.
	*now = now.Add(time.Second)
	q.DequeueNext()
	updated, _ := q.Requeue(item.Action.ID, errors.New("unreachable"))
	if updated.Status != models.ActionStatusFailed {
		t.Errorf("expected failed after exhausted budget, got %s", updated.Status)
	}
}

func TestEnqueueCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	q, _ := testQueue(cfg)

	q.Enqueue(notePayload("contact-a", "one"))
	q.Enqueue(notePayload("contact-b", "two"))

	_, err := q.Enqueue(notePayload("contact-c", "three"))
	if !apperrors.Is(err, apperrors.ErrQueueFull) {
		t.Errorf("expected QUEUE_FULL, got %v", err)
	}
}

func TestStats(t *testing.T) {
	q, now := testQueue(DefaultConfig())

	q.Enqueue(notePayload("contact-a", "one"))
	q.Enqueue(notePayload("contact-b", "two"))

	q.DequeueNext()
	*now = now.Add(30 * time.Second)

	stats := q.Stats()
	if stats.Total != 2 || stats.Pending != 1 || stats.Processing != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.OldestPendingAge != 30*time.Second {
		t.Errorf("oldest pending age = %v, want 30s", stats.OldestPendingAge)
	}
}

func TestNextWake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backoff = Backoff{Base: 10 * time.Second, Max: time.Minute}
	q, _ := testQueue(cfg)

	if _, ok := q.NextWake(); ok {
		t.Error("empty queue should have no wake time")
	}

	item, _ := q.Enqueue(notePayload("contact-a", "one"))
	if wake, ok := q.NextWake(); !ok || wake != 0 {
		t.Errorf("fresh pending item should be ready now, got %v ok=%v", wake, ok)
	}

	q.DequeueNext()
	q.Requeue(item.Action.ID, errors.New("timeout"))
	wake, ok := q.NextWake()
	if !ok {
		t.Fatal("backed-off item should report a wake time")
	}
	if wake <= 0 || wake > 10*time.Second {
		t.Errorf("wake = %v, want within (0, 10s]", wake)
	}
}

func TestRemoveAndClear(t *testing.T) {
	q, _ := testQueue(DefaultConfig())

	item, _ := q.Enqueue(notePayload("contact-a", "one"))
	q.Enqueue(notePayload("contact-b", "two"))

	if err := q.Remove(item.Action.ID); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("len = %d after remove, want 1", q.Len())
	}
	if err := q.Remove(item.Action.ID); !apperrors.Is(err, apperrors.ErrActionNotFound) {
		t.Errorf("expected ACTION_NOT_FOUND, got %v", err)
	}

	if err := q.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("len = %d after clear, want 0", q.Len())
	}
}
