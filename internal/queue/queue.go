// Package queue provides the durable offline action queue with retry logic.
// The queue is ordered FIFO per entity: for any entity id, actions are always
// dequeued in creation order, and at most one of them is processing at a time.
package queue

import (
	"sync"
	"time"

	apperrors "github.com/safebeacon/core/internal/errors"
	"github.com/safebeacon/core/internal/logging"
	"github.com/safebeacon/core/internal/models"
	"github.com/safebeacon/core/internal/uuid"
)

// Config holds queue tunables.
type Config struct {
	// MaxRetries is the number of delivery attempts before an action is
	// marked failed.
	MaxRetries int
	// MaxSize caps the number of items held by the queue.
	MaxSize int
	// Backoff is the delay schedule between retry attempts.
	Backoff Backoff
}

// DefaultConfig returns the standard queue configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		MaxSize:    1000,
		Backoff:    DefaultBackoff(),
	}
}

// Stats summarizes queue state for user-visible "pending changes" indicators.
type Stats struct {
	Total            int           `json:"total"`
	Pending          int           `json:"pending"`
	Processing       int           `json:"processing"`
	Failed           int           `json:"failed"`
	OldestPendingAge time.Duration `json:"oldest_pending_age"`
	MeanRetryCount   float64       `json:"mean_retry_count"`
}

// Queue manages not-yet-confirmed mutations. Every status transition is
// flushed to durable storage before the in-memory state changes, so a crash
// mid-retry never loses an action.
type Queue struct {
	mu      sync.Mutex
	items   map[models.UUID]*models.OfflineActionItem
	order   []models.UUID // creation order
	storage Storage       // nil means ephemeral (tests)

	maxRetries int
	maxSize    int
	backoff    Backoff

	kick chan struct{}
	now  func() time.Time
}

// New creates a Queue backed by the given storage. Storage may be nil for an
// ephemeral queue.
func New(storage Storage, cfg Config) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Queue{
		items:      make(map[models.UUID]*models.OfflineActionItem),
		storage:    storage,
		maxRetries: cfg.MaxRetries,
		maxSize:    cfg.MaxSize,
		backoff:    cfg.Backoff,
		kick:       make(chan struct{}, 1),
		now:        time.Now,
	}
}

// Load restores surviving items from storage. Items interrupted mid-attempt
// (persisted as processing) are downgraded to pending so the drain loop
// redelivers them.
func (q *Queue) Load() error {
	if q.storage == nil {
		return nil
	}

	items, err := q.storage.LoadAll()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to load queue", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	recovered := 0
	for _, item := range items {
		if item.Status == models.ActionStatusProcessing {
			item.Status = models.ActionStatusPending
			meta := StatusMeta{
				RetryCount:  item.Action.RetryCount,
				LastAttempt: item.LastAttempt,
			}
			if err := q.storage.UpdateStatus(item.Action.ID, models.ActionStatusPending, meta); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to recover in-flight item", err)
			}
			recovered++
		}
		q.items[item.Action.ID] = item
		q.order = append(q.order, item.Action.ID)
	}

	if len(items) > 0 {
		logging.Info("action queue restored", logging.Fields{
			"component": "queue",
			"items":     len(items),
			"recovered": recovered,
		})
		q.signal()
	}
	return nil
}

// Enqueue appends a new pending action for the given payload. It never
// touches the network and is safe to call with the device offline.
func (q *Queue) Enqueue(payload models.ActionPayload) (*models.OfflineActionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return nil, apperrors.New(apperrors.ErrQueueFull, "action queue is full")
	}

	item := &models.OfflineActionItem{
		Action: models.OfflineAction{
			ID:        models.UUID(uuid.New()),
			Payload:   payload,
			CreatedAt: q.now().Unix(),
		},
		Status: models.ActionStatusPending,
	}

	if q.storage != nil {
		if err := q.storage.Append(item); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist action", err)
		}
	}

	q.items[item.Action.ID] = item
	q.order = append(q.order, item.Action.ID)
	q.signal()

	logging.Debug("action enqueued", logging.Fields{
		"component": "queue",
		"action_id": item.Action.ID,
		"kind":      item.Action.Kind(),
		"entity_id": item.Action.EntityID(),
	})

	return copyItem(item), nil
}

// DequeueNext returns the oldest pending item whose entity has nothing in
// flight and whose backoff delay has elapsed, transitioning it to processing.
// Returns nil when no item is ready. A pending item still inside its backoff
// window blocks later items for the same entity, preserving per-entity order
// across retries.
func (q *Queue) DequeueNext() (*models.OfflineActionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	blocked := make(map[models.UUID]bool)

	for _, id := range q.order {
		item, ok := q.items[id]
		if !ok {
			continue
		}
		entityID := item.Action.EntityID()
		if blocked[entityID] {
			continue
		}

		switch item.Status {
		case models.ActionStatusProcessing:
			blocked[entityID] = true
		case models.ActionStatusPending:
			if !q.readyLocked(item, now) {
				blocked[entityID] = true
				continue
			}
			meta := StatusMeta{
				RetryCount:   item.Action.RetryCount,
				LastAttempt:  now.Unix(),
				ErrorMessage: item.ErrorMessage,
			}
			if q.storage != nil {
				if err := q.storage.UpdateStatus(id, models.ActionStatusProcessing, meta); err != nil {
					return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist dequeue", err)
				}
			}
			item.Status = models.ActionStatusProcessing
			item.LastAttempt = now.Unix()
			return copyItem(item), nil
		}
	}
	return nil, nil
}

// MarkCompleted finishes a processing action and removes it from the queue.
func (q *Queue) MarkCompleted(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.New(apperrors.ErrActionNotFound, "item "+id.String()+" not found")
	}
	if item.Status != models.ActionStatusProcessing {
		return apperrors.New(apperrors.ErrBadTransition,
			"cannot complete item in status "+string(item.Status))
	}

	if q.storage != nil {
		if err := q.storage.Delete(id); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to remove completed action", err)
		}
	}
	q.removeLocked(id)

	logging.Debug("action completed", logging.Fields{
		"component": "queue",
		"action_id": id,
	})
	return nil
}

// MarkFailed terminally fails a processing action, bypassing the remaining
// retry budget. Used for non-retryable rejections. Failed items stay in the
// queue until explicitly removed or retried.
func (q *Queue) MarkFailed(id models.UUID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.New(apperrors.ErrActionNotFound, "item "+id.String()+" not found")
	}
	if item.Status != models.ActionStatusProcessing {
		return apperrors.New(apperrors.ErrBadTransition,
			"cannot fail item in status "+string(item.Status))
	}

	meta := StatusMeta{
		RetryCount:   item.Action.RetryCount,
		LastAttempt:  item.LastAttempt,
		ErrorMessage: reason,
	}
	if q.storage != nil {
		if err := q.storage.UpdateStatus(id, models.ActionStatusFailed, meta); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist failure", err)
		}
	}
	item.Status = models.ActionStatusFailed
	item.ErrorMessage = reason

	logging.Warn("action failed permanently", logging.Fields{
		"component": "queue",
		"action_id": id,
		"kind":      item.Action.Kind(),
		"reason":    reason,
	})
	return nil
}

// Requeue records a transient delivery failure. The retry count increments;
// once it reaches the maximum the item transitions to failed instead of
// pending. The returned copy reflects the new state.
func (q *Queue) Requeue(id models.UUID, cause error) (*models.OfflineActionItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, apperrors.New(apperrors.ErrActionNotFound, "item "+id.String()+" not found")
	}
	if item.Status != models.ActionStatusProcessing {
		return nil, apperrors.New(apperrors.ErrBadTransition,
			"cannot requeue item in status "+string(item.Status))
	}

	retryCount := item.Action.RetryCount + 1
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	meta := StatusMeta{
		RetryCount:   retryCount,
		LastAttempt:  item.LastAttempt,
		ErrorMessage: errMsg,
	}

	status := models.ActionStatusPending
	if retryCount >= q.maxRetries {
		status = models.ActionStatusFailed
	}

	if q.storage != nil {
		if err := q.storage.UpdateStatus(id, status, meta); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to persist requeue", err)
		}
	}

	item.Action.RetryCount = retryCount
	item.Status = status
	item.ErrorMessage = errMsg

	if status == models.ActionStatusFailed {
		logging.Warn("action exhausted retries", logging.Fields{
			"component": "queue",
			"action_id": id,
			"kind":      item.Action.Kind(),
			"retries":   retryCount,
		})
	} else {
		logging.Debug("action requeued", logging.Fields{
			"component": "queue",
			"action_id": id,
			"retry":     retryCount,
			"max":       q.maxRetries,
			"delay":     q.backoff.Delay(retryCount).String(),
		})
		q.signal()
	}
	return copyItem(item), nil
}

// Release returns a processing item to pending without counting a delivery
// attempt, used when shutdown interrupts an in-flight call. The same
// downgrade happens in Load for items persisted as processing.
func (q *Queue) Release(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return apperrors.New(apperrors.ErrActionNotFound, "item "+id.String()+" not found")
	}
	if item.Status != models.ActionStatusProcessing {
		return apperrors.New(apperrors.ErrBadTransition,
			"cannot release item in status "+string(item.Status))
	}

	meta := StatusMeta{
		RetryCount:   item.Action.RetryCount,
		LastAttempt:  item.LastAttempt,
		ErrorMessage: item.ErrorMessage,
	}
	if q.storage != nil {
		if err := q.storage.UpdateStatus(id, models.ActionStatusPending, meta); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist release", err)
		}
	}
	item.Status = models.ActionStatusPending
	q.signal()
	return nil
}

// RetryFailed re-queues all failed items for one more delivery pass, driven
// by an explicit user retry. Retry counts are preserved, so a transient
// failure on that pass fails the item again immediately.
func (q *Queue) RetryFailed() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, id := range q.order {
		item, ok := q.items[id]
		if !ok || item.Status != models.ActionStatusFailed {
			continue
		}
		meta := StatusMeta{RetryCount: item.Action.RetryCount}
		if q.storage != nil {
			if err := q.storage.UpdateStatus(id, models.ActionStatusPending, meta); err != nil {
				logging.Error("failed to persist retry", err, logging.Fields{
					"component": "queue",
					"action_id": id,
				})
				continue
			}
		}
		item.Status = models.ActionStatusPending
		item.ErrorMessage = ""
		item.LastAttempt = 0
		count++
	}

	if count > 0 {
		logging.Info("failed actions re-queued", logging.Fields{
			"component": "queue",
			"count":     count,
		})
		q.signal()
	}
	return count
}

// Remove deletes an item regardless of status.
func (q *Queue) Remove(id models.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return apperrors.New(apperrors.ErrActionNotFound, "item "+id.String()+" not found")
	}
	if q.storage != nil {
		if err := q.storage.Delete(id); err != nil {
			return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete action", err)
		}
	}
	q.removeLocked(id)
	return nil
}

// Clear removes all items.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.storage != nil {
		for id := range q.items {
			if err := q.storage.Delete(id); err != nil {
				return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear queue", err)
			}
		}
	}
	q.items = make(map[models.UUID]*models.OfflineActionItem)
	q.order = nil
	return nil
}

// GetAll returns copies of every item in creation order.
func (q *Queue) GetAll() []*models.OfflineActionItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]*models.OfflineActionItem, 0, len(q.items))
	for _, id := range q.order {
		if item, ok := q.items[id]; ok {
			items = append(items, copyItem(item))
		}
	}
	return items
}

// Get returns a copy of one item.
func (q *Queue) Get(id models.UUID) (*models.OfflineActionItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	return copyItem(item), true
}

// Stats returns queue statistics.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats Stats
	now := q.now().Unix()
	totalRetries := 0
	oldestPending := int64(0)

	for _, item := range q.items {
		stats.Total++
		totalRetries += item.Action.RetryCount
		switch item.Status {
		case models.ActionStatusPending:
			stats.Pending++
			if oldestPending == 0 || item.Action.CreatedAt < oldestPending {
				oldestPending = item.Action.CreatedAt
			}
		case models.ActionStatusProcessing:
			stats.Processing++
		case models.ActionStatusFailed:
			stats.Failed++
		}
	}
	if oldestPending > 0 && now > oldestPending {
		stats.OldestPendingAge = time.Duration(now-oldestPending) * time.Second
	}
	if stats.Total > 0 {
		stats.MeanRetryCount = float64(totalRetries) / float64(stats.Total)
	}
	return stats
}

// Len returns the number of items held.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Kick returns a channel signaled whenever new work may be ready. The drain
// loop waits on it instead of polling.
func (q *Queue) Kick() <-chan struct{} {
	return q.kick
}

// NextWake reports how long until the earliest backed-off pending item
// becomes ready. ok is false when nothing is pending.
func (q *Queue) NextWake() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	found := false
	var min time.Duration

	for _, item := range q.items {
		if item.Status != models.ActionStatusPending {
			continue
		}
		var wait time.Duration
		if !q.readyLocked(item, now) {
			readyAt := time.Unix(item.LastAttempt, 0).Add(q.backoff.Delay(item.Action.RetryCount))
			wait = readyAt.Sub(now)
		}
		if !found || wait < min {
			found = true
			min = wait
		}
	}
	return min, found
}

func (q *Queue) readyLocked(item *models.OfflineActionItem, now time.Time) bool {
	if item.Action.RetryCount == 0 || item.LastAttempt == 0 {
		return true
	}
	readyAt := time.Unix(item.LastAttempt, 0).Add(q.backoff.Delay(item.Action.RetryCount))
	return !now.Before(readyAt)
}

func (q *Queue) removeLocked(id models.UUID) {
	delete(q.items, id)
	for i, oid := range q.order {
		if oid == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) signal() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func copyItem(item *models.OfflineActionItem) *models.OfflineActionItem {
	copied := *item
	return &copied
}
