// Package queue provides the durable offline action queue with retry logic.
package queue

import "github.com/safebeacon/core/internal/models"

// StatusMeta carries the mutable fields persisted alongside a status change.
type StatusMeta struct {
	RetryCount   int
	LastAttempt  int64
	ErrorMessage string
}

// Storage is the durable backing store for queue items. Implementations must
// make single-item updates atomic: a status transition is only considered
// durable once the corresponding call returns, so a crash mid-retry never
// silently loses an action.
type Storage interface {
	// Append persists a newly enqueued item.
	Append(item *models.OfflineActionItem) error

	// UpdateStatus persists a status transition for one item.
	UpdateStatus(id models.UUID, status models.ActionStatus, meta StatusMeta) error

	// Delete removes an item, used when a completed action is dropped.
	Delete(id models.UUID) error

	// LoadAll returns every surviving item in creation order.
	LoadAll() ([]*models.OfflineActionItem, error)
}
