// Package sync provides the coordinator that reconciles queued local
// mutations against the authoritative remote stream.
package sync

import (
	"context"
	"fmt"

	"github.com/safebeacon/core/internal/models"
)

// Transport is the boundary to the remote mutation endpoint. The coordinator
// invokes it serially per entity; implementations may be called concurrently
// for different entities.
type Transport interface {
	// PerformMutation delivers one action. On success it may return the
	// server-confirmed snapshot of the touched entity (nil when the mutation
	// has no entity echo, e.g. a notification send).
	PerformMutation(ctx context.Context, action models.OfflineAction) (*models.EntitySnapshot, error)
}

// TransportError describes a remote call failure. Retryable errors (timeout,
// connectivity loss) are redelivered with backoff; non-retryable rejections
// (server-side validation) fail the action immediately.
type TransportError struct {
	Code      string
	Message   string
	Retryable bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether an error should be retried. Unknown error
// types count as retryable: losing a mutation to a transient glitch is worse
// than one extra delivery attempt.
func IsRetryable(err error) bool {
	if terr, ok := err.(*TransportError); ok {
		return terr.Retryable
	}
	return true
}

// FailureSink receives actions that reached a terminal failed state, either
// through a non-retryable rejection or retry exhaustion. The rest of the
// application uses it to drive user-visible retry prompts.
type FailureSink interface {
	ActionFailed(item models.OfflineActionItem)
}

// FailureChannel is the default FailureSink: a buffered channel the app can
// range over. Delivery never blocks the coordinator; if the buffer is full
// the oldest notification is dropped in favor of the newest.
type FailureChannel struct {
	ch chan models.OfflineActionItem
}

// NewFailureChannel creates a FailureChannel with the given buffer size.
func NewFailureChannel(size int) *FailureChannel {
	if size <= 0 {
		size = 16
	}
	return &FailureChannel{ch: make(chan models.OfflineActionItem, size)}
}

// ActionFailed implements FailureSink.
func (f *FailureChannel) ActionFailed(item models.OfflineActionItem) {
	select {
	case f.ch <- item:
	default:
		select {
		case <-f.ch:
		default:
		}
		select {
		case f.ch <- item:
		default:
		}
	}
}

// Failures returns the channel of failed actions.
func (f *FailureChannel) Failures() <-chan models.OfflineActionItem {
	return f.ch
}
