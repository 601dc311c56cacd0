// Package sync provides the coordinator that reconciles queued local
// mutations against the authoritative remote stream. It is the only
// component that mutates the entity store as a result of remote activity.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/safebeacon/core/internal/logging"
	"github.com/safebeacon/core/internal/models"
	"github.com/safebeacon/core/internal/queue"
	"github.com/safebeacon/core/internal/store"
	"github.com/safebeacon/core/internal/stream"
)

// Coordinator drains the action queue against the transport, applies
// optimistic updates on enqueue, and merges remote stream events into the
// entity store, skipping fields with newer pending local intent.
//
// A single drain loop runs per queue; together with the queue's per-entity
// FIFO this guarantees at most one in-flight action per entity.
type Coordinator struct {
	store     *store.Store
	queue     *queue.Queue
	transport Transport
	sink      FailureSink
	streams   []*stream.Manager // one per collection; may be empty

	// stateMu serializes every entity store read-merge-write sequence
	// (optimistic applies, remote merges, and the tag bookkeeping around
	// them), so no store write can interleave with another path's
	// read-then-put and no untag can run before its tag exists.
	stateMu sync.Mutex

	mu      sync.Mutex
	pending map[models.UUID]map[models.UUID][]string // entity id -> action id -> touched fields

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	now func() time.Time
}

// NewCoordinator wires a coordinator. Stream managers are optional; a caller
// may instead consume stream events itself and feed ApplyRemote directly.
func NewCoordinator(st *store.Store, q *queue.Queue, transport Transport, sink FailureSink, streams ...*stream.Manager) *Coordinator {
	return &Coordinator{
		store:     st,
		queue:     q,
		transport: transport,
		sink:      sink,
		streams:   streams,
		pending:   make(map[models.UUID]map[models.UUID][]string),
		now:       time.Now,
	}
}

// Submit enqueues a mutation and applies it optimistically to the entity
// store. It returns immediately; delivery happens asynchronously in the
// drain loop. The returned item reflects the queued (pending) state.
func (c *Coordinator) Submit(payload models.ActionPayload) (*models.OfflineActionItem, error) {
	// Enqueue, tag, and optimistic apply are one atomic step: the enqueue
	// kick can wake the drain loop immediately, and its resolution must not
	// observe the action before its tag exists.
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	item, err := c.queue.Enqueue(payload)
	if err != nil {
		return nil, err
	}

	c.tagAction(item.Action.ID, payload)
	c.applyOptimistic(payload)

	return item, nil
}

// Start launches the drain loop and, when a stream manager is attached, the
// stream consumer. Pending items surviving a restart are re-tagged and their
// optimistic effect replayed onto the (empty) in-memory store first.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true

	c.bootstrap()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.drainLoop(runCtx)

	for _, sm := range c.streams {
		c.wg.Add(1)
		go c.consumeStream(runCtx, sm)
	}
}

// Stop halts the drain loop and stream consumer. Queued items stay durable;
// in-flight state is recovered on the next Start.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if !c.running {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.running = false
}

// bootstrap re-tags surviving queue items and replays their optimistic
// effect, so reads reflect unconfirmed local intent after a restart.
func (c *Coordinator) bootstrap() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, item := range c.queue.GetAll() {
		switch item.Status {
		case models.ActionStatusPending, models.ActionStatusProcessing:
			c.tagAction(item.Action.ID, item.Action.Payload)
			c.applyOptimistic(item.Action.Payload)
		}
	}
}

// drainLoop sequentially delivers queued actions. It pauses when the queue
// has nothing ready and wakes on enqueue or when a backoff window elapses.
func (c *Coordinator) drainLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		item, err := c.queue.DequeueNext()
		if err != nil {
			logging.Error("dequeue failed", err, logging.Fields{"component": "coordinator"})
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}
		if item == nil {
			if !c.waitForWork(ctx) {
				return
			}
			continue
		}

		c.deliver(ctx, item)
	}
}

func (c *Coordinator) waitForWork(ctx context.Context) bool {
	var timer *time.Timer
	var timeout <-chan time.Time
	if wake, ok := c.queue.NextWake(); ok {
		if wake < 0 {
			wake = 0
		}
		timer = time.NewTimer(wake)
		timeout = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	select {
	case <-ctx.Done():
		return false
	case <-c.queue.Kick():
		return true
	case <-timeout:
		return true
	}
}

// deliver performs one delivery attempt and applies the resulting status
// transition.
func (c *Coordinator) deliver(ctx context.Context, item *models.OfflineActionItem) {
	id := item.Action.ID

	snap, err := c.transport.PerformMutation(ctx, item.Action)

	// Resolution is serialized behind stateMu so it cannot overtake the
	// submitting goroutine's tag+optimistic apply.
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err == nil {
		if markErr := c.queue.MarkCompleted(id); markErr != nil {
			logging.Error("failed to complete action", markErr, logging.Fields{
				"component": "coordinator",
				"action_id": id,
			})
		}
		c.untagAction(id, item.Action.Payload)
		if snap != nil {
			// Server echo of the confirmed entity; merged like any other
			// authoritative event so other pending actions stay protected.
			c.applyRemoteLocked(*snap)
		}
		return
	}

	if ctx.Err() != nil {
		// Shutdown raced the attempt. Put the item back without burning a
		// retry; it is redelivered after the next Start.
		if rlErr := c.queue.Release(id); rlErr != nil {
			logging.Error("failed to release action on shutdown", rlErr, logging.Fields{
				"component": "coordinator",
				"action_id": id,
			})
		}
		return
	}

	if !IsRetryable(err) {
		if markErr := c.queue.MarkFailed(id, err.Error()); markErr != nil {
			logging.Error("failed to fail action", markErr, logging.Fields{
				"component": "coordinator",
				"action_id": id,
			})
		}
		c.untagAction(id, item.Action.Payload)
		c.notifyFailure(id)
		return
	}

	updated, rqErr := c.queue.Requeue(id, err)
	if rqErr != nil {
		logging.Error("failed to requeue action", rqErr, logging.Fields{
			"component": "coordinator",
			"action_id": id,
		})
		return
	}
	if updated.Status == models.ActionStatusFailed {
		c.untagAction(id, item.Action.Payload)
		c.notifyFailure(id)
	}
}

func (c *Coordinator) notifyFailure(id models.UUID) {
	if c.sink == nil {
		return
	}
	if item, ok := c.queue.Get(id); ok {
		c.sink.ActionFailed(*item)
	}
}

// consumeStream feeds one manager's authoritative change events into the
// store.
func (c *Coordinator) consumeStream(ctx context.Context, sm *stream.Manager) {
	defer c.wg.Done()
	updates := sm.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			c.ApplyRemote(snap)
		}
	}
}

// ApplyRemote merges one authoritative entity snapshot into the store.
// Entities with no pending local actions are overwritten wholesale. For
// entities with pending intent, fields covered by an in-flight or queued
// action keep their local value until that action resolves; all other fields
// take the stream's value.
func (c *Coordinator) ApplyRemote(snap models.EntitySnapshot) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.applyRemoteLocked(snap)
}

func (c *Coordinator) applyRemoteLocked(snap models.EntitySnapshot) {
	if err := snap.Validate(); err != nil {
		logging.Warn("ignoring invalid remote snapshot", logging.Fields{
			"component": "coordinator",
			"error":     err.Error(),
		})
		return
	}

	protected := c.protectedFields(snap.ID)

	if snap.Deleted {
		if len(protected) > 0 {
			// Local intent still in flight; skip the delete and let the
			// post-resolution stream state win later.
			logging.Debug("skipping remote delete with pending local actions", logging.Fields{
				"component": "coordinator",
				"entity_id": snap.ID,
			})
			return
		}
		switch snap.Collection {
		case models.CollectionContacts:
			c.store.DeleteContact(snap.ID)
		}
		return
	}

	switch snap.Collection {
	case models.CollectionContacts:
		remote := *snap.Contact
		if local, ok := c.store.Contact(snap.ID); ok && len(protected) > 0 {
			remote = mergeContact(local, remote, protected)
		}
		c.store.PutContact(remote)
	case models.CollectionUsers:
		remote := *snap.User
		if local, ok := c.store.User(); ok && local.ID == snap.ID && len(protected) > 0 {
			remote = mergeUser(local, remote, protected)
		}
		c.store.PutUser(remote)
	case models.CollectionCheckIns:
		remote := *snap.CheckIn
		if local, ok := c.store.CheckIn(snap.ID); ok && len(protected) > 0 {
			remote = mergeCheckIn(local, remote, protected)
		}
		c.store.PutCheckIn(remote)
	}
}

// PendingActions returns the ids of unresolved actions for an entity.
func (c *Coordinator) PendingActions(entityID models.UUID) []models.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	actions := c.pending[entityID]
	ids := make([]models.UUID, 0, len(actions))
	for id := range actions {
		ids = append(ids, id)
	}
	return ids
}

// tagAction records the pending-local tags for one action. A check-in also
// tags the user entity: its optimistic apply writes the user's last check-in
// timestamp, and that field needs the same stream protection.
func (c *Coordinator) tagAction(actionID models.UUID, payload models.ActionPayload) {
	c.tag(payload.EntityID(), actionID, payload.Fields())
	if p, ok := payload.(models.RecordCheckInPayload); ok {
		c.tag(p.CheckIn.UserID, actionID, []string{models.FieldLastCheckInAt})
	}
}

// untagAction removes every tag tagAction recorded for the action.
func (c *Coordinator) untagAction(actionID models.UUID, payload models.ActionPayload) {
	c.untag(payload.EntityID(), actionID)
	if p, ok := payload.(models.RecordCheckInPayload); ok {
		c.untag(p.CheckIn.UserID, actionID)
	}
}

func (c *Coordinator) tag(entityID, actionID models.UUID, fields []string) {
	if entityID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	actions, ok := c.pending[entityID]
	if !ok {
		actions = make(map[models.UUID][]string)
		c.pending[entityID] = actions
	}
	actions[actionID] = fields
}

func (c *Coordinator) untag(entityID, actionID models.UUID) {
	if entityID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	actions, ok := c.pending[entityID]
	if !ok {
		return
	}
	delete(actions, actionID)
	if len(actions) == 0 {
		delete(c.pending, entityID)
	}
}

func (c *Coordinator) protectedFields(entityID models.UUID) map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields := make(map[string]bool)
	for _, actionFields := range c.pending[entityID] {
		for _, f := range actionFields {
			fields[f] = true
		}
	}
	return fields
}

// applyOptimistic mutates the store to reflect a just-enqueued action.
func (c *Coordinator) applyOptimistic(payload models.ActionPayload) {
	now := c.now().Unix()

	switch p := payload.(type) {
	case models.CreateContactPayload:
		c.store.PutContact(p.Contact)

	case models.UpdateContactPayload:
		contact, ok := c.store.Contact(p.ContactID)
		if !ok {
			return
		}
		if p.Name != nil {
			contact.Name = *p.Name
		}
		if p.Phone != nil {
			contact.Phone = *p.Phone
		}
		if p.Note != nil {
			contact.Note = *p.Note
		}
		if p.AlertRecipient != nil {
			contact.AlertRecipient = *p.AlertRecipient
		}
		if p.CheckInRecipient != nil {
			contact.CheckInRecipient = *p.CheckInRecipient
		}
		contact.UpdatedAt = now
		c.store.PutContact(contact)

	case models.DeleteContactPayload:
		c.store.DeleteContact(p.ContactID)

	case models.UpdateUserPayload:
		user, ok := c.store.User()
		if !ok || user.ID != p.UserID {
			return
		}
		if p.Name != nil {
			user.Name = *p.Name
		}
		if p.Phone != nil {
			user.Phone = *p.Phone
		}
		if p.CheckInIntervalMinutes != nil {
			user.CheckInIntervalMinutes = *p.CheckInIntervalMinutes
		}
		user.UpdatedAt = now
		c.store.PutUser(user)

	case models.RecordCheckInPayload:
		c.store.PutCheckIn(p.CheckIn)
		if user, ok := c.store.User(); ok && user.ID == p.CheckIn.UserID {
			user.LastCheckInAt = p.CheckIn.CreatedAt
			c.store.PutUser(user)
		}

	case models.SendNotificationPayload:
		// No local state to change; the action only exists in the queue.
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
