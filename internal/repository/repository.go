// Package repository provides the public facade of the sync core. It is the
// only surface the rest of the application calls: entity-shaped CRUD that
// applies optimistic updates and queues mutations, plus observation of state
// snapshots and asynchronous failures.
package repository

import (
	"time"

	apperrors "github.com/safebeacon/core/internal/errors"
	"github.com/safebeacon/core/internal/models"
	"github.com/safebeacon/core/internal/queue"
	"github.com/safebeacon/core/internal/store"
	syncpkg "github.com/safebeacon/core/internal/sync"
	"github.com/safebeacon/core/internal/uuid"
)

// ContactPatch selects contact fields to update. Nil means leave unchanged.
type ContactPatch struct {
	Name             *string
	Phone            *string
	Note             *string
	AlertRecipient   *bool
	CheckInRecipient *bool
}

// UserPatch selects user profile fields to update.
type UserPatch struct {
	Name                   *string
	Phone                  *string
	CheckInIntervalMinutes *int64
}

// Repository composes the entity store, action queue, and sync coordinator
// behind entity-shaped operations. Every mutating call returns immediately
// with the optimistically updated value; confirmation status lives in the
// queue (Stats, PendingActions) and terminal failures arrive on Failures.
type Repository struct {
	store    *store.Store
	queue    *queue.Queue
	coord    *syncpkg.Coordinator
	failures *syncpkg.FailureChannel

	now func() time.Time
}

// New creates the facade. failures may be nil when the caller installed a
// custom FailureSink on the coordinator.
func New(st *store.Store, q *queue.Queue, coord *syncpkg.Coordinator, failures *syncpkg.FailureChannel) *Repository {
	return &Repository{
		store:    st,
		queue:    q,
		coord:    coord,
		failures: failures,
		now:      time.Now,
	}
}

// GetUser returns the current user profile.
func (r *Repository) GetUser() (models.User, error) {
	user, ok := r.store.User()
	if !ok {
		return models.User{}, apperrors.New(apperrors.ErrNotFound, "user profile not loaded")
	}
	return user, nil
}

// UpdateUser queues a user profile update and returns the optimistic value.
func (r *Repository) UpdateUser(patch UserPatch) (models.User, error) {
	user, ok := r.store.User()
	if !ok {
		return models.User{}, apperrors.New(apperrors.ErrNotFound, "user profile not loaded")
	}
	if patch.Name == nil && patch.Phone == nil && patch.CheckInIntervalMinutes == nil {
		return models.User{}, apperrors.New(apperrors.ErrValidation, "empty user update")
	}
	if patch.CheckInIntervalMinutes != nil && *patch.CheckInIntervalMinutes <= 0 {
		return models.User{}, apperrors.New(apperrors.ErrValidation, "check-in interval must be positive")
	}

	payload := models.UpdateUserPayload{
		UserID:                 user.ID,
		Name:                   patch.Name,
		Phone:                  patch.Phone,
		CheckInIntervalMinutes: patch.CheckInIntervalMinutes,
	}
	if _, err := r.coord.Submit(payload); err != nil {
		return models.User{}, err
	}
	return r.GetUser()
}

// SeedUser loads an authoritative user profile into the store, used for
// initial cache population before the stream has delivered anything.
func (r *Repository) SeedUser(user models.User) {
	r.coord.ApplyRemote(models.EntitySnapshot{
		Collection: models.CollectionUsers,
		ID:         user.ID,
		User:       &user,
	})
}

// GetContacts returns all known contacts, including optimistic ones.
func (r *Repository) GetContacts() []models.Contact {
	return r.store.Contacts()
}

// GetContact returns one contact. A local read miss with no pending create
// is entity-not-found.
func (r *Repository) GetContact(id models.UUID) (models.Contact, error) {
	contact, ok := r.store.Contact(id)
	if !ok {
		return models.Contact{}, apperrors.New(apperrors.ErrNotFound, "contact "+id.String()+" not found")
	}
	return contact, nil
}

// AddContact validates and queues a contact create. The contact id is
// assigned locally so follow-up updates order behind the create.
func (r *Repository) AddContact(contact models.Contact) (models.Contact, error) {
	if contact.Name == "" {
		return models.Contact{}, apperrors.New(apperrors.ErrValidation, "contact name is required")
	}
	if !contact.HasRole() {
		return models.Contact{}, apperrors.New(apperrors.ErrValidation,
			"contact must have at least one role")
	}

	contact.ID = models.UUID(uuid.New())
	contact.UpdatedAt = r.now().Unix()
	contact.Version = 0 // server assigns the first confirmed version

	if _, err := r.coord.Submit(models.CreateContactPayload{Contact: contact}); err != nil {
		return models.Contact{}, err
	}
	return contact, nil
}

// UpdateContact queues a partial contact update and returns the optimistic
// value.
func (r *Repository) UpdateContact(id models.UUID, patch ContactPatch) (models.Contact, error) {
	contact, ok := r.store.Contact(id)
	if !ok {
		return models.Contact{}, apperrors.New(apperrors.ErrNotFound, "contact "+id.String()+" not found")
	}
	if patch.Name == nil && patch.Phone == nil && patch.Note == nil &&
		patch.AlertRecipient == nil && patch.CheckInRecipient == nil {
		return models.Contact{}, apperrors.New(apperrors.ErrValidation, "empty contact update")
	}
	if patch.Name != nil && *patch.Name == "" {
		return models.Contact{}, apperrors.New(apperrors.ErrValidation, "contact name is required")
	}

	// The update must not strip the last role.
	alert := contact.AlertRecipient
	checkIn := contact.CheckInRecipient
	if patch.AlertRecipient != nil {
		alert = *patch.AlertRecipient
	}
	if patch.CheckInRecipient != nil {
		checkIn = *patch.CheckInRecipient
	}
	if !alert && !checkIn {
		return models.Contact{}, apperrors.New(apperrors.ErrValidation,
			"contact must have at least one role")
	}

	payload := models.UpdateContactPayload{
		ContactID:        id,
		Name:             patch.Name,
		Phone:            patch.Phone,
		Note:             patch.Note,
		AlertRecipient:   patch.AlertRecipient,
		CheckInRecipient: patch.CheckInRecipient,
	}
	if _, err := r.coord.Submit(payload); err != nil {
		return models.Contact{}, err
	}
	return r.GetContact(id)
}

// UpdateContactNote is a field-specific update helper.
func (r *Repository) UpdateContactNote(id models.UUID, note string) (models.Contact, error) {
	return r.UpdateContact(id, ContactPatch{Note: &note})
}

// RemoveContact queues a contact delete. The contact disappears from reads
// immediately.
func (r *Repository) RemoveContact(id models.UUID) error {
	if _, ok := r.store.Contact(id); !ok {
		return apperrors.New(apperrors.ErrNotFound, "contact "+id.String()+" not found")
	}
	_, err := r.coord.Submit(models.DeleteContactPayload{ContactID: id})
	return err
}

// GetCheckIns returns all known check-ins, newest first.
func (r *Repository) GetCheckIns() []models.CheckIn {
	return r.store.CheckIns()
}

// RecordCheckIn queues a new check-in for the current user.
func (r *Repository) RecordCheckIn(status models.CheckInStatus, note string, latitude, longitude float64) (models.CheckIn, error) {
	user, ok := r.store.User()
	if !ok {
		return models.CheckIn{}, apperrors.New(apperrors.ErrNotFound, "user profile not loaded")
	}
	switch status {
	case models.CheckInStatusOK, models.CheckInStatusNeedHelp, models.CheckInStatusMissed:
	default:
		return models.CheckIn{}, apperrors.New(apperrors.ErrValidation,
			"unknown check-in status: "+string(status))
	}

	now := r.now().Unix()
	checkIn := models.CheckIn{
		ID:        models.UUID(uuid.New()),
		UserID:    user.ID,
		Status:    status,
		Note:      note,
		Latitude:  latitude,
		Longitude: longitude,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.coord.Submit(models.RecordCheckInPayload{CheckIn: checkIn}); err != nil {
		return models.CheckIn{}, err
	}
	return checkIn, nil
}

// NotifyContact queues a notification send to one contact.
func (r *Repository) NotifyContact(id models.UUID, message string) error {
	contact, ok := r.store.Contact(id)
	if !ok {
		return apperrors.New(apperrors.ErrNotFound, "contact "+id.String()+" not found")
	}
	if !contact.AlertRecipient {
		return apperrors.New(apperrors.ErrValidation,
			"contact "+id.String()+" is not an alert recipient")
	}
	if message == "" {
		return apperrors.New(apperrors.ErrValidation, "notification message is required")
	}
	_, err := r.coord.Submit(models.SendNotificationPayload{ContactID: id, Message: message})
	return err
}

// Observe returns a push-based stream of full state snapshots backed by the
// entity store, plus a cancel function. The current snapshot is delivered
// first.
func (r *Repository) Observe() (<-chan store.Snapshot, func()) {
	return r.store.Observe()
}

// Failures returns the channel of terminally failed actions, used to drive
// user-visible retry prompts. Returns nil when a custom sink is installed.
func (r *Repository) Failures() <-chan models.OfflineActionItem {
	if r.failures == nil {
		return nil
	}
	return r.failures.Failures()
}

// Stats returns queue statistics for "pending changes" indicators.
func (r *Repository) Stats() queue.Stats {
	return r.queue.Stats()
}

// PendingActions returns every queued item in creation order.
func (r *Repository) PendingActions() []*models.OfflineActionItem {
	return r.queue.GetAll()
}

// RetryFailed re-queues all failed actions for one more delivery pass.
func (r *Repository) RetryFailed() int {
	return r.queue.RetryFailed()
}

// DiscardFailed removes all failed actions. Their optimistic effect on the
// store is left to be corrected by the authoritative stream.
func (r *Repository) DiscardFailed() int {
	count := 0
	for _, item := range r.queue.GetAll() {
		if item.Status != models.ActionStatusFailed {
			continue
		}
		if err := r.queue.Remove(item.Action.ID); err == nil {
			count++
		}
	}
	return count
}
