// Package models provides data model definitions for the SafeBeacon sync core.
package models

import (
	"encoding/json"
	"fmt"
)

// ActionKind identifies the type of a queued mutation.
type ActionKind string

const (
	ActionCreateContact    ActionKind = "create_contact"
	ActionUpdateContact    ActionKind = "update_contact"
	ActionDeleteContact    ActionKind = "delete_contact"
	ActionUpdateUser       ActionKind = "update_user"
	ActionRecordCheckIn    ActionKind = "record_check_in"
	ActionSendNotification ActionKind = "send_notification"
)

// ActionStatus represents the queue status of an offline action.
type ActionStatus string

const (
	ActionStatusPending    ActionStatus = "pending"
	ActionStatusProcessing ActionStatus = "processing"
	ActionStatusCompleted  ActionStatus = "completed"
	ActionStatusFailed     ActionStatus = "failed"
)

// ActionPayload is the closed set of mutation bodies, one per ActionKind.
// Payload values are immutable once the action is created; a changed value
// becomes a new action.
type ActionPayload interface {
	// Kind returns the ActionKind this payload belongs to.
	Kind() ActionKind
	// EntityID returns the id of the entity the mutation targets.
	EntityID() UUID
	// Fields returns the names of the entity fields the mutation touches,
	// used to protect locally pending fields from stream overwrites.
	Fields() []string
}

// Field names shared by payloads and the merge logic.
const (
	FieldName             = "name"
	FieldPhone            = "phone"
	FieldNote             = "note"
	FieldAlertRecipient   = "alert_recipient"
	FieldCheckInRecipient = "check_in_recipient"
	FieldCheckInInterval  = "check_in_interval_minutes"
	FieldLastCheckInAt    = "last_check_in_at"
)

// CreateContactPayload creates a new contact. The client assigns the contact
// id at creation time so follow-up mutations can reference it before the
// server has confirmed the create.
type CreateContactPayload struct {
	Contact Contact `json:"contact"`
}

func (p CreateContactPayload) Kind() ActionKind { return ActionCreateContact }
func (p CreateContactPayload) EntityID() UUID   { return p.Contact.ID }
func (p CreateContactPayload) Fields() []string {
	return []string{FieldName, FieldPhone, FieldNote, FieldAlertRecipient, FieldCheckInRecipient}
}

// UpdateContactPayload updates a subset of contact fields. Nil pointers mean
// "leave unchanged"; only set fields are reported by Fields.
type UpdateContactPayload struct {
	ContactID        UUID    `json:"contact_id"`
	Name             *string `json:"name,omitempty"`
	Phone            *string `json:"phone,omitempty"`
	Note             *string `json:"note,omitempty"`
	AlertRecipient   *bool   `json:"alert_recipient,omitempty"`
	CheckInRecipient *bool   `json:"check_in_recipient,omitempty"`
}

func (p UpdateContactPayload) Kind() ActionKind { return ActionUpdateContact }
func (p UpdateContactPayload) EntityID() UUID   { return p.ContactID }
func (p UpdateContactPayload) Fields() []string {
	var fields []string
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.Phone != nil {
		fields = append(fields, FieldPhone)
	}
	if p.Note != nil {
		fields = append(fields, FieldNote)
	}
	if p.AlertRecipient != nil {
		fields = append(fields, FieldAlertRecipient)
	}
	if p.CheckInRecipient != nil {
		fields = append(fields, FieldCheckInRecipient)
	}
	return fields
}

// DeleteContactPayload removes a contact.
type DeleteContactPayload struct {
	ContactID UUID `json:"contact_id"`
}

func (p DeleteContactPayload) Kind() ActionKind { return ActionDeleteContact }
func (p DeleteContactPayload) EntityID() UUID   { return p.ContactID }
func (p DeleteContactPayload) Fields() []string { return nil }

// UpdateUserPayload updates a subset of user profile fields.
type UpdateUserPayload struct {
	UserID                 UUID    `json:"user_id"`
	Name                   *string `json:"name,omitempty"`
	Phone                  *string `json:"phone,omitempty"`
	CheckInIntervalMinutes *int64  `json:"check_in_interval_minutes,omitempty"`
}

func (p UpdateUserPayload) Kind() ActionKind { return ActionUpdateUser }
func (p UpdateUserPayload) EntityID() UUID   { return p.UserID }
func (p UpdateUserPayload) Fields() []string {
	var fields []string
	if p.Name != nil {
		fields = append(fields, FieldName)
	}
	if p.Phone != nil {
		fields = append(fields, FieldPhone)
	}
	if p.CheckInIntervalMinutes != nil {
		fields = append(fields, FieldCheckInInterval)
	}
	return fields
}

// RecordCheckInPayload records a new check-in.
type RecordCheckInPayload struct {
	CheckIn CheckIn `json:"check_in"`
}

func (p RecordCheckInPayload) Kind() ActionKind { return ActionRecordCheckIn }
func (p RecordCheckInPayload) EntityID() UUID   { return p.CheckIn.ID }
func (p RecordCheckInPayload) Fields() []string {
	return []string{FieldNote, FieldLastCheckInAt}
}

// SendNotificationPayload asks the server to notify a contact.
type SendNotificationPayload struct {
	ContactID UUID   `json:"contact_id"`
	Message   string `json:"message"`
}

func (p SendNotificationPayload) Kind() ActionKind { return ActionSendNotification }
func (p SendNotificationPayload) EntityID() UUID   { return p.ContactID }
func (p SendNotificationPayload) Fields() []string { return nil }

// OfflineAction is an immutable record of one requested mutation. The id is
// assigned at creation and stable across retries; RetryCount only increases.
type OfflineAction struct {
	ID         UUID          `json:"id"`
	Payload    ActionPayload `json:"-"`
	CreatedAt  int64         `json:"created_at"`
	RetryCount int           `json:"retry_count"`
}

// Kind returns the action's mutation kind.
func (a *OfflineAction) Kind() ActionKind {
	return a.Payload.Kind()
}

// EntityID returns the id of the entity the action targets.
func (a *OfflineAction) EntityID() UUID {
	return a.Payload.EntityID()
}

// OfflineActionItem is the queue's mutable wrapper around an OfflineAction.
type OfflineActionItem struct {
	Action       OfflineAction `json:"action"`
	Status       ActionStatus  `json:"status"`
	LastAttempt  int64         `json:"last_attempt,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// TableName returns the table name for persisted queue items.
func (OfflineActionItem) TableName() string {
	return "offline_actions"
}

// EncodePayload serializes a payload for durable storage.
func EncodePayload(p ActionPayload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload by kind. Every ActionKind must
// be handled here; an unknown kind is a data corruption error.
func DecodePayload(kind ActionKind, data []byte) (ActionPayload, error) {
	var (
		p   ActionPayload
		err error
	)
	switch kind {
	case ActionCreateContact:
		var v CreateContactPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ActionUpdateContact:
		var v UpdateContactPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ActionDeleteContact:
		var v DeleteContactPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ActionUpdateUser:
		var v UpdateUserPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ActionRecordCheckIn:
		var v RecordCheckInPayload
		err = json.Unmarshal(data, &v)
		p = v
	case ActionSendNotification:
		var v SendNotificationPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("unknown action kind: %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s payload: %w", kind, err)
	}
	return p, nil
}
