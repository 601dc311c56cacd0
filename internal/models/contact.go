// Package models provides data model definitions for the SafeBeacon sync core.
package models

// Contact represents an emergency contact. A contact carries two roles:
// AlertRecipient contacts are notified when an alert fires, CheckInRecipient
// contacts can see the user's check-in status. At least one role must be set.
type Contact struct {
	ID               UUID   `db:"id" json:"id"`
	UserID           UUID   `db:"user_id" json:"user_id"`
	Name             string `db:"name" json:"name"`
	Phone            string `db:"phone" json:"phone"`
	Note             string `db:"note" json:"note,omitempty"`
	AlertRecipient   bool   `db:"alert_recipient" json:"alert_recipient"`
	CheckInRecipient bool   `db:"check_in_recipient" json:"check_in_recipient"`
	UpdatedAt        int64  `db:"updated_at" json:"updated_at"`
	Version          int    `db:"version" json:"version"`
}

// TableName returns the table name for Contact.
func (Contact) TableName() string {
	return "contacts"
}

// HasRole reports whether the contact has at least one role set.
func (c Contact) HasRole() bool {
	return c.AlertRecipient || c.CheckInRecipient
}
