// Package models provides data model definitions for the SafeBeacon sync core.
package models

// User represents the device owner's profile as known to the client.
type User struct {
	ID                     UUID   `db:"id" json:"id"`
	Name                   string `db:"name" json:"name"`
	Phone                  string `db:"phone" json:"phone"`
	CheckInIntervalMinutes int64  `db:"check_in_interval_minutes" json:"check_in_interval_minutes"`
	LastCheckInAt          int64  `db:"last_check_in_at" json:"last_check_in_at"`
	UpdatedAt              int64  `db:"updated_at" json:"updated_at"`
	Version                int    `db:"version" json:"version"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}
