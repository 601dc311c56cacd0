// Package models provides data model definitions for the SafeBeacon sync core.
package models

// CheckInStatus represents the outcome reported by a check-in.
type CheckInStatus string

const (
	CheckInStatusOK       CheckInStatus = "ok"
	CheckInStatusNeedHelp CheckInStatus = "need_help"
	CheckInStatusMissed   CheckInStatus = "missed"
)

// CheckIn represents a single safety check-in recorded by the user.
type CheckIn struct {
	ID        UUID          `db:"id" json:"id"`
	UserID    UUID          `db:"user_id" json:"user_id"`
	Status    CheckInStatus `db:"status" json:"status"`
	Note      string        `db:"note" json:"note,omitempty"`
	Latitude  float64       `db:"latitude" json:"latitude,omitempty"`
	Longitude float64       `db:"longitude" json:"longitude,omitempty"`
	CreatedAt int64         `db:"created_at" json:"created_at"`
	UpdatedAt int64         `db:"updated_at" json:"updated_at"`
	Version   int           `db:"version" json:"version"`
}

// TableName returns the table name for CheckIn.
func (CheckIn) TableName() string {
	return "check_ins"
}
