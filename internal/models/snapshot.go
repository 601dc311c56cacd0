// Package models provides data model definitions for the SafeBeacon sync core.
package models

import "fmt"

// EntitySnapshot carries the full current value of a single entity as
// reported by the remote service. Stream events and mutation confirmations
// both use this shape; exactly one of the entity pointers is set unless
// Deleted is true.
type EntitySnapshot struct {
	Collection Collection `json:"collection"`
	ID         UUID       `json:"id"`
	Deleted    bool       `json:"deleted,omitempty"`
	User       *User      `json:"user,omitempty"`
	Contact    *Contact   `json:"contact,omitempty"`
	CheckIn    *CheckIn   `json:"check_in,omitempty"`
}

// Validate checks the snapshot's internal consistency.
func (s *EntitySnapshot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("snapshot missing entity id")
	}
	switch s.Collection {
	case CollectionUsers:
		if !s.Deleted && s.User == nil {
			return fmt.Errorf("users snapshot %s missing user value", s.ID)
		}
	case CollectionContacts:
		if !s.Deleted && s.Contact == nil {
			return fmt.Errorf("contacts snapshot %s missing contact value", s.ID)
		}
	case CollectionCheckIns:
		if !s.Deleted && s.CheckIn == nil {
			return fmt.Errorf("check_ins snapshot %s missing check-in value", s.ID)
		}
	default:
		return fmt.Errorf("unknown collection: %q", s.Collection)
	}
	return nil
}
