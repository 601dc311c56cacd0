// Package sync provides the coordinator that reconciles queued local
// mutations against the authoritative remote stream.
package sync

import "github.com/safebeacon/core/internal/models"

// mergeContact overlays a remote contact onto the local one. Fields covered
// by an in-flight local action stay local; everything else, including the
// server version marker, comes from the remote value.
func mergeContact(local, remote models.Contact, protected map[string]bool) models.Contact {
	merged := remote
	if protected[models.FieldName] {
		merged.Name = local.Name
	}
	if protected[models.FieldPhone] {
		merged.Phone = local.Phone
	}
	if protected[models.FieldNote] {
		merged.Note = local.Note
	}
	if protected[models.FieldAlertRecipient] {
		merged.AlertRecipient = local.AlertRecipient
	}
	if protected[models.FieldCheckInRecipient] {
		merged.CheckInRecipient = local.CheckInRecipient
	}
	return merged
}

// mergeUser overlays a remote user onto the local one, keeping fields with
// pending local intent.
func mergeUser(local, remote models.User, protected map[string]bool) models.User {
	merged := remote
	if protected[models.FieldName] {
		merged.Name = local.Name
	}
	if protected[models.FieldPhone] {
		merged.Phone = local.Phone
	}
	if protected[models.FieldCheckInInterval] {
		merged.CheckInIntervalMinutes = local.CheckInIntervalMinutes
	}
	if protected[models.FieldLastCheckInAt] {
		merged.LastCheckInAt = local.LastCheckInAt
	}
	return merged
}

// mergeCheckIn overlays a remote check-in onto the local one.
func mergeCheckIn(local, remote models.CheckIn, protected map[string]bool) models.CheckIn {
	merged := remote
	if protected[models.FieldNote] {
		merged.Note = local.Note
	}
	return merged
}
