// Package store provides the in-memory entity store: the single owner of the
// client's current known state for each domain entity. All writes go through
// the sync coordinator; every other component reads immutable snapshots.
package store

import (
	"sort"
	"sync"

	"github.com/safebeacon/core/internal/models"
)

// Snapshot is an immutable view of the full entity state at one instant.
// Observers always receive complete snapshots, never partial merges.
type Snapshot struct {
	User     *models.User
	Contacts []models.Contact
	CheckIns []models.CheckIn
}

// Store holds the current known entity state. Mutations are applied
// atomically with respect to observers.
type Store struct {
	mu       sync.RWMutex
	user     *models.User
	contacts map[models.UUID]models.Contact
	checkIns map[models.UUID]models.CheckIn

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]chan Snapshot
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		contacts:  make(map[models.UUID]models.Contact),
		checkIns:  make(map[models.UUID]models.CheckIn),
		observers: make(map[int]chan Snapshot),
	}
}

// User returns the current user profile, if known.
func (s *Store) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// Contact returns a contact by id.
func (s *Store) Contact(id models.UUID) (models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	return c, ok
}

// Contacts returns all contacts sorted by name, then id for stability.
func (s *Store) Contacts() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contactsLocked()
}

// CheckIn returns a check-in by id.
func (s *Store) CheckIn(id models.UUID) (models.CheckIn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.checkIns[id]
	return c, ok
}

// CheckIns returns all check-ins, newest first.
func (s *Store) CheckIns() []models.CheckIn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkInsLocked()
}

// PutUser replaces the user profile and notifies observers.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	copied := u
	s.user = &copied
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// PutContact inserts or replaces a contact and notifies observers.
func (s *Store) PutContact(c models.Contact) {
	s.mu.Lock()
	s.contacts[c.ID] = c
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// DeleteContact removes a contact and notifies observers. Deleting an
// unknown id is a no-op.
func (s *Store) DeleteContact(id models.UUID) {
	s.mu.Lock()
	if _, ok := s.contacts[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.contacts, id)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// PutCheckIn inserts or replaces a check-in and notifies observers.
func (s *Store) PutCheckIn(c models.CheckIn) {
	s.mu.Lock()
	s.checkIns[c.ID] = c
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// Snapshot returns the current full state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Observe registers an observer and returns a channel of state snapshots plus
// a cancel function. The channel carries the latest snapshot only; a slow
// observer sees the newest state, not every intermediate one. The current
// snapshot is delivered immediately.
func (s *Store) Observe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = ch
	s.obsMu.Unlock()

	ch <- s.Snapshot()

	cancel := func() {
		s.obsMu.Lock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
		s.obsMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Contacts: s.contactsLocked(),
		CheckIns: s.checkInsLocked(),
	}
	if s.user != nil {
		copied := *s.user
		snap.User = &copied
	}
	return snap
}

func (s *Store) contactsLocked() []models.Contact {
	contacts := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		contacts = append(contacts, c)
	}
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].Name != contacts[j].Name {
			return contacts[i].Name < contacts[j].Name
		}
		return contacts[i].ID < contacts[j].ID
	})
	return contacts
}

func (s *Store) checkInsLocked() []models.CheckIn {
	checkIns := make([]models.CheckIn, 0, len(s.checkIns))
	for _, c := range s.checkIns {
		checkIns = append(checkIns, c)
	}
	sort.Slice(checkIns, func(i, j int) bool {
		if checkIns[i].CreatedAt != checkIns[j].CreatedAt {
			return checkIns[i].CreatedAt > checkIns[j].CreatedAt
		}
		return checkIns[i].ID < checkIns[j].ID
	})
	return checkIns
}

// publish delivers the snapshot to every observer, replacing any undelivered
// previous snapshot so publish never blocks a writer.
func (s *Store) publish(snap Snapshot) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	for _, ch := range s.observers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
