package store

import (
	"testing"
	"time"

	"github.com/safebeacon/core/internal/models"
)

func TestUserRoundTrip(t *testing.T) {
	s := NewStore()

	if _, ok := s.User(); ok {
		t.Error("empty store should have no user")
	}

	s.PutUser(models.User{ID: "user-1", Name: "Dana"})
	user, ok := s.User()
	if !ok || user.Name != "Dana" {
		t.Errorf("user = %+v ok=%v", user, ok)
	}

	// The returned value is a copy.
	user.Name = "changed"
	again, _ := s.User()
	if again.Name != "Dana" {
		t.Error("mutating a returned user leaked into the store")
	}
}

func TestContactsSortedByName(t *testing.T) {
	s := NewStore()
	s.PutContact(models.Contact{ID: "c-2", Name: "Zoe"})
	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})
	s.PutContact(models.Contact{ID: "c-3", Name: "Ari"})

	contacts := s.Contacts()
	if len(contacts) != 3 {
		t.Fatalf("len = %d, want 3", len(contacts))
	}
	if contacts[0].ID != "c-1" || contacts[1].ID != "c-3" || contacts[2].ID != "c-2" {
		t.Errorf("wrong order: %s, %s, %s", contacts[0].ID, contacts[1].ID, contacts[2].ID)
	}
}

func TestDeleteContact(t *testing.T) {
	s := NewStore()
	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})

	s.DeleteContact("c-1")
	if _, ok := s.Contact("c-1"); ok {
		t.Error("contact still readable after delete")
	}

	// Unknown id is a no-op.
	s.DeleteContact("c-missing")
}

func TestCheckInsNewestFirst(t *testing.T) {
	s := NewStore()
	s.PutCheckIn(models.CheckIn{ID: "k-1", CreatedAt: 100})
	s.PutCheckIn(models.CheckIn{ID: "k-2", CreatedAt: 300})
	s.PutCheckIn(models.CheckIn{ID: "k-3", CreatedAt: 200})

	checkIns := s.CheckIns()
	if checkIns[0].ID != "k-2" || checkIns[1].ID != "k-3" || checkIns[2].ID != "k-1" {
		t.Errorf("wrong order: %s, %s, %s", checkIns[0].ID, checkIns[1].ID, checkIns[2].ID)
	}
}

func TestObserveDeliversCurrentSnapshotFirst(t *testing.T) {
	s := NewStore()
	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})

	ch, cancel := s.Observe()
	defer cancel()

	select {
	case snap := <-ch:
		if len(snap.Contacts) != 1 {
			t.Errorf("initial snapshot has %d contacts, want 1", len(snap.Contacts))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}
}

func TestObserveSeesWrites(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Observe()
	defer cancel()
	<-ch // drain the initial empty snapshot

	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})

	select {
	case snap := <-ch:
		if len(snap.Contacts) != 1 || snap.Contacts[0].ID != "c-1" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatal("write not observed")
	}
}

func TestSlowObserverGetsLatestSnapshot(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Observe()
	defer cancel()
	<-ch

	// Two writes with nobody reading: the first snapshot is replaced.
	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})
	s.PutContact(models.Contact{ID: "c-2", Name: "Zoe"})

	select {
	case snap := <-ch:
		if len(snap.Contacts) != 2 {
			t.Errorf("slow observer saw %d contacts, want latest state with 2", len(snap.Contacts))
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestObserveCancelStopsDelivery(t *testing.T) {
	s := NewStore()
	ch, cancel := s.Observe()
	<-ch
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// Writes after cancel must not panic.
	s.PutContact(models.Contact{ID: "c-1", Name: "Ari"})
	cancel() // double cancel is safe
}
