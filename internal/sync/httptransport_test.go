package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safebeacon/core/internal/models"
)

func notifyAction() models.OfflineAction {
	return models.OfflineAction{
		ID:      "a-1",
		Payload: models.SendNotificationPayload{ContactID: "c-1", Message: "hello"},
	}
}

func TestHTTPTransportSuccessWithEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req mutationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.Kind != models.ActionSendNotification || req.EntityID != "c-1" {
			t.Errorf("unexpected request %+v", req)
		}
		json.NewEncoder(w).Encode(models.EntitySnapshot{
			Collection: models.CollectionContacts,
			ID:         "c-1",
			Contact:    &models.Contact{ID: "c-1", Name: "Ari", Version: 2},
		})
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	snap, err := transport.PerformMutation(context.Background(), notifyAction())
	if err != nil {
		t.Fatalf("mutation failed: %v", err)
	}
	if snap == nil || snap.Contact == nil || snap.Contact.Version != 2 {
		t.Errorf("echo not decoded: %+v", snap)
	}
}

func TestHTTPTransportEmptyBodyMeansNoEcho(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	snap, err := transport.PerformMutation(context.Background(), notifyAction())
	if err != nil {
		t.Fatalf("mutation failed: %v", err)
	}
	if snap != nil {
		t.Errorf("expected no echo, got %+v", snap)
	}
}

func TestHTTPTransportClientErrorNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "contact does not exist", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	_, err := transport.PerformMutation(context.Background(), notifyAction())
	if err == nil {
		t.Fatal("expected error")
	}
	if IsRetryable(err) {
		t.Errorf("4xx rejection must not be retryable: %v", err)
	}
}

func TestHTTPTransportServerErrorRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL)
	_, err := transport.PerformMutation(context.Background(), notifyAction())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("5xx must be retryable: %v", err)
	}
}

func TestHTTPTransportNetworkErrorRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	transport := NewHTTPTransport(server.URL)
	_, err := transport.PerformMutation(context.Background(), notifyAction())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryable(err) {
		t.Errorf("network failure must be retryable: %v", err)
	}
}
