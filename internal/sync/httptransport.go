package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/safebeacon/core/internal/models"
)

// HTTPTransport delivers actions to a remote mutation endpoint as JSON over
// HTTP. 5xx responses and network failures are retryable; 4xx rejections are
// not.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport against the given base URL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type mutationRequest struct {
	ID       models.UUID       `json:"id"`
	Kind     models.ActionKind `json:"kind"`
	EntityID models.UUID       `json:"entityId"`
	Payload  json.RawMessage   `json:"payload"`
}

// PerformMutation implements Transport. A 200 response body, when present,
// is decoded as the server-confirmed entity snapshot.
func (t *HTTPTransport) PerformMutation(ctx context.Context, action models.OfflineAction) (*models.EntitySnapshot, error) {
	raw, err := models.EncodePayload(action.Payload)
	if err != nil {
		return nil, &TransportError{Code: "encode", Message: err.Error(), Retryable: false}
	}
	body, err := json.Marshal(mutationRequest{
		ID:       action.ID,
		Kind:     action.Payload.Kind(),
		EntityID: action.Payload.EntityID(),
		Payload:  raw,
	})
	if err != nil {
		return nil, &TransportError{Code: "encode", Message: err.Error(), Retryable: false}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/actions", bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Code: "request", Message: err.Error(), Retryable: false}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Code: "network", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		data, err := io.ReadAll(resp.Body)
		if err != nil || len(data) == 0 {
			return nil, nil
		}
		var snap models.EntitySnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, nil
		}
		return &snap, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &TransportError{
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   readErrorBody(resp.Body),
			Retryable: false,
		}
	default:
		return nil, &TransportError{
			Code:      fmt.Sprintf("http_%d", resp.StatusCode),
			Message:   readErrorBody(resp.Body),
			Retryable: true,
		}
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 1024))
	if err != nil || len(data) == 0 {
		return "remote rejected mutation"
	}
	return string(data)
}
