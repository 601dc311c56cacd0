// Package stream provides the change stream connection manager.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/safebeacon/core/internal/logging"
	"github.com/safebeacon/core/internal/models"
)

// WebSocketSource subscribes to the remote change stream over a WebSocket.
// The server pushes one JSON-encoded EntitySnapshot per message. A read error
// closes the subscription; reconnecting is the Manager's job.
type WebSocketSource struct {
	baseURL string
	dialer  *websocket.Dialer
	header  http.Header
}

// NewWebSocketSource creates a source for the given base URL
// (ws://host:port or wss://host:port).
func NewWebSocketSource(baseURL string) *WebSocketSource {
	return &WebSocketSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		header: http.Header{},
	}
}

// Subscribe dials the collection's stream endpoint and returns a channel of
// decoded snapshots. The channel closes when the connection drops or ctx is
// cancelled.
func (s *WebSocketSource) Subscribe(ctx context.Context, collection models.Collection) (<-chan models.EntitySnapshot, error) {
	url := fmt.Sprintf("%s/streams/%s", s.baseURL, collection)

	conn, _, err := s.dialer.DialContext(ctx, url, s.header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}

	events := make(chan models.EntitySnapshot)

	// Close the connection when the subscriber goes away so the read loop
	// unblocks promptly.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var snap models.EntitySnapshot
			if err := conn.ReadJSON(&snap); err != nil {
				if ctx.Err() == nil {
					logging.Debug("websocket read ended", logging.Fields{
						"component":  "stream",
						"collection": collection,
						"error":      err.Error(),
					})
				}
				return
			}
			select {
			case events <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
