// Package stream provides the change stream connection manager. The manager
// owns a single logical subscription per entity collection, exposes a
// connection-status state machine, and re-establishes the subscription after
// transient failures with capped exponential backoff.
package stream

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/safebeacon/core/internal/errors"
	"github.com/safebeacon/core/internal/logging"
	"github.com/safebeacon/core/internal/models"
)

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Config holds stream manager tunables.
type Config struct {
	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int
}

// Manager owns the subscription to one entity collection's change stream.
// Transport errors while connected never drop locally buffered state; they
// only stop new events from arriving until reconnection succeeds.
type Manager struct {
	source     Source
	collection models.Collection
	cfg        Config

	mu      sync.Mutex
	state   State
	lastErr error
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	updates chan models.EntitySnapshot
}

// NewManager creates a Manager for one collection. The updates channel is
// created once and survives reconnects and stop/start cycles.
func NewManager(source Source, collection models.Collection, cfg Config) *Manager {
	return &Manager{
		source:     source,
		collection: collection,
		cfg:        cfg,
		state:      StateDisconnected,
		updates:    make(chan models.EntitySnapshot, 64),
	}
}

// Updates returns the stream of entity change events. Each event carries the
// full updated entity value, never a diff. Events are delivered in arrival
// order and are not coalesced.
func (m *Manager) Updates() <-chan models.EntitySnapshot {
	return m.updates
}

// Status returns the current connection state.
func (m *Manager) Status() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error behind the current error state, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// StartStreaming begins (or resumes, after an error state) the subscription.
// Starting while already streaming is a no-op.
func (m *Manager) StartStreaming(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.state = StateConnecting
	m.lastErr = nil

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
}

// StopStreaming cancels the subscription promptly and returns once the
// stream task has exited. Stopping while disconnected is a no-op. The queue
// and entity store are untouched.
func (m *Manager) StopStreaming() {
	m.mu.Lock()
	if !m.running {
		// The run loop may have exited on its own into the error state;
		// an explicit stop still lands on disconnected.
		m.state = StateDisconnected
		m.lastErr = nil
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.running = false
	m.state = StateDisconnected
	m.mu.Unlock()

	logging.Info("streaming stopped", logging.Fields{
		"component":  "stream",
		"collection": m.collection,
	})
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	recon := newReconnector(m.cfg.ReconnectBase, m.cfg.ReconnectMax, m.cfg.ReconnectMaxAttempts)

	for {
		if ctx.Err() != nil {
			return
		}

		events, err := m.source.Subscribe(ctx, m.collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !m.backoffOrGiveUp(ctx, recon, err) {
				return
			}
			continue
		}

		dropped := m.consume(ctx, events, recon)
		if ctx.Err() != nil {
			return
		}
		if !m.backoffOrGiveUp(ctx, recon, dropped) {
			return
		}
	}
}

// consume forwards events until the subscription channel closes. The state
// moves to connected on the first received message. Returns the error used
// for the subsequent reconnect.
func (m *Manager) consume(ctx context.Context, events <-chan models.EntitySnapshot, recon *reconnector) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-events:
			if !ok {
				return apperrors.New(apperrors.ErrStreamFailed, "subscription dropped")
			}
			if err := snap.Validate(); err != nil {
				logging.Warn("discarding malformed stream event", logging.Fields{
					"component":  "stream",
					"collection": m.collection,
					"error":      err.Error(),
				})
				continue
			}

			m.mu.Lock()
			if m.state != StateConnected {
				m.state = StateConnected
				m.lastErr = nil
				recon.reset()
				logging.Info("stream connected", logging.Fields{
					"component":  "stream",
					"collection": m.collection,
				})
			}
			m.mu.Unlock()

			select {
			case m.updates <- snap:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// backoffOrGiveUp sleeps the next reconnect delay. It returns false once the
// attempt budget is exhausted, leaving the manager in the error state until
// StartStreaming is called again.
func (m *Manager) backoffOrGiveUp(ctx context.Context, recon *reconnector, cause error) bool {
	if recon.exhausted() {
		m.mu.Lock()
		m.state = StateError
		m.lastErr = apperrors.Wrap(apperrors.ErrStreamFailed, "reconnect attempts exhausted", cause)
		m.running = false
		m.mu.Unlock()

		logging.Error("stream gave up reconnecting", cause, logging.Fields{
			"component":  "stream",
			"collection": m.collection,
		})
		return false
	}

	delay := recon.nextDelay()

	m.mu.Lock()
	m.state = StateReconnecting
	m.lastErr = cause
	m.mu.Unlock()

	logging.Warn("stream reconnecting", logging.Fields{
		"component":  "stream",
		"collection": m.collection,
		"delay":      delay.String(),
	})

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
