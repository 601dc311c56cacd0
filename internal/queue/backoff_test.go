package queue

import (
	"testing"
	"time"
)

func TestBackoffNoDelayBeforeFirstRetry(t *testing.T) {
	b := DefaultBackoff()
	if d := b.Delay(0); d != 0 {
		t.Errorf("expected zero delay for retry count 0, got %v", d)
	}
	if d := b.Delay(-1); d != 0 {
		t.Errorf("expected zero delay for negative retry count, got %v", d)
	}
}

func TestBackoffDoublesPerAttempt(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 5 * time.Minute}

	expected := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
	}
	for i, want := range expected {
		if got := b.Delay(i + 1); got != want {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, want)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 5 * time.Minute}

	if got := b.Delay(20); got != 5*time.Minute {
		t.Errorf("Delay(20) = %v, want cap %v", got, 5*time.Minute)
	}
	// Far past any representable shift.
	if got := b.Delay(1000); got != 5*time.Minute {
		t.Errorf("Delay(1000) = %v, want cap %v", got, 5*time.Minute)
	}
}
