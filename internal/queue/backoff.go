// Package queue provides the durable offline action queue with retry logic.
package queue

import "time"

// Backoff computes the delay before a retry attempt. The delay doubles per
// attempt starting at Base and is capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns the standard queue retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 2 * time.Second,
		Max:  5 * time.Minute,
	}
}

// Delay returns the wait before the attempt following the given retry count.
// A retry count of zero (no failures yet) has no delay.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	// Shift overflows past 62 doublings; everything beyond the cap is Max.
	if retryCount > 30 {
		return b.Max
	}
	delay := b.Base << uint(retryCount-1)
	if delay > b.Max || delay <= 0 {
		return b.Max
	}
	return delay
}
