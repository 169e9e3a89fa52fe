package util

import (
	"sync"
	"time"
)

// Backoff computes exponentially growing restart delays.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	initial  time.Duration
	maxDelay time.Duration
	next     time.Duration
	attempts int
}

// NewBackoff returns a Backoff that starts at initial and doubles up to maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		initial:  initial,
		maxDelay: maxDelay,
		next:     initial,
	}
}

// Next returns the delay for the upcoming attempt and doubles the one after it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.next
	b.next = min(b.next*2, b.maxDelay)
	b.attempts++
	return d
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Reset starts over from the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = b.initial
	b.attempts = 0
}
