// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"math/rand"
	"sync"
	"time"
)

// =============================================================================
// BACKOFF POLICY
// =============================================================================

// BackoffPolicy configures reconnection delays.
type BackoffPolicy struct {
	// InitialDelay is the delay before the first reconnect attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter is the fraction of the delay randomized in both
	// directions, spreading reconnects across many clients so an
	// outage does not end in a thundering herd.
	Jitter float64

	// MaxAttempts limits reconnect attempts. 0 means unlimited.
	MaxAttempts int
}

// DefaultBackoffPolicy returns the default reconnection policy.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		MaxAttempts:  0,
	}
}

// normalize fills defaults for zero values.
func (p BackoffPolicy) normalize() BackoffPolicy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = 0.2
	}
	return p
}

// =============================================================================
// BACKOFF STATE
// =============================================================================

// Backoff tracks reconnect attempts and produces the next delay.
type Backoff struct {
	mu      sync.Mutex
	policy  BackoffPolicy
	attempt int
	rng     *rand.Rand
}

// NewBackoff creates backoff state for the given policy.
func NewBackoff(policy BackoffPolicy) *Backoff {
	return &Backoff{
		policy: policy.normalize(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records an attempt and returns the delay to wait before it.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.policy.InitialDelay
	for i := 0; i < b.attempt; i++ {
		delay = time.Duration(float64(delay) * b.policy.Multiplier)
		if delay >= b.policy.MaxDelay {
			delay = b.policy.MaxDelay
			break
		}
	}
	b.attempt++

	if b.policy.Jitter > 0 {
		// delay ± delay*jitter
		span := float64(delay) * b.policy.Jitter
		delay += time.Duration(span * (2*b.rng.Float64() - 1))
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Attempt returns the number of attempts recorded so far.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

// Exhausted reports whether the attempt budget is spent.
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy.MaxAttempts > 0 && b.attempt >= b.policy.MaxAttempts
}

// Reset clears the attempt counter after a successful handshake.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempt = 0
}
