// Package ratelimit provides a deterministic token bucket used to bound the
// inbound signaling message rate per connection.
package ratelimit

import (
	"sync"
	"time"
)

// One token is represented as 1e9 nano-tokens, so a fill rate of X tokens/sec
// adds X nano-tokens per elapsed nanosecond. Fixed point avoids float
// rounding drift under sustained load.
const nanoTokensPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) up to a fixed capacity,
// using the provided Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityTokens int64
	fillRate       int64 // tokens/sec

	availableNano int64
	last          time.Time
}

func NewTokenBucket(clock Clock, capacityTokens, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacityTokens < 0 {
		capacityTokens = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:          clock,
		capacityTokens: capacityTokens,
		fillRate:       fillRate,
		availableNano:  saturatingNano(capacityTokens),
		last:           clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := saturatingNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.availableNano < cost {
		return false
	}
	b.availableNano -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Clock went backwards; move the reference point without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacityTokens <= 0 {
		return
	}

	capacityNano := saturatingNano(b.capacityTokens)
	need := capacityNano - b.availableNano
	if need <= 0 {
		b.availableNano = capacityNano
		return
	}

	// fillRate tokens/sec equals fillRate nano-tokens per nanosecond. Clamp
	// instead of multiplying when the elapsed window alone would overfill.
	if elapsed >= need/b.fillRate {
		b.availableNano = capacityNano
		return
	}
	b.availableNano += elapsed * b.fillRate
}

func saturatingNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoTokensPerToken {
		return maxInt64
	}
	return tokens * nanoTokensPerToken
}
