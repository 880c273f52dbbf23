// Package ratelimit implements the token-bucket admission gate of spec.md
// §4.2 (component C2). Two variants exist with distinct, deliberately
// mismatched-looking names so a caller cannot reach across a goroutine
// boundary through the public API without noticing: Guarded (mutex,
// cross-goroutine safe) and Unguarded (no locking, single-goroutine hot
// path only). This mirrors the split spec.md's Open Question (§9) calls
// for instead of trusting caller discipline.
//
// golang.org/x/time/rate was considered and rejected here: its Limiter
// exposes neither the raw token balance the property tests in spec.md §8
// need ("available_tokens is bounded by burst_size") nor a distinct
// unlocked variant, and bolting that on top of it would fight its API more
// than a direct float64-balance implementation does.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

const defaultBurstMultiple = 2

// clock lets tests substitute a deterministic time source.
type clock func() time.Time

// Guarded is a mutex-protected token bucket safe for use from multiple
// goroutines, intended for the process-wide constant_rps limiter.
type Guarded struct {
	mu         sync.Mutex
	targetRPS  float64
	burstSize  float64
	tokens     float64
	lastRefill time.Time
	now        clock
}

// NewGuarded builds a process-wide limiter. targetRPS <= 0 disables rate
// limiting entirely (TryAcquire/Acquire always succeed immediately).
func NewGuarded(targetRPS float64, burstSize float64) *Guarded {
	if burstSize <= 0 {
		burstSize = targetRPS * defaultBurstMultiple
	}
	return &Guarded{
		targetRPS:  targetRPS,
		burstSize:  burstSize,
		tokens:     burstSize,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (g *Guarded) refillLocked() {
	if g.targetRPS <= 0 {
		return
	}
	now := g.now()
	elapsed := now.Sub(g.lastRefill)
	g.lastRefill = now
	g.tokens = math.Min(g.burstSize, g.tokens+elapsed.Seconds()*g.targetRPS)
}

// TryAcquire consumes one token if available and returns true, without
// sleeping. When disabled (targetRPS <= 0) it always returns true.
func (g *Guarded) TryAcquire() bool {
	if g.targetRPS <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	if g.tokens >= 1.0 {
		g.tokens--
		return true
	}
	return false
}

// Acquire blocks, sleeping for the computed wait until the next token is
// available, until it can consume one.
func (g *Guarded) Acquire() {
	if g.targetRPS <= 0 {
		return
	}
	for {
		if g.TryAcquire() {
			return
		}
		g.mu.Lock()
		deficit := 1.0 - g.tokens
		wait := time.Duration(deficit / g.targetRPS * float64(time.Second))
		g.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		time.Sleep(wait)
	}
}

// Tokens returns the current token balance, for property tests. Bounded
// above by burst size.
func (g *Guarded) Tokens() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	return g.tokens
}

// Unguarded is the same token-bucket algorithm with no locking at all. It
// is legal only when owned exclusively by a single worker goroutine (a
// per-worker limiter view); sharing it across goroutines is a data race by
// construction and is not defended against here on purpose — see the
// package doc.
type Unguarded struct {
	targetRPS  float64
	burstSize  float64
	tokens     float64
	lastRefill time.Time
	now        clock
}

// NewUnguarded builds a single-goroutine limiter view.
func NewUnguarded(targetRPS float64, burstSize float64) *Unguarded {
	if burstSize <= 0 {
		burstSize = targetRPS * defaultBurstMultiple
	}
	return &Unguarded{
		targetRPS:  targetRPS,
		burstSize:  burstSize,
		tokens:     burstSize,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

func (u *Unguarded) refill() {
	if u.targetRPS <= 0 {
		return
	}
	now := u.now()
	elapsed := now.Sub(u.lastRefill)
	u.lastRefill = now
	u.tokens = math.Min(u.burstSize, u.tokens+elapsed.Seconds()*u.targetRPS)
}

// TryAcquireUnlocked is the worker hot-path call (spec.md §4.5 step 2):
// never sleeps, never blocks, safe only because the worker is the sole
// caller.
func (u *Unguarded) TryAcquireUnlocked() bool {
	if u.targetRPS <= 0 {
		return true
	}
	u.refill()
	if u.tokens >= 1.0 {
		u.tokens--
		return true
	}
	return false
}

// Tokens returns the current balance without locking; callable only by the
// owning goroutine.
func (u *Unguarded) Tokens() float64 {
	u.refill()
	return u.tokens
}
