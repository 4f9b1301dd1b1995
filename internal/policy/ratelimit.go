package policy

import (
	"sync"
	"time"
)

// bucketKey identifies one rate-limited caller: the (userId, role) pair
// spec.md §3 defines a RateBucket over.
type bucketKey struct {
	userID string
	role   string
}

// bucket is a fixed 60-second window counter -- spec.md requires
// "sliding-per-minute semantics with fixed 60-second windows", i.e. a
// simple fixed window that resets wholesale at resetAt rather than a
// rolling average.
type bucket struct {
	count   int
	resetAt time.Time
}

// RateLimiter enforces spec.md §4.2 gate 4: per (userId, role),
// requestsPerMinute with a fixed 60s reset.
type RateLimiter struct {
	mu                sync.Mutex
	buckets           map[bucketKey]*bucket
	requestsPerMinute int
	now               func() time.Time
}

// NewRateLimiter creates a RateLimiter with the given global ceiling.
// A requestsPerMinute of 0 means unconfigured/unlimited for that role
// (spec.md §6: "admin/autopilot unconfigured ceiling" is expressed by
// passing 0 for those roles' override, if any).
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		buckets:           make(map[bucketKey]*bucket),
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

// RateLimitResult is returned by both Allow and the engine's deny path so
// callers always see remaining/resetAt regardless of outcome.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Allow checks and, if permitted, consumes one request from the bucket for
// (userID, role). A per-role override of 0 falls back to the limiter's
// global requestsPerMinute; a negative override means unlimited.
func (r *RateLimiter) Allow(userID, role string, perRoleOverride int) RateLimitResult {
	limit := r.requestsPerMinute
	if perRoleOverride != 0 {
		limit = perRoleOverride
	}
	if limit <= 0 {
		return RateLimitResult{Allowed: true, Remaining: -1}
	}

	key := bucketKey{userID: userID, role: role}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 0, resetAt: now.Add(60 * time.Second)}
		r.buckets[key] = b
	}

	if b.count >= limit {
		return RateLimitResult{Allowed: false, Remaining: 0, ResetAt: b.resetAt}
	}

	b.count++
	return RateLimitResult{Allowed: true, Remaining: limit - b.count, ResetAt: b.resetAt}
}

// Reset clears the bucket for (userID, role), mainly for tests.
func (r *RateLimiter) Reset(userID, role string) {
	r.mu.Lock()
	delete(r.buckets, bucketKey{userID: userID, role: role})
	r.mu.Unlock()
}
