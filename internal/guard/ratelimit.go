package guard

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the limiter map so peers rotating source keys
	// cannot exhaust memory.
	maxTrackedKeys = 4096

	// bucketIdleTTL is how long an untouched bucket survives before it is
	// eligible for pruning.
	bucketIdleTTL = 10 * time.Minute
)

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a keyed token-bucket map (keys like "http:<ip>" or
// "ws:<ip>"). Each key gets a bucket with the requested capacity,
// refilled at capacity/60 tokens per second. Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

// NewRateLimiter creates an empty keyed limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*bucketEntry)}
}

// Allow consumes one token from key's bucket, creating the bucket on
// first use with perMinute capacity. A non-positive capacity always
// denies without touching the map.
func (r *RateLimiter) Allow(key string, perMinute int) bool {
	if perMinute < 1 {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if len(r.buckets) >= maxTrackedKeys {
		r.prune(now)
	}

	e, ok := r.buckets[key]
	if !ok {
		e = &bucketEntry{limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)}
		r.buckets[key] = e
	}
	e.lastSeen = now
	return e.limiter.Allow()
}

// prune drops idle buckets, then hard-evicts arbitrary ones if the map
// is still at cap.
func (r *RateLimiter) prune(now time.Time) {
	for k, e := range r.buckets {
		if now.Sub(e.lastSeen) >= bucketIdleTTL {
			delete(r.buckets, k)
		}
	}
	for len(r.buckets) >= maxTrackedKeys {
		for k := range r.buckets {
			delete(r.buckets, k)
			break
		}
	}
}
