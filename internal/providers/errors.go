package providers

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError is a non-200 response from a provider API. The core never
// retries automatically; callers inspect Status and RetryAfter to decide.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// IsRateLimit reports whether the error is a 429.
func (e *HTTPError) IsRateLimit() bool { return e.Status == 429 }

// ParseRetryAfter parses a Retry-After header value (delta-seconds form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
