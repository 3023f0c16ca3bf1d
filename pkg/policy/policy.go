// Package policy decides what happens to a remote operation after it fails.
package policy

import (
	"net/http"
	"strings"
	"time"

	gax "github.com/googleapis/gax-go/v2"
)

// Failure describes a failed remote call in transport-neutral terms.
type Failure struct {
	// Status is the HTTP status, or 0 when no response was received.
	Status  int
	Message string
	// Reason is the service's machine-readable error reason, if any.
	Reason string
	// Network is true when the request never got a response.
	Network bool
}

// Classification is the verdict on a Failure.
type Classification struct {
	Retryable    bool
	Unauthorized bool
}

// Policy bounds how often a failing operation is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   5 * time.Minute,
	}
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// Messages that make a failure permanent no matter the status.
var permanentPatterns = []string{
	"not found",
	"immutable",
	"cannot be changed",
}

// Google reports quota exhaustion as 403 with one of these reasons.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

// Classify sorts a failure into retryable, unauthorized or permanent.
func Classify(f Failure) Classification {
	if f.Network {
		return Classification{Retryable: true}
	}
	msg := strings.ToLower(f.Message)
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p) {
			return Classification{}
		}
	}
	if f.Status == http.StatusUnauthorized {
		return Classification{Unauthorized: true}
	}
	if f.Status == http.StatusForbidden && rateLimitReasons[f.Reason] {
		return Classification{Retryable: true}
	}
	return Classification{Retryable: retryableStatus[f.Status]}
}

// ShouldDrop reports whether an item that has already failed retryCount
// times, and has just failed again as c, must leave the queue.
// The current failure counts as an attempt, so an operation is tried at
// most MaxRetries times.
func (p Policy) ShouldDrop(retryCount int, c Classification) bool {
	if !c.Retryable {
		return true
	}
	return retryCount+1 >= p.MaxRetries
}

// Backoff returns how long to wait before attempt number retryCount+1.
// The delay is drawn at random from (0, BaseDelay*2^retryCount], capped at
// MaxDelay, so clients that failed together do not retry together.
func (p Policy) Backoff(retryCount int) time.Duration {
	bo := gax.Backoff{Initial: p.BaseDelay, Max: p.MaxDelay, Multiplier: 2}
	d := bo.Pause()
	for i := 0; i < retryCount; i++ {
		d = bo.Pause()
	}
	return d
}

// IsGone reports whether a failed delete means the event no longer exists,
// which makes the delete a success.
func IsGone(f Failure) bool {
	if f.Network {
		return false
	}
	if f.Status == http.StatusNotFound || f.Status == http.StatusGone {
		return true
	}
	msg := strings.ToLower(f.Message)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "gone")
}
