package resilience

import (
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// maxRetryAfterSeconds is the largest delta-seconds value representable as a
// time.Duration. Larger values saturate.
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// DefaultRetryableStatuses are the status codes treated as transient when
// RetryConfig.RetryableStatuses is empty.
var DefaultRetryableStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
}

// networkFaultMarkers are lower-cased message fragments of connection-level
// faults that carry no status code.
var networkFaultMarkers = []string{
	"econnreset",
	"econnrefused",
	"etimedout",
	"socket hang up",
	"network",
	"connection reset",
	"connection refused",
	"timed out",
	"broken pipe",
}

// StatusCoder is implemented by errors that carry a provider status code.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterHinter is implemented by errors that carry a server-supplied
// retry delay. A non-positive duration means no hint.
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

// ProviderError is an error reported by a model provider with HTTP status
// semantics.
type ProviderError struct {
	Message string
	Status  int

	// RetryAfterDelay is the server-supplied delay, usually parsed from a
	// Retry-After header. Zero means none.
	RetryAfterDelay time.Duration
}

// NewProviderError creates a ProviderError without a retry hint.
func NewProviderError(message string, status int) *ProviderError {
	return &ProviderError{Message: message, Status: status}
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "provider error: status " + strconv.Itoa(e.Status)
	}
	return e.Message
}

// StatusCode returns the provider status code.
func (e *ProviderError) StatusCode() int {
	return e.Status
}

// RetryAfter returns the server-supplied retry delay.
func (e *ProviderError) RetryAfter() time.Duration {
	return e.RetryAfterDelay
}

// Classifier decides whether an error is worth retrying.
type Classifier struct {
	retryable []int
}

// NewClassifier creates a classifier over the given retryable status codes.
// An empty list selects DefaultRetryableStatuses.
func NewClassifier(statuses []int) *Classifier {
	if len(statuses) == 0 {
		statuses = DefaultRetryableStatuses
	}
	return &Classifier{retryable: slices.Clone(statuses)}
}

// IsRetryable reports whether err is transient.
func (c *Classifier) IsRetryable(err error) bool {
	return IsRetryableError(err, c.retryable)
}

// IsRetryableError reports whether err is transient given the retryable
// status codes. Errors with a status code are retryable only when the code
// is listed; errors without one are retryable only when they look like a
// connection-level fault. Everything else is fatal.
func IsRetryableError(err error, statuses []int) bool {
	if err == nil {
		return false
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		return slices.Contains(statuses, sc.StatusCode())
	}

	if isNetworkFault(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range networkFaultMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func isNetworkFault(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, ErrAttemptTimeout) {
		return true
	}

	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// RetryDelayHint extracts a server-supplied retry delay from err.
func RetryDelayHint(err error) (time.Duration, bool) {
	var h RetryAfterHinter
	if !errors.As(err, &h) {
		return 0, false
	}
	d := h.RetryAfter()
	if d <= 0 {
		return 0, false
	}
	return d, true
}

// ParseRetryAfter parses an HTTP Retry-After header value, given either as
// delta-seconds or as an HTTP-date relative to now. It returns false when the
// value is missing, malformed or already in the past. Delays too large for a
// time.Duration saturate to the maximum duration.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	secs, err := strconv.ParseInt(header, 10, 64)
	switch {
	case err == nil && secs <= 0:
		return 0, false
	case err == nil && secs > maxRetryAfterSeconds,
		errors.Is(err, strconv.ErrRange) && secs > 0:
		return time.Duration(math.MaxInt64), true
	case err == nil:
		return time.Duration(secs) * time.Second, true
	case errors.Is(err, strconv.ErrRange):
		return 0, false
	}

	at, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	d := at.Sub(now)
	if d <= 0 {
		return 0, false
	}
	return d, true
}
