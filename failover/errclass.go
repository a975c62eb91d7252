package failover

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind categorizes a provider failure for reporting. Classification
// is diagnostic metadata on the attempt record; the retry budget and
// capability order never depend on it.
type ErrorKind int

const (
	// ErrorKindTransient covers network faults, timeouts, and 5xx-style
	// upstream hiccups that tend to clear on their own.
	ErrorKindTransient ErrorKind = iota

	// ErrorKindPermanent covers validation, auth, and model errors that
	// no amount of retrying will fix.
	ErrorKindPermanent

	// ErrorKindRateLimited covers quota and throttling rejections.
	ErrorKindRateLimited
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindTransient:
		return "transient"
	case ErrorKindPermanent:
		return "permanent"
	case ErrorKindRateLimited:
		return "rate-limited"
	default:
		return "unknown"
	}
}

var rateLimitPatterns = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"quota exceeded",
	"insufficient_quota",
	"overloaded",
}

var networkPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"temporary failure",
	"dial tcp",
	"eof",
	"connection lost",
	"service unavailable",
	"bad gateway",
	"502",
	"503",
}

var timeoutPatterns = []string{
	"timeout",
	"deadline exceeded",
	"i/o timeout",
	"operation timed out",
}

// Classify buckets a provider error into an ErrorKind. Rate limits are
// checked first since their messages often also match network patterns.
// Unknown errors default to permanent.
func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindPermanent
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range rateLimitPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorKindRateLimited
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorKindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindTransient
	}
	for _, pattern := range networkPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorKindTransient
		}
	}
	for _, pattern := range timeoutPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorKindTransient
		}
	}

	return ErrorKindPermanent
}
