package executor

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/sony/gobreaker"
)

// nonRetryable marks node responses where a retry of the identical request
// cannot succeed.
var nonRetryable = []string{
	"invalid param",
	"invalid request",
	"invalid signature",
	"signature verification failure",
	"insufficient funds",
	"insufficient lamports",
	"already processed",
	"account not found",
	"unsupported transaction version",
}

// retryable marks transient node and network conditions. Unknown errors fall
// through to retryable as well; under at-least-once delivery a wasted retry
// is cheaper than a silently dropped action.
var retryable = []string{
	"429",
	"too many requests",
	"timeout",
	"timed out",
	"connection",
	"broken pipe",
	"node is behind",
	"node is unhealthy",
	"blockhash not found",
	"block not available",
	"rate limit",
	"service unavailable",
}

// Retryable classifies an attempt error. Context cancellation is never
// retried; an open breaker is, since the next attempt lands after backoff
// when the breaker may have closed again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range nonRetryable {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range retryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}

// alreadyProcessed reports the node response to a duplicate send of a
// transaction it has already accepted.
func alreadyProcessed(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already processed")
}

// retryReason buckets an error for the retry counter.
func retryReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "429"), strings.Contains(msg, "too many requests"),
			strings.Contains(msg, "rate limit"):
			return "rate_limited"
		case strings.Contains(msg, "blockhash not found"):
			return "stale_blockhash"
		case strings.Contains(msg, "connection"), strings.Contains(msg, "broken pipe"):
			return "connection"
		default:
			return "other"
		}
	}
}
