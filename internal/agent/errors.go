package agent

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind buckets a failure for the step loop's termination policy.
type ErrorKind int

const (
	// KindTransport covers retryable provider/network failures; these
	// count toward consecutiveFailures instead of ending the run.
	KindTransport ErrorKind = iota
	KindAuthentication
	KindForbidden
	KindCancelled
	KindPolicyViolation
	KindHostConflict
)

// Sentinel errors for failures this package raises itself. Provider
// errors are classified by inspection instead.
var (
	ErrPolicyViolation = errors.New("action denied by policy")
	ErrHostConflict    = errors.New("environment session conflict")
)

// ClassifyError maps an error from the reasoning service or the
// environment onto the termination policy buckets.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindTransport
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, ErrPolicyViolation) {
		return KindPolicyViolation
	}
	if errors.Is(err, ErrHostConflict) {
		return KindHostConflict
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "context canceled"), strings.Contains(msg, "request cancelled"):
		return KindCancelled
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "authentication"):
		return KindAuthentication
	case strings.Contains(msg, "403"), strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "permission denied"):
		return KindForbidden
	case strings.Contains(msg, "already in use"), strings.Contains(msg, "session conflict"):
		return KindHostConflict
	}
	return KindTransport
}

// IsFatal reports whether an error kind must terminate the run
// immediately instead of being counted.
func (k ErrorKind) IsFatal() bool {
	return k != KindTransport
}

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindCancelled:
		return "cancelled"
	case KindPolicyViolation:
		return "policy-violation"
	case KindHostConflict:
		return "host-conflict"
	default:
		return "transport"
	}
}
