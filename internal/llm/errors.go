package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindRateLimit ErrorKind = "rate_limit"
	KindPolicy    ErrorKind = "policy"
	KindNetwork   ErrorKind = "network"
	KindOther     ErrorKind = "other"
)

// GatewayError classifies a failed model call.
type GatewayError struct {
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("llm %s (status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Transient reports whether retrying the same call may succeed.
func (e *GatewayError) Transient() bool {
	return e.Kind == KindRateLimit || e.Kind == KindNetwork
}

// KindOf extracts the error kind; unclassified errors are KindOther.
func KindOf(err error) ErrorKind {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindOther
}

func IsPolicy(err error) bool { return KindOf(err) == KindPolicy }

func IsTransient(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Transient()
	}
	return false
}

// SafeMessage describes err without provider text.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	switch KindOf(err) {
	case KindPolicy:
		return "request rejected by content policy"
	case KindRateLimit:
		return "model rate limit reached"
	case KindNetwork:
		return "model service unreachable"
	default:
		return "model call failed"
	}
}

var policyMarkers = []string{
	"content_filter",
	"content_policy",
	"content policy",
	"contentpolicy",
	"content management policy",
	"responsibleai",
}

func looksLikePolicy(parts ...string) bool {
	for _, p := range parts {
		lowered := strings.ToLower(p)
		for _, m := range policyMarkers {
			if strings.Contains(lowered, m) {
				return true
			}
		}
	}
	return false
}
