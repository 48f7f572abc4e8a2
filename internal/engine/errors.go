package engine

import (
	"context"
	"errors"

	"vita/internal/llm"
)

// ErrMalformedDecision marks head-agent output that names no usable action.
var ErrMalformedDecision = errors.New("malformed orchestrator decision")

const (
	msgPolicy      = "I'm sorry, I wasn't able to process that request due to content restrictions. You can try rephrasing your question, or start a new conversation to continue."
	msgUnavailable = "The coaching service is temporarily unavailable. Please try again in a moment."
	msgGeneric     = "Something went wrong while preparing your answer. Please try again."
)

// UserMessage maps a run failure to the text shown to the user. Provider text never leaks.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case llm.IsPolicy(err):
		return msgPolicy
	case llm.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return msgUnavailable
	default:
		return msgGeneric
	}
}
