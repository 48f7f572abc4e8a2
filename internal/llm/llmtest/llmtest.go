// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"vita/internal/llm"
)

type Func func(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Completion, error)

type Call struct {
	Messages []llm.Message
	Tools    []llm.ToolSpec
}

// Gateway records every call and answers with Fn. It is safe for concurrent use.
type Gateway struct {
	Fn Func

	mu    sync.Mutex
	calls []Call
}

func New(fn Func) *Gateway {
	return &Gateway{Fn: fn}
}

func (g *Gateway) Complete(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.Completion, error) {
	g.mu.Lock()
	g.calls = append(g.calls, Call{Messages: append([]llm.Message(nil), messages...), Tools: tools})
	g.mu.Unlock()
	return g.Fn(ctx, messages, tools)
}

func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsMatching counts calls whose system prompt contains marker.
func (g *Gateway) CallsMatching(marker string) int {
	n := 0
	for _, c := range g.Calls() {
		if strings.Contains(System(c.Messages), marker) {
			n++
		}
	}
	return n
}

// Text is a plain-text completion.
func Text(s string) llm.Completion {
	return llm.Completion{Content: s}
}

// ToolCall is a completion requesting a single native tool call.
func ToolCall(name, args string) llm.Completion {
	return llm.Completion{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: name, Arguments: args}}}
}

// System returns the system prompt of a message list.
func System(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			return m.Content
		}
	}
	return ""
}

// User returns the last user message of a message list.
func User(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
