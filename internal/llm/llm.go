package llm

import (
	"context"

	"github.com/invopop/jsonschema"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec advertises a callable tool to the model.
type ToolSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters,omitempty"`
}

// ToolCall is a structured tool request returned by the model. Arguments is raw JSON.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Completion is one model answer. Raw holds the provider response for the trace.
type Completion struct {
	Content   string         `json:"content"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Raw       map[string]any `json:"raw,omitempty"`
}

// Gateway is the single remote call every agent makes.
type Gateway interface {
	Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error)
}

// Embedder turns texts into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Prompt renders messages into the trace payload shape.
func Prompt(messages []Message) map[string]any {
	items := make([]any, 0, len(messages))
	for _, m := range messages {
		items = append(items, map[string]any{"role": m.Role, "content": m.Content})
	}
	return map[string]any{"messages": items}
}

// Response renders a completion into the trace payload shape.
func Response(c Completion) map[string]any {
	if c.Raw != nil {
		return c.Raw
	}
	msg := map[string]any{"role": RoleAssistant, "content": c.Content}
	if len(c.ToolCalls) > 0 {
		calls := make([]any, 0, len(c.ToolCalls))
		for _, tc := range c.ToolCalls {
			calls = append(calls, map[string]any{
				"id":       tc.ID,
				"type":     "function",
				"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
			})
		}
		msg["tool_calls"] = calls
	}
	return map[string]any{"choices": []any{map[string]any{"message": msg}}}
}

// ErrorResponse renders a failed call into the trace payload shape.
func ErrorResponse(err error) map[string]any {
	return map[string]any{"error": map[string]any{"kind": string(KindOf(err)), "message": SafeMessage(err)}}
}
