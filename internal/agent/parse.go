package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"vita/internal/llm"
)

// Reply is one interpreted model turn of the text protocol
//
//	Thought: ...
//	Action: <name> | <name>(<input>)
//	Action Input: ...
//
// or a native tool call. Exactly one of Final, Call or Err is meaningful.
type Reply struct {
	Thought     string
	Action      string
	ActionInput string
	Final       string
	Done        bool
	Call        *ToolCall
	Err         error
	// Skipped names further native tool calls of the same turn. Only one runs per iteration.
	Skipped []string
}

var (
	thoughtRe     = regexp.MustCompile(`(?s)Thought:\s*(.+?)(?:\nAction:|\z)`)
	actionRe      = regexp.MustCompile(`(?s)Action:\s*(.+?)(?:\nAction Input:|\z)`)
	actionInputRe = regexp.MustCompile(`(?s)Action Input:\s*(.+)`)
	finalAnswerRe = regexp.MustCompile(`(?s)Final Answer:\s*(.+)`)
	callRe        = regexp.MustCompile(`(?s)^([A-Za-z_]+)\s*\(\s*(.*?)\s*\)$`)
)

// ParseText splits text protocol output into thought, action and input.
func ParseText(text string) (thought, action, input string) {
	if m := thoughtRe.FindStringSubmatch(text); m != nil {
		thought = strings.TrimSpace(m[1])
	}
	if m := actionRe.FindStringSubmatch(text); m != nil {
		action = strings.TrimSpace(m[1])
	}
	if m := actionInputRe.FindStringSubmatch(text); m != nil {
		input = strings.TrimSpace(m[1])
	}
	return thought, action, input
}

// SplitCall splits "name(args)" into its parts. ok is false when action has no parentheses.
func SplitCall(action string) (name, args string, ok bool) {
	m := callRe.FindStringSubmatch(strings.TrimSpace(action))
	if m == nil {
		return strings.TrimSpace(action), "", false
	}
	return m[1], m[2], true
}

// interpret resolves a completion against the tools the specialist may call.
func (s *Specialist) interpret(c llm.Completion) Reply {
	if len(c.ToolCalls) > 0 {
		pick := 0
		for i, tc := range c.ToolCalls {
			if s.knownTool(tc.Name) {
				pick = i
				break
			}
		}
		tc := c.ToolCalls[pick]
		r := Reply{Thought: strings.TrimSpace(c.Content), Action: tc.Name, ActionInput: tc.Arguments}
		for i, other := range c.ToolCalls {
			if i != pick {
				r.Skipped = append(r.Skipped, other.Name)
			}
		}
		if strings.EqualFold(tc.Name, "finish") {
			r.Done = true
			r.Final = finishArgument(tc.Arguments)
			return r
		}
		if !s.knownTool(tc.Name) {
			r.Err = fmt.Errorf("%w: unknown tool %q", ErrMalformedOutput, tc.Name)
			return r
		}
		kind := ToolKind(strings.ToLower(strings.TrimSpace(tc.Name)))
		args := strings.TrimSpace(tc.Arguments)
		if args == "" {
			args = "{}"
		}
		r.Call = &ToolCall{Kind: kind, Args: toolInput(kind, args)}
		return r
	}

	text := strings.TrimSpace(c.Content)
	if text == "" {
		return Reply{Err: fmt.Errorf("%w: empty completion", ErrMalformedOutput)}
	}
	thought, action, input := ParseText(text)
	r := Reply{Thought: thought, Action: action, ActionInput: input}
	if action == "" {
		switch m := finalAnswerRe.FindStringSubmatch(text); {
		case m != nil:
			r.Final = strings.TrimSpace(m[1])
		case thought != "":
			// reasoning without an action is an unfinished turn, not an answer
			r.Err = fmt.Errorf("%w: thought without action", ErrMalformedOutput)
			return r
		default:
			r.Final = text
		}
		r.Done = true
		return r
	}
	name, inner, paren := SplitCall(action)
	if paren && input == "" {
		input = inner
	}
	if strings.EqualFold(name, "finish") {
		r.Done = true
		r.Final = strings.TrimSpace(input)
		if r.Final == "" {
			r.Final = thought
		}
		return r
	}
	kind := ToolKind(strings.ToLower(name))
	if _, ok := s.tools[kind]; !ok {
		r.Err = fmt.Errorf("%w: unknown action %q", ErrMalformedOutput, action)
		return r
	}
	r.Call = &ToolCall{Kind: kind, Args: toolInput(kind, input)}
	return r
}

func (s *Specialist) knownTool(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "finish" {
		return true
	}
	_, ok := s.tools[ToolKind(name)]
	return ok
}

func finishArgument(args string) string {
	args = strings.TrimSpace(args)
	if strings.HasPrefix(args, "{") {
		var v struct {
			Answer   string `json:"answer"`
			Response string `json:"response"`
		}
		if err := json.Unmarshal([]byte(args), &v); err == nil {
			if v.Answer != "" {
				return v.Answer
			}
			return v.Response
		}
	}
	return args
}
