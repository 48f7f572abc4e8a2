package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"vita/internal/agent"
	"vita/internal/domain"
	"vita/internal/llm"
)

const (
	actionDispatch = "call_specialists"
	actionFinish   = "finish"
)

type call struct {
	Role        domain.Role
	Instruction string
}

// decision is one interpreted head-agent turn. Err is set when no usable action was found.
type decision struct {
	Thought string
	Action  string
	Input   string
	Finish  bool
	Answer  string
	Calls   []call
	Unknown []string
	Err     error
}

type dispatchArgs struct {
	Calls []dispatchCall `json:"calls" jsonschema:"required,minItems=1,description=One entry per specialist to consult"`
}

type dispatchCall struct {
	Specialist string `json:"specialist" jsonschema:"required,enum=Nutrition Expert,enum=Science Researcher,enum=Wellness Coach"`
	Task       string `json:"task" jsonschema:"required,description=What the specialist should answer"`
}

type finishArgs struct {
	Answer string `json:"answer" jsonschema:"required,description=Complete friendly response to the user"`
}

func schemaFor(v any) *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	s.Version = ""
	return s
}

func decisionTools() []llm.ToolSpec {
	return []llm.ToolSpec{
		{Name: actionDispatch, Description: "Consult one or more specialists in parallel.", Parameters: schemaFor(&dispatchArgs{})},
		{Name: actionFinish, Description: "Reply to the user directly and end the run.", Parameters: schemaFor(&finishArgs{})},
	}
}

func parseDecision(c llm.Completion) decision {
	if len(c.ToolCalls) > 0 {
		return parseToolDecisions(strings.TrimSpace(c.Content), c.ToolCalls)
	}
	text := strings.TrimSpace(c.Content)
	if text == "" {
		return decision{Err: fmt.Errorf("%w: empty completion", ErrMalformedDecision)}
	}
	thought, action, input := agent.ParseText(text)
	d := decision{Thought: thought, Action: action, Input: input}
	name, inner, paren := agent.SplitCall(action)
	if paren && input == "" {
		input = inner
		d.Input = inner
	}
	key := strings.ToLower(strings.TrimSpace(name))
	switch {
	case key == actionFinish:
		d.Finish = true
		d.Answer = strings.TrimSpace(input)
	case strings.HasPrefix(key, "call_specialist"):
		d.Calls, d.Unknown = parseCalls(input)
		if len(d.Calls) == 0 {
			d.Err = fmt.Errorf("%w: no valid specialist calls", ErrMalformedDecision)
		}
	case action == "":
		d.Err = fmt.Errorf("%w: no action", ErrMalformedDecision)
	default:
		d.Err = fmt.Errorf("%w: unknown action %q", ErrMalformedDecision, action)
	}
	return d
}

// parseToolDecisions merges a turn of native tool calls. Every call_specialists call contributes
// its calls; finish is honored only when no dispatch was requested in the same turn.
func parseToolDecisions(thought string, tcs []llm.ToolCall) decision {
	var dispatch, finish, first *decision
	var lines, unknown []string
	for _, tc := range tcs {
		d := parseToolDecision(thought, tc)
		if first == nil {
			first = &d
		}
		switch {
		case d.Err != nil && !strings.EqualFold(strings.TrimSpace(tc.Name), actionDispatch):
			continue
		case d.Finish:
			if finish == nil {
				finish = &d
			}
		default:
			if dispatch == nil {
				dispatch = &d
			} else {
				dispatch.Calls = append(dispatch.Calls, d.Calls...)
			}
			if d.Input != "" {
				lines = append(lines, d.Input)
			}
			unknown = append(unknown, d.Unknown...)
		}
	}
	switch {
	case dispatch != nil:
		dispatch.Action = actionDispatch
		dispatch.Input = strings.Join(lines, "\n")
		dispatch.Unknown = unknown
		dispatch.Err = nil
		if len(dispatch.Calls) == 0 {
			dispatch.Err = fmt.Errorf("%w: no valid specialist calls", ErrMalformedDecision)
		}
		return *dispatch
	case finish != nil:
		return *finish
	default:
		return *first
	}
}

func parseToolDecision(thought string, tc llm.ToolCall) decision {
	d := decision{Thought: thought, Action: tc.Name, Input: tc.Arguments}
	switch strings.ToLower(strings.TrimSpace(tc.Name)) {
	case actionFinish:
		var a finishArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &a); err != nil {
			d.Err = fmt.Errorf("%w: finish arguments: %v", ErrMalformedDecision, err)
			return d
		}
		d.Finish = true
		d.Answer = strings.TrimSpace(a.Answer)
	case actionDispatch:
		var a dispatchArgs
		if err := json.Unmarshal([]byte(tc.Arguments), &a); err != nil {
			d.Err = fmt.Errorf("%w: call_specialists arguments: %v", ErrMalformedDecision, err)
			return d
		}
		var lines []string
		for _, c := range a.Calls {
			lines = append(lines, c.Specialist+" | "+c.Task)
		}
		d.Input = strings.Join(lines, "\n")
		d.Calls, d.Unknown = parseCalls(d.Input)
		if len(d.Calls) == 0 {
			d.Err = fmt.Errorf("%w: no valid specialist calls", ErrMalformedDecision)
		}
	default:
		d.Err = fmt.Errorf("%w: unknown tool %q", ErrMalformedDecision, tc.Name)
	}
	return d
}

// parseCalls reads "Specialist | task" lines. Names that match no role are returned in unknown.
func parseCalls(input string) (calls []call, unknown []string) {
	for _, line := range strings.Split(input, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		name, task, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		task = strings.TrimSpace(task)
		if task == "" {
			continue
		}
		role, known := domain.ParseRole(name)
		if !known {
			unknown = append(unknown, strings.TrimSpace(name))
			continue
		}
		calls = append(calls, call{Role: role, Instruction: task})
	}
	return calls, unknown
}
