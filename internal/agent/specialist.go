package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"vita/internal/domain"
	"vita/internal/llm"
	"vita/internal/metrics"
)

// MaxIterations caps the model calls a specialist makes for one task.
const MaxIterations = 2

// Recorder receives trace steps in the order calls are started. Begin is called right before a
// model call; the returned func receives the finished step.
type Recorder interface {
	Begin(module string) func(domain.Step)
}

type nopRecorder struct{}

func (nopRecorder) Begin(string) func(domain.Step) { return func(domain.Step) {} }

// Input is everything a specialist sees for one task.
type Input struct {
	Task    domain.Task
	Profile domain.UserProfile
	Context string
}

// Specialist runs a bounded ReAct loop for one role. A Specialist holds no per-task state and
// may run several tasks concurrently.
type Specialist struct {
	def           roleDef
	tools         map[ToolKind]Tool
	gateway       llm.Gateway
	maxIterations int
	log           zerolog.Logger
}

func (s *Specialist) Role() domain.Role { return s.def.role }

func (s *Specialist) iterations() int {
	if s.maxIterations <= 0 || s.maxIterations > MaxIterations {
		return MaxIterations
	}
	return s.maxIterations
}

func (s *Specialist) toolSpecs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(s.def.tools))
	for _, k := range s.def.tools {
		specs = append(specs, s.tools[k].Spec())
	}
	return specs
}

// Run answers one task. It always returns a result: model and tool failures degrade the answer
// instead of failing the run.
func (s *Specialist) Run(ctx context.Context, in Input, rec Recorder) domain.SpecialistResult {
	if rec == nil {
		rec = nopRecorder{}
	}
	log := s.log.With().Str("task_id", in.Task.ID).Logger()
	profile := in.Profile.Only(s.def.fields...)
	res := domain.SpecialistResult{TaskID: in.Task.ID, Role: s.def.role, Steps: []domain.Step{}}

	var (
		scratch   strings.Builder
		findings  []string
		answer    string
		attempted int
		succeeded int
		callErr   error
	)
	maxIter := s.iterations()
	for i := 1; i <= maxIter; i++ {
		last := i == maxIter
		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: s.systemPrompt(last)},
			{Role: llm.RoleUser, Content: s.userPrompt(in, profile, scratch.String(), last)},
		}
		var tools []llm.ToolSpec
		if !last {
			tools = s.toolSpecs()
		}
		done := rec.Begin(string(s.def.role))
		c, err := s.gateway.Complete(ctx, messages, tools)
		step := domain.Step{Module: string(s.def.role), Prompt: llm.Prompt(messages)}
		if err != nil {
			step.Response = llm.ErrorResponse(err)
		} else {
			step.Response = llm.Response(c)
		}
		done(step)
		res.Steps = append(res.Steps, step)
		if err != nil {
			callErr = err
			log.Warn().Err(err).Int("iteration", i).Msg("specialist model call failed")
			break
		}

		reply := s.interpret(c)
		if reply.Done && strings.TrimSpace(reply.Final) != "" {
			answer = strings.TrimSpace(reply.Final)
			break
		}
		if last {
			log.Debug().Str("action", reply.Action).Msg("no final answer on last iteration")
			break
		}

		var observation string
		switch {
		case reply.Call != nil:
			out, ok, invalid := s.execute(ctx, *reply.Call, profile, log)
			if !invalid {
				attempted++
			}
			observation = out
			if ok {
				succeeded++
				if out != noResults {
					findings = append(findings, out)
				}
			}
		case reply.Err != nil:
			metrics.ToolCalls.WithLabelValues("unknown", "malformed").Inc()
			log.Debug().Err(reply.Err).Msg("malformed specialist output")
			if reply.Action == "" {
				observation = fmt.Sprintf("No action given. Use one of: %s, finish.", strings.Join(s.advertised(), ", "))
			} else {
				observation = fmt.Sprintf("Unknown action %q. Use one of: %s, finish.", reply.Action, strings.Join(s.advertised(), ", "))
			}
		default:
			observation = "Empty answer. Use an action or finish."
		}
		if len(reply.Skipped) > 0 {
			observation += fmt.Sprintf("\n(Only one tool runs per turn; not run: %s)", strings.Join(reply.Skipped, ", "))
		}
		fmt.Fprintf(&scratch, "Thought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n\n",
			reply.Thought, reply.Action, reply.ActionInput, observation)
	}

	switch {
	case answer != "":
		res.Summary = answer
	case len(findings) > 0:
		res.Summary = synthesize(findings)
	default:
		res.Summary = degradedAnswer(s.def.role, in.Task.Instruction)
		res.Degraded = true
	}
	if attempted > 0 && succeeded == 0 {
		res.Degraded = true
		res.Note = "no tool returned data"
	}
	if callErr != nil {
		res.Degraded = true
		res.Note = llm.SafeMessage(callErr)
	}
	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
	}
	metrics.SpecialistRuns.WithLabelValues(string(s.def.role), outcome).Inc()
	log.Info().Str("outcome", outcome).Int("steps", len(res.Steps)).Msg("specialist finished")
	return res
}

// execute runs a tool, trying its fallback when it fails. ok is false when no tool produced data;
// invalid is true when the arguments were rejected rather than the backend failing.
func (s *Specialist) execute(ctx context.Context, call ToolCall, profile domain.UserProfile, log zerolog.Logger) (out string, ok, invalid bool) {
	tool := s.tools[call.Kind]
	out, err := tool.Handler(ctx, call.Args, profile)
	if err == nil {
		metrics.ToolCalls.WithLabelValues(string(call.Kind), "ok").Inc()
		return out, true, false
	}
	terr := &ToolError{Tool: call.Kind, Err: err}
	if errors.Is(err, ErrMalformedOutput) {
		metrics.ToolCalls.WithLabelValues(string(call.Kind), "malformed").Inc()
		log.Debug().Err(terr).Msg("bad tool arguments")
		if call.Kind == ToolCalculateTDEE {
			return fmt.Sprintf("Invalid input for %s. Use sex male or female and activity_level sedentary, light, moderate, active or very_active.", call.Kind), false, true
		}
		return fmt.Sprintf("Invalid input for %s. Pass a short query.", call.Kind), false, true
	}
	metrics.ToolCalls.WithLabelValues(string(call.Kind), "error").Inc()
	log.Warn().Err(terr).Msg("tool failed")
	if fb, ok := s.tools[tool.Fallback]; ok && tool.Fallback != "" {
		out, err := fb.Handler(ctx, call.Args, profile)
		if err == nil {
			metrics.ToolCalls.WithLabelValues(string(fb.Kind), "fallback").Inc()
			return fmt.Sprintf("(%s is unavailable; results from %s)\n%s", call.Kind, fb.Kind, out), true, false
		}
		metrics.ToolCalls.WithLabelValues(string(fb.Kind), "error").Inc()
		log.Warn().Err(&ToolError{Tool: fb.Kind, Err: err}).Msg("fallback tool failed")
	}
	return fmt.Sprintf("%s is unavailable right now and returned no data.", call.Kind), false, false
}

func (s *Specialist) advertised() []string {
	out := make([]string, 0, len(s.def.tools))
	for _, k := range s.def.tools {
		out = append(out, string(k))
	}
	return out
}

func (s *Specialist) userPrompt(in Input, profile domain.UserProfile, scratch string, final bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", strings.TrimSpace(in.Task.Instruction))
	if summary := profile.Summary(); summary != "" {
		fmt.Fprintf(&b, "\nRelevant user profile:\n%s\n", summary)
	}
	if c := strings.TrimSpace(in.Context); c != "" {
		fmt.Fprintf(&b, "\nContext from the head coach:\n%s\n", c)
	}
	if scratch != "" {
		fmt.Fprintf(&b, "\n%s", scratch)
	}
	if final {
		b.WriteString("\nFinal answer:")
	}
	return strings.TrimSpace(b.String())
}

func synthesize(findings []string) string {
	var b strings.Builder
	b.WriteString("Here is what the sources say:")
	for _, f := range findings {
		b.WriteString("\n\n")
		b.WriteString(f)
	}
	return b.String()
}

func degradedAnswer(role domain.Role, task string) string {
	return fmt.Sprintf("%s could not find enough reliable information for %q. Treat any advice on this point as general guidance only.", role, strings.TrimSpace(task))
}
