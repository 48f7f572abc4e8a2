package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vita/internal/agent"
	"vita/internal/domain"
	"vita/internal/llm"
	"vita/internal/metrics"
	"vita/internal/profile"
)

const (
	DefaultMaxIterations = 4
	DefaultHistoryTurns  = 10
	DefaultMaxParallel   = 3
)

type Options struct {
	Gateway       llm.Gateway
	Team          *agent.Team
	Verifier      Verifier
	MaxIterations int
	HistoryTurns  int
	MaxParallel   int
	Log           zerolog.Logger
	NewID         func() string
}

// Orchestrator is the head agent. It routes a question to specialists, checks their answers and
// composes the reply. One Orchestrator serves any number of concurrent runs.
type Orchestrator struct {
	gateway       llm.Gateway
	team          *agent.Team
	verifier      Verifier
	maxIterations int
	historyTurns  int
	maxParallel   int
	log           zerolog.Logger
	newID         func() string
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		gateway:       opts.Gateway,
		team:          opts.Team,
		verifier:      opts.Verifier,
		maxIterations: opts.MaxIterations,
		historyTurns:  opts.HistoryTurns,
		maxParallel:   opts.MaxParallel,
		log:           opts.Log,
		newID:         opts.NewID,
	}
	if o.team == nil {
		o.team = agent.NewTeam(agent.TeamOptions{Gateway: opts.Gateway, Log: opts.Log})
	}
	if o.verifier == nil {
		o.verifier = RuleVerifier{}
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.historyTurns <= 0 {
		o.historyTurns = DefaultHistoryTurns
	}
	if o.maxParallel <= 0 {
		o.maxParallel = DefaultMaxParallel
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	return o
}

// Team exposes the specialists the orchestrator dispatches to.
func (o *Orchestrator) Team() *agent.Team { return o.team }

type Request struct {
	Prompt    string
	History   []domain.ConversationTurn
	Profile   domain.UserProfile
	RunID     string
	SessionID string
	// Observe receives every event of the run, including those a detached stream consumer
	// never reads.
	Observe Emitter
}

// Outcome is everything a run produces. Profile is the request profile with fields extracted
// from the prompt merged in; Changed names those fields.
type Outcome struct {
	RunID   string
	Result  domain.ExecutionResult
	Profile domain.UserProfile
	Changed []string
	Tasks   []domain.Task
	Rounds  int
}

// Emitter receives progress events. Calls are serialized.
type Emitter func(domain.ProgressEvent)

// Execute runs req to completion.
func (o *Orchestrator) Execute(ctx context.Context, req Request) Outcome {
	return o.Run(ctx, req, nil)
}

// Stream starts req and returns its progress events. The channel closes after the result or
// error event. The run is detached from ctx: when ctx ends, events stop being delivered but the
// run finishes and onDone still receives the outcome.
func (o *Orchestrator) Stream(ctx context.Context, req Request, onDone func(Outcome)) <-chan domain.ProgressEvent {
	ch := make(chan domain.ProgressEvent, 16)
	go func() {
		defer close(ch)
		out := o.Run(context.WithoutCancel(ctx), req, func(ev domain.ProgressEvent) {
			if ctx.Err() != nil {
				return
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		if onDone != nil {
			onDone(out)
		}
	}()
	return ch
}

// Run executes req, passing progress events to emit when it is set. It always returns an
// outcome; failures are reported as an error result.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emitter) Outcome {
	start := time.Now()
	id := req.RunID
	if id == "" {
		id = o.newID()
	}
	r := &run{
		o:         o,
		id:        id,
		prompt:    strings.TrimSpace(req.Prompt),
		history:   req.History,
		log:       o.log.With().Str("run_id", id).Logger(),
		tr:        &trace{},
		emitFn:    emit,
		observe:   req.Observe,
		consulted: map[domain.Role]bool{},
	}
	r.profile, r.changed = profile.Apply(req.Profile, req.Prompt)
	if len(r.changed) > 0 {
		r.log.Info().Strs("fields", r.changed).Msg("profile fields extracted")
	}
	out := r.execute(ctx)

	metrics.Runs.WithLabelValues(out.Result.Status).Inc()
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	metrics.RunRounds.Observe(float64(out.Rounds))
	r.log.Info().
		Str("status", out.Result.Status).
		Int("rounds", out.Rounds).
		Int("tasks", len(out.Tasks)).
		Int("steps", len(out.Result.Steps)).
		Dur("elapsed", time.Since(start)).
		Msg("run finished")
	return out
}

type run struct {
	o       *Orchestrator
	id      string
	prompt  string
	history []domain.ConversationTurn
	profile domain.UserProfile
	changed []string
	log     zerolog.Logger
	tr      *trace

	emitMu  sync.Mutex
	emitFn  Emitter
	observe Emitter

	consulted map[domain.Role]bool
	tasks     []domain.Task
	results   []domain.SpecialistResult
	gaps      []string
	rounds    int
}

func (r *run) emit(ev domain.ProgressEvent) {
	if r.emitFn == nil && r.observe == nil {
		return
	}
	ev.RunID = r.id
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.observe != nil {
		r.observe(ev)
	}
	if r.emitFn != nil {
		r.emitFn(ev)
	}
}

func (r *run) execute(ctx context.Context) Outcome {
	r.emit(domain.ProgressEvent{Type: domain.EventOrchestratorStart, Message: "Analyzing your question..."})

	answer, err := r.loop(ctx)
	steps := r.tr.Steps()
	var res domain.ExecutionResult
	if err != nil {
		r.log.Error().Err(err).Msg("run failed")
		msg := UserMessage(err)
		res = domain.Failed(msg, steps)
		r.emit(domain.ProgressEvent{Type: domain.EventError, Message: msg, Error: msg, Result: &res})
	} else {
		res = domain.OK(answer, steps)
		r.emit(domain.ProgressEvent{Type: domain.EventDone, Message: "Done"})
		r.emit(domain.ProgressEvent{Type: domain.EventResult, Result: &res})
	}
	return Outcome{
		RunID:   r.id,
		Result:  res,
		Profile: r.profile,
		Changed: r.changed,
		Tasks:   r.tasks,
		Rounds:  r.rounds,
	}
}

func (r *run) loop(ctx context.Context) (string, error) {
	if r.prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrMalformedDecision)
	}
	system := headPrompt(r.o.team.Directory())
	base := contextBlock(r.profile, r.history, r.o.historyTurns) + "User request: " + r.prompt
	var scratch strings.Builder

	for i := 1; i <= r.o.maxIterations; i++ {
		r.rounds = i
		msg := "Reviewing specialist findings..."
		if i == 1 {
			msg = "Deciding which experts to consult..."
		}
		r.emit(domain.ProgressEvent{Type: domain.EventOrchestratorThinking, Iteration: i, Message: msg})

		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: strings.TrimSpace(base + "\n\n" + scratch.String())},
		}
		done := r.tr.Begin(domain.OrchestratorModule)
		c, err := r.o.gateway.Complete(ctx, messages, decisionTools())
		step := domain.Step{Prompt: llm.Prompt(messages)}
		if err != nil {
			step.Response = llm.ErrorResponse(err)
		} else {
			step.Response = llm.Response(c)
		}
		done(step)
		if err != nil {
			return "", fmt.Errorf("orchestrator decision: %w", err)
		}

		d := parseDecision(c)
		if d.Thought != "" {
			r.emit(domain.ProgressEvent{Type: domain.EventOrchestratorThinking, Iteration: i, Message: clip(d.Thought, 120)})
		}
		r.log.Debug().Int("iteration", i).Str("action", d.Action).Int("calls", len(d.Calls)).Msg("orchestrator decided")

		if d.Finish {
			if len(r.results) > 0 {
				return r.synthesize(ctx, d.Answer)
			}
			if d.Answer != "" {
				r.emit(domain.ProgressEvent{Type: domain.EventComposing, Message: "Composing your answer..."})
				return d.Answer, nil
			}
			d.Err = fmt.Errorf("%w: finish without an answer", ErrMalformedDecision)
		}
		if d.Err != nil {
			r.log.Warn().Err(d.Err).Int("iteration", i).Msg("unusable orchestrator output")
			note(&scratch, d, malformedObservation(d))
			continue
		}

		fresh, repeated := r.plan(d.Calls)
		if len(fresh) == 0 {
			if len(r.results) > 0 {
				r.log.Debug().Msg("every requested specialist already answered")
				return r.synthesize(ctx, "")
			}
			note(&scratch, d, "No valid specialist calls found in Action Input. Use format: SpecialistName | task")
			continue
		}

		results := r.dispatch(ctx, fresh, i)
		verdict := r.o.verifier.Verify(ctx, r.prompt, results, r.tr)
		r.gaps = append(r.gaps, verdict.Gaps...)

		observation := observations(results)
		if len(repeated) > 0 {
			observation += fmt.Sprintf("\n\n(Already consulted, not called again: %s)", strings.Join(roleNames(repeated), ", "))
		}
		if len(d.Unknown) > 0 {
			observation += fmt.Sprintf("\n\n(Unknown specialists ignored: %s)", strings.Join(d.Unknown, ", "))
		}
		if verdict.Pass {
			return r.synthesize(ctx, "")
		}
		r.log.Info().Strs("gaps", verdict.Gaps).Int("iteration", i).Msg("verification found gaps")
		observation += "\n\nReview: " + strings.Join(verdict.Gaps, "; ") + ". Call a specialist that is still missing, or finish."
		note(&scratch, d, observation)
	}

	r.log.Warn().Int("max_iterations", r.o.maxIterations).Msg("iteration cap reached, forcing synthesis")
	return r.synthesize(ctx, "")
}

// plan drops roles already consulted in this run, and repeats within one decision.
func (r *run) plan(calls []call) (fresh []call, repeated []domain.Role) {
	seen := map[domain.Role]bool{}
	for _, c := range calls {
		if r.consulted[c.Role] || seen[c.Role] {
			repeated = append(repeated, c.Role)
			continue
		}
		seen[c.Role] = true
		fresh = append(fresh, c)
	}
	return fresh, repeated
}

func (r *run) dispatch(ctx context.Context, calls []call, round int) []domain.SpecialistResult {
	tasks := make([]domain.Task, len(calls))
	names := make([]string, len(calls))
	for i, c := range calls {
		tasks[i] = domain.Task{ID: r.o.newID(), Role: c.Role, Instruction: c.Instruction, Round: round}
		names[i] = string(c.Role)
		r.consulted[c.Role] = true
	}
	r.tasks = append(r.tasks, tasks...)

	msg := "Consulting " + names[0]
	if len(names) > 1 {
		msg = fmt.Sprintf("Consulting %d specialists in parallel: %s", len(names), strings.Join(names, ", "))
	}
	r.emit(domain.ProgressEvent{Type: domain.EventSpecialistsDispatched, Iteration: round, Specialists: names, Message: msg})
	for _, t := range tasks {
		r.emit(domain.ProgressEvent{
			Type:       domain.EventSpecialistStart,
			Specialist: string(t.Role),
			Task:       t.Instruction,
			Message:    fmt.Sprintf("%s is researching: %s", t.Role, t.Instruction),
		})
	}
	r.log.Info().Strs("specialists", names).Int("round", round).Msg("dispatching specialists")

	shared := "User request: " + r.prompt
	results := make([]domain.SpecialistResult, len(tasks))
	var g errgroup.Group
	g.SetLimit(r.o.maxParallel)
	for i, t := range tasks {
		spec, ok := r.o.team.Get(t.Role)
		if !ok {
			results[i] = domain.SpecialistResult{TaskID: t.ID, Role: t.Role, Steps: []domain.Step{}, Degraded: true, Note: "no such specialist"}
			continue
		}
		g.Go(func() error {
			res := spec.Run(ctx, agent.Input{Task: t, Profile: r.profile, Context: shared}, r.tr)
			results[i] = res
			doneMsg := fmt.Sprintf("%s completed", t.Role)
			if len(tasks) == 1 {
				doneMsg = fmt.Sprintf("%s found results", t.Role)
			}
			r.emit(domain.ProgressEvent{
				Type:       domain.EventSpecialistDone,
				Specialist: string(t.Role),
				Message:    doneMsg,
				Summary:    summarize(res.Summary),
			})
			return nil
		})
	}
	_ = g.Wait()
	r.results = append(r.results, results...)
	return results
}

func (r *run) synthesize(ctx context.Context, draft string) (string, error) {
	r.emit(domain.ProgressEvent{Type: domain.EventComposing, Message: "Composing your answer..."})
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: synthesisPrompt},
		{Role: llm.RoleUser, Content: synthesisInput(r.prompt, r.profile.Summary(), draft, r.results, r.gaps)},
	}
	done := r.tr.Begin(domain.OrchestratorModule)
	c, err := r.o.gateway.Complete(ctx, messages, nil)
	step := domain.Step{Prompt: llm.Prompt(messages)}
	if err != nil {
		step.Response = llm.ErrorResponse(err)
	} else {
		step.Response = llm.Response(c)
	}
	done(step)
	if err != nil {
		return "", fmt.Errorf("synthesis: %w", err)
	}
	if answer := strings.TrimSpace(c.Content); answer != "" {
		return answer, nil
	}
	r.log.Warn().Msg("empty synthesis; falling back to draft")
	if draft != "" {
		return draft, nil
	}
	if len(r.results) > 0 {
		return "Here is what our specialists found:\n\n" + observations(r.results), nil
	}
	return "", fmt.Errorf("%w: empty synthesis", ErrMalformedDecision)
}

func note(b *strings.Builder, d decision, observation string) {
	fmt.Fprintf(b, "Thought: %s\nAction: %s\nAction Input: %s\nObservation: %s\n\n", d.Thought, d.Action, d.Input, observation)
}

func malformedObservation(d decision) string {
	if d.Action == "" || d.Finish {
		return "No usable action found. Use call_specialists or finish with an Action Input."
	}
	if strings.HasPrefix(strings.ToLower(d.Action), "call_specialist") {
		return "No valid specialist calls found in Action Input. Use format: SpecialistName | task"
	}
	return fmt.Sprintf("Unknown action: %s. Use call_specialists or finish.", d.Action)
}

func roleNames(roles []domain.Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}
