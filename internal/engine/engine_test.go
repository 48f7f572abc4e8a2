package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/agent"
	"vita/internal/domain"
	"vita/internal/livesearch"
	"vita/internal/llm"
	"vita/internal/llm/llmtest"
	"vita/internal/retrieval"
)

const (
	headMarker     = "Head Coach of Vita, an AI"
	synthMarker    = "First verify the specialist outputs"
	reviewMarker   = "quality reviewer"
	nutritionAgent = "You are the Nutrition Expert"
	scienceAgent   = "You are the Science Researcher"
	wellnessAgent  = "You are the Wellness Coach"
)

type reply func(n int, messages []llm.Message) (llm.Completion, error)

// texts answers the n-th call with the n-th completion, repeating the last one.
func texts(replies ...llm.Completion) reply {
	return func(n int, _ []llm.Message) (llm.Completion, error) {
		if n >= len(replies) {
			n = len(replies) - 1
		}
		return replies[n], nil
	}
}

func text(s string) reply { return texts(llmtest.Text(s)) }

func fails(err error) reply {
	return func(int, []llm.Message) (llm.Completion, error) { return llm.Completion{}, err }
}

// routed answers each call by the first marker found in its system prompt.
func routed(routes map[string]reply) *llmtest.Gateway {
	var mu sync.Mutex
	counts := map[string]int{}
	return llmtest.New(func(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (llm.Completion, error) {
		system := llmtest.System(messages)
		for marker, fn := range routes {
			if strings.Contains(system, marker) {
				mu.Lock()
				n := counts[marker]
				counts[marker]++
				mu.Unlock()
				return fn(n, messages)
			}
		}
		return llm.Completion{}, fmt.Errorf("unexpected call: %s", clip(system, 60))
	})
}

type staticRetriever struct{}

func (staticRetriever) Retrieve(_ context.Context, query string, ns retrieval.Namespace, _ int) ([]domain.Passage, error) {
	return []domain.Passage{{ID: "p1", Text: "indexed abstract on " + query, Namespace: string(ns), Score: 1}}, nil
}

type downSearcher struct {
	mu    sync.Mutex
	calls int
}

func (s *downSearcher) Search(context.Context, string, int) ([]domain.Document, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil, &livesearch.NetworkError{Op: "esearch", Err: errors.New("no route to host")}
}

func newOrchestrator(gw llm.Gateway, b agent.Backends, opts ...func(*Options)) *Orchestrator {
	o := Options{
		Gateway: gw,
		Team:    agent.NewTeam(agent.TeamOptions{Gateway: gw, Backends: b, Log: zerolog.Nop()}),
		Log:     zerolog.Nop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func modules(steps []domain.Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Module
	}
	return out
}

func eventTypes(evs []domain.ProgressEvent) []domain.EventType {
	out := make([]domain.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func breakfastGateway() *llmtest.Gateway {
	return routed(map[string]reply{
		headMarker:     text("Thought: This is a food question.\nAction: call_specialists\nAction Input: Nutrition Expert | List high-protein breakfast options"),
		nutritionAgent: text("Greek yogurt with berries, eggs on wholegrain toast, or cottage cheese bowls. Each gives 20-30 g protein."),
		synthMarker:    text("**Quick answer**: Greek yogurt or eggs are great high-protein breakfasts."),
	})
}

func TestHighProteinBreakfastConsultsNutrition(t *testing.T) {
	o := newOrchestrator(breakfastGateway(), agent.Backends{Retriever: staticRetriever{}})
	var events []domain.ProgressEvent

	out := o.Run(context.Background(), Request{Prompt: "What's a good high-protein breakfast?"}, func(ev domain.ProgressEvent) {
		events = append(events, ev)
	})

	res := out.Result
	require.Equal(t, domain.StatusOK, res.Status)
	assert.Equal(t, "**Quick answer**: Greek yogurt or eggs are great high-protein breakfasts.", res.ResponseText())
	require.Len(t, out.Tasks, 1)
	assert.Equal(t, domain.RoleNutrition, out.Tasks[0].Role)
	assert.Equal(t, 1, out.Tasks[0].Round)
	assert.Equal(t, []string{domain.OrchestratorModule, string(domain.RoleNutrition), domain.OrchestratorModule}, modules(res.Steps))
	for _, s := range res.Steps {
		assert.True(t, domain.KnownModule(s.Module), s.Module)
		assert.NotEmpty(t, s.Prompt)
		assert.NotEmpty(t, s.Response)
	}

	assert.Equal(t, []domain.EventType{
		domain.EventOrchestratorStart,
		domain.EventOrchestratorThinking,
		domain.EventOrchestratorThinking,
		domain.EventSpecialistsDispatched,
		domain.EventSpecialistStart,
		domain.EventSpecialistDone,
		domain.EventComposing,
		domain.EventDone,
		domain.EventResult,
	}, eventTypes(events))
	assert.Equal(t, "Analyzing your question...", events[0].Message)
	assert.Equal(t, "Deciding which experts to consult...", events[1].Message)
	assert.Equal(t, "This is a food question.", events[2].Message)
	assert.Equal(t, "Nutrition Expert is researching: List high-protein breakfast options", events[4].Message)
	assert.Equal(t, "Nutrition Expert found results", events[5].Message)
	assert.Equal(t, "Greek yogurt with berries, eggs on wholegrain toast, or cottage cheese bowls", events[5].Summary)
	for _, ev := range events {
		assert.Equal(t, out.RunID, ev.RunID)
	}
	require.NotNil(t, events[8].Result)
	assert.Equal(t, res.ResponseText(), events[8].Result.ResponseText())
}

func TestOffTopicQuestionFinishesWithoutSpecialists(t *testing.T) {
	redirect := "I'm a wellness and nutrition coach, so I can't help with geography. Ask me about meals, sleep or exercise!"
	gw := routed(map[string]reply{
		headMarker: text("Thought: Off-topic.\nAction: finish\nAction Input: " + redirect),
	})
	o := newOrchestrator(gw, agent.Backends{})

	out := o.Execute(context.Background(), Request{Prompt: "What's the capital of France?"})

	assert.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, redirect, out.Result.ResponseText())
	assert.Empty(t, out.Tasks)
	require.Len(t, out.Result.Steps, 1)
	assert.Equal(t, domain.OrchestratorModule, out.Result.Steps[0].Module)
	assert.Len(t, gw.Calls(), 1)
}

func TestLiveSearchOutageStillAnswers(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: text("Thought: needs evidence\nAction: call_specialists\nAction Input: Science Researcher | Evidence on protein at breakfast and satiety"),
		scienceAgent: texts(
			llmtest.ToolCall("search_pubmed", `{"query":"breakfast protein satiety"}`),
			llmtest.Text("Trials suggest 25-30 g protein at breakfast improves satiety."),
		),
		synthMarker: text("Research suggests a protein-rich breakfast keeps you full longer."),
	})
	live := &downSearcher{}
	o := newOrchestrator(gw, agent.Backends{Retriever: staticRetriever{}, Searcher: live})

	out := o.Execute(context.Background(), Request{Prompt: "Does protein at breakfast help with hunger?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, "Research suggests a protein-rich breakfast keeps you full longer.", out.Result.ResponseText())
	assert.GreaterOrEqual(t, live.calls, 1)
	assert.Equal(t, []string{
		domain.OrchestratorModule,
		string(domain.RoleScience),
		string(domain.RoleScience),
		domain.OrchestratorModule,
	}, modules(out.Result.Steps))
}

func TestPolicyErrorOnSynthesisFailsSafely(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker:     text("Thought: food\nAction: call_specialists\nAction Input: Nutrition Expert | Breakfast ideas"),
		nutritionAgent: text("Oats with nuts."),
		synthMarker:    fails(&llm.GatewayError{Kind: llm.KindPolicy, Status: 400, Err: errors.New("content_filter triggered: hate/violence raw provider text")}),
	})
	o := newOrchestrator(gw, agent.Backends{})
	var last domain.ProgressEvent

	out := o.Run(context.Background(), Request{Prompt: "Breakfast ideas?"}, func(ev domain.ProgressEvent) { last = ev })

	res := out.Result
	assert.Equal(t, domain.StatusError, res.Status)
	assert.Nil(t, res.Response)
	assert.Equal(t, msgPolicy, res.ErrorText())
	assert.NotContains(t, res.ErrorText(), "content_filter")
	assert.Len(t, res.Steps, 3)
	assert.Equal(t, domain.EventError, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, domain.StatusError, last.Result.Status)
}

func TestOrchestratorGatewayOutage(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: fails(&llm.GatewayError{Kind: llm.KindNetwork, Err: errors.New("dial tcp 10.0.0.1:443: i/o timeout")}),
	})
	out := newOrchestrator(gw, agent.Backends{}).Execute(context.Background(), Request{Prompt: "How much water should I drink?"})

	assert.Equal(t, domain.StatusError, out.Result.Status)
	assert.Equal(t, msgUnavailable, out.Result.ErrorText())
	require.Len(t, out.Result.Steps, 1)
}

func TestRolesAreNeverDispatchedTwice(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: texts(
			llmtest.Text("Thought: food?\nAction: call_specialists\nAction Input: Nutrition Expert | Evening routine for better sleep"),
			llmtest.Text("Thought: wrong expert\nAction: call_specialists\nAction Input: Nutrition Expert | Try again\nWellness Coach | Evening routine for better sleep"),
		),
		nutritionAgent: text(agent.BoundaryPrefix + " sleep routines belong to the Wellness Coach."),
		wellnessAgent:  text("Keep a consistent bedtime and dim the lights an hour before."),
		synthMarker:    text("Build a calm evening routine."),
	})
	o := newOrchestrator(gw, agent.Backends{})

	out := o.Execute(context.Background(), Request{Prompt: "How can I sleep better?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	require.Len(t, out.Tasks, 2)
	assert.Equal(t, domain.RoleNutrition, out.Tasks[0].Role)
	assert.Equal(t, domain.RoleWellness, out.Tasks[1].Role)
	assert.Equal(t, 2, out.Tasks[1].Round)
	assert.Equal(t, 1, gw.CallsMatching(nutritionAgent))
	assert.Equal(t, 2, gw.CallsMatching(headMarker))

	var headCalls, synthCalls []llmtest.Call
	for _, c := range gw.Calls() {
		switch system := llmtest.System(c.Messages); {
		case strings.Contains(system, headMarker):
			headCalls = append(headCalls, c)
		case strings.Contains(system, synthMarker):
			synthCalls = append(synthCalls, c)
		}
	}
	require.Len(t, headCalls, 2)
	assert.Contains(t, llmtest.User(headCalls[1].Messages), "Review: Nutrition Expert said the task is outside its area")
	require.Len(t, synthCalls, 1)
	assert.Contains(t, llmtest.User(synthCalls[0].Messages), "Unresolved gaps")
}

func TestOnlyRepeatedRolesMovesToSynthesis(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker:     text("Thought: ask nutrition\nAction: call_specialists\nAction Input: Nutrition Expert | Daily fiber target"),
		nutritionAgent: text(""),
		synthMarker:    text("Aim for about 25-38 g of fiber a day."),
	})
	o := newOrchestrator(gw, agent.Backends{})

	out := o.Execute(context.Background(), Request{Prompt: "How much fiber do I need?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Len(t, out.Tasks, 1)
	assert.Equal(t, 2, gw.CallsMatching(headMarker))
	assert.Equal(t, 1, gw.CallsMatching(synthMarker))
	assert.Equal(t, 2, out.Rounds)
}

func TestIterationCapForcesSynthesis(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker:  text("I think we should look into this further."),
		synthMarker: text("Here is a general answer."),
	})
	o := newOrchestrator(gw, agent.Backends{})

	out := o.Execute(context.Background(), Request{Prompt: "Is coffee healthy?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, DefaultMaxIterations, gw.CallsMatching(headMarker))
	assert.Equal(t, 1, gw.CallsMatching(synthMarker))
	assert.Len(t, out.Result.Steps, DefaultMaxIterations+1)
	assert.Equal(t, DefaultMaxIterations, out.Rounds)
	second := gw.Calls()[1]
	assert.Contains(t, llmtest.User(second.Messages), "No usable action found")
}

func TestUnknownSpecialistIsNotFatal(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: texts(
			llmtest.Text("Thought: ask the chef\nAction: call_specialists\nAction Input: Chef | Cook something"),
			llmtest.Text("Thought: answer directly\nAction: finish\nAction Input: Try an omelette with spinach."),
		),
	})
	out := newOrchestrator(gw, agent.Backends{}).Execute(context.Background(), Request{Prompt: "Dinner idea?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, "Try an omelette with spinach.", out.Result.ResponseText())
	assert.Empty(t, out.Tasks)
	assert.Contains(t, llmtest.User(gw.Calls()[1].Messages), "No valid specialist calls found")
}

func TestParallelDispatch(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: text("Thought: spans domains\nAction: call_specialists\nAction Input: Nutrition Expert | Vegan protein sources\n" +
			"Science Researcher | Evidence on plant protein for muscle\nWellness Coach | Training plan for beginners"),
		nutritionAgent: text("Lentils, tofu and tempeh."),
		scienceAgent:   text("Plant protein supports muscle gain when intake is adequate."),
		wellnessAgent:  text("Start with three full-body sessions a week."),
		synthMarker:    text("A vegan muscle plan."),
	})
	o := newOrchestrator(gw, agent.Backends{})
	var mu sync.Mutex
	var events []domain.ProgressEvent

	out := o.Run(context.Background(), Request{Prompt: "I'm vegan and want to build muscle"}, func(ev domain.ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	require.Len(t, out.Tasks, 3)
	steps := modules(out.Result.Steps)
	require.Len(t, steps, 5)
	assert.Equal(t, domain.OrchestratorModule, steps[0])
	assert.Equal(t, domain.OrchestratorModule, steps[4])
	assert.ElementsMatch(t, []string{"Nutrition Expert", "Science Researcher", "Wellness Coach"}, steps[1:4])

	var dispatched *domain.ProgressEvent
	done := 0
	for i := range events {
		switch events[i].Type {
		case domain.EventSpecialistsDispatched:
			dispatched = &events[i]
		case domain.EventSpecialistDone:
			done++
			assert.True(t, strings.HasSuffix(events[i].Message, " completed"))
		}
	}
	require.NotNil(t, dispatched)
	assert.Equal(t, "Consulting 3 specialists in parallel: Nutrition Expert, Science Researcher, Wellness Coach", dispatched.Message)
	assert.Equal(t, 3, done)
	assert.Equal(t, "vegan", out.Profile.DietaryRestrictions)
}

func TestModelVerifierGapAddsRound(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: texts(
			llmtest.Text("Thought: food\nAction: call_specialists\nAction Input: Nutrition Expert | Is intermittent fasting good for weight loss?"),
			llmtest.Text("Thought: enough\nAction: finish\nAction Input: Fasting can help some people."),
		),
		nutritionAgent: text("Time-restricted eating can reduce intake."),
		reviewMarker:   text("Verdict: gap\nGaps:\n- No evidence on safety"),
		synthMarker:    text("Fasting may help; check safety with your doctor."),
	})
	o := newOrchestrator(gw, agent.Backends{}, func(opts *Options) {
		opts.Verifier = NewVerifier("model", gw, zerolog.Nop())
	})

	out := o.Execute(context.Background(), Request{Prompt: "Should I try intermittent fasting?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, "Fasting may help; check safety with your doctor.", out.Result.ResponseText())
	assert.Equal(t, []string{
		domain.OrchestratorModule,
		string(domain.RoleNutrition),
		domain.OrchestratorModule,
		domain.OrchestratorModule,
		domain.OrchestratorModule,
	}, modules(out.Result.Steps))
	last := gw.Calls()[len(gw.Calls())-1]
	assert.Contains(t, llmtest.User(last.Messages), "No evidence on safety")
	assert.Contains(t, llmtest.User(last.Messages), "Head coach draft:\nFasting can help some people.")
}

func TestStreamMatchesExecute(t *testing.T) {
	req := Request{Prompt: "What's a good high-protein breakfast?"}
	direct := newOrchestrator(breakfastGateway(), agent.Backends{}).Execute(context.Background(), req)

	var final Outcome
	got := make(chan struct{})
	ch := newOrchestrator(breakfastGateway(), agent.Backends{}).Stream(context.Background(), req, func(out Outcome) {
		final = out
		close(got)
	})
	var events []domain.ProgressEvent
	for ev := range ch {
		events = append(events, ev)
	}
	<-got

	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventOrchestratorStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, domain.EventResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, direct.Result.Status, last.Result.Status)
	assert.Equal(t, direct.Result.ResponseText(), last.Result.ResponseText())
	assert.Equal(t, final.Result.ResponseText(), last.Result.ResponseText())
	assert.Len(t, last.Result.Steps, len(direct.Result.Steps))
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.Type.Terminal())
	}
}

func TestStreamEndsWithErrorEvent(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: fails(&llm.GatewayError{Kind: llm.KindRateLimit, Status: 429, Err: errors.New("slow down")}),
	})
	ch := newOrchestrator(gw, agent.Backends{}).Stream(context.Background(), Request{Prompt: "Hi coach"}, nil)
	var last domain.ProgressEvent
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, domain.EventError, last.Type)
	assert.Equal(t, msgUnavailable, last.Error)
	require.NotNil(t, last.Result)
	assert.Equal(t, domain.StatusError, last.Result.Status)
}

func TestStreamRunFinishesAfterConsumerLeaves(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := make(chan Outcome, 1)

	var observed []domain.EventType
	req := Request{
		Prompt:  "What's a good high-protein breakfast?",
		Observe: func(ev domain.ProgressEvent) { observed = append(observed, ev.Type) },
	}
	ch := newOrchestrator(breakfastGateway(), agent.Backends{}).Stream(ctx, req, func(out Outcome) {
		got <- out
	})
	n := 0
	for range ch {
		n++
	}
	out := <-got

	assert.Zero(t, n)
	assert.Equal(t, domain.StatusOK, out.Result.Status)
	assert.NotEmpty(t, out.Result.ResponseText())
	require.NotEmpty(t, observed)
	assert.Equal(t, domain.EventResult, observed[len(observed)-1])
}

func TestContextAssembly(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: text("Action: finish\nAction Input: Noted!"),
	})
	var history []domain.ConversationTurn
	for i := 0; i < 12; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, domain.ConversationTurn{Role: role, Content: fmt.Sprintf("turn-%02d", i)})
	}
	age := 41
	o := newOrchestrator(gw, agent.Backends{})

	out := o.Execute(context.Background(), Request{
		Prompt:  "I weigh 80kg and I'm 30 years old",
		History: history,
		Profile: domain.UserProfile{Age: &age, Goals: "muscle gain"},
	})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	require.NotNil(t, out.Profile.Age)
	assert.Equal(t, 30, *out.Profile.Age)
	require.NotNil(t, out.Profile.WeightKg)
	assert.Equal(t, 80.0, *out.Profile.WeightKg)
	assert.Equal(t, "muscle gain", out.Profile.Goals)
	assert.ElementsMatch(t, []string{domain.FieldAge, domain.FieldWeightKg}, out.Changed)

	prompt := llmtest.User(gw.Calls()[0].Messages)
	assert.Contains(t, prompt, "Known user profile:")
	assert.Contains(t, prompt, "Previous conversation:\nUser: turn-02\nAssistant: turn-03")
	assert.NotContains(t, prompt, "turn-01")
	assert.Contains(t, prompt, "User request: I weigh 80kg and I'm 30 years old")
}

func TestEmptyPromptIsAnError(t *testing.T) {
	gw := routed(map[string]reply{})
	out := newOrchestrator(gw, agent.Backends{}).Execute(context.Background(), Request{Prompt: "   "})
	assert.Equal(t, domain.StatusError, out.Result.Status)
	assert.Equal(t, msgGeneric, out.Result.ErrorText())
	assert.Empty(t, gw.Calls())
}

func TestParallelToolCallsAreMerged(t *testing.T) {
	gw := routed(map[string]reply{
		headMarker: texts(llm.Completion{ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "call_specialists", Arguments: `{"calls":[{"specialist":"Nutrition Expert","task":"Pre-workout snacks"}]}`},
			{ID: "call_2", Name: "call_specialists", Arguments: `{"calls":[{"specialist":"Wellness Coach","task":"Warm-up routine"}]}`},
			{ID: "call_3", Name: "finish", Arguments: `{"answer":"Just eat a banana."}`},
		}}),
		nutritionAgent: text("A banana with peanut butter an hour before."),
		wellnessAgent:  text("Five minutes of dynamic stretches."),
		synthMarker:    text("Snack on a banana, then warm up with dynamic stretches."),
	})

	out := newOrchestrator(gw, agent.Backends{}).Execute(context.Background(), Request{Prompt: "How should I prepare for a workout?"})

	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, "Snack on a banana, then warm up with dynamic stretches.", out.Result.ResponseText())
	roles := make([]domain.Role, len(out.Tasks))
	for i, tk := range out.Tasks {
		roles[i] = tk.Role
	}
	assert.ElementsMatch(t, []domain.Role{domain.RoleNutrition, domain.RoleWellness}, roles)
	assert.Equal(t, 1, gw.CallsMatching(wellnessAgent))
}

func TestParseToolDecisions(t *testing.T) {
	d := parseDecision(llm.Completion{ToolCalls: []llm.ToolCall{
		{Name: "call_specialists", Arguments: `{"calls":[{"specialist":"Science Researcher","task":"Creatine evidence"}]}`},
		{Name: "call_specialists", Arguments: `{"calls":[{"specialist":"Chef","task":"Recipes"}]}`},
	}})
	require.NoError(t, d.Err)
	require.Len(t, d.Calls, 1)
	assert.Equal(t, domain.RoleScience, d.Calls[0].Role)
	assert.Equal(t, []string{"Chef"}, d.Unknown)

	d = parseDecision(llm.Completion{ToolCalls: []llm.ToolCall{
		{Name: "lookup", Arguments: `{}`},
		{Name: "finish", Arguments: `{"answer":"Drink water."}`},
	}})
	require.NoError(t, d.Err)
	assert.True(t, d.Finish)
	assert.Equal(t, "Drink water.", d.Answer)
}
