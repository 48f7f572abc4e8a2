package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"vita/internal/agent"
	"vita/internal/domain"
	"vita/internal/llm"
)

// Verdict is the outcome of checking one round of specialist results.
type Verdict struct {
	Pass bool     `json:"pass"`
	Gaps []string `json:"gaps,omitempty"`
}

// Verifier inspects a round's results for relevance and contradictions. Model calls it makes
// must be recorded through rec.
type Verifier interface {
	Verify(ctx context.Context, question string, results []domain.SpecialistResult, rec agent.Recorder) Verdict
}

// RuleVerifier flags empty, degraded and out-of-domain answers without calling a model.
type RuleVerifier struct{}

func (RuleVerifier) Verify(_ context.Context, _ string, results []domain.SpecialistResult, _ agent.Recorder) Verdict {
	var gaps []string
	for _, r := range results {
		summary := strings.TrimSpace(r.Summary)
		switch {
		case summary == "":
			gaps = append(gaps, fmt.Sprintf("%s returned an empty answer", r.Role))
		case strings.HasPrefix(summary, agent.BoundaryPrefix):
			gaps = append(gaps, fmt.Sprintf("%s said the task is outside its area", r.Role))
		case r.Degraded:
			gaps = append(gaps, fmt.Sprintf("%s could not find reliable information", r.Role))
		}
	}
	return Verdict{Pass: len(gaps) == 0, Gaps: gaps}
}

const verifierPrompt = `You are the quality reviewer of Vita, a wellness and nutrition coach.
Check the specialist answers below against the user's question:
- Is each answer relevant to the question?
- Do any answers contradict each other?
- Is an important part of the question left unanswered?

Reply with exactly:
Verdict: pass | gap
Gaps: <one short line per problem, or none>`

var verdictRe = regexp.MustCompile(`(?i)verdict:\s*(pass|gap)`)

// ModelVerifier asks the model to judge the round. Malformed output or a failed call falls back
// to the rule checks.
type ModelVerifier struct {
	Gateway llm.Gateway
	Log     zerolog.Logger
}

func (v ModelVerifier) Verify(ctx context.Context, question string, results []domain.SpecialistResult, rec agent.Recorder) Verdict {
	rules := RuleVerifier{}.Verify(ctx, question, results, rec)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: verifierPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("User question: %s\n\n%s", question, observations(results))},
	}
	done := rec.Begin(domain.OrchestratorModule)
	c, err := v.Gateway.Complete(ctx, messages, nil)
	step := domain.Step{Prompt: llm.Prompt(messages)}
	if err != nil {
		step.Response = llm.ErrorResponse(err)
	} else {
		step.Response = llm.Response(c)
	}
	done(step)
	if err != nil {
		v.Log.Warn().Err(err).Msg("model verification failed; using rules")
		return rules
	}
	verdict, ok := parseVerdict(c.Content)
	if !ok {
		v.Log.Debug().Str("output", c.Content).Msg("unparsable verdict; using rules")
		return rules
	}
	verdict.Gaps = append(rules.Gaps, verdict.Gaps...)
	verdict.Pass = verdict.Pass && rules.Pass
	return verdict
}

func parseVerdict(text string) (Verdict, bool) {
	m := verdictRe.FindStringSubmatch(text)
	if m == nil {
		return Verdict{}, false
	}
	v := Verdict{Pass: strings.EqualFold(m[1], "pass")}
	if v.Pass {
		return v, true
	}
	_, rest, found := strings.Cut(text, "Gaps:")
	if !found {
		v.Gaps = []string{"reviewer found a gap"}
		return v, true
	}
	for _, line := range strings.Split(rest, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*"))
		if line == "" || strings.EqualFold(line, "none") {
			continue
		}
		v.Gaps = append(v.Gaps, line)
	}
	if len(v.Gaps) == 0 {
		v.Gaps = []string{"reviewer found a gap"}
	}
	return v, true
}

// NewVerifier returns the verifier named in config. Unknown names use the rules.
func NewVerifier(name string, gw llm.Gateway, log zerolog.Logger) Verifier {
	if strings.EqualFold(strings.TrimSpace(name), "model") && gw != nil {
		return ModelVerifier{Gateway: gw, Log: log}
	}
	return RuleVerifier{}
}
