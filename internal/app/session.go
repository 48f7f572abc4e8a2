package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"vita/internal/agent"
	"vita/internal/domain"
	"vita/internal/engine"
	"vita/internal/events"
	"vita/internal/profile"
	"vita/internal/repo"
	"vita/internal/retrieval"
)

type AskRequest struct {
	Prompt    string
	SessionID string
	// History overrides the stored conversation of the session when non-empty.
	History []domain.ConversationTurn
}

// Ask runs one question to completion and persists its profile, conversation and events.
func (a *App) Ask(ctx context.Context, req AskRequest) (engine.Outcome, error) {
	ereq, err := a.prepare(ctx, req)
	if err != nil {
		return engine.Outcome{}, err
	}
	out := a.Orchestrator.Execute(ctx, ereq)
	a.finish(context.WithoutCancel(ctx), ereq, out)
	return out, nil
}

// AskStream starts a run and returns its progress events. Persistence happens when the run
// ends, whether or not the caller is still reading.
func (a *App) AskStream(ctx context.Context, req AskRequest) (<-chan domain.ProgressEvent, error) {
	ereq, err := a.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return a.Orchestrator.Stream(ctx, ereq, func(out engine.Outcome) {
		a.finish(context.WithoutCancel(ctx), ereq, out)
	}), nil
}

func (a *App) prepare(ctx context.Context, req AskRequest) (engine.Request, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return engine.Request{}, fmt.Errorf("prompt is required")
	}
	session := profile.SessionKey(req.SessionID)
	p, err := a.Profiles.Get(ctx, session)
	if err != nil {
		return engine.Request{}, fmt.Errorf("load profile: %w", err)
	}
	history := req.History
	if len(history) == 0 {
		turns := a.Config.Orchestrator.HistoryTurns
		if turns <= 0 {
			turns = engine.DefaultHistoryTurns
		}
		if history, err = a.Repo.RecentTurns(ctx, session, turns); err != nil {
			return engine.Request{}, fmt.Errorf("load history: %w", err)
		}
	}
	store := context.WithoutCancel(ctx)
	return engine.Request{
		Prompt:    prompt,
		History:   history,
		Profile:   p,
		RunID:     uuid.NewString(),
		SessionID: session,
		Observe: func(ev domain.ProgressEvent) {
			if err := a.Events.Append(store, session, ev); err != nil {
				a.Log.Warn().Err(err).Str("run_id", ev.RunID).Str("event", string(ev.Type)).Msg("persist run event")
			}
		},
	}, nil
}

// finish writes the profile once and records the conversation. Failures are logged; the run
// result is already final.
func (a *App) finish(ctx context.Context, req engine.Request, out engine.Outcome) {
	log := a.Log.With().Str("run_id", out.RunID).Str("session_id", req.SessionID).Logger()
	if len(out.Changed) > 0 {
		if err := a.Profiles.Put(ctx, req.SessionID, out.Profile); err != nil {
			log.Error().Err(err).Msg("save profile")
		}
	}
	response := out.Result.ResponseText()
	if out.Result.Status != domain.StatusOK {
		response = out.Result.ErrorText()
	}
	err := a.Repo.InsertConversation(ctx, domain.Conversation{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		RunID:     out.RunID,
		Prompt:    req.Prompt,
		Response:  response,
		Status:    out.Result.Status,
		Steps:     out.Result.Steps,
	})
	if err != nil {
		log.Error().Err(err).Msg("save conversation")
	}
}

func (a *App) Profile(ctx context.Context, session string) (domain.UserProfile, error) {
	return a.Profiles.Get(ctx, profile.SessionKey(session))
}

// UpdateProfile merges the set fields of update into the stored profile.
func (a *App) UpdateProfile(ctx context.Context, session string, update domain.UserProfile) (domain.UserProfile, []string, error) {
	session = profile.SessionKey(session)
	current, err := a.Profiles.Get(ctx, session)
	if err != nil {
		return domain.UserProfile{}, nil, err
	}
	merged, changed := current.Merge(update)
	if len(changed) == 0 {
		return merged, nil, nil
	}
	if err := a.Profiles.Put(ctx, session, merged); err != nil {
		return domain.UserProfile{}, nil, err
	}
	return merged, changed, nil
}

func (a *App) ResetProfile(ctx context.Context, session string) error {
	return a.Profiles.Clear(ctx, profile.SessionKey(session))
}

func (a *App) History(ctx context.Context, f repo.HistoryFilters) ([]domain.Conversation, error) {
	f.SessionID = profile.SessionKey(f.SessionID)
	return a.Repo.ListConversations(ctx, f)
}

// RunEvents returns the stored progress events of a run in emission order.
func (a *App) RunEvents(ctx context.Context, runID string) ([]domain.ProgressEvent, error) {
	rows, err := a.Repo.ListRunEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, repo.ErrNotFound)
	}
	out := make([]domain.ProgressEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := events.Decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// LoadIndex adds JSONL passages to the local retrieval index.
func (a *App) LoadIndex(ctx context.Context, r io.Reader, ns retrieval.Namespace) (int, error) {
	return retrieval.Load(ctx, a.Index, r, ns)
}

// Prune removes conversations and run events older than maxAge.
func (a *App) Prune(ctx context.Context, maxAge time.Duration) (map[string]int64, error) {
	return a.Repo.PruneBefore(ctx, a.Now().Add(-maxAge))
}

func (a *App) TeamInfo() []agent.Info {
	return a.Orchestrator.Team().Info()
}

type AgentInfo struct {
	Description    string          `json:"description"`
	Purpose        string          `json:"purpose"`
	PromptTemplate PromptTemplate  `json:"prompt_template"`
	PromptExamples []PromptExample `json:"prompt_examples"`
}

type PromptTemplate struct {
	Template string `json:"template"`
}

type PromptExample struct {
	Prompt           string `json:"prompt"`
	FullResponse     string `json:"full_response"`
	ExpectedBehavior string `json:"expected_behavior"`
}

func (a *App) AgentInfo() AgentInfo {
	return AgentInfo{
		Description: "Vita is a multi-agent wellness and nutrition coach. A head coach routes each question to a Nutrition Expert, a Science Researcher and a Wellness Coach, checks their answers and writes one reply.",
		Purpose:     "Give practical, evidence-based answers on nutrition, diet, exercise, sleep, stress and health research, personalized with the profile the user shares.",
		PromptTemplate: PromptTemplate{
			Template: "Ask a nutrition or wellness question. Share details like age, weight, height, activity level, dietary restrictions or goals for a more personal answer.",
		},
		PromptExamples: []PromptExample{
			{
				Prompt:           "What's a good high-protein breakfast?",
				FullResponse:     "**Quick answer**: Greek yogurt with berries or eggs on wholegrain toast give 20-30 g of protein.",
				ExpectedBehavior: "Consults the Nutrition Expert, which searches the food databases, then composes a short formatted answer.",
			},
			{
				Prompt:           "I'm 30 years old, 80kg, 180cm and moderately active. How many calories do I need?",
				FullResponse:     "About 2,760 kcal per day to maintain your weight.",
				ExpectedBehavior: "Saves the profile fields from the message and has the Nutrition Expert run the TDEE calculator.",
			},
			{
				Prompt:           "Does magnesium help with sleep?",
				FullResponse:     "Some trials suggest a modest benefit for people with low intake.",
				ExpectedBehavior: "Consults the Science Researcher (live PubMed search with indexed fallback) and the Wellness Coach in parallel.",
			},
			{
				Prompt:           "What's the capital of France?",
				FullResponse:     "I'm a wellness and nutrition coach, so I can't help with that. Ask me about meals, sleep or exercise!",
				ExpectedBehavior: "Answers directly without consulting any specialist.",
			},
		},
	}
}
