package app_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/app"
	"vita/internal/config"
	"vita/internal/domain"
	"vita/internal/llm"
	"vita/internal/llm/llmtest"
	"vita/internal/repo"
	"vita/internal/retrieval"
)

const headMarker = "Head Coach of Vita, an AI"

func newTestApp(t *testing.T, gw llm.Gateway) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.LiveSearch.Enabled = false
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		Config:    cfg,
		Log:       zerolog.Nop(),
		Gateway:   gw,
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func finishing(answer string) *llmtest.Gateway {
	return llmtest.New(func(_ context.Context, messages []llm.Message, _ []llm.ToolSpec) (llm.Completion, error) {
		if strings.Contains(llmtest.System(messages), headMarker) {
			return llmtest.Text("Thought: simple\nAction: finish\nAction Input: " + answer), nil
		}
		return llmtest.Text(""), nil
	})
}

func TestAskPersistsProfileConversationAndEvents(t *testing.T) {
	a := newTestApp(t, finishing("Noted, here is a plan."))
	ctx := context.Background()

	out, err := a.Ask(ctx, app.AskRequest{Prompt: "I'm 30 years old and vegan. Any tips?", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusOK, out.Result.Status)
	assert.Equal(t, "Noted, here is a plan.", out.Result.ResponseText())
	assert.ElementsMatch(t, []string{domain.FieldAge, domain.FieldDietaryRestrictions}, out.Changed)

	p, err := a.Profile(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, p.Age)
	assert.Equal(t, 30, *p.Age)
	assert.Equal(t, "vegan", p.DietaryRestrictions)

	convs, err := a.History(ctx, repo.HistoryFilters{SessionID: "s1", IncludeSteps: true})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, out.RunID, convs[0].RunID)
	assert.Equal(t, "Noted, here is a plan.", convs[0].Response)
	assert.Len(t, convs[0].Steps, 1)

	evs, err := a.RunEvents(ctx, out.RunID)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, domain.EventOrchestratorStart, evs[0].Type)
	assert.Equal(t, domain.EventResult, evs[len(evs)-1].Type)
}

func TestAskUsesStoredHistory(t *testing.T) {
	gw := finishing("Sure.")
	a := newTestApp(t, gw)
	ctx := context.Background()

	_, err := a.Ask(ctx, app.AskRequest{Prompt: "What is a good snack?", SessionID: "s2"})
	require.NoError(t, err)
	_, err = a.Ask(ctx, app.AskRequest{Prompt: "And for dinner?", SessionID: "s2"})
	require.NoError(t, err)

	calls := gw.Calls()
	require.Len(t, calls, 2)
	user := llmtest.User(calls[1].Messages)
	assert.Contains(t, user, "Previous conversation:")
	assert.Contains(t, user, "User: What is a good snack?")
	assert.NotContains(t, llmtest.User(calls[0].Messages), "Previous conversation:")
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	a := newTestApp(t, finishing("x"))
	_, err := a.Ask(context.Background(), app.AskRequest{Prompt: "   "})
	require.Error(t, err)
}

func TestAskStreamPersistsAfterClose(t *testing.T) {
	a := newTestApp(t, finishing("Drink water."))
	ctx := context.Background()

	ch, err := a.AskStream(ctx, app.AskRequest{Prompt: "Hydration tips?", SessionID: "s3"})
	require.NoError(t, err)
	var last domain.ProgressEvent
	for ev := range ch {
		last = ev
	}
	require.Equal(t, domain.EventResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "Drink water.", last.Result.ResponseText())

	convs, err := a.History(ctx, repo.HistoryFilters{SessionID: "s3"})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, last.RunID, convs[0].RunID)
}

func TestFailedRunIsRecordedWithError(t *testing.T) {
	gw := llmtest.New(func(context.Context, []llm.Message, []llm.ToolSpec) (llm.Completion, error) {
		return llm.Completion{}, &llm.GatewayError{Kind: llm.KindPolicy, Err: errors.New("blocked")}
	})
	a := newTestApp(t, gw)
	ctx := context.Background()

	out, err := a.Ask(ctx, app.AskRequest{Prompt: "Hello there", SessionID: "s4"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, out.Result.Status)

	convs, err := a.History(ctx, repo.HistoryFilters{SessionID: "s4"})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, domain.StatusError, convs[0].Status)
	assert.Equal(t, out.Result.ErrorText(), convs[0].Response)
}

func TestProfileUpdateAndReset(t *testing.T) {
	a := newTestApp(t, finishing("ok"))
	ctx := context.Background()

	w := 70.0
	merged, changed, err := a.UpdateProfile(ctx, "", domain.UserProfile{WeightKg: &w, Goals: "maintenance"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{domain.FieldWeightKg, domain.FieldGoals}, changed)
	assert.Equal(t, "maintenance", merged.Goals)

	_, changed, err = a.UpdateProfile(ctx, "default", domain.UserProfile{Goals: "maintenance"})
	require.NoError(t, err)
	assert.Empty(t, changed)

	require.NoError(t, a.ResetProfile(ctx, ""))
	p, err := a.Profile(ctx, "")
	require.NoError(t, err)
	assert.True(t, p.Empty())
}

func TestRunEventsUnknownRun(t *testing.T) {
	a := newTestApp(t, finishing("ok"))
	_, err := a.RunEvents(context.Background(), "missing")
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestLoadIndexAndPrune(t *testing.T) {
	a := newTestApp(t, finishing("ok"))
	ctx := context.Background()

	n, err := a.LoadIndex(ctx, strings.NewReader(`{"id":"f1","text":"Oats are rich in soluble fiber."}`+"\n"), retrieval.NamespaceUSDA)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = a.Ask(ctx, app.AskRequest{Prompt: "Fiber?", SessionID: "s5"})
	require.NoError(t, err)
	a.Now = func() time.Time { return time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC) }
	counts, err := a.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["conversations"])
}

func TestInfo(t *testing.T) {
	a := newTestApp(t, finishing("ok"))
	info := a.AgentInfo()
	assert.NotEmpty(t, info.Description)
	assert.Len(t, info.PromptExamples, 4)
	assert.Len(t, a.TeamInfo(), 3)
}
