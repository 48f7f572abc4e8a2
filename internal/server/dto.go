package server

import (
	"vita/internal/agent"
	"vita/internal/app"
	"vita/internal/domain"
)

// Request payloads

type ExecuteRequest struct {
	Prompt              string                    `json:"prompt" minLength:"1" example:"What's a good high-protein breakfast?"`
	ConversationHistory []domain.ConversationTurn `json:"conversation_history,omitempty"`
	SessionID           string                    `json:"session_id,omitempty" doc:"Defaults to the authenticated actor"`
}

type ProfileUpdateRequest struct {
	SessionID string             `json:"session_id,omitempty"`
	Profile   domain.UserProfile `json:"profile"`
}

type ProfileResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// Response payloads

type ExecuteResponse struct {
	RunID    string        `json:"run_id"`
	Status   string        `json:"status" enum:"ok,error"`
	Response *string       `json:"response"`
	Error    *string       `json:"error"`
	Steps    []domain.Step `json:"steps"`
}

type ProfileResponse struct {
	SessionID string             `json:"session_id"`
	Profile   domain.UserProfile `json:"profile"`
	Missing   []string           `json:"missing"`
	Changed   []string           `json:"changed,omitempty"`
}

type HistoryResponse struct {
	Items []domain.Conversation `json:"items"`
}

type RunEventsResponse struct {
	RunID  string                 `json:"run_id"`
	Events []domain.ProgressEvent `json:"events"`
}

type TeamInfoResponse struct {
	Specialists []agent.Info `json:"specialists"`
}

type AgentInfoResponse = app.AgentInfo

func executeResponse(runID string, r domain.ExecutionResult) ExecuteResponse {
	return ExecuteResponse{
		RunID:    runID,
		Status:   r.Status,
		Response: r.Response,
		Error:    r.Error,
		Steps:    nonNilSlice(r.Steps),
	}
}

func profileResponse(session string, p domain.UserProfile, changed []string) ProfileResponse {
	return ProfileResponse{
		SessionID: session,
		Profile:   p,
		Missing:   nonNilSlice(p.Missing()),
		Changed:   changed,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
