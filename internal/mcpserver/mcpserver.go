// Package mcpserver exposes the coach as MCP tools over stdio.
//
// Each tool is a struct holding the App, with Definition() returning the mcp.Tool schema and
// Handle() processing a call. Failures are reported as tool errors, never as protocol errors.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"vita/internal/app"
	"vita/internal/domain"
)

const Version = "0.1.0"

// New builds the MCP server with every Vita tool registered.
func New(a *app.App) *server.MCPServer {
	s := server.NewMCPServer(
		"vita",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Vita answers nutrition and wellness questions with a team of specialists. "+
			"Use ask_vita for questions and get_profile to see what is known about the user."),
	)
	ask := NewAskTool(a)
	s.AddTool(ask.Definition(), ask.Handle)
	prof := NewProfileTool(a)
	s.AddTool(prof.Definition(), prof.Handle)
	team := NewTeamTool(a)
	s.AddTool(team.Definition(), team.Handle)
	return s
}

// Serve runs the MCP server on stdin/stdout until the client disconnects.
func Serve(a *app.App) error {
	return server.ServeStdio(New(a))
}

// AskTool handles the ask_vita MCP tool.
type AskTool struct {
	app *app.App
}

func NewAskTool(a *app.App) *AskTool {
	return &AskTool{app: a}
}

func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask_vita",
		mcp.WithDescription("Ask the wellness and nutrition coach a question. Profile details in the question "+
			"(age, weight, height, activity, diet, goals) are remembered for the session."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The question to answer"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session whose profile and history to use (default: default)"),
		),
		mcp.WithBoolean("include_steps",
			mcp.Description("Append the model call trace to the answer"),
		),
	)
}

func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	prompt := strings.TrimSpace(req.GetString("prompt", ""))
	if prompt == "" {
		return mcp.NewToolResultError("'prompt' is required"), nil
	}
	out, err := t.app.Ask(ctx, app.AskRequest{
		Prompt:    prompt,
		SessionID: req.GetString("session_id", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ask failed: %v", err)), nil
	}
	if out.Result.Status != domain.StatusOK {
		return mcp.NewToolResultError(out.Result.ErrorText()), nil
	}
	text := out.Result.ResponseText()
	if req.GetBool("include_steps", false) {
		var sb strings.Builder
		sb.WriteString(text)
		sb.WriteString("\n\n---\nSteps:\n")
		for i, s := range out.Result.Steps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Module)
		}
		text = sb.String()
	}
	return mcp.NewToolResultText(text), nil
}

// ProfileTool handles the get_profile MCP tool.
type ProfileTool struct {
	app *app.App
}

func NewProfileTool(a *app.App) *ProfileTool {
	return &ProfileTool{app: a}
}

func (t *ProfileTool) Definition() mcp.Tool {
	return mcp.NewTool("get_profile",
		mcp.WithDescription("Show the stored user profile of a session and which fields are still unknown."),
		mcp.WithString("session_id",
			mcp.Description("Session to read (default: default)"),
		),
	)
}

func (t *ProfileTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, err := t.app.Profile(ctx, req.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load profile: %v", err)), nil
	}
	if p.Empty() {
		return mcp.NewToolResultText("No profile information stored yet."), nil
	}
	var sb strings.Builder
	sb.WriteString(p.Summary())
	if missing := p.Missing(); len(missing) > 0 {
		fmt.Fprintf(&sb, "\nUnknown: %s", strings.Join(missing, ", "))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// TeamTool handles the team_info MCP tool.
type TeamTool struct {
	app *app.App
}

func NewTeamTool(a *app.App) *TeamTool {
	return &TeamTool{app: a}
}

func (t *TeamTool) Definition() mcp.Tool {
	return mcp.NewTool("team_info",
		mcp.WithDescription("List the specialists the coach can consult and their tools."),
	)
}

func (t *TeamTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(t.app.TeamInfo(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
