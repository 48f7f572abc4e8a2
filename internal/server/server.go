package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vita/internal/app"
	"vita/internal/domain"
	"vita/internal/metrics"
	"vita/internal/profile"
	"vita/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
	Log      zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"bad_request"`
	Message string         `json:"message" example:"prompt is required"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Vita API.
func New(cfg Config) (http.Handler, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(instrument(cfg.Log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.App.Repo))
	hcfg := huma.DefaultConfig("Vita API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerExecute(group, cfg.App)
	registerExecuteStream(group, cfg.App, cfg.Log)
	registerProfile(group, cfg.App)
	registerHistory(group, cfg.App)
	registerRunEvents(group, cfg.App)
	registerInfo(group, cfg.App)
	registerOpenAPI(router, api, basePath)
	router.Handle(path.Join(basePath, "ws"), newWSHandler(cfg.App, cfg.Log))
	router.Handle("/metrics", promhttp.Handler())

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil || oas.Components == nil || oas.Components.Schemas == nil {
		return
	}
	ref := oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: ref},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Vita API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerExecute(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "execute",
		Method:      http.MethodPost,
		Path:        "/execute",
		Summary:     "Answer a question",
		Description: "Runs the orchestrator to completion. Failed runs still return 200 with status=error and a user-safe message.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body ExecuteRequest `json:"body"`
	}) (*struct {
		Body ExecuteResponse `json:"body"`
	}, error) {
		out, err := a.Ask(ctx, app.AskRequest{
			Prompt:    input.Body.Prompt,
			SessionID: sessionFor(ctx, input.Body.SessionID),
			History:   input.Body.ConversationHistory,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecuteResponse `json:"body"`
		}{Body: executeResponse(out.RunID, out.Result)}, nil
	})
}

func registerExecuteStream(api huma.API, a *app.App, log zerolog.Logger) {
	sse.Register(api, huma.Operation{
		OperationID: "execute-stream",
		Method:      http.MethodPost,
		Path:        "/execute_stream",
		Summary:     "Answer a question with progress events",
		Description: "Streams progress events as server-sent events. The last event is result or error.",
	}, map[string]any{
		"message": domain.ProgressEvent{},
	}, func(ctx context.Context, input *struct {
		Body ExecuteRequest `json:"body"`
	}, send sse.Sender) {
		metrics.ActiveStreams.Inc()
		defer metrics.ActiveStreams.Dec()
		ch, err := a.AskStream(ctx, app.AskRequest{
			Prompt:    input.Body.Prompt,
			SessionID: sessionFor(ctx, input.Body.SessionID),
			History:   input.Body.ConversationHistory,
		})
		if err != nil {
			_ = send.Data(domain.ProgressEvent{Type: domain.EventError, Error: "bad_request", Message: err.Error()})
			return
		}
		ok := true
		for ev := range ch {
			if !ok {
				continue
			}
			if err := send.Data(ev); err != nil {
				log.Debug().Err(err).Str("run_id", ev.RunID).Msg("progress consumer gone")
				ok = false
			}
		}
	})
}

func registerProfile(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profile",
		Summary:     "Stored profile of a session",
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		session := sessionFor(ctx, input.SessionID)
		p, err := a.Profile(ctx, session)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(profile.SessionKey(session), p, nil)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-profile",
		Method:      http.MethodPut,
		Path:        "/profile",
		Summary:     "Merge fields into a session profile",
		Description: "Only fields present in the body are written; others keep their stored value.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ProfileUpdateRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		session := sessionFor(ctx, input.Body.SessionID)
		merged, changed, err := a.UpdateProfile(ctx, session, input.Body.Profile)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(profile.SessionKey(session), merged, nonNilSlice(changed))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-profile",
		Method:        http.MethodPost,
		Path:          "/profile/reset",
		Summary:       "Forget everything stored for a session profile",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, input *struct {
		SessionID string `query:"session_id"`
	}) (*struct{}, error) {
		if err := a.ResetProfile(ctx, sessionFor(ctx, input.SessionID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerHistory(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Recent conversations of a session, newest first",
	}, func(ctx context.Context, input *struct {
		SessionID    string `query:"session_id"`
		Limit        int    `query:"limit" default:"20"`
		IncludeSteps bool   `query:"include_steps"`
	}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		items, err := a.History(ctx, repo.HistoryFilters{
			SessionID:    sessionFor(ctx, input.SessionID),
			Limit:        normalizeLimit(input.Limit),
			IncludeSteps: input.IncludeSteps,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: HistoryResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerRunEvents(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "list-run-events",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/events",
		Summary:     "Progress events recorded for a run",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body RunEventsResponse `json:"body"`
	}, error) {
		evs, err := a.RunEvents(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunEventsResponse `json:"body"`
		}{Body: RunEventsResponse{RunID: input.RunID, Events: evs}}, nil
	})
}

func registerInfo(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-info",
		Method:      http.MethodGet,
		Path:        "/agent_info",
		Summary:     "What the coach does, with example prompts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body AgentInfoResponse `json:"body"`
	}, error) {
		return &struct {
			Body AgentInfoResponse `json:"body"`
		}{Body: a.AgentInfo()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "team-info",
		Method:      http.MethodGet,
		Path:        "/team_info",
		Summary:     "Specialists available to the orchestrator",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TeamInfoResponse `json:"body"`
	}, error) {
		return &struct {
			Body TeamInfoResponse `json:"body"`
		}{Body: TeamInfoResponse{Specialists: a.TeamInfo()}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 20
	}
	if in > 200 {
		return 200
	}
	return in
}
