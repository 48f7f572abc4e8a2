package vitasdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Vita HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Runs can take a while, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 2 * time.Minute,
	}
}

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ExecuteRequest struct {
	Prompt              string `json:"prompt"`
	ConversationHistory []Turn `json:"conversation_history,omitempty"`
	SessionID           string `json:"session_id,omitempty"`
}

type Step struct {
	Module   string         `json:"module"`
	Prompt   map[string]any `json:"prompt"`
	Response map[string]any `json:"response"`
}

// Result is the outcome of one run. Exactly one of Response and Error is set.
type Result struct {
	RunID    string  `json:"run_id,omitempty"`
	Status   string  `json:"status"`
	Response *string `json:"response"`
	Error    *string `json:"error"`
	Steps    []Step  `json:"steps"`
}

// Event is one progress event of a streamed run.
type Event struct {
	Event       string   `json:"event"`
	RunID       string   `json:"run_id,omitempty"`
	Message     string   `json:"message,omitempty"`
	Specialist  string   `json:"specialist,omitempty"`
	Specialists []string `json:"specialists,omitempty"`
	Task        string   `json:"task,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Iteration   int      `json:"iteration,omitempty"`
	Error       string   `json:"error,omitempty"`
	Result      *Result  `json:"result,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Event == "result" || e.Event == "error"
}

type Profile struct {
	Name                string   `json:"name,omitempty"`
	Age                 *int     `json:"age,omitempty"`
	Sex                 string   `json:"sex,omitempty"`
	WeightKg            *float64 `json:"weight_kg,omitempty"`
	HeightCm            *float64 `json:"height_cm,omitempty"`
	ActivityLevel       string   `json:"activity_level,omitempty"`
	DietaryRestrictions string   `json:"dietary_restrictions,omitempty"`
	MedicalConditions   string   `json:"medical_conditions,omitempty"`
	Goals               string   `json:"goals,omitempty"`
}

type ProfileResponse struct {
	SessionID string   `json:"session_id"`
	Profile   Profile  `json:"profile"`
	Missing   []string `json:"missing"`
	Changed   []string `json:"changed,omitempty"`
}

type Conversation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Status    string `json:"status"`
	Steps     []Step `json:"steps,omitempty"`
	CreatedAt string `json:"created_at"`
}

type Specialist struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tools       []string `json:"tools"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Execute runs a question to completion. A failed run is a Result with Status "error", not a Go error.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (Result, error) {
	var resp Result
	err := c.do(ctx, http.MethodPost, "v1/execute", req, &resp)
	return resp, err
}

// ExecuteStream runs a question and calls fn for every progress event. It returns the result
// carried by the terminal event.
func (c *Client) ExecuteStream(ctx context.Context, req ExecuteRequest, fn func(Event)) (Result, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "v1/execute_stream", req)
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	// The stream ends when the run does; no client-side timeout.
	client := *c.httpClient()
	client.Timeout = 0
	resp, err := client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Result{}, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			return Result{}, fmt.Errorf("decode event: %w", err)
		}
		if fn != nil {
			fn(ev)
		}
		if ev.Terminal() {
			if ev.Result != nil {
				return *ev.Result, nil
			}
			return Result{}, fmt.Errorf("stream error: %s", ev.Message)
		}
	}
	if err := sc.Err(); err != nil {
		return Result{}, err
	}
	return Result{}, io.ErrUnexpectedEOF
}

func (c *Client) Profile(ctx context.Context, sessionID string) (ProfileResponse, error) {
	var resp ProfileResponse
	err := c.do(ctx, http.MethodGet, withQuery("v1/profile", "session_id", sessionID), nil, &resp)
	return resp, err
}

// UpdateProfile merges the set fields of p into the stored profile.
func (c *Client) UpdateProfile(ctx context.Context, sessionID string, p Profile) (ProfileResponse, error) {
	body := map[string]any{"profile": p}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	var resp ProfileResponse
	err := c.do(ctx, http.MethodPut, "v1/profile", body, &resp)
	return resp, err
}

func (c *Client) ResetProfile(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, withQuery("v1/profile/reset", "session_id", sessionID), nil, nil)
}

// History returns recent conversations, newest first.
func (c *Client) History(ctx context.Context, sessionID string, limit int) ([]Conversation, error) {
	endpoint := withQuery("v1/history", "session_id", sessionID)
	if limit > 0 {
		endpoint = withQuery(endpoint, "limit", fmt.Sprintf("%d", limit))
	}
	var resp struct {
		Items []Conversation `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) RunEvents(ctx context.Context, runID string) ([]Event, error) {
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/runs/%s/events", url.PathEscape(runID)), nil, &resp)
	return resp.Events, err
}

func (c *Client) Team(ctx context.Context) ([]Specialist, error) {
	var resp struct {
		Specialists []Specialist `json:"specialists"`
	}
	err := c.do(ctx, http.MethodGet, "v1/team_info", nil, &resp)
	return resp.Specialists, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	return req, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	return c.HTTPClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func withQuery(endpoint, key, value string) string {
	if value == "" {
		return endpoint
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + key + "=" + url.QueryEscape(value)
}
