package domain

import "strings"

// Role names a specialist agent. The string value is what appears in traces and progress events.
type Role string

const (
	RoleNutrition Role = "Nutrition Expert"
	RoleScience   Role = "Science Researcher"
	RoleWellness  Role = "Wellness Coach"
)

// OrchestratorModule is the module name recorded on the head agent's trace steps.
const OrchestratorModule = "Orchestrator Agent"

var roleAliases = map[string]Role{
	"nutrition expert":   RoleNutrition,
	"nutritionexpert":    RoleNutrition,
	"nutrition":          RoleNutrition,
	"nutritionist":       RoleNutrition,
	"science researcher": RoleScience,
	"scienceresearcher":  RoleScience,
	"science":            RoleScience,
	"researcher":         RoleScience,
	"wellness coach":     RoleWellness,
	"wellnesscoach":      RoleWellness,
	"wellness":           RoleWellness,
	"coach":              RoleWellness,
}

// Roles lists every specialist role in dispatch order.
func Roles() []Role {
	return []Role{RoleNutrition, RoleScience, RoleWellness}
}

// ParseRole resolves a model-written specialist name (or alias) to a Role.
func ParseRole(name string) (Role, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.Trim(key, "*`\"' -")
	if r, ok := roleAliases[key]; ok {
		return r, true
	}
	return "", false
}

// KnownModule reports whether name is a module that may appear on a trace step.
func KnownModule(name string) bool {
	if name == OrchestratorModule {
		return true
	}
	for _, r := range Roles() {
		if string(r) == name {
			return true
		}
	}
	return false
}

type ConversationTurn struct {
	Role    string `json:"role" enum:"user,assistant"`
	Content string `json:"content"`
}

// Task is one delegated sub-question. It is immutable once dispatched.
type Task struct {
	ID          string `json:"id"`
	Role        Role   `json:"specialist"`
	Instruction string `json:"task"`
	Round       int    `json:"round"`
}

// SpecialistResult is produced exactly once per dispatched Task.
type SpecialistResult struct {
	TaskID   string `json:"task_id"`
	Role     Role   `json:"specialist"`
	Summary  string `json:"summary"`
	Steps    []Step `json:"steps"`
	Degraded bool   `json:"degraded,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Step records one LLM invocation for the audit trail.
type Step struct {
	Module   string         `json:"module"`
	Prompt   map[string]any `json:"prompt"`
	Response map[string]any `json:"response"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ExecutionResult is the single terminal artifact of one orchestration run.
type ExecutionResult struct {
	Status   string  `json:"status" enum:"ok,error"`
	Response *string `json:"response"`
	Error    *string `json:"error"`
	Steps    []Step  `json:"steps"`
}

// OK builds a successful result.
func OK(response string, steps []Step) ExecutionResult {
	if steps == nil {
		steps = []Step{}
	}
	return ExecutionResult{Status: StatusOK, Response: &response, Steps: steps}
}

// Failed builds an error result carrying a user-safe message.
func Failed(msg string, steps []Step) ExecutionResult {
	if steps == nil {
		steps = []Step{}
	}
	return ExecutionResult{Status: StatusError, Error: &msg, Steps: steps}
}

// ResponseText returns the response or "" when absent.
func (r ExecutionResult) ResponseText() string {
	if r.Response == nil {
		return ""
	}
	return *r.Response
}

// ErrorText returns the error message or "" when absent.
func (r ExecutionResult) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

type Conversation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Status    string `json:"status"`
	Steps     []Step `json:"steps,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// RunEvent is a persisted progress event.
type RunEvent struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id,omitempty"`
	Payload   string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Passage is one ranked retrieval hit.
type Passage struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	Namespace string  `json:"namespace"`
	Source    string  `json:"source,omitempty"`
}

// Document is one live-search hit.
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
}
