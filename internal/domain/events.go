package domain

type EventType string

const (
	EventOrchestratorStart     EventType = "orchestrator_start"
	EventOrchestratorThinking  EventType = "orchestrator_thinking"
	EventSpecialistsDispatched EventType = "specialists_dispatched"
	EventSpecialistStart       EventType = "specialist_start"
	EventSpecialistDone        EventType = "specialist_done"
	EventComposing             EventType = "composing"
	EventDone                  EventType = "done"
	EventResult                EventType = "result"
	EventError                 EventType = "error"
)

// Terminal reports whether the event ends a stream.
func (t EventType) Terminal() bool {
	return t == EventResult || t == EventError
}

// ProgressEvent is one streamed phase marker. Result is set on result and error events only.
type ProgressEvent struct {
	Type        EventType        `json:"event"`
	RunID       string           `json:"run_id,omitempty"`
	Message     string           `json:"message,omitempty"`
	Specialist  string           `json:"specialist,omitempty"`
	Specialists []string         `json:"specialists,omitempty"`
	Task        string           `json:"task,omitempty"`
	Summary     string           `json:"summary,omitempty"`
	Iteration   int              `json:"iteration,omitempty"`
	Error       string           `json:"error,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
}
