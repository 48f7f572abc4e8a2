package engine

import (
	"sync"

	"vita/internal/domain"
)

// trace keeps steps in the order their calls were started. Concurrent specialists reserve a slot
// before calling the model and fill it when the call returns.
type trace struct {
	mu    sync.Mutex
	steps []domain.Step
}

func (t *trace) Begin(module string) func(domain.Step) {
	t.mu.Lock()
	i := len(t.steps)
	t.steps = append(t.steps, domain.Step{Module: module})
	t.mu.Unlock()
	return func(s domain.Step) {
		s.Module = module
		t.mu.Lock()
		t.steps[i] = s
		t.mu.Unlock()
	}
}

func (t *trace) Steps() []domain.Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.Step{}, t.steps...)
}
