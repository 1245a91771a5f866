package health

import (
	"context"
	"sync"
)

// TriggerSet fans TriggerController calls out to registered triggers. It
// breaks the construction cycle between the guard and the triggers: the
// guard is built over an empty set and triggers register once they exist.
type TriggerSet struct {
	mu       sync.RWMutex
	triggers []TriggerController
}

// NewTriggerSet constructs an empty set.
func NewTriggerSet() *TriggerSet {
	return &TriggerSet{}
}

// Add registers one trigger.
func (s *TriggerSet) Add(trigger TriggerController) {
	if trigger == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, trigger)
}

// Disable disables all registered triggers and collects the names of those
// that were active.
func (s *TriggerSet) Disable(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for _, trigger := range s.triggers {
		disabled, err := trigger.Disable(ctx)
		if err != nil {
			return names, err
		}
		names = append(names, disabled...)
	}
	return names, nil
}

// Enable forwards the restored names to every registered trigger.
func (s *TriggerSet) Enable(ctx context.Context, names []string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, trigger := range s.triggers {
		if err := trigger.Enable(ctx, names); err != nil {
			return err
		}
	}
	return nil
}
