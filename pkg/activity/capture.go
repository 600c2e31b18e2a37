package activity

import (
	"context"
	"slices"
	"sync"
)

// CaptureHook keeps every event it is notified with, in arrival order.
// Examples and tests use it to inspect what a binding emitted.
type CaptureHook struct {
	// Err is returned from every Notify after the event is kept.
	Err error

	mu     sync.Mutex
	events []Event
}

func (h *CaptureHook) Notify(_ context.Context, event Event) error {
	h.mu.Lock()
	h.events = append(h.events, event)
	h.mu.Unlock()
	return h.Err
}

// Events returns a copy of everything captured so far.
func (h *CaptureHook) Events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.events)
}

// ForKey returns the captured events whose object is the preference key.
func (h *CaptureHook) ForKey(key string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for _, event := range h.events {
		if event.ObjectType == ObjectTypePreference && event.ObjectID == key {
			out = append(out, event)
		}
	}
	return out
}

// Last returns the most recent event for key.
func (h *CaptureHook) Last(key string) (Event, bool) {
	events := h.ForKey(key)
	if len(events) == 0 {
		return Event{}, false
	}
	return events[len(events)-1], true
}

// Reset drops everything captured.
func (h *CaptureHook) Reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}
