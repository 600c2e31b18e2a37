package activity

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
)

// Event describes a preference activity occurrence fanned out to hooks.
// IDs are strings so call sites are not tied to a UUID type.
type Event struct {
	Verb           string
	ActorID        string
	UserID         string
	TenantID       string
	ObjectType     string
	ObjectID       string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	OccurredAt     time.Time
}

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

// Enabled reports whether there are any hooks to notify.
func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Notify forwards a normalized copy of event to every hook and joins their
// errors. Events missing a verb, object type or object ID are dropped.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}

	normalized := NormalizeEvent(event)
	if !normalized.valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, normalized); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e Event) valid() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// NormalizeEvent trims identifiers, clones metadata and recipients and
// stamps OccurredAt when missing.
func NormalizeEvent(event Event) Event {
	normalized := event
	for _, field := range []*string{
		&normalized.Verb,
		&normalized.ActorID,
		&normalized.UserID,
		&normalized.TenantID,
		&normalized.ObjectType,
		&normalized.ObjectID,
		&normalized.Channel,
		&normalized.DefinitionCode,
	} {
		*field = strings.TrimSpace(*field)
	}
	normalized.Metadata = cloneMap(event.Metadata)
	normalized.Recipients = nil
	if len(event.Recipients) > 0 {
		normalized.Recipients = slices.Clone(event.Recipients)
	}
	if normalized.OccurredAt.IsZero() {
		normalized.OccurredAt = time.Now()
	}
	return normalized
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
