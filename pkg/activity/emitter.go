package activity

import (
	"context"
	"strings"
	"time"
)

// DefaultChannel is applied to events emitted without a channel.
const DefaultChannel = "preferences"

// Config controls which preference changes become events.
type Config struct {
	Enabled bool
	// Channel is used for events whose input names none.
	Channel string
	// Keys limits emission to the listed preference keys. Empty emits all.
	Keys []string
}

// Change is one applied transition of a preference. OldValue and NewValue
// are encoded store values; NewValue is ignored for removals.
type Change struct {
	Key      string
	Removed  bool
	Source   string
	OldValue any
	NewValue any
}

// Emitter turns preference changes into activity events for its hooks.
// A nil Emitter emits nothing.
type Emitter struct {
	hooks   Hooks
	enabled bool
	channel string
	keys    map[string]struct{}
	now     func() time.Time
}

// NewEmitter builds an emitter over hooks. Nil hooks are dropped; an
// emitter without hooks is disabled whatever cfg says.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	e := &Emitter{
		channel: strings.TrimSpace(cfg.Channel),
		now:     time.Now,
	}
	if e.channel == "" {
		e.channel = DefaultChannel
	}
	for _, hook := range hooks {
		if hook != nil {
			e.hooks = append(e.hooks, hook)
		}
	}
	for _, key := range cfg.Keys {
		if key = strings.TrimSpace(key); key != "" {
			if e.keys == nil {
				e.keys = map[string]struct{}{}
			}
			e.keys[key] = struct{}{}
		}
	}
	e.enabled = cfg.Enabled && e.hooks.Enabled()
	return e
}

// Enabled reports whether the emitter has anywhere to send events.
func (e *Emitter) Enabled() bool {
	return e != nil && e.enabled
}

// Emits reports whether a change to key would produce an event.
func (e *Emitter) Emits(key string) bool {
	if !e.Enabled() {
		return false
	}
	if e.keys == nil {
		return true
	}
	_, ok := e.keys[strings.TrimSpace(key)]
	return ok
}

// EmitChange builds the updated or removed event for change on top of base
// and hands it to every hook. base carries the actor, tenant and domain;
// the change supplies the key, source and values.
func (e *Emitter) EmitChange(ctx context.Context, base PreferenceEventInput, change Change) error {
	if !e.Emits(change.Key) {
		return nil
	}
	input := base
	input.Key = change.Key
	input.OldValue = change.OldValue
	input.NewValue = change.NewValue
	if change.Source != "" {
		input.Source = change.Source
	}
	if strings.TrimSpace(input.Channel) == "" {
		input.Channel = e.channel
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = e.now()
	}
	if change.Removed {
		return e.hooks.Notify(ctx, BuildPreferenceRemovedEvent(input))
	}
	return e.hooks.Notify(ctx, BuildPreferenceUpdatedEvent(input))
}

// Emit forwards a prebuilt event, stamping the default channel when it has
// none.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if !e.Enabled() {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	return e.hooks.Notify(ctx, event)
}
