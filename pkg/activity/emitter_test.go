package activity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEmitChangeBuildsPreferenceEvents(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true})
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	emitter.now = func() time.Time { return at }
	base := PreferenceEventInput{ActorID: "actor-1", Domain: "application", Source: "ignored"}

	if err := emitter.EmitChange(context.Background(), base, Change{Key: "theme", Source: "local", OldValue: "light", NewValue: "dark"}); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if err := emitter.EmitChange(context.Background(), base, Change{Key: "theme", Removed: true, Source: "store", OldValue: "dark", NewValue: "light"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	events := capture.ForKey("theme")
	if len(events) != 2 {
		t.Fatalf("expected two events, got %+v", events)
	}
	updated, removed := events[0], events[1]
	if updated.Verb != VerbPreferenceUpdated || updated.ObjectID != "theme" || updated.ActorID != "actor-1" {
		t.Fatalf("unexpected update event %+v", updated)
	}
	if updated.Channel != DefaultChannel || !updated.OccurredAt.Equal(at) {
		t.Fatalf("expected channel and time defaults, got %q %v", updated.Channel, updated.OccurredAt)
	}
	if updated.Metadata["source"] != "local" || updated.Metadata["domain"] != "application" || updated.Metadata["new_value"] != "dark" {
		t.Fatalf("unexpected update metadata %+v", updated.Metadata)
	}
	if removed.Verb != VerbPreferenceRemoved || removed.Metadata["old_value"] != "dark" {
		t.Fatalf("unexpected removal event %+v", removed)
	}
	if _, ok := removed.Metadata["new_value"]; ok {
		t.Fatalf("expected removal to drop new_value, got %+v", removed.Metadata)
	}
}

func TestEmitterKeyFilter(t *testing.T) {
	capture := &CaptureHook{}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Keys: []string{" theme ", ""}})

	if !emitter.Emits("theme") || emitter.Emits("fontSize") {
		t.Fatalf("expected only theme to be emitted")
	}
	_ = emitter.EmitChange(context.Background(), PreferenceEventInput{}, Change{Key: "fontSize", NewValue: 14})
	_ = emitter.EmitChange(context.Background(), PreferenceEventInput{}, Change{Key: "theme", NewValue: "dark"})

	if events := capture.Events(); len(events) != 1 || events[0].ObjectID != "theme" {
		t.Fatalf("expected a single theme event, got %+v", events)
	}

	var nilEmitter *Emitter
	if nilEmitter.Emits("theme") {
		t.Fatalf("expected nil emitter to emit nothing")
	}
	if err := nilEmitter.EmitChange(context.Background(), PreferenceEventInput{}, Change{Key: "theme"}); err != nil {
		t.Fatalf("expected nil emitter to be a no-op, got %v", err)
	}
	if NewEmitter(Hooks{nil}, Config{Enabled: true}).Enabled() {
		t.Fatalf("expected emitter without hooks to be disabled")
	}
}

func TestEmitChangeReturnsHookErrors(t *testing.T) {
	errSink := errors.New("sink down")
	capture := &CaptureHook{Err: errSink}
	emitter := NewEmitter(Hooks{capture}, Config{Enabled: true, Channel: "audit"})

	err := emitter.EmitChange(context.Background(), PreferenceEventInput{Channel: "custom"}, Change{Key: "theme", NewValue: "dark"})
	if !errors.Is(err, errSink) {
		t.Fatalf("expected hook error, got %v", err)
	}
	last, ok := capture.Last("theme")
	if !ok || last.Channel != "custom" {
		t.Fatalf("expected event kept with explicit channel, got %+v", last)
	}
}

func TestCaptureHookForKeyAndReset(t *testing.T) {
	capture := &CaptureHook{}
	hooks := Hooks{capture}
	ctx := context.Background()
	_ = hooks.Notify(ctx, BuildPreferenceUpdatedEvent(PreferenceEventInput{Key: "theme", NewValue: "dark"}))
	_ = hooks.Notify(ctx, BuildPreferenceUpdatedEvent(PreferenceEventInput{Key: "fontSize", NewValue: 14}))
	_ = hooks.Notify(ctx, BuildPreferenceRemovedEvent(PreferenceEventInput{Key: "theme"}))

	if got := capture.ForKey("theme"); len(got) != 2 {
		t.Fatalf("expected two theme events, got %+v", got)
	}
	last, ok := capture.Last("theme")
	if !ok || last.Verb != VerbPreferenceRemoved {
		t.Fatalf("expected removal last, got %+v", last)
	}
	if _, ok := capture.Last("missing"); ok {
		t.Fatalf("expected no event for an untouched key")
	}

	capture.Reset()
	if len(capture.Events()) != 0 {
		t.Fatalf("expected reset to drop events")
	}
}
