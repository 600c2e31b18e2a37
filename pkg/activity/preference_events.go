package activity

import (
	"strings"
	"time"
)

const (
	VerbPreferenceUpdated = "preference.updated"
	VerbPreferenceRemoved = "preference.removed"

	// ObjectTypePreference is the object type of every preference event.
	ObjectTypePreference = "preference"
)

// PreferenceEventInput describes the common fields for preference change
// events. Key becomes the object ID; Domain is the store layer the change
// was read from, when known.
type PreferenceEventInput struct {
	ActorID        string
	UserID         string
	TenantID       string
	Key            string
	Domain         string
	Source         string
	Channel        string
	DefinitionCode string
	Recipients     []string
	Metadata       map[string]any
	OldValue       any
	NewValue       any
	OccurredAt     time.Time
}

// BuildPreferenceUpdatedEvent constructs the event for a changed value.
func BuildPreferenceUpdatedEvent(input PreferenceEventInput) Event {
	return buildPreferenceEvent(VerbPreferenceUpdated, input)
}

// BuildPreferenceRemovedEvent constructs the event for a removed key. Any
// NewValue on input is ignored.
func BuildPreferenceRemovedEvent(input PreferenceEventInput) Event {
	input.NewValue = nil
	return buildPreferenceEvent(VerbPreferenceRemoved, input)
}

func buildPreferenceEvent(verb string, input PreferenceEventInput) Event {
	metadata := cloneMap(input.Metadata)
	set := func(name string, value any) {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata[name] = value
	}

	key := strings.TrimSpace(input.Key)
	if key != "" {
		set("key", key)
	}
	if domain := strings.TrimSpace(input.Domain); domain != "" {
		set("domain", domain)
	}
	if source := strings.TrimSpace(input.Source); source != "" {
		set("source", source)
	}
	if input.OldValue != nil {
		set("old_value", input.OldValue)
	}
	if input.NewValue != nil {
		set("new_value", input.NewValue)
	}

	objectID := key
	if objectID == "" {
		objectID = ObjectTypePreference
	}

	var recipients []string
	if len(input.Recipients) > 0 {
		recipients = append([]string{}, input.Recipients...)
	}

	return Event{
		Verb:           verb,
		ActorID:        strings.TrimSpace(input.ActorID),
		UserID:         strings.TrimSpace(input.UserID),
		TenantID:       strings.TrimSpace(input.TenantID),
		ObjectType:     ObjectTypePreference,
		ObjectID:       objectID,
		Channel:        strings.TrimSpace(input.Channel),
		DefinitionCode: strings.TrimSpace(input.DefinitionCode),
		Recipients:     recipients,
		Metadata:       metadata,
		OccurredAt:     input.OccurredAt,
	}
}
