package usersink

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/goliatone/go-preference/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook records preference activity in a go-users ActivitySink.
type Hook struct {
	Sink usertypes.ActivitySink
	// TenantID is used when an event carries no parseable tenant.
	TenantID uuid.UUID
}

// Notify maps the event into an ActivityRecord and forwards it to the sink.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}

	normalized := activity.NormalizeEvent(event)
	if normalized.Verb == "" || normalized.ObjectType == "" || normalized.ObjectID == "" {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	record := usertypes.ActivityRecord{
		ActorID:    parseUUID(normalized.ActorID),
		UserID:     parseUUID(normalized.UserID),
		TenantID:   parseUUID(normalized.TenantID),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    normalized.Channel,
		Data:       maps.Clone(normalized.Metadata),
		OccurredAt: normalized.OccurredAt,
	}
	if record.TenantID == uuid.Nil {
		record.TenantID = h.TenantID
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	extra := map[string]any{}
	if normalized.DefinitionCode != "" {
		extra["definition_code"] = normalized.DefinitionCode
	}
	if len(normalized.Recipients) > 0 {
		extra["recipients"] = append([]string{}, normalized.Recipients...)
	}
	if len(extra) > 0 {
		if record.Data == nil {
			record.Data = map[string]any{}
		}
		maps.Copy(record.Data, extra)
	}

	return h.Sink.Log(ctx, record)
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}
