package hooks

import (
	"context"

	"github.com/sessiontrail/sessiontrail/pkg/events"
	"github.com/sessiontrail/sessiontrail/pkg/events/bus"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// NewEventBusBridge returns a hook that republishes session writes on the
// event bus, one subject per session, so in-process or NATS subscribers can
// observe metadata and feedback activity.
func NewEventBusBridge(eventBus bus.EventBus, source string, log *logger.Logger) session.HookFunc {
	if log == nil {
		log = logger.Default()
	}

	return func(ctx context.Context, inv session.Invocation) error {
		var (
			eventType string
			subject   string
			data      map[string]interface{}
		)

		switch a := inv.Action.(type) {
		case session.UpdateMetadataAction:
			eventType = events.SessionMetadataUpdated
			subject = events.BuildMetadataUpdatedSubject(inv.SessionID)
			data = map[string]interface{}{
				"session_id": inv.SessionID,
				"metadata":   a.Metadata,
			}
		case session.DeleteMetadataAction:
			eventType = events.SessionMetadataDeleted
			subject = events.BuildMetadataDeletedSubject(inv.SessionID)
			data = map[string]interface{}{
				"session_id": inv.SessionID,
				"keys":       a.Keys,
			}
		case session.AddFeedbackAction:
			eventType = events.SessionFeedbackAdded
			subject = events.BuildFeedbackAddedSubject(inv.SessionID)
			data = map[string]interface{}{
				"session_id": inv.SessionID,
				"rating":     a.Entry.RatingValue(),
				"comment":    a.Entry.Comment,
			}
		default:
			return nil
		}

		return eventBus.Publish(ctx, subject, bus.NewEvent(eventType, source, data))
	}
}
