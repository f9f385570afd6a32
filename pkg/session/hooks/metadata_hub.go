package hooks

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/push"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// HubSender is the slice of the push hub the hook uses. Satisfied by
// *push.Hub.
type HubSender interface {
	Send(connectionID string, payload interface{}) error
}

// NewMetadataHubPush returns a hook that pushes metadata changes to the
// session's WebSocket client through the in-process push hub. Same contract
// as the API Gateway variant: no registered connection id is a warn + skip,
// a gone connection an info + skip.
func NewMetadataHubPush(hub HubSender, cfg MetadataPushConfig) session.HookFunc {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("hook", "metadata_hub_push"))
	allowed := newFieldFilter(cfg.Fields)

	return func(ctx context.Context, inv session.Invocation) error {
		payload, connectionID, err := buildPush(ctx, inv, allowed, cfg.Metadata)
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		if connectionID == "" {
			log.Warn("no websocket connection id registered, skipping push",
				zap.String("session_id", inv.SessionID))
			return nil
		}

		if err := hub.Send(connectionID, payload); err != nil {
			if errors.Is(err, push.ErrConnectionGone) {
				log.Info("websocket connection gone, skipping push",
					zap.String("session_id", inv.SessionID),
					zap.String("connection_id", connectionID))
				return nil
			}
			return err
		}
		log.Debug("pushed metadata change",
			zap.String("session_id", inv.SessionID),
			zap.String("connection_id", connectionID))
		return nil
	}
}
