package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// ConnectionIDKey is the metadata key holding the WebSocket connection id a
// session's client registered under. It is read for routing and never
// included in push payloads.
const ConnectionIDKey = "ws_connection_id"

// ConnectionPoster is the slice of the API Gateway Management API the push
// hook uses. Satisfied by *apigatewaymanagementapi.Client.
type ConnectionPoster interface {
	PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error)
}

// MetadataSource reads a session's current metadata bag, used to resolve the
// connection id when the change itself does not carry one. session.Store
// satisfies it.
type MetadataSource interface {
	GetMetadata(ctx context.Context, sessionID string) (map[string]interface{}, error)
}

// MetadataPushConfig configures the WebSocket push of metadata changes,
// shared by the API Gateway and in-process hub variants.
type MetadataPushConfig struct {
	// Fields is the allow-list of metadata keys to push. Empty pushes every
	// key. ConnectionIDKey is always excluded regardless.
	Fields []string

	// Metadata resolves the session's current connection id when the change
	// does not include one. Optional.
	Metadata MetadataSource

	Logger *logger.Logger
}

// metadataPushPayload is the JSON frame delivered to the client.
type metadataPushPayload struct {
	EventType string                 `json:"event_type"`
	SessionID string                 `json:"session_id"`
	Operation string                 `json:"operation"`
	Metadata  map[string]interface{} `json:"metadata"`
	Timestamp string                 `json:"timestamp"`
}

// NewMetadataAPIGatewayPush returns a hook that pushes metadata changes to
// the session's WebSocket client through API Gateway. A session without a
// registered connection id is skipped with a warning; a stale connection
// (gone on the gateway side) is skipped without retry.
func NewMetadataAPIGatewayPush(client ConnectionPoster, cfg MetadataPushConfig) session.HookFunc {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("hook", "metadata_apigw_push"))
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

		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		_, err = client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         data,
		})
		if err != nil {
			var gone *apigwtypes.GoneException
			if errors.As(err, &gone) {
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

// buildPush assembles the push payload and resolves the connection id. It
// returns a nil payload when the change touches no monitored field, and an
// empty connection id when none is registered.
func buildPush(ctx context.Context, inv session.Invocation, allowed fieldFilter, source MetadataSource) (*metadataPushPayload, string, error) {
	var connectionID string
	if a, ok := inv.Action.(session.UpdateMetadataAction); ok {
		connectionID, _ = a.Metadata[ConnectionIDKey].(string)
	}

	delta := metadataDelta(inv.Action, allowed)
	delete(delta, ConnectionIDKey)
	if len(delta) == 0 {
		return nil, "", nil
	}

	if connectionID == "" && source != nil {
		metadata, err := source.GetMetadata(ctx, inv.SessionID)
		if err != nil {
			return nil, "", err
		}
		connectionID, _ = metadata[ConnectionIDKey].(string)
	}

	return &metadataPushPayload{
		EventType: metadataEvent,
		SessionID: inv.SessionID,
		Operation: inv.Action.Name(),
		Metadata:  delta,
		Timestamp: inv.Time.UTC().Format(time.RFC3339),
	}, connectionID, nil
}
