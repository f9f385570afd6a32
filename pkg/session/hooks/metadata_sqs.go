package hooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// metadataEvent is the wire label carried in bodies and attributes of
// metadata change notifications.
const metadataEvent = "metadata_update"

// SQSSender is the slice of the SQS API the metadata hook uses. Satisfied by
// *sqs.Client; tests substitute fakes.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// MetadataSQSConfig configures the metadata-to-SQS mirror.
type MetadataSQSConfig struct {
	QueueURL string

	// Fields is the allow-list of metadata keys to mirror. Empty mirrors
	// every key.
	Fields []string

	Logger *logger.Logger
}

// NewMetadataSQS returns a hook that mirrors metadata updates and deletes to
// an SQS queue. Updates carry the changed key/value pairs (nil values and
// keys outside the allow-list dropped); deletes carry a nil value per
// removed key. Changes touching no monitored field send nothing.
func NewMetadataSQS(client SQSSender, cfg MetadataSQSConfig) session.HookFunc {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.WithFields(zap.String("hook", "metadata_sqs"))
	allowed := newFieldFilter(cfg.Fields)

	return func(ctx context.Context, inv session.Invocation) error {
		payload := metadataDelta(inv.Action, allowed)
		if len(payload) == 0 {
			return nil
		}

		body, err := json.Marshal(map[string]interface{}{
			"session_id": inv.SessionID,
			"event":      metadataEvent,
			"operation":  inv.Action.Name(),
			"metadata":   payload,
			"timestamp":  inv.Time.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return err
		}

		_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(cfg.QueueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]sqstypes.MessageAttributeValue{
				"session_id": {DataType: aws.String("String"), StringValue: aws.String(inv.SessionID)},
				"event":      {DataType: aws.String("String"), StringValue: aws.String(metadataEvent)},
			},
		})
		if err != nil {
			return err
		}
		log.Debug("mirrored metadata change to sqs",
			zap.String("session_id", inv.SessionID),
			zap.String("operation", inv.Action.Name()),
			zap.Int("fields", len(payload)))
		return nil
	}
}

// fieldFilter reports whether a metadata key is monitored. A nil filter
// monitors everything.
type fieldFilter map[string]struct{}

func newFieldFilter(fields []string) fieldFilter {
	if len(fields) == 0 {
		return nil
	}
	f := make(fieldFilter, len(fields))
	for _, field := range fields {
		f[field] = struct{}{}
	}
	return f
}

func (f fieldFilter) allows(key string) bool {
	if f == nil {
		return true
	}
	_, ok := f[key]
	return ok
}

// metadataDelta extracts the monitored key/value pairs from a metadata
// action: the non-nil changed values for updates, a nil per removed key for
// deletes. Other actions yield nothing.
func metadataDelta(action session.Action, allowed fieldFilter) map[string]interface{} {
	switch a := action.(type) {
	case session.UpdateMetadataAction:
		delta := make(map[string]interface{})
		for key, value := range a.Metadata {
			if value == nil || !allowed.allows(key) {
				continue
			}
			delta[key] = value
		}
		return delta
	case session.DeleteMetadataAction:
		delta := make(map[string]interface{})
		for _, key := range a.Keys {
			if !allowed.allows(key) {
				continue
			}
			delta[key] = nil
		}
		return delta
	}
	return nil
}
