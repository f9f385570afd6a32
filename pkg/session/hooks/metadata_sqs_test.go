package hooks

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/pkg/session"
)

type fakeSQS struct {
	mu     sync.Mutex
	inputs []*sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) decodeLast(t *testing.T) map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.inputs)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(*f.inputs[len(f.inputs)-1].MessageBody), &body))
	return body
}

func metadataInvocation(action session.Action) session.Invocation {
	return session.Invocation{
		SessionID: "session-1",
		Action:    action,
		Time:      time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestMetadataSQSSendsUpdate(t *testing.T) {
	client := &fakeSQS{}
	hook := NewMetadataSQS(client, MetadataSQSConfig{
		QueueURL: "https://sqs.example/queue",
		Logger:   newTestLogger(t),
	})

	inv := metadataInvocation(session.UpdateMetadataAction{Metadata: map[string]interface{}{
		"topic": "billing",
		"stage": "resolved",
		"empty": nil, // nil values are dropped
	}})
	require.NoError(t, hook(context.Background(), inv))

	body := client.decodeLast(t)
	assert.Equal(t, "session-1", body["session_id"])
	assert.Equal(t, "metadata_update", body["event"])
	assert.Equal(t, "update", body["operation"])
	assert.Equal(t, "2026-03-14T09:26:53Z", body["timestamp"])
	assert.Equal(t, map[string]interface{}{"topic": "billing", "stage": "resolved"}, body["metadata"])

	attrs := client.inputs[0].MessageAttributes
	assert.Equal(t, "session-1", *attrs["session_id"].StringValue)
	assert.Equal(t, "metadata_update", *attrs["event"].StringValue)
	assert.Equal(t, "https://sqs.example/queue", *client.inputs[0].QueueUrl)
}

func TestMetadataSQSAllowListFilters(t *testing.T) {
	client := &fakeSQS{}
	hook := NewMetadataSQS(client, MetadataSQSConfig{
		QueueURL: "https://sqs.example/queue",
		Fields:   []string{"topic"},
		Logger:   newTestLogger(t),
	})

	inv := metadataInvocation(session.UpdateMetadataAction{Metadata: map[string]interface{}{
		"topic":    "billing",
		"internal": "hidden",
	}})
	require.NoError(t, hook(context.Background(), inv))

	body := client.decodeLast(t)
	assert.Equal(t, map[string]interface{}{"topic": "billing"}, body["metadata"])
}

func TestMetadataSQSSkipsUnmonitoredChange(t *testing.T) {
	client := &fakeSQS{}
	hook := NewMetadataSQS(client, MetadataSQSConfig{
		QueueURL: "https://sqs.example/queue",
		Fields:   []string{"topic"},
		Logger:   newTestLogger(t),
	})

	inv := metadataInvocation(session.UpdateMetadataAction{Metadata: map[string]interface{}{
		"other": "value",
	}})
	require.NoError(t, hook(context.Background(), inv))
	assert.Empty(t, client.inputs)
}

func TestMetadataSQSDeleteSendsNilValues(t *testing.T) {
	client := &fakeSQS{}
	hook := NewMetadataSQS(client, MetadataSQSConfig{
		QueueURL: "https://sqs.example/queue",
		Logger:   newTestLogger(t),
	})

	inv := metadataInvocation(session.DeleteMetadataAction{Keys: []string{"topic", "stage"}})
	require.NoError(t, hook(context.Background(), inv))

	body := client.decodeLast(t)
	assert.Equal(t, "delete", body["operation"])
	assert.Equal(t, map[string]interface{}{"topic": nil, "stage": nil}, body["metadata"])
}

func TestMetadataSQSIgnoresFeedbackActions(t *testing.T) {
	client := &fakeSQS{}
	hook := NewMetadataSQS(client, MetadataSQSConfig{
		QueueURL: "https://sqs.example/queue",
		Logger:   newTestLogger(t),
	})

	inv := metadataInvocation(session.AddFeedbackAction{Entry: session.FeedbackEntry{Comment: "hi"}})
	require.NoError(t, hook(context.Background(), inv))
	assert.Empty(t, client.inputs)
}
