package hooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/pkg/events"
	"github.com/sessiontrail/sessiontrail/pkg/events/bus"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

type fakeBus struct {
	mu       sync.Mutex
	subjects []string
	events   []*bus.Event
}

func (f *fakeBus) Publish(ctx context.Context, subject string, event *bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBus) Subscribe(subject string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (f *fakeBus) QueueSubscribe(subject, queue string, handler bus.EventHandler) (bus.Subscription, error) {
	return nil, nil
}

func (f *fakeBus) Request(ctx context.Context, subject string, event *bus.Event, timeout time.Duration) (*bus.Event, error) {
	return nil, nil
}

func (f *fakeBus) Close() {}

func (f *fakeBus) IsConnected() bool { return true }

func TestEventBusBridgePublishesMetadataUpdate(t *testing.T) {
	b := &fakeBus{}
	hook := NewEventBusBridge(b, "test-service", newTestLogger(t))

	inv := metadataInvocation(session.UpdateMetadataAction{Metadata: map[string]interface{}{"stage": "resolved"}})
	require.NoError(t, hook(context.Background(), inv))

	require.Len(t, b.events, 1)
	assert.Equal(t, "session.metadata.updated.session-1", b.subjects[0])
	assert.Equal(t, events.SessionMetadataUpdated, b.events[0].Type)
	assert.Equal(t, "test-service", b.events[0].Source)
	assert.Equal(t, map[string]interface{}{"stage": "resolved"}, b.events[0].Data["metadata"])
}

func TestEventBusBridgePublishesMetadataDelete(t *testing.T) {
	b := &fakeBus{}
	hook := NewEventBusBridge(b, "test-service", newTestLogger(t))

	inv := metadataInvocation(session.DeleteMetadataAction{Keys: []string{"stage"}})
	require.NoError(t, hook(context.Background(), inv))

	require.Len(t, b.events, 1)
	assert.Equal(t, "session.metadata.deleted.session-1", b.subjects[0])
	assert.Equal(t, events.SessionMetadataDeleted, b.events[0].Type)
	assert.Equal(t, []string{"stage"}, b.events[0].Data["keys"])
}

func TestEventBusBridgePublishesFeedback(t *testing.T) {
	b := &fakeBus{}
	hook := NewEventBusBridge(b, "test-service", newTestLogger(t))

	inv := metadataInvocation(session.AddFeedbackAction{
		Entry: session.FeedbackEntry{Rating: strPtr("up"), Comment: "solid"},
	})
	require.NoError(t, hook(context.Background(), inv))

	require.Len(t, b.events, 1)
	assert.Equal(t, "session.feedback.added.session-1", b.subjects[0])
	assert.Equal(t, events.SessionFeedbackAdded, b.events[0].Type)
	assert.Equal(t, "up", b.events[0].Data["rating"])
	assert.Equal(t, "solid", b.events[0].Data["comment"])
}

func TestEventBusBridgeFeedbackWithoutRating(t *testing.T) {
	b := &fakeBus{}
	hook := NewEventBusBridge(b, "test-service", newTestLogger(t))

	inv := metadataInvocation(session.AddFeedbackAction{Entry: session.FeedbackEntry{Comment: "meh"}})
	require.NoError(t, hook(context.Background(), inv))

	require.Len(t, b.events, 1)
	assert.Equal(t, "none", b.events[0].Data["rating"])
}
