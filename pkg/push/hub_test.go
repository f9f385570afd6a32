package push

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
}

func TestHub_SendToUnknownConnection(t *testing.T) {
	hub := NewHub(newTestLogger(t))

	err := hub.Send("missing-conn", map[string]interface{}{"hello": "world"})
	assert.ErrorIs(t, err, ErrConnectionGone)
}

func TestHub_SendDeliversToRegisteredClient(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("conn-1", nil, hub, log)
	hub.Register(client)
	waitForClients(t, hub, 1)

	err := hub.Send("conn-1", map[string]interface{}{"event_type": "metadata_update", "session_id": "sess-1"})
	require.NoError(t, err)

	select {
	case data := <-client.send:
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &payload))
		assert.Equal(t, "metadata_update", payload["event_type"])
		assert.Equal(t, "sess-1", payload["session_id"])
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for payload")
	}
}

func TestHub_UnregisterMakesConnectionGone(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("conn-2", nil, hub, log)
	hub.Register(client)
	waitForClients(t, hub, 1)

	hub.Unregister(client)
	waitForClients(t, hub, 0)

	err := hub.Send("conn-2", map[string]interface{}{"x": 1})
	assert.ErrorIs(t, err, ErrConnectionGone)
}

func TestHub_RegisterReplacesDuplicateConnectionID(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	first := NewClient("conn-3", nil, hub, log)
	second := NewClient("conn-3", nil, hub, log)
	hub.Register(first)
	waitForClients(t, hub, 1)
	hub.Register(second)
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Send("conn-3", map[string]interface{}{"n": 1}))

	select {
	case <-second.send:
	case <-time.After(time.Second):
		t.Fatal("replacement client did not receive payload")
	}

	// The replaced client's channel is closed
	select {
	case _, ok := <-first.send:
		assert.False(t, ok, "expected first client's send channel to be closed")
	case <-time.After(time.Second):
		t.Fatal("first client's send channel was not closed")
	}
}

func TestHub_Broadcast(t *testing.T) {
	log := newTestLogger(t)
	hub := NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	a := NewClient("conn-a", nil, hub, log)
	b := NewClient("conn-b", nil, hub, log)
	hub.Register(a)
	hub.Register(b)
	waitForClients(t, hub, 2)

	require.NoError(t, hub.Broadcast(map[string]interface{}{"ping": true}))

	for _, client := range []*Client{a, b} {
		select {
		case <-client.send:
		case <-time.After(time.Second):
			t.Fatalf("client %s did not receive broadcast", client.ID)
		}
	}

	ids := hub.ConnectionIDs()
	assert.ElementsMatch(t, []string{"conn-a", "conn-b"}, ids)
}
