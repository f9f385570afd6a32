//go:build integration

package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/internal/mongotest"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

// newIntegrationEngine starts mongod, seeds the fixture sessions, and
// returns an engine over the seeded collection.
func newIntegrationEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	uri := mongotest.StartMongo(t)

	repo, err := session.NewRepository(ctx, session.RepositoryConfig{
		ConnectionString: uri,
		Database:         "sessiontrail_test",
		Collection:       "sessions",
		MetadataFields:   []string{"status", "env", "attempts"},
		Logger:           newTestLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(context.Background()) })

	mongotest.LoadFixtures(t, ctx, repo.Collection(), "testdata/sessions.yaml")

	return NewEngine(repo.Collection(), nil, Config{
		EnumFields: []string{"metadata.env"},
	}, newTestLogger(t))
}

func TestEngineSearchIntegration(t *testing.T) {
	engine := newIntegrationEngine(t)
	ctx := context.Background()

	t.Run("all sessions newest first", func(t *testing.T) {
		result, err := engine.Search(ctx, SearchParams{})
		require.NoError(t, err)
		assert.EqualValues(t, 3, result.Total)
		require.Len(t, result.Sessions, 3)
		assert.Equal(t, "fix-gamma", result.Sessions[0].SessionID)
		assert.Equal(t, "fix-alpha", result.Sessions[2].SessionID)
		assert.False(t, result.HasMore)
	})

	t.Run("metadata substring filter", func(t *testing.T) {
		result, err := engine.Search(ctx, SearchParams{Filters: `{"metadata.env": "prod"}`})
		require.NoError(t, err)
		assert.EqualValues(t, 2, result.Total)
	})

	t.Run("session id substring", func(t *testing.T) {
		result, err := engine.Search(ctx, SearchParams{SessionID: "beta"})
		require.NoError(t, err)
		require.Len(t, result.Sessions, 1)
		assert.Equal(t, "fix-beta", result.Sessions[0].SessionID)
	})

	t.Run("date range", func(t *testing.T) {
		start := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
		result, err := engine.Search(ctx, SearchParams{CreatedAtStart: &start, CreatedAtEnd: &end})
		require.NoError(t, err)
		require.Len(t, result.Sessions, 1)
		assert.Equal(t, "fix-beta", result.Sessions[0].SessionID)
	})

	t.Run("pagination", func(t *testing.T) {
		result, err := engine.Search(ctx, SearchParams{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 2)
		assert.True(t, result.HasMore)

		result, err = engine.Search(ctx, SearchParams{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, result.Sessions, 1)
		assert.False(t, result.HasMore)
	})

	t.Run("previews carry counts", func(t *testing.T) {
		result, err := engine.Search(ctx, SearchParams{SessionID: "alpha"})
		require.NoError(t, err)
		require.Len(t, result.Sessions, 1)
		preview := result.Sessions[0]
		assert.Equal(t, 1, preview.AgentsCount)
		assert.Equal(t, 2, preview.MessagesCount)
		assert.Equal(t, 1, preview.FeedbacksCount)
	})
}

func TestEngineSessionDetailIntegration(t *testing.T) {
	engine := newIntegrationEngine(t)
	ctx := context.Background()

	detail, err := engine.GetSessionDetail(ctx, "fix-alpha")
	require.NoError(t, err)
	assert.Equal(t, "fix-alpha", detail.SessionID)
	assert.Equal(t, "running", detail.Metadata["status"])

	// Two messages and one feedback, in time order.
	require.Len(t, detail.Timeline, 3)
	assert.Equal(t, TimelineItemMessage, detail.Timeline[0].Type)
	assert.Equal(t, TimelineItemFeedback, detail.Timeline[2].Type)

	summary, ok := detail.AgentsSummary["agent-1"]
	require.True(t, ok)
	assert.Equal(t, 2, summary.MessagesCount)
	assert.Equal(t, "claude-test", summary.Model)

	_, err = engine.GetSessionDetail(ctx, "absent")
	require.Error(t, err)
}

func TestEngineMetadataFieldsIntegration(t *testing.T) {
	engine := newIntegrationEngine(t)

	fields, err := engine.MetadataFields(context.Background())
	require.NoError(t, err)

	byName := make(map[string]FieldInfo, len(fields))
	for _, field := range fields {
		byName[field.Field] = field
	}

	require.Contains(t, byName, "metadata.status")
	assert.Equal(t, FieldTypeString, byName["metadata.status"].Type)
	require.Contains(t, byName, "metadata.attempts")
	assert.Equal(t, FieldTypeNumber, byName["metadata.attempts"].Type)

	// Enum-configured field reports its distinct values.
	require.Contains(t, byName, "metadata.env")
	assert.ElementsMatch(t, []interface{}{"production", "staging"}, byName["metadata.env"].Values)
}

func TestEngineHealthIntegration(t *testing.T) {
	engine := newIntegrationEngine(t)

	status := engine.Health(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "connected", status.MongoDB)
}
