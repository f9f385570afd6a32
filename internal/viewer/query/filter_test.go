package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func filterMap(t *testing.T, filter bson.D) map[string]interface{} {
	t.Helper()
	m := make(map[string]interface{}, len(filter))
	for _, e := range filter {
		m[e.Key] = e.Value
	}
	return m
}

func TestBuildSearchFilterEmpty(t *testing.T) {
	filter := buildSearchFilter(SearchParams{}, newTestLogger(t))
	assert.Empty(t, filter)
}

func TestBuildSearchFilterMetadataSubstring(t *testing.T) {
	filter := buildSearchFilter(SearchParams{
		Filters: `{"metadata.case_type": "REAPERTURA", "metadata.phone": 604}`,
	}, newTestLogger(t))

	m := filterMap(t, filter)
	assert.Equal(t, bson.D{
		{Key: "$regex", Value: "REAPERTURA"},
		{Key: "$options", Value: "i"},
	}, m["metadata.case_type"])
	// Non-string filter values are matched on their string form.
	assert.Equal(t, bson.D{
		{Key: "$regex", Value: "604"},
		{Key: "$options", Value: "i"},
	}, m["metadata.phone"])
}

func TestBuildSearchFilterNonMetadataKeyExactMatch(t *testing.T) {
	filter := buildSearchFilter(SearchParams{
		Filters: `{"session_type": "AGENT"}`,
	}, newTestLogger(t))

	m := filterMap(t, filter)
	assert.Equal(t, "AGENT", m["session_type"])
}

func TestBuildSearchFilterEscapesRegexMetacharacters(t *testing.T) {
	filter := buildSearchFilter(SearchParams{
		SessionID: "user.*+?",
		Filters:   `{"metadata.note": "a(b)c"}`,
	}, newTestLogger(t))

	m := filterMap(t, filter)
	sessionMatch := m["session_id"].(bson.D)
	assert.Equal(t, `user\.\*\+\?`, sessionMatch[0].Value)
	noteMatch := m["metadata.note"].(bson.D)
	assert.Equal(t, `a\(b\)c`, noteMatch[0].Value)
}

func TestBuildSearchFilterInvalidJSONIgnored(t *testing.T) {
	filter := buildSearchFilter(SearchParams{
		Filters:   `{not json`,
		SessionID: "abc",
	}, newTestLogger(t))

	m := filterMap(t, filter)
	assert.Len(t, m, 1)
	assert.Contains(t, m, "session_id")
}

func TestBuildSearchFilterDateRange(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	filter := buildSearchFilter(SearchParams{CreatedAtStart: &start, CreatedAtEnd: &end}, newTestLogger(t))
	m := filterMap(t, filter)
	assert.Equal(t, bson.D{
		{Key: "$gte", Value: start},
		{Key: "$lte", Value: end},
	}, m["created_at"])

	filter = buildSearchFilter(SearchParams{CreatedAtStart: &start}, newTestLogger(t))
	m = filterMap(t, filter)
	assert.Equal(t, bson.D{{Key: "$gte", Value: start}}, m["created_at"])
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit    int
		expected int
	}{
		{0, 20},   // default
		{-5, 20},  // default
		{1, 1},    // minimum useful
		{50, 50},  // in range
		{100, 100},
		{500, 100}, // capped
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, clampLimit(tt.limit, 20, 100))
	}
}
