//go:build integration

package mongotest

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gopkg.in/yaml.v3"
)

// LoadFixtures inserts the session documents from a YAML file into the
// collection. The file holds a list of documents; string values in RFC 3339
// form become real timestamps so date queries behave as in production.
func LoadFixtures(t *testing.T, ctx context.Context, collection *mongo.Collection, path string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "failed to read fixture %s", path)

	var docs []map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &docs), "failed to parse fixture %s", path)
	require.NotEmpty(t, docs, "fixture %s holds no documents", path)

	rows := make([]interface{}, 0, len(docs))
	for _, doc := range docs {
		rows = append(rows, convertTimestamps(doc))
	}

	_, err = collection.InsertMany(ctx, rows)
	require.NoError(t, err, "failed to insert fixture %s", path)
}

// convertTimestamps walks the document and replaces RFC 3339 strings with
// time.Time values.
func convertTimestamps(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		converted := make(map[string]interface{}, len(v))
		for key, item := range v {
			converted[key] = convertTimestamps(item)
		}
		return converted
	case []interface{}:
		converted := make([]interface{}, len(v))
		for i, item := range v {
			converted[i] = convertTimestamps(item)
		}
		return converted
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts.UTC()
		}
		return v
	default:
		return v
	}
}
