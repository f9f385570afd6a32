package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// buildSearchFilter translates the search parameters into a MongoDB filter.
// Metadata filters and the session id match as case-insensitive substrings;
// user input is regex-escaped so it can only ever match literally. Other
// filter keys match exactly. Invalid filter JSON is logged and ignored.
func buildSearchFilter(params SearchParams, log *logger.Logger) bson.D {
	filter := bson.D{}

	if params.Filters != "" {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(params.Filters), &parsed); err != nil {
			log.Warn("ignoring invalid filters JSON", zap.Error(err))
		} else {
			for _, key := range sortedFilterKeys(parsed) {
				value := parsed[key]
				if strings.HasPrefix(key, "metadata.") {
					filter = append(filter, bson.E{Key: key, Value: substringMatch(stringify(value))})
				} else {
					filter = append(filter, bson.E{Key: key, Value: value})
				}
			}
		}
	}

	if params.SessionID != "" {
		filter = append(filter, bson.E{Key: "session_id", Value: substringMatch(params.SessionID)})
	}

	if params.CreatedAtStart != nil || params.CreatedAtEnd != nil {
		dateRange := bson.D{}
		if params.CreatedAtStart != nil {
			dateRange = append(dateRange, bson.E{Key: "$gte", Value: *params.CreatedAtStart})
		}
		if params.CreatedAtEnd != nil {
			dateRange = append(dateRange, bson.E{Key: "$lte", Value: *params.CreatedAtEnd})
		}
		filter = append(filter, bson.E{Key: "created_at", Value: dateRange})
	}

	return filter
}

func substringMatch(value string) bson.D {
	return bson.D{
		{Key: "$regex", Value: regexp.QuoteMeta(value)},
		{Key: "$options", Value: "i"},
	}
}

func stringify(value interface{}) string {
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

// sortedFilterKeys gives the filter document a deterministic key order.
func sortedFilterKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
