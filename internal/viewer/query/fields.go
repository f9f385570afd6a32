package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
)

// Field type labels returned by field discovery.
const (
	FieldTypeString  = "string"
	FieldTypeNumber  = "number"
	FieldTypeBoolean = "boolean"
	FieldTypeDate    = "date"
	FieldTypeEnum    = "enum"
)

// fieldSampleSize bounds the documents examined per field during type
// detection.
const fieldSampleSize = 100

// FieldInfo describes one searchable field: its name, detected type, and,
// for enum-promoted fields, the value set.
type FieldInfo struct {
	Field  string        `json:"field"`
	Type   string        `json:"type"`
	Values []interface{} `json:"values,omitempty"`
}

// MetadataFields discovers the searchable fields from the collection's
// indexes, detects each field's type by sampling, and promotes configured
// enum fields whose distinct values fit the ceiling. Fields come back
// sorted alphabetically.
func (e *Engine) MetadataFields(ctx context.Context) ([]FieldInfo, error) {
	names, err := e.indexedFields(ctx)
	if err != nil {
		return nil, apperrors.StorageError("failed to list collection indexes", err)
	}

	fields := make([]FieldInfo, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			info := FieldInfo{Field: name, Type: e.detectFieldType(gctx, name)}
			if e.isEnumField(name) {
				if values := e.enumValues(gctx, name); values != nil {
					info.Type = FieldTypeEnum
					info.Values = values
				}
			}
			fields[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(fields, func(i, j int) bool {
		return strings.ToLower(fields[i].Field) < strings.ToLower(fields[j].Field)
	})
	e.log.Info("discovered searchable fields", zap.Int("count", len(fields)))
	return fields, nil
}

// indexedFields extracts unique field names from the collection's indexes,
// skipping system indexes and internal keys.
func (e *Engine) indexedFields(ctx context.Context) ([]string, error) {
	cursor, err := e.collection.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}

	var indexes []struct {
		Name string `bson:"name"`
		Key  bson.D `bson:"key"`
	}
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var fields []string
	for _, index := range indexes {
		if strings.HasPrefix(index.Name, "_") {
			continue
		}
		for _, key := range index.Key {
			switch key.Key {
			case "_id", "_fts", "_ftsx":
				continue
			}
			if _, ok := seen[key.Key]; ok {
				continue
			}
			seen[key.Key] = struct{}{}
			fields = append(fields, key.Key)
		}
	}
	return fields, nil
}

// detectFieldType infers a field's type, first by naming convention, then by
// sampling up to fieldSampleSize documents. Detection failures fall back to
// string.
func (e *Engine) detectFieldType(ctx context.Context, field string) string {
	if isDateFieldName(field) {
		return FieldTypeDate
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: field, Value: bson.D{
			{Key: "$exists", Value: true},
			{Key: "$ne", Value: nil},
		}}}}},
		bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: fieldSampleSize}}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: field, Value: 1}}}},
	}
	cursor, err := e.collection.Aggregate(ctx, pipeline)
	if err != nil {
		e.log.Warn("field type sampling failed", zap.String("field", field), zap.Error(err))
		return FieldTypeString
	}
	var samples []bson.M
	if err := cursor.All(ctx, &samples); err != nil {
		e.log.Warn("field type sampling failed", zap.String("field", field), zap.Error(err))
		return FieldTypeString
	}

	types := make(map[string]struct{})
	for _, sample := range samples {
		if value, ok := lookupDotted(sample, field); ok && value != nil {
			types[classifyValue(value)] = struct{}{}
		}
	}
	return mostSpecificType(types)
}

// isDateFieldName applies the naming convention: any field mentioning
// "date" or ending in "_at" is a date.
func isDateFieldName(field string) bool {
	return strings.Contains(strings.ToLower(field), "date") || strings.HasSuffix(field, "_at")
}

// lookupDotted walks a dotted path through nested documents.
func lookupDotted(doc bson.M, path string) (interface{}, bool) {
	var value interface{} = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := value.(bson.M)
		if !ok {
			return nil, false
		}
		value, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return value, true
}

func classifyValue(value interface{}) string {
	switch value.(type) {
	case bool:
		return FieldTypeBoolean
	case int, int32, int64, float32, float64:
		return FieldTypeNumber
	case bson.DateTime, time.Time:
		return FieldTypeDate
	default:
		return FieldTypeString
	}
}

// mostSpecificType collapses the sampled types by priority: boolean over
// number over date over string.
func mostSpecificType(types map[string]struct{}) string {
	for _, t := range []string{FieldTypeBoolean, FieldTypeNumber, FieldTypeDate} {
		if _, ok := types[t]; ok {
			return t
		}
	}
	return FieldTypeString
}

func (e *Engine) isEnumField(field string) bool {
	for _, f := range e.cfg.EnumFields {
		if f == field {
			return true
		}
	}
	return false
}

// enumValues returns the field's distinct values sorted by string form, or
// nil when the field exceeds the enum ceiling or the query fails.
func (e *Engine) enumValues(ctx context.Context, field string) []interface{} {
	var values []interface{}
	if err := e.collection.Distinct(ctx, field, bson.D{}).Decode(&values); err != nil {
		e.log.Warn("distinct query failed", zap.String("field", field), zap.Error(err))
		return nil
	}
	if len(values) == 0 || len(values) > e.cfg.EnumMaxValues {
		return nil
	}
	sort.Slice(values, func(i, j int) bool {
		return fmt.Sprint(values[i]) < fmt.Sprint(values[j])
	})
	return values
}
