package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestIsDateFieldName(t *testing.T) {
	assert.True(t, isDateFieldName("created_at"))
	assert.True(t, isDateFieldName("metadata.birth_date"))
	assert.True(t, isDateFieldName("metadata.DateOfIssue"))
	assert.False(t, isDateFieldName("session_id"))
	assert.False(t, isDateFieldName("metadata.status"))
	// "updated" alone is not enough, the suffix is.
	assert.False(t, isDateFieldName("metadata.updater"))
}

func TestClassifyValue(t *testing.T) {
	tests := []struct {
		value    interface{}
		expected string
	}{
		{true, FieldTypeBoolean},
		{false, FieldTypeBoolean},
		{int32(3), FieldTypeNumber},
		{int64(3), FieldTypeNumber},
		{3.14, FieldTypeNumber},
		{bson.DateTime(1700000000000), FieldTypeDate},
		{time.Now(), FieldTypeDate},
		{"text", FieldTypeString},
		{bson.M{"nested": 1}, FieldTypeString},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, classifyValue(tt.value), "value %v", tt.value)
	}
}

func TestMostSpecificType(t *testing.T) {
	set := func(types ...string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, t := range types {
			m[t] = struct{}{}
		}
		return m
	}

	assert.Equal(t, FieldTypeString, mostSpecificType(set()))
	assert.Equal(t, FieldTypeString, mostSpecificType(set(FieldTypeString)))
	assert.Equal(t, FieldTypeDate, mostSpecificType(set(FieldTypeString, FieldTypeDate)))
	assert.Equal(t, FieldTypeNumber, mostSpecificType(set(FieldTypeDate, FieldTypeNumber)))
	assert.Equal(t, FieldTypeBoolean, mostSpecificType(set(FieldTypeString, FieldTypeNumber, FieldTypeBoolean)))
}

func TestLookupDotted(t *testing.T) {
	doc := bson.M{
		"session_id": "s-1",
		"metadata": bson.M{
			"status": "active",
			"nested": bson.M{"deep": 42},
		},
	}

	value, ok := lookupDotted(doc, "session_id")
	assert.True(t, ok)
	assert.Equal(t, "s-1", value)

	value, ok = lookupDotted(doc, "metadata.status")
	assert.True(t, ok)
	assert.Equal(t, "active", value)

	value, ok = lookupDotted(doc, "metadata.nested.deep")
	assert.True(t, ok)
	assert.Equal(t, 42, value)

	_, ok = lookupDotted(doc, "metadata.missing")
	assert.False(t, ok)

	// Path descending through a scalar.
	_, ok = lookupDotted(doc, "session_id.sub")
	assert.False(t, ok)
}
