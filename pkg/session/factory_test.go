package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
)

func TestNewFactoryRequiresConnection(t *testing.T) {
	_, err := NewFactory(context.Background(), FactoryConfig{
		Database:   "db",
		Collection: "sessions",
		Logger:     newTestLogger(t),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestManagerOptionsResolveOverrides(t *testing.T) {
	var ov managerOverrides
	for _, opt := range []ManagerOption{
		WithSessionType("CHAT"),
		WithDatabase("other-db"),
		WithCollection("other-coll"),
		WithApplicationName("other-app"),
	} {
		opt(&ov)
	}

	assert.Equal(t, "CHAT", stringOr(ov.sessionType, ""))
	assert.Equal(t, "other-db", stringOr(ov.database, "default-db"))
	assert.Equal(t, "other-coll", stringOr(ov.collection, "default-coll"))
	assert.Equal(t, "other-app", stringOr(ov.applicationName, "default-app"))

	// Unset overrides fall back to the factory defaults.
	var empty managerOverrides
	assert.Equal(t, "default-db", stringOr(empty.database, "default-db"))
	assert.Nil(t, empty.metadataFields)
}

func TestWithMetadataFieldsEmptySliceDisablesSeeding(t *testing.T) {
	var ov managerOverrides
	WithMetadataFields([]string{})(&ov)

	// The override is present even though the slice is empty, which is how
	// a manager opts out of the factory's pre-seeded keys.
	require.NotNil(t, ov.metadataFields)
	assert.Empty(t, *ov.metadataFields)
}

func TestManagerOptionsAccumulateHooks(t *testing.T) {
	recorder := &hookRecorder{}
	var ov managerOverrides
	WithMetadataHooks(recorder.hook())(&ov)
	WithMetadataHooks(recorder.hook())(&ov)
	WithFeedbackHooks(recorder.hook())(&ov)

	assert.Len(t, ov.metadataHooks, 2)
	assert.Len(t, ov.feedbackHooks, 1)
}

func TestFactoryExternalClientStats(t *testing.T) {
	f := &Factory{log: newTestLogger(t)}

	stats := f.ConnectionStats(context.Background())
	assert.Equal(t, PoolStatusExternalClient, stats.Status)
	assert.NotEmpty(t, stats.Message)
}

func TestGlobalFactoryNotInitialized(t *testing.T) {
	// Nothing in the unit suite initializes the global factory.
	_, err := GlobalFactory()
	require.Error(t, err)

	// Closing without initialization is a no-op.
	assert.NoError(t, CloseGlobalFactory(context.Background()))
}
