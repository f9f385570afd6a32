package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type passwordMap map[string]string

func (p passwordMap) SessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	return p[sessionID], nil
}

type failingPasswords struct{}

func (failingPasswords) SessionViewerPassword(ctx context.Context, sessionID string) (string, error) {
	return "", errors.New("connection reset")
}

func TestHashPassword(t *testing.T) {
	// Known SHA-256 vector.
	assert.Equal(t,
		"5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8",
		HashPassword("password"))
	assert.NotEqual(t, HashPassword("a"), HashPassword("b"))
}

func TestCheckGlobal(t *testing.T) {
	v := NewValidator("admin-secret", passwordMap{}, newTestLogger(t))

	assert.True(t, v.CheckGlobal(HashPassword("admin-secret")))
	assert.False(t, v.CheckGlobal(HashPassword("wrong")))
	assert.False(t, v.CheckGlobal("not-a-digest"))
	assert.False(t, v.CheckGlobal(""))
}

func TestCheckSessionWithSessionPassword(t *testing.T) {
	v := NewValidator("admin-secret", passwordMap{"session-1": "viewer-pass"}, newTestLogger(t))

	result, err := v.CheckSession(context.Background(), "session-1", HashPassword("viewer-pass"))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.False(t, result.UsedGlobal)
}

func TestCheckSessionGlobalFallback(t *testing.T) {
	v := NewValidator("admin-secret", passwordMap{"session-1": "viewer-pass"}, newTestLogger(t))

	// The global password opens any session.
	result, err := v.CheckSession(context.Background(), "session-1", HashPassword("admin-secret"))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.UsedGlobal)

	// Legacy session with no stored password: only the global works.
	result, err = v.CheckSession(context.Background(), "legacy", HashPassword("admin-secret"))
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.UsedGlobal)
}

func TestCheckSessionRejectsWrongPassword(t *testing.T) {
	v := NewValidator("admin-secret", passwordMap{"session-1": "viewer-pass"}, newTestLogger(t))

	result, err := v.CheckSession(context.Background(), "session-1", HashPassword("wrong"))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, result.UsedGlobal)
}

func TestCheckSessionPasswordIsScoped(t *testing.T) {
	v := NewValidator("admin-secret", passwordMap{
		"session-1": "pass-one",
		"session-2": "pass-two",
	}, newTestLogger(t))

	// session-1's password does not open session-2.
	result, err := v.CheckSession(context.Background(), "session-2", HashPassword("pass-one"))
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestCheckSessionPropagatesStoreErrors(t *testing.T) {
	v := NewValidator("admin-secret", failingPasswords{}, newTestLogger(t))

	_, err := v.CheckSession(context.Background(), "session-1", HashPassword("admin-secret"))
	assert.Error(t, err)
}
