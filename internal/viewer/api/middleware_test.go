package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
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

const testGlobalPassword = "backend-secret"

// newAuthedRouter builds a router with the auth middleware and stub
// endpoints so the middleware can be exercised without a database.
func newAuthedRouter(t *testing.T, passwords passwordMap) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator := auth.NewValidator(testGlobalPassword, passwords, newTestLogger(t))
	router := gin.New()
	router.Use(PasswordAuth(validator, newTestLogger(t)))

	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	router.GET("/health", ok)
	router.POST("/api/v1/check_password", ok)
	router.GET("/api/v1/metadata-fields", ok)
	router.GET("/api/v1/sessions/search", ok)
	router.GET("/api/v1/sessions/:session_id", ok)
	router.POST("/api/v1/sessions/:session_id/check_password", ok)
	return router
}

func doRequest(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader("{}"))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPasswordAuthMatrix(t *testing.T) {
	router := newAuthedRouter(t, passwordMap{"session-1": "viewer-pass"})
	globalHash := auth.HashPassword(testGlobalPassword)
	sessionHash := auth.HashPassword("viewer-pass")

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		status  int
	}{
		{"health is open", http.MethodGet, "/health", nil, http.StatusOK},
		{"check_password is open", http.MethodPost, "/api/v1/check_password", nil, http.StatusOK},
		{"session check_password is open", http.MethodPost, "/api/v1/sessions/session-1/check_password", nil, http.StatusOK},
		{"missing password rejected", http.MethodGet, "/api/v1/metadata-fields", nil, http.StatusUnauthorized},
		{"wrong password rejected", http.MethodGet, "/api/v1/metadata-fields",
			map[string]string{HeaderPassword: auth.HashPassword("wrong")}, http.StatusUnauthorized},
		{"correct password accepted", http.MethodGet, "/api/v1/metadata-fields",
			map[string]string{HeaderPassword: globalHash}, http.StatusOK},
		{"search needs global password", http.MethodGet, "/api/v1/sessions/search",
			map[string]string{HeaderSessionPassword: sessionHash}, http.StatusUnauthorized},
		{"detail with session password passes middleware", http.MethodGet, "/api/v1/sessions/session-1",
			map[string]string{HeaderSessionPassword: sessionHash}, http.StatusOK},
		{"detail without any password rejected", http.MethodGet, "/api/v1/sessions/session-1",
			nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.method, tt.path, tt.headers)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestPasswordAuthAllowsCORSPreflight(t *testing.T) {
	router := newAuthedRouter(t, nil)
	router.OPTIONS("/api/v1/metadata-fields", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := doRequest(router, http.MethodOptions, "/api/v1/metadata-fields", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestIsSessionDetailPath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/api/v1/sessions/abc", true},
		{"/api/v1/sessions/abc/", true},
		{"/api/v1/sessions/search", false},
		{"/api/v1/sessions/search/", false},
		{"/api/v1/sessions/", false},
		{"/api/v1/sessions/abc/messages", false},
		{"/api/v1/metadata-fields", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, isSessionDetailPath(tt.path), "path %s", tt.path)
	}
}

func TestIsAuthExempt(t *testing.T) {
	assert.True(t, isAuthExempt("/health"))
	assert.True(t, isAuthExempt("/api/v1/check_password"))
	assert.True(t, isAuthExempt("/api/v1/sessions/abc/check_password"))
	assert.False(t, isAuthExempt("/api/v1/sessions/abc"))
	assert.False(t, isAuthExempt("/api/v1/sessions/search"))
	assert.False(t, isAuthExempt("/api/v1/metadata-fields"))
}
