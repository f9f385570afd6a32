package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
	"github.com/sessiontrail/sessiontrail/internal/viewer/query"
)

// newPasswordRouter wires only the password endpoints, which do not touch
// the query engine.
func newPasswordRouter(t *testing.T, passwords passwordMap) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator := auth.NewValidator(testGlobalPassword, passwords, newTestLogger(t))
	handler := NewHandler(nil, validator, newTestLogger(t))

	router := gin.New()
	router.POST("/api/v1/check_password", handler.CheckPassword)
	router.POST("/api/v1/sessions/:session_id/check_password", handler.CheckSessionPassword)
	router.GET("/api/v1/sessions/:session_id", handler.GetSessionDetail)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	return decoded
}

func TestCheckPassword(t *testing.T) {
	router := newPasswordRouter(t, nil)

	body := postJSON(t, router, "/api/v1/check_password",
		`{"password_hash": "`+auth.HashPassword(testGlobalPassword)+`"}`)
	assert.Equal(t, true, body["valid"])

	body = postJSON(t, router, "/api/v1/check_password",
		`{"password_hash": "`+auth.HashPassword("wrong")+`"}`)
	assert.Equal(t, false, body["valid"])

	body = postJSON(t, router, "/api/v1/check_password", `{}`)
	assert.Equal(t, false, body["valid"])

	body = postJSON(t, router, "/api/v1/check_password", `not json`)
	assert.Equal(t, false, body["valid"])
}

func TestCheckSessionPassword(t *testing.T) {
	router := newPasswordRouter(t, passwordMap{"session-1": "viewer-pass"})

	body := postJSON(t, router, "/api/v1/sessions/session-1/check_password",
		`{"password_hash": "`+auth.HashPassword("viewer-pass")+`"}`)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, false, body["used_global"])

	body = postJSON(t, router, "/api/v1/sessions/session-1/check_password",
		`{"password_hash": "`+auth.HashPassword(testGlobalPassword)+`"}`)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, true, body["used_global"])

	body = postJSON(t, router, "/api/v1/sessions/session-1/check_password",
		`{"password_hash": "`+auth.HashPassword("wrong")+`"}`)
	assert.Equal(t, false, body["valid"])

	// A session password is scoped to its own session.
	body = postJSON(t, router, "/api/v1/sessions/other/check_password",
		`{"password_hash": "`+auth.HashPassword("viewer-pass")+`"}`)
	assert.Equal(t, false, body["valid"])
}

func TestGetSessionDetailRejectsWrongSessionPassword(t *testing.T) {
	router := newPasswordRouter(t, passwordMap{"session-1": "viewer-pass"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/session-1", nil)
	req.Header.Set(HeaderSessionPassword, auth.HashPassword("wrong"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	assert.Equal(t, "FORBIDDEN", decoded["code"])
}

func TestParseSearchParams(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newContext := func(rawQuery string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/search?"+rawQuery, nil)
		return c
	}

	params, err := parseSearchParams(newContext("limit=10&offset=5&session_id=abc"))
	require.NoError(t, err)
	assert.Equal(t, 10, params.Limit)
	assert.Equal(t, 5, params.Offset)
	assert.Equal(t, "abc", params.SessionID)
	assert.Nil(t, params.CreatedAtStart)

	params, err = parseSearchParams(newContext("created_at_start=2026-01-01T00:00:00Z"))
	require.NoError(t, err)
	require.NotNil(t, params.CreatedAtStart)
	assert.Equal(t, 2026, params.CreatedAtStart.Year())

	_, err = parseSearchParams(newContext("limit=abc"))
	assert.Error(t, err)

	_, err = parseSearchParams(newContext("limit=0"))
	assert.Error(t, err)

	_, err = parseSearchParams(newContext("limit=-3"))
	assert.Error(t, err)

	_, err = parseSearchParams(newContext("offset=-1"))
	assert.Error(t, err)

	_, err = parseSearchParams(newContext("created_at_end=yesterday"))
	assert.Error(t, err)

	params, err = parseSearchParams(newContext("filters=" + `%7B%22metadata.x%22%3A%22y%22%7D`))
	require.NoError(t, err)
	assert.Equal(t, query.SearchParams{Filters: `{"metadata.x":"y"}`}, params)
}
