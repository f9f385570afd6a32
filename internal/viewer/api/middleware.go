// Package api exposes the session viewer's REST surface: password-guarded
// search, session detail with a unified timeline, field discovery, and the
// health probe.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// Password headers. Both carry SHA-256 hex digests.
const (
	HeaderPassword        = "X-Password"
	HeaderSessionPassword = "X-Session-Password"
)

// PasswordAuth enforces the global password on every route except the
// health probe and the password check endpoints. A session detail GET
// carrying X-Session-Password is let through for the handler to validate
// against that one session, so a session password never unlocks search or
// any other session.
func PasswordAuth(validator *auth.Validator, log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Default()
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if isAuthExempt(path) {
			c.Next()
			return
		}

		if c.Request.Method == http.MethodGet && isSessionDetailPath(path) &&
			c.GetHeader(HeaderSessionPassword) != "" {
			// Session-scoped validation happens in the detail handler.
			c.Next()
			return
		}

		passwordHash := c.GetHeader(HeaderPassword)
		if passwordHash == "" {
			appErr := apperrors.Unauthorized("missing password header")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}
		if !validator.CheckGlobal(passwordHash) {
			log.Warn("rejected request with invalid password",
				zap.String("path", path), zap.String("client_ip", c.ClientIP()))
			appErr := apperrors.Unauthorized("invalid password")
			c.AbortWithStatusJSON(appErr.HTTPStatus, appErr)
			return
		}
		c.Next()
	}
}

// isAuthExempt lists the routes reachable without any password: the health
// probe and the endpoints that exist to check passwords in the first place.
func isAuthExempt(path string) bool {
	if path == "/health" || path == "/api/v1/check_password" {
		return true
	}
	return strings.HasPrefix(path, "/api/v1/sessions/") && strings.HasSuffix(path, "/check_password")
}

// isSessionDetailPath matches exactly /api/v1/sessions/{session_id}, the
// only route a session-scoped password is valid for. The search route
// shares the prefix and must not match.
func isSessionDetailPath(path string) bool {
	rest, ok := strings.CutPrefix(path, "/api/v1/sessions/")
	if !ok {
		return false
	}
	rest = strings.TrimSuffix(rest, "/")
	if rest == "" || rest == "search" {
		return false
	}
	return !strings.Contains(rest, "/")
}
