package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/internal/common/httpmw"
	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
	"github.com/sessiontrail/sessiontrail/internal/viewer/query"
	apperrors "github.com/sessiontrail/sessiontrail/pkg/errors"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// Handler contains the HTTP handlers for the viewer API.
type Handler struct {
	engine    *query.Engine
	validator *auth.Validator
	logger    *logger.Logger
}

// NewHandler creates the viewer API handler.
func NewHandler(engine *query.Engine, validator *auth.Validator, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		engine:    engine,
		validator: validator,
		logger:    log.WithFields(zap.String("component", "viewer-api")),
	}
}

// Health reports storage connectivity and pool state.
// GET /health
func (h *Handler) Health(c *gin.Context) {
	status := h.engine.Health(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

type checkPasswordRequest struct {
	PasswordHash string `json:"password_hash"`
}

// CheckPassword validates a digest against the global password.
// POST /api/v1/check_password
func (h *Handler) CheckPassword(c *gin.Context) {
	var req checkPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PasswordHash == "" {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": h.validator.CheckGlobal(req.PasswordHash)})
}

// CheckSessionPassword validates a digest for one session, reporting
// whether the global fallback matched.
// POST /api/v1/sessions/:session_id/check_password
func (h *Handler) CheckSessionPassword(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req checkPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PasswordHash == "" {
		c.JSON(http.StatusOK, auth.Result{})
		return
	}

	result, err := h.validator.CheckSession(c.Request.Context(), sessionID, req.PasswordHash)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// MetadataFields returns the searchable fields with type information.
// GET /api/v1/metadata-fields
func (h *Handler) MetadataFields(c *gin.Context) {
	fields, err := h.engine.MetadataFields(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": fields})
}

// SearchSessions searches sessions with dynamic filters and pagination.
// GET /api/v1/sessions/search
func (h *Handler) SearchSessions(c *gin.Context) {
	params, err := parseSearchParams(c)
	if err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.engine.Search(c.Request.Context(), params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetSessionDetail returns the full session view with the unified timeline.
// A request carrying X-Session-Password is validated against this session
// before any data is read.
// GET /api/v1/sessions/:session_id
func (h *Handler) GetSessionDetail(c *gin.Context) {
	sessionID := c.Param("session_id")

	if passwordHash := c.GetHeader(HeaderSessionPassword); passwordHash != "" {
		result, err := h.validator.CheckSession(c.Request.Context(), sessionID, passwordHash)
		if err != nil {
			h.respondError(c, err)
			return
		}
		if !result.Valid {
			h.respondError(c, apperrors.Forbidden("invalid session password"))
			return
		}
	}

	detail, err := h.engine.GetSessionDetail(c.Request.Context(), sessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

func parseSearchParams(c *gin.Context) (query.SearchParams, error) {
	params := query.SearchParams{
		Filters:   c.Query("filters"),
		SessionID: c.Query("session_id"),
	}

	var err error
	if params.Limit, err = queryInt(c, "limit"); err != nil {
		return params, err
	}
	// An absent limit falls back to the default page size; an explicit
	// non-positive one is a caller error.
	if c.Query("limit") != "" && params.Limit <= 0 {
		return params, apperrors.BadRequest("limit must be positive")
	}
	if params.Offset, err = queryInt(c, "offset"); err != nil {
		return params, err
	}
	if params.Offset < 0 {
		return params, apperrors.BadRequest("offset must not be negative")
	}
	if params.CreatedAtStart, err = queryTime(c, "created_at_start"); err != nil {
		return params, err
	}
	if params.CreatedAtEnd, err = queryTime(c, "created_at_end"); err != nil {
		return params, err
	}
	return params, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.BadRequest(name + " must be an integer")
	}
	return value, nil
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperrors.BadRequest(name + " must be an RFC 3339 timestamp")
	}
	return &value, nil
}

// respondError maps an error to its HTTP representation. Server-side
// failures are redacted and tagged with the request id for log correlation.
func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal server error", err)
	}

	if appErr.HTTPStatus >= http.StatusInternalServerError {
		requestID := httpmw.GetRequestID(c)
		h.logger.Error("request failed",
			zap.String("request_id", requestID),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(appErr.HTTPStatus, gin.H{
			"code":       appErr.Code,
			"message":    "internal server error",
			"request_id": requestID,
		})
		return
	}
	c.JSON(appErr.HTTPStatus, appErr)
}
