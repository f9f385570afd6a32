package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/sessiontrail/sessiontrail/internal/common/httpmw"
	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
)

// RouterConfig tunes the router-level middleware.
type RouterConfig struct {
	// RateLimitPerMinute caps requests per client IP; zero disables
	// rate limiting.
	RateLimitPerMinute int
	RateLimitBurst     int
}

// SetupRoutes wires the viewer API onto the router: request ids, optional
// rate limiting, password auth, then the endpoints. ctx bounds the rate
// limiter's cleanup goroutine.
func SetupRoutes(ctx context.Context, router *gin.Engine, handler *Handler, validator *auth.Validator, cfg RouterConfig, log *logger.Logger) {
	router.Use(httpmw.RequestID())
	if cfg.RateLimitPerMinute > 0 {
		router.Use(httpmw.RateLimit(ctx, httpmw.RateLimitConfig{
			RequestsPerMin: cfg.RateLimitPerMinute,
			Burst:          cfg.RateLimitBurst,
		}))
	}
	router.Use(PasswordAuth(validator, log))

	router.GET("/health", handler.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/check_password", handler.CheckPassword)
		v1.GET("/metadata-fields", handler.MetadataFields)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/search", handler.SearchSessions)
			sessions.GET("/:session_id", handler.GetSessionDetail)
			sessions.POST("/:session_id/check_password", handler.CheckSessionPassword)
		}
	}
}
