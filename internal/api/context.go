package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"cvtor/internal/api/middleware"
)

func userIDFromContext(c *gin.Context) (uint, bool) {
	return middleware.UserID(c)
}

// loggerFromContext prefers the request logger, which carries the correlation id.
func loggerFromContext(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if _, ok := c.Get("slogLogger"); ok || fallback == nil {
		return middleware.LoggerFromContext(c)
	}
	return fallback
}
