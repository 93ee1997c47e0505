package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvtor/internal/errcode"
)

// Every error body is {"error": "<message>"}.
func Error(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// ErrorFrom replies with err's message and the status of its errcode. Uncoded errors and
// 5xx codes use fallback instead.
func ErrorFrom(c *gin.Context, err error, fallback int) {
	status := errcode.HTTPStatus(errcode.CodeOf(err))
	if status >= http.StatusInternalServerError {
		status = fallback
	}
	Error(c, status, err.Error())
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func Unauthorized(c *gin.Context)           { Error(c, http.StatusUnauthorized, "unauthorized") }
func BadRequest(c *gin.Context, msg string) { Error(c, http.StatusBadRequest, msg) }
func Forbidden(c *gin.Context, msg string)  { Error(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)   { Error(c, http.StatusNotFound, msg) }
func Conflict(c *gin.Context, msg string)   { Error(c, http.StatusConflict, msg) }
func Internal(c *gin.Context, msg string)   { Error(c, http.StatusInternalServerError, msg) }
func TooMany(c *gin.Context, msg string)    { Error(c, http.StatusTooManyRequests, msg) }
