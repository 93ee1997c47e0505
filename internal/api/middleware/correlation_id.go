package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CorrelationIDHeader is read from clients and echoed on every response. The worker
// receives the same id in task payloads, so one export or thumbnail can be traced end to end.
const CorrelationIDHeader = "X-Correlation-ID"

const (
	correlationIDKey       = "correlationID"
	maxCorrelationIDLength = 64
)

// CorrelationIDMiddleware keeps a well-formed client id and replaces anything else with a uuid.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationIDHeader)
		if !validCorrelationID(id) {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)
		c.Next()
	}
}

// GetCorrelationID returns the id set by CorrelationIDMiddleware, or "" outside it.
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

// validCorrelationID accepts up to 64 letters, digits, '-', '_' or '.'.
func validCorrelationID(id string) bool {
	if id == "" || len(id) > maxCorrelationIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
