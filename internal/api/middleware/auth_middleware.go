package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvtor/internal/auth"
	"cvtor/internal/database"
)

const (
	userIDKey      = "userID"
	currentUserKey = "currentUser"

	inactiveUserMessage = "Inactive user"
	adminOnlyMessage    = "Access forbidden: admin only"
)

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// AuthMiddleware accepts "Authorization: Bearer <access token>" and stores the user id.
func AuthMiddleware(authService *auth.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, token, found := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil || claims.TokenType != auth.TokenTypeAccess {
			abortUnauthorized(c)
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the id stored by AuthMiddleware.
func UserID(c *gin.Context) (uint, bool) {
	id, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := id.(uint)
	return userID, ok && userID != 0
}

// ActiveUserMiddleware loads the authenticated account and rejects deactivated ones.
// It must run after AuthMiddleware.
func ActiveUserMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			abortUnauthorized(c)
			return
		}

		var user database.User
		if err := db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				abortUnauthorized(c)
				return
			}
			LoggerFromContext(c).Error("load current user failed", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": inactiveUserMessage})
			return
		}

		c.Set(currentUserKey, &user)
		c.Next()
	}
}

// RequireAdmin lets only administrators through. It must run after ActiveUserMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			abortUnauthorized(c)
			return
		}
		if !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": adminOnlyMessage})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the account loaded by ActiveUserMiddleware.
func CurrentUser(c *gin.Context) *database.User {
	if value, ok := c.Get(currentUserKey); ok {
		if user, ok := value.(*database.User); ok {
			return user
		}
	}
	return nil
}
