package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvtor/internal/auth"
	"cvtor/internal/database"
)

const (
	refreshTokenCookieName = "refresh_token"
	inactiveUserMessage    = "Inactive user"
)

var errBadCredentials = errors.New("bad credentials")

// AuthHandler serves /auth: account registration, password login and refresh token rotation.
// Access tokens go in the response body, refresh tokens only in an HttpOnly cookie.
type AuthHandler struct {
	db           *gorm.DB
	tokens       *auth.AuthService
	guard        loginGuard
	revocations  refreshRevocations
	logger       *slog.Logger
	cookieDomain string
}

// NewAuthHandler builds the authentication handler.
func NewAuthHandler(db *gorm.DB, authService *auth.AuthService, redisClient sessionStore, logger *slog.Logger, loginRateLimitPerHour int, loginLockThreshold int, loginLockTTL time.Duration, cookieDomain string) *AuthHandler {
	return &AuthHandler{
		db:     db,
		tokens: authService,
		guard: loginGuard{
			store:         redisClient,
			perHour:       loginRateLimitPerHour,
			lockThreshold: loginLockThreshold,
			lockTTL:       loginLockTTL,
		},
		revocations:  refreshRevocations{store: redisClient, defaultTTL: authService.RefreshTokenTTL()},
		logger:       logger,
		cookieDomain: strings.TrimSpace(cookieDomain),
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"full_name" binding:"max=255"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID               uint      `json:"id"`
	Email            string    `json:"email"`
	FullName         string    `json:"full_name"`
	IsActive         bool      `json:"is_active"`
	IsAdmin          bool      `json:"is_admin"`
	SubscriptionPlan string    `json:"subscription_plan"`
	CreatedAt        time.Time `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func toUserResponse(user *database.User) userResponse {
	return userResponse{
		ID:               user.ID,
		Email:            user.Email,
		FullName:         user.FullName,
		IsActive:         user.IsActive,
		IsAdmin:          user.IsAdmin,
		SubscriptionPlan: user.SubscriptionPlan,
		CreatedAt:        user.CreatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an active account on the free plan.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := normalizeEmail(req.Email)
	log := loggerFromContext(c, h.logger).With(slog.String("email", email))

	var taken int64
	if err := h.db.WithContext(ctx).Model(&database.User{}).Where("email = ?", email).Count(&taken).Error; err != nil {
		log.Error("check email availability failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if taken > 0 {
		Conflict(c, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	user := database.User{
		Email:            email,
		PasswordHash:     hash,
		FullName:         strings.TrimSpace(req.FullName),
		IsActive:         true,
		SubscriptionPlan: database.PlanFree,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		log.Error("insert user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	log.Info("account registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, toUserResponse(&user))
}

// Login exchanges email and password for a token pair.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	email := normalizeEmail(req.Email)
	log := loggerFromContext(c, h.logger).With(slog.String("email", email))

	if err := h.guard.admit(ctx, c.ClientIP(), email, time.Now()); err != nil {
		log.Info("login throttled", slog.String("reason", err.Error()))
		TooMany(c, err.Error())
		return
	}

	user, err := h.checkCredentials(c, email, req.Password)
	switch {
	case errors.Is(err, errBadCredentials):
		if err := h.guard.recordFailure(ctx, email); err != nil {
			log.Warn("record login failure failed", slog.Any("error", err))
		}
		log.Info("login rejected")
		Unauthorized(c)
		return
	case err != nil:
		log.Error("load account failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !user.IsActive {
		BadRequest(c, inactiveUserMessage)
		return
	}

	h.guard.reset(ctx, email)
	h.issueTokens(c, user)
}

func (h *AuthHandler) checkCredentials(c *gin.Context, email, password string) (*database.User, error) {
	var user database.User
	err := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, errBadCredentials
	}
	return &user, nil
}

// Refresh rotates a refresh token: the presented one is revoked and a new pair issued.
func (h *AuthHandler) Refresh(c *gin.Context) {
	claims, ok := h.presentedRefreshToken(c, true)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	log := loggerFromContext(c, h.logger).With(slog.Uint64("user_id", uint64(claims.UserID)))

	revoked, err := h.revocations.revoked(ctx, claims.ID)
	if err != nil {
		log.Error("check refresh revocation failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if revoked {
		log.Info("revoked refresh token presented", slog.String("jti", claims.ID))
		Unauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		log.Info("refresh for missing account", slog.Any("error", err))
		Unauthorized(c)
		return
	}
	if !user.IsActive {
		BadRequest(c, inactiveUserMessage)
		return
	}

	if err := h.revocations.revoke(ctx, claims); err != nil {
		log.Error("revoke rotated refresh token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.issueTokens(c, &user)
}

// Logout revokes the refresh token and expires the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims, ok := h.presentedRefreshToken(c, false)
	if !ok {
		return
	}
	if err := h.revocations.revoke(c.Request.Context(), claims); err != nil {
		loggerFromContext(c, h.logger).Error("revoke refresh token on logout failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.writeRefreshCookie(c, "", -1)
	c.Status(http.StatusOK)
}

// Me returns the authenticated account.
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		Unauthorized(c)
	case err != nil:
		loggerFromContext(c, h.logger).Error("load current user failed", slog.Any("error", err))
		Internal(c, "internal error")
	default:
		c.JSON(http.StatusOK, toUserResponse(&user))
	}
}

// presentedRefreshToken reads the refresh token from the cookie or the JSON body and
// validates it. A missing token is 401 on refresh and 400 on logout.
func (h *AuthHandler) presentedRefreshToken(c *gin.Context, missingIsUnauthorized bool) (*auth.TokenClaims, bool) {
	raw, _ := c.Cookie(refreshTokenCookieName)
	if raw == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			raw = req.RefreshToken
		}
	}
	if raw == "" {
		if missingIsUnauthorized {
			Unauthorized(c)
		} else {
			BadRequest(c, "refresh token missing")
		}
		return nil, false
	}

	claims, err := h.tokens.ValidateToken(raw)
	if err != nil || claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" {
		loggerFromContext(c, h.logger).Info("unusable refresh token", slog.Any("error", err))
		Unauthorized(c)
		return nil, false
	}
	return claims, true
}

func (h *AuthHandler) issueTokens(c *gin.Context, user *database.User) {
	pair, err := h.tokens.GenerateTokenPair(user.ID, user.IsAdmin)
	if err != nil {
		loggerFromContext(c, h.logger).Error("sign token pair failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	h.writeRefreshCookie(c, pair.RefreshToken, int(h.tokens.RefreshTokenTTL().Seconds()))
	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.AccessTokenTTL().Seconds()),
	})
}

// writeRefreshCookie sets the refresh cookie; a negative maxAge deletes it.
func (h *AuthHandler) writeRefreshCookie(c *gin.Context, value string, maxAge int) {
	secure := c.Request.TLS != nil || strings.EqualFold(c.GetHeader("X-Forwarded-Proto"), "https")
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     refreshTokenCookieName,
		Value:    value,
		MaxAge:   maxAge,
		Path:     "/",
		Domain:   h.cookieDomain,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
