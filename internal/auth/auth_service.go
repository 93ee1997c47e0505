package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in TokenClaims.TokenType.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const (
	tokenIssuer    = "cvtor"
	minSecretBytes = 32
	clockLeeway    = 30 * time.Second
)

// AuthService issues and validates HS256 session tokens. Access tokens carry the admin flag.
type AuthService struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	parser     *jwt.Parser
}

// TokenPair holds an access token and its refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// TokenClaims are the fields middleware reads back from a token. ID (jti) is what
// refresh revocation keys on.
type TokenClaims struct {
	UserID    uint   `json:"user_id"`
	IsAdmin   bool   `json:"is_admin,omitempty"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// NewAuthService builds a service signing with secret.
func NewAuthService(secret string, accessTTL, refreshTTL time.Duration) (*AuthService, error) {
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretBytes)
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &AuthService{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockLeeway),
		),
	}, nil
}

// GenerateTokenPair signs a short-lived access token and a refresh token for userID.
func (s *AuthService) GenerateTokenPair(userID uint, isAdmin bool) (TokenPair, error) {
	now := time.Now()

	access := s.newClaims(userID, TokenTypeAccess, now, s.accessTTL)
	access.IsAdmin = isAdmin
	accessToken, err := s.signClaims(access)
	if err != nil {
		return TokenPair{}, err
	}

	refreshToken, err := s.signClaims(s.newClaims(userID, TokenTypeRefresh, now, s.refreshTTL))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (s *AuthService) newClaims(userID uint, tokenType string, now time.Time, ttl time.Duration) TokenClaims {
	return TokenClaims{
		UserID:    userID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// ValidateToken verifies signature, algorithm and expiry and returns the claims.
// Callers check TokenType themselves.
func (s *AuthService) ValidateToken(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	claims := &TokenClaims{}
	if _, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID == 0 {
		return nil, errors.New("token has no user")
	}
	return claims, nil
}

func (s *AuthService) signClaims(claims TokenClaims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// AccessTokenTTL returns the access token lifetime.
func (s *AuthService) AccessTokenTTL() time.Duration { return s.accessTTL }

// RefreshTokenTTL returns the refresh token lifetime.
func (s *AuthService) RefreshTokenTTL() time.Duration { return s.refreshTTL }
