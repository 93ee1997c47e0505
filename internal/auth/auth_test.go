package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenPairRoundTrip(t *testing.T) {
	svc, err := NewAuthService(testSecret, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	pair, err := svc.GenerateTokenPair(42, true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	access, err := svc.ValidateToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if access.UserID != 42 || !access.IsAdmin || access.TokenType != TokenTypeAccess {
		t.Fatalf("unexpected access claims %+v", access)
	}

	refresh, err := svc.ValidateToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("validate refresh: %v", err)
	}
	if refresh.TokenType != TokenTypeRefresh || refresh.ID == "" {
		t.Fatalf("refresh token must carry a jti: %+v", refresh)
	}
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	issuer, _ := NewAuthService(testSecret, time.Minute, time.Hour)
	other, _ := NewAuthService(strings.Repeat("z", 32), time.Minute, time.Hour)

	pair, err := issuer.GenerateTokenPair(1, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := other.ValidateToken(pair.AccessToken); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc, _ := NewAuthService(testSecret, time.Minute, time.Hour)
	claims := TokenClaims{
		UserID:    1,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := svc.signClaims(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected expiry error")
	}
}

func TestNewAuthServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewAuthService("short", time.Minute, time.Hour); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPasswordHash("correct horse", hash) {
		t.Fatal("expected password to match")
	}
	if CheckPasswordHash("wrong", hash) {
		t.Fatal("expected mismatch")
	}
	if ValidatePassword("short") == nil || ValidatePassword("long enough") != nil {
		t.Fatal("unexpected password validation")
	}
	if err := ValidatePassword(strings.Repeat("p", MaxPasswordBytes+1)); err != ErrPasswordTooLong {
		t.Fatalf("expected too long error, got %v", err)
	}
}

func TestValidateTokenRejectsOtherAlgorithm(t *testing.T) {
	svc, _ := NewAuthService(testSecret, time.Minute, time.Hour)
	claims := svc.newClaims(5, TokenTypeAccess, time.Now(), time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("HS512 token must be rejected")
	}
}

func TestValidateTokenRequiresExpiry(t *testing.T) {
	svc, _ := NewAuthService(testSecret, time.Minute, time.Hour)
	token, err := svc.signClaims(TokenClaims{UserID: 5, TokenType: TokenTypeAccess})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("token without exp must be rejected")
	}
}

func TestTokensHaveDistinctIDs(t *testing.T) {
	svc, _ := NewAuthService(testSecret, time.Minute, time.Hour)
	first, _ := svc.GenerateTokenPair(8, false)
	second, _ := svc.GenerateTokenPair(8, false)
	a, _ := svc.ValidateToken(first.RefreshToken)
	b, _ := svc.ValidateToken(second.RefreshToken)
	if a.ID == b.ID || a.Issuer != "cvtor" {
		t.Fatalf("expected unique jti and cvtor issuer, got %q %q %q", a.ID, b.ID, a.Issuer)
	}
}
