package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"cvtor/internal/auth"
)

// sessionStore is the Redis surface used for login throttling and refresh token revocation.
type sessionStore interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

var (
	errLoginRateLimited = errors.New("rate limit exceeded")
	errLoginLocked      = errors.New("account temporarily locked")
)

// loginGuard throttles password attempts: a per IP+email hourly budget, and a temporary
// lock on an email after lockThreshold consecutive failures.
type loginGuard struct {
	store         sessionStore
	perHour       int
	lockThreshold int
	lockTTL       time.Duration
}

func lockKey(email string) string     { return "lock:login:" + email }
func failuresKey(email string) string { return "lock:login:fail:" + email }

// admit charges one attempt. Redis outages let the attempt through.
func (g loginGuard) admit(ctx context.Context, ip, email string, now time.Time) error {
	bucket := "rate:login:" + ip + ":" + email + ":" + now.UTC().Format("2006010215")
	if attempts, err := incrWithTTL(ctx, g.store, bucket, time.Hour); err == nil && attempts > int64(g.perHour) {
		return errLoginRateLimited
	}
	if ttl, err := g.store.TTL(ctx, lockKey(email)).Result(); err == nil && ttl > 0 {
		return errLoginLocked
	}
	return nil
}

func (g loginGuard) recordFailure(ctx context.Context, email string) error {
	failures, err := incrWithTTL(ctx, g.store, failuresKey(email), g.lockTTL)
	if err != nil {
		return err
	}
	if failures < int64(g.lockThreshold) {
		return nil
	}
	return g.store.Set(ctx, lockKey(email), "1", g.lockTTL).Err()
}

func (g loginGuard) reset(ctx context.Context, email string) {
	_ = g.store.Del(ctx, failuresKey(email)).Err()
}

// refreshRevocations remembers rotated or logged-out refresh tokens by jti until they expire.
type refreshRevocations struct {
	store      sessionStore
	defaultTTL time.Duration
}

func revocationKey(jti string) string { return "auth:refresh:blacklist:" + jti }

func (r refreshRevocations) revoked(ctx context.Context, jti string) (bool, error) {
	err := r.store.Get(ctx, revocationKey(jti)).Err()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, redis.Nil):
		return false, nil
	default:
		return false, err
	}
}

func (r refreshRevocations) revoke(ctx context.Context, claims *auth.TokenClaims) error {
	ttl := r.defaultTTL
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return r.store.Set(ctx, revocationKey(claims.ID), "revoked", ttl).Err()
}

func incrWithTTL(ctx context.Context, store sessionStore, key string, ttl time.Duration) (int64, error) {
	count, err := store.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = store.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
