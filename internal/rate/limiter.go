package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters.
type Config struct {
	EnableChallengeThrottle bool
	MaxChallenges           int
	ChallengeWindow         time.Duration
	EnableOpenThrottle      bool
	MaxOpens                int
	OpenWindow              time.Duration
}

// Limiter enforces per-user limits on challenge issuance and transaction
// opening using Redis counters.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckChallenge counts one challenge issuance for userID and fails once the
// window budget is spent. Every call counts, including rejected ones.
func (l *Limiter) CheckChallenge(ctx context.Context, userID string) error {
	if !l.config.EnableChallengeThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, challengeKey(userID), l.config.ChallengeWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxChallenges) {
		return ErrRateLimited
	}

	return nil
}

// CheckOpen counts one transaction opening for userID.
func (l *Limiter) CheckOpen(ctx context.Context, userID string) error {
	if !l.config.EnableOpenThrottle {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, openKey(userID), l.config.OpenWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxOpens) {
		return ErrRateLimited
	}

	return nil
}

// ChallengeCount returns the challenges issued to userID in the current
// window. Missing keys return zero.
func (l *Limiter) ChallengeCount(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, challengeKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears both counters for userID.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, challengeKey(userID), openKey(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
