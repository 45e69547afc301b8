package rate

import "errors"

var (
	// ErrRateLimited is returned once a per-user window budget is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps counter backend failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
