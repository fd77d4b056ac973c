// Package ratelimit throttles the public API using a Redis-backed limiter.
package ratelimit

import (
	"fmt"
	"net/http"

	limiter "github.com/ulule/limiter/v3"
	mhttp "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	redis "github.com/redis/go-redis/v9"
)

// New builds an http middleware enforcing rate, a limiter format string such
// as "60-M" (60 requests per minute), keyed by client IP.
func New(rdb *redis.Client, rate string) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix: "ratelimit:gateway",
	})
	if err != nil {
		return nil, fmt.Errorf("limiter store: %w", err)
	}
	instance := limiter.New(store, parsed, limiter.WithTrustForwardHeader(true))
	middleware := mhttp.NewMiddleware(instance)
	return middleware.Handler, nil
}
