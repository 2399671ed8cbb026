package httpserver

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/pscheid92/activitypulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter gives every producer address its own token bucket. A denied dispatch gets a
// structured 429 whose Retry-After is the time one token takes to refill.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	retryAfter := refillSeconds(ratePerSecond)

	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return apperrors.RateLimitedError("dispatch rate limit exceeded").
				WithContext("producer", identifier).
				WithContext("retry_after_seconds", retryAfter)
		},
	})
}

// refillSeconds rounds up and never drops below one second.
func refillSeconds(ratePerSecond float64) int {
	if ratePerSecond <= 0 || ratePerSecond >= 1 {
		return 1
	}
	return int(math.Ceil(1 / ratePerSecond))
}
