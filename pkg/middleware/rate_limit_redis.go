package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/carbontrail/carbontrail/backend/go-services/pkg/logger"
	"github.com/carbontrail/carbontrail/backend/go-services/pkg/metrics"
)

// RateLimit describes one limiter. Scope keeps the counters of limiters
// sharing a Redis apart.
type RateLimit struct {
	Scope  string
	RPS    float64
	Burst  int
	Window time.Duration
}

// RedisRateLimitMiddleware is a fixed-window limiter shared by every replica.
// Each window allows floor(RPS*window)+Burst requests per key.
func RedisRateLimitMiddleware(client *redis.Client, rl RateLimit) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rl.RPS, rl.Burst)
	}
	windowSeconds := int64(rl.Window / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	allowed := int64(rl.RPS*float64(windowSeconds)) + int64(rl.Burst)
	scope := rl.Scope
	if scope == "" {
		scope = "global"
	}
	retryAfter := strconv.FormatInt(windowSeconds, 10)

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		bucket := time.Now().Unix() / windowSeconds
		key := fmt.Sprintf("rl:%s:%s:%d", scope, rateLimitKey(c), bucket)

		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, time.Duration(windowSeconds+1)*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Errorf("rate limit: redis counter %s failed: %v", key, err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"code": "rate_limit_unavailable", "message": "Rate limit check failed"})
			return
		}
		if incr.Val() > allowed {
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			abortRateLimited(c, retryAfter)
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
