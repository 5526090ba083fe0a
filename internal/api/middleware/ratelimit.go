package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/skybattle/matchmaking-service/pkg/logger"
	"github.com/skybattle/matchmaking-service/pkg/ratelimit"
)

// KeyFunc rate limit 키 추출
type KeyFunc func(*gin.Context) string

// PlayerKeyFunc 인증된 플레이어 ID 기준, 없으면 IP
func PlayerKeyFunc(c *gin.Context) string {
	if playerID, ok := PlayerID(c); ok {
		return "player:" + playerID
	}
	return "ip:" + c.ClientIP()
}

// RateLimit limiter 판정에 따라 429를 반환한다.
// limiter 오류 시에는 요청을 통과시킨다 (fail-open).
func RateLimit(limiter ratelimit.Limiter, scope string, keyFunc KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = PlayerKeyFunc
	}

	return func(c *gin.Context) {
		key := scope + ":" + keyFunc(c)

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("Rate limiter unavailable, allowing request",
				"key", key,
				"error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "RATE_LIMITED",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}
