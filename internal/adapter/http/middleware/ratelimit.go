package middleware

import (
	"strconv"

	"payment-gateway-core/internal/service"
	"payment-gateway-core/pkg/apperror"
	"payment-gateway-core/pkg/response"

	"github.com/gin-gonic/gin"
)

// RateLimit enforces a named policy per caller. Authenticated requests
// are keyed by team slug; everything else by client IP. Run after
// TokenAuth so a team hitting its limit cannot shift the budget by
// rotating addresses.
func RateLimit(limiter *service.RateLimiter, policy string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if slug := c.GetString(CtxTeamSlug); slug != "" {
			identifier = "team:" + slug
		}

		decision := limiter.Check(policy, identifier)
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.Writer.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			response.Error(c, apperror.ErrRateLimited(decision.RetryAfter))
			c.Abort()
			return
		}
		c.Next()
	}
}
