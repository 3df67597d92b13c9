package handler

import (
	"context"
	"net/http"
	"time"

	"payment-gateway-core/internal/core/ports"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes every dependency and reports per-check status.
// Any failing check turns the response into a 503.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(checkers))
		for _, checker := range checkers {
			if err := checker.Check(ctx); err != nil {
				checks[checker.Name()] = "unhealthy: " + err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[checker.Name()] = "healthy"
		}

		overall := "healthy"
		if status != http.StatusOK {
			overall = "unhealthy"
		}
		c.JSON(status, gin.H{"status": overall, "checks": checks})
	}
}
