package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck is one named dependency probe. A nil error means healthy.
type HealthCheck struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// HealthCheckHandler reports service and dependency health.
// GET /health
func HealthCheckHandler(checks ...HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		status := "ok"
		code := http.StatusOK
		deps := make(gin.H, len(checks))
		for _, check := range checks {
			if err := check.Check(ctx); err != nil {
				deps[check.Name] = err.Error()
				if check.Required {
					status = "degraded"
					code = http.StatusServiceUnavailable
				}
				continue
			}
			deps[check.Name] = "ok"
		}

		c.JSON(code, gin.H{
			"status":       status,
			"service":      "defeatthememe-backend",
			"dependencies": deps,
		})
	}
}

// PingHandler GET /ping
func PingHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
