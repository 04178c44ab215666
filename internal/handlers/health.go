package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/monitoring"
	"github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/response"
)

// Health reports readiness of the registered dependencies.
func Health(manager *monitoring.HealthManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := manager.Evaluate(requestContext(c))
		if !report.Success {
			response.Error(c, errors.New("SERVICE_UNAVAILABLE", "dependency unavailable", http.StatusServiceUnavailable).
				WithDetails(map[string]any{"status": report.Status, "checks": report.Checks}))
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}
