package middleware

import (
	"errors"
	"net/http"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/quota"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
)

// RequireQuota checks and counts amount units of usageType before the
// handler runs. Denials use 402 so clients can tell them apart from 429.
func RequireQuota(gate *quota.Gate, usageType models.UsageType, amount int) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := tenant.FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		_, err := gate.Enforce(c.Request.Context(), id.TenantID, id.Plan, usageType, amount, endpointOf(c))
		if err != nil {
			var qe *quota.QuotaExceededError
			if !errors.As(err, &qe) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
				"error":      "Quota exceeded",
				"limit_type": models.LimitTypeQuota,
				"quota_type": qe.UsageType,
				"limit":      qe.Limit,
				"used":       qe.Used,
				"remaining":  0,
				"available":  qe.Available,
			})
			return
		}

		c.Next()
	}
}
