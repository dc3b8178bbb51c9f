package handler

import (
	"net/http"
	"strconv"

	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Serves the caller's own usage. Routes must sit behind RequireTenant.
type UsageHandler struct {
	service *service.UsageService
}

func NewUsageHandler(service *service.UsageService) *UsageHandler {
	return &UsageHandler{service: service}
}

// Handles GET /usage
func (h *UsageHandler) Summary(c *gin.Context) {
	id, ok := tenant.FromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), id.TenantID, id.Plan)
	if err != nil {
		log.WithField("tenant_id", id.TenantID).WithError(err).Error("failed to load usage summary")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// Handles GET /usage/history?months=N
func (h *UsageHandler) History(c *gin.Context) {
	id, ok := tenant.FromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	months := 0
	if monthsStr := c.Query("months"); monthsStr != "" {
		m, err := strconv.Atoi(monthsStr)
		if err != nil || m <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "months must be a positive integer"})
			return
		}
		months = m
	}

	history, err := h.service.History(c.Request.Context(), id.TenantID, months)
	if err != nil {
		log.WithField("tenant_id", id.TenantID).WithError(err).Error("failed to load usage history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage history"})
		return
	}

	c.JSON(http.StatusOK, history)
}

// Handles GET /usage/quotas
func (h *UsageHandler) Quotas(c *gin.Context) {
	id, ok := tenant.FromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	c.JSON(http.StatusOK, h.service.Quotas(c.Request.Context(), id.TenantID, id.Plan))
}

// Handles GET /usage/rate-limit
func (h *UsageHandler) RateLimit(c *gin.Context) {
	id, ok := tenant.FromContext(c)
	if !ok {
		unauthenticated(c)
		return
	}

	c.JSON(http.StatusOK, h.service.RateLimit(c.Request.Context(), id.TenantID, id.Plan))
}

func unauthenticated(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
}
