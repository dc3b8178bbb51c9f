package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/aman-churiwal/tenant-admission/internal/repository"
	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type AdminHandler struct {
	service *service.UsageService
	apiKeys *service.APIKeyService
}

func NewAdminHandler(service *service.UsageService, apiKeys *service.APIKeyService) *AdminHandler {
	return &AdminHandler{
		service: service,
		apiKeys: apiKeys,
	}
}

func parseTenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant ID"})
		return uuid.Nil, false
	}
	return id, true
}

// Handles GET /usage/tenants/:id?plan=
//
// Without ?plan= the plan comes from the tenant's newest active API key,
// falling back to free.
func (h *AdminHandler) GetTenant(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}
	plan, err := h.tenantPlan(c, tenantID)
	if err != nil {
		log.WithField("tenant_id", tenantID).WithError(err).Error("failed to look up tenant plan")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	detail, err := h.service.TenantDetail(c.Request.Context(), tenantID, plan)
	if err != nil {
		log.WithField("tenant_id", tenantID).WithError(err).Error("failed to load tenant detail")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load tenant"})
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (h *AdminHandler) tenantPlan(c *gin.Context, tenantID uuid.UUID) (string, error) {
	if plan := c.Query("plan"); plan != "" {
		return plan, nil
	}
	if h.apiKeys != nil {
		plan, err := h.apiKeys.TenantPlan(c.Request.Context(), tenantID)
		if err != nil {
			return "", err
		}
		if plan != "" {
			return plan, nil
		}
	}
	return plans.PlanFree, nil
}

// Handles PATCH /usage/tenants/:id/quotas
//
// Only fields present in the body change. An explicit null clears the field
// back to the plan default.
func (h *AdminHandler) UpdateQuotas(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}

	var patch map[string]*int
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	override, err := h.service.UpdateOverride(c.Request.Context(), tenantID, patch)
	if err != nil {
		var verr *plans.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
			return
		}
		log.WithField("tenant_id", tenantID).WithError(err).Error("failed to update quota override")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update quotas"})
		return
	}

	c.JSON(http.StatusOK, override)
}

// Handles DELETE /usage/tenants/:id/quotas
func (h *AdminHandler) ResetQuotas(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}

	if err := h.service.ResetOverride(c.Request.Context(), tenantID); err != nil {
		log.WithField("tenant_id", tenantID).WithError(err).Error("failed to reset quota override")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset quotas"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Quotas reset to plan defaults"})
}

// Handles GET /usage/tenants/:id/events
func (h *AdminHandler) ListEvents(c *gin.Context) {
	tenantID, ok := parseTenantID(c)
	if !ok {
		return
	}

	from, to, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Parse pagination
	limit := 100
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	limitType := c.Query("type")
	if limitType != "" && limitType != models.LimitTypeRate && limitType != models.LimitTypeQuota {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be rate or quota"})
		return
	}

	events, total, err := h.service.Events(c.Request.Context(), repository.EventFilter{
		TenantID:  tenantID,
		LimitType: limitType,
		From:      from,
		To:        to,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		log.WithField("tenant_id", tenantID).WithError(err).Error("failed to list events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Parses 'from' and 'to' query parameters. Zero values are left for the
// service to default.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	var from, to time.Time

	if fromStr := c.Query("from"); fromStr != "" {
		parsed, err := parseTime(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}

	if toStr := c.Query("to"); toStr != "" {
		parsed, err := parseTime(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed
	}

	return from, to, nil
}

// Accepts RFC3339 or a Unix timestamp
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t.UTC(), nil
	}
	if timestamp, perr := strconv.ParseInt(s, 10, 64); perr == nil {
		return time.Unix(timestamp, 0).UTC(), nil
	}
	return time.Time{}, err
}
