package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/quota"
	"github.com/aman-churiwal/tenant-admission/internal/ratelimit"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type AdmissionConfig struct {
	ExemptPaths          []string
	ExemptPrefixes       []string
	UnauthenticatedLimit int
}

// Admission rate limits every request and counts one api_call for
// authenticated tenants. It must run after Authenticate.
//
// Unauthenticated callers are limited per client IP under a flat limit and
// are never quota tracked. Requests whose credentials failed count as
// unauthenticated and are rejected only after the IP limit is applied.
// Exempt paths ignore credential failures.
func Admission(limiter *ratelimit.Service, paths *ratelimit.PathTable, resolver quota.QuotaResolver, tracker *quota.Tracker, cfg AdmissionConfig) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, p := range cfg.ExemptPaths {
		exempt[p] = struct{}{}
	}
	isExempt := func(path string) bool {
		if _, ok := exempt[path]; ok {
			return true
		}
		for _, prefix := range cfg.ExemptPrefixes {
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if isExempt(path) {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		var (
			key   string
			limit int
			class string
		)
		id, authenticated := tenant.FromContext(c)
		if authenticated {
			q, err := resolver.ResolveForTenant(ctx, id.TenantID, id.Plan)
			if err != nil {
				log.WithField("tenant_id", id.TenantID).WithError(err).Warn("quota override lookup failed, using plan defaults")
			}
			key = id.Key()
			limit, class = paths.Resolve(path, q.RateLimitPerMinute, q.PathMultiplier)
		} else {
			key = tenant.IPKey(c.ClientIP())
			limit = cfg.UnauthenticatedLimit
			class = ratelimit.DefaultClass
		}

		decision, err := limiter.Check(ctx, key, class, limit)
		setRateLimitHeaders(c, decision)

		if err != nil {
			retryAfter := 1
			if decision.RetryAfter != nil {
				retryAfter = *decision.RetryAfter
			}
			if authenticated {
				tracker.RecordRateLimitDenial(ctx, id.TenantID, endpointOf(c), limit, decision.Current, class)
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"limit_type":  models.LimitTypeRate,
				"limit":       decision.Limit,
				"remaining":   0,
				"retry_after": retryAfter,
			})
			return
		}

		if rejectAuthFailure(c) {
			return
		}

		if authenticated {
			tracker.IncrementUsage(id.TenantID, models.UsageAPICall, 1, endpointOf(c))
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// endpointOf is the route template, so breakdown keys stay bounded.
func endpointOf(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unmatched"
}
