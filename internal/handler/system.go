package handler

import (
	"net/http"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/circuitbreaker"
	"github.com/aman-churiwal/tenant-admission/internal/healthcheck"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handles health and counter store breaker endpoints
type SystemHandler struct {
	checker *healthcheck.Checker
	breaker *circuitbreaker.CircuitBreaker
	started time.Time
}

func NewSystemHandler(checker *healthcheck.Checker, breaker *circuitbreaker.CircuitBreaker) *SystemHandler {
	return &SystemHandler{
		checker: checker,
		breaker: breaker,
		started: time.Now(),
	}
}

// Handles GET /health. Only an unhealthy required dependency yields 503;
// a lost counter store degrades rate limiting but admission continues.
func (h *SystemHandler) Health(c *gin.Context) {
	overall := h.checker.OverallHealth()

	statusCode := http.StatusOK
	if overall == healthcheck.Unhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "tenant-admission",
		"uptime":    time.Since(h.started).Seconds(),
		"timestamp": time.Now().Unix(),
		"checks":    h.checker.GetAllStatus(),
	})
}

// Returns the state of the counter store circuit breaker
func (h *SystemHandler) CircuitBreakerStatus(c *gin.Context) {
	metrics := h.breaker.Metrics()

	c.JSON(http.StatusOK, gin.H{
		"state":             metrics.State.String(),
		"failure_count":     metrics.FailureCount,
		"success_count":     metrics.SuccessCount,
		"last_failure_time": metrics.LastFailureTime,
		"last_state_change": metrics.LastStateChange,
	})
}

// Manually closes the counter store circuit breaker
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	h.breaker.Reset()
	log.Info("counter store circuit breaker reset manually")

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"state":   h.breaker.State().String(),
	})
}
