package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/config"
	"github.com/aman-churiwal/tenant-admission/internal/metrics"
	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/plans"
	"github.com/aman-churiwal/tenant-admission/internal/quota"
	"github.com/aman-churiwal/tenant-admission/internal/ratelimit"
	"github.com/aman-churiwal/tenant-admission/internal/repository"
	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret"

type harness struct {
	router  *gin.Engine
	db      *storage.Database
	tracker *quota.Tracker
	usage   *repository.UsageRepository
	events  *repository.EventRepository
	apiKeys *service.APIKeyService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:middleware_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := storage.NewDatabase(dsn)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	// Halfway through a window with an empty previous bucket.
	fixed := time.Date(2026, 3, 10, 12, 0, 30, 0, time.UTC)
	now := func() time.Time { return fixed }
	store := storage.NewMemoryStoreWithClock(now)

	m := metrics.NewUnregistered()
	limiter := ratelimit.NewService(ratelimit.NewSlidingWindowLimiter(store, time.Minute, now), nil, m)
	paths := ratelimit.NewPathTable([]config.PathLimitConfig{{Prefix: "/api/v1/audits", Limit: 10}})

	table := plans.DefaultTable()
	resolver := plans.NewResolver(table, repository.NewOverrideRepository(db), store)

	usage := repository.NewUsageRepository(db)
	events := repository.NewEventRepository(db)
	tracker := quota.NewTracker(usage, events, m, quota.Config{})
	gate := quota.NewGate(resolver, tracker)

	apiKeys := service.NewAPIKeyService(repository.NewAPIKeyRepository(db), store, table)

	router := gin.New()
	router.Use(Recovery())
	router.Use(RequestID())
	router.Use(Logger())
	router.Use(Metrics(m))
	router.Use(Authenticate(apiKeys, service.NewTokenVerifier(testSecret), "X-API-Key"))
	router.Use(Admission(limiter, paths, resolver, tracker, AdmissionConfig{
		ExemptPaths:          []string{"/health"},
		ExemptPrefixes:       []string{"/static/"},
		UnauthenticatedLimit: 20,
	}))

	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	router.GET("/health", ok)
	router.GET("/static/app.js", ok)
	router.GET("/api/v1/projects", ok)
	router.POST("/api/v1/audits/run", RequireQuota(gate, models.UsageAuditRun, 1), ok)
	router.GET("/admin", RequireAdmin(), ok)
	router.GET("/me", RequireTenant(), func(c *gin.Context) {
		id, _ := tenant.FromContext(c)
		c.JSON(http.StatusOK, gin.H{"tenant_id": id.TenantID, "source": id.Source})
	})
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracker.Flush(ctx)
	})

	return &harness{
		router:  router,
		db:      db,
		tracker: tracker,
		usage:   usage,
		events:  events,
		apiKeys: apiKeys,
	}
}

func bearer(t *testing.T, tenantID uuid.UUID, plan, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, service.TenantClaims{
		TenantID: tenantID.String(),
		Plan:     plan,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func (h *harness) do(method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.tracker.Flush(ctx))
}

func TestAdmissionDeniesAfterPlanLimit(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()
	auth := map[string]string{"Authorization": bearer(t, tenantID, plans.PlanFree, tenant.RoleMember)}

	for i := 1; i <= 60; i++ {
		w := h.do(http.MethodGet, "/api/v1/projects", auth)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(60-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := h.do(http.MethodGet, "/api/v1/projects", auth)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))

	body := decode(t, w)
	assert.Equal(t, "rate", body["limit_type"])
	assert.EqualValues(t, 60, body["limit"])
	assert.EqualValues(t, 0, body["remaining"])
	assert.EqualValues(t, 30, body["retry_after"])

	h.flush(t)
	row, err := h.usage.Get(context.Background(), tenantID, h.tracker.CurrentMonth())
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.EqualValues(t, 60, row.APICalls)

	events, total, err := h.events.List(context.Background(), repository.EventFilter{
		TenantID:  tenantID,
		LimitType: models.LimitTypeRate,
		From:      time.Now().UTC().Add(-time.Hour),
		To:        time.Now().UTC().Add(time.Hour),
		Limit:     10,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, events, 1)
	assert.Equal(t, "/api/v1/projects", events[0].Endpoint)
	assert.EqualValues(t, 60, events[0].LimitValue)
	assert.EqualValues(t, 60, events[0].CurrentValue)
}

func TestAdmissionUnauthenticatedUsesIPLimit(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 20; i++ {
		w := h.do(http.MethodGet, "/api/v1/projects", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	}

	w := h.do(http.MethodGet, "/api/v1/projects", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Unauthenticated callers never reach the ledger.
	h.flush(t)
	events, total, err := h.events.List(context.Background(), repository.EventFilter{
		From:  time.Now().UTC().Add(-time.Hour),
		To:    time.Now().UTC().Add(time.Hour),
		Limit: 10,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, events)

	var rows int64
	require.NoError(t, h.db.DB.Model(&models.MonthlyUsage{}).Count(&rows).Error)
	assert.Zero(t, rows)
}

func TestAdmissionLimitsRejectedCredentialsByIP(t *testing.T) {
	h := newHarness(t)

	for i := 1; i <= 20; i++ {
		w := h.do(http.MethodGet, "/api/v1/projects", map[string]string{"X-API-Key": fmt.Sprintf("guess-%d", i)})
		require.Equal(t, http.StatusUnauthorized, w.Code, "request %d", i)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, fmt.Sprint(20-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "Invalid API key", decode(t, w)["error"])
	}

	for i := 21; i <= 25; i++ {
		w := h.do(http.MethodGet, "/api/v1/projects", map[string]string{"X-API-Key": fmt.Sprintf("guess-%d", i)})
		require.Equal(t, http.StatusTooManyRequests, w.Code, "request %d", i)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	}

	// Bad bearer tokens share the same IP bucket.
	w := h.do(http.MethodGet, "/me", map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Exempt paths ignore the credential entirely.
	w = h.do(http.MethodGet, "/health", map[string]string{"X-API-Key": "guess-26"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestAdmissionRejectsBadBearerWithHeaders(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/v1/projects", map[string]string{"Authorization": "Bearer junk"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid or expired token", decode(t, w)["error"])
	assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
}

func TestAdmissionSkipsExemptPaths(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 30; i++ {
		w := h.do(http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}

	w := h.do(http.MethodGet, "/static/app.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestAdmissionScalesCustomPathByPlan(t *testing.T) {
	h := newHarness(t)
	auth := map[string]string{"Authorization": bearer(t, uuid.New(), plans.PlanPro, tenant.RoleMember)}

	w := h.do(http.MethodPost, "/api/v1/audits/run", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "40", w.Header().Get("X-RateLimit-Limit"))

	w = h.do(http.MethodGet, "/api/v1/projects", auth)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
}

func TestRequireQuotaReturnsPaymentRequired(t *testing.T) {
	h := newHarness(t)
	auth := map[string]string{"Authorization": bearer(t, uuid.New(), plans.PlanFree, tenant.RoleMember)}

	for i := 0; i < 5; i++ {
		w := h.do(http.MethodPost, "/api/v1/audits/run", auth)
		require.Equal(t, http.StatusOK, w.Code, "audit %d", i+1)
	}

	w := h.do(http.MethodPost, "/api/v1/audits/run", auth)
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	body := decode(t, w)
	assert.Equal(t, "quota", body["limit_type"])
	assert.Equal(t, "audit_run", body["quota_type"])
	assert.EqualValues(t, 5, body["limit"])
	assert.EqualValues(t, 5, body["used"])
	assert.EqualValues(t, 0, body["remaining"])
	assert.EqualValues(t, 0, body["available"])
}

func TestRequireQuotaWithoutTenant(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/v1/audits/run", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateAPIKey(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()

	key, _, err := h.apiKeys.Create(context.Background(), "ci", "ops", tenantID, plans.PlanPro)
	require.NoError(t, err)

	w := h.do(http.MethodGet, "/me", map[string]string{"X-API-Key": key})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, tenantID.String(), body["tenant_id"])
	assert.Equal(t, tenant.SourceAPIKey, body["source"])
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))

	w = h.do(http.MethodGet, "/me", map[string]string{"X-API-Key": "tk_nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/me", map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/me", map[string]string{"Authorization": "Basic dXNlcjpwdw=="})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	h := newHarness(t)
	tenantID := uuid.New()

	w := h.do(http.MethodGet, "/admin", map[string]string{"Authorization": bearer(t, tenantID, plans.PlanFree, tenant.RoleMember)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodGet, "/admin", map[string]string{"Authorization": bearer(t, tenantID, plans.PlanFree, tenant.RoleAdmin)})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/panic", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = h.do(http.MethodGet, "/health", map[string]string{RequestIDHeader: "req-123"})
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
}
