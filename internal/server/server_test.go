package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/aman-churiwal/tenant-admission/internal/config"
	"github.com/aman-churiwal/tenant-admission/internal/models"
	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/aman-churiwal/tenant-admission/internal/storage"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "server-test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, configure func(*config.Config)) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	cfg.Auth.JWTSecret = secret
	if configure != nil {
		configure(cfg)
	}

	dsn := fmt.Sprintf("file:server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := storage.NewDatabase(dsn)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate())
	t.Cleanup(func() { db.Close() })

	s, err := New(cfg, storage.NewMemoryStore(), db)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.tracker.Flush(ctx)
	})
	s.GetRouter().POST("/api/v1/audits", s.Metered(models.UsageAuditRun, 1), func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})
	return s
}

func token(t *testing.T, tenantID uuid.UUID, plan, role string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, service.TenantClaims{
		TenantID: tenantID.String(),
		Plan:     plan,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return "Bearer " + signed
}

type request struct {
	method       string
	path         string
	auth         string
	apiKey       string
	forwardedFor string
	body         interface{}
}

func (s *Server) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	req := httptest.NewRequest(r.method, r.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if r.auth != "" {
		req.Header.Set("Authorization", r.auth)
	}
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}
	if r.forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", r.forwardedFor)
	}
	w := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(w, req)
	return w
}

func decodeInto(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndMetricsAreExempt(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, request{method: http.MethodGet, path: "/health"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))

	var health struct {
		Status string `json:"status"`
		Checks []struct {
			Name    string `json:"name"`
			Healthy bool   `json:"healthy"`
		} `json:"checks"`
	}
	decodeInto(t, w, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Checks, 2)

	w = s.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admission_http_requests_total")
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	s := newTestServer(t)

	for i := 1; i <= 20; i++ {
		w := s.do(t, request{method: http.MethodGet, path: "/usage", forwardedFor: fmt.Sprintf("203.0.113.%d", i)})
		require.Equal(t, http.StatusUnauthorized, w.Code, "request %d", i)
		assert.Equal(t, "20", w.Header().Get("X-RateLimit-Limit"))
	}

	w := s.do(t, request{method: http.MethodGet, path: "/usage", forwardedFor: "203.0.113.21"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestForwardedForHonoredFromTrustedProxy(t *testing.T) {
	// httptest requests arrive from 192.0.2.1.
	s := newTestServerWith(t, func(cfg *config.Config) {
		cfg.Server.TrustedProxies = []string{"192.0.2.1"}
	})

	for i := 1; i <= 25; i++ {
		w := s.do(t, request{method: http.MethodGet, path: "/usage", forwardedFor: fmt.Sprintf("203.0.113.%d", i)})
		require.Equal(t, http.StatusUnauthorized, w.Code, "request %d", i)
		assert.Equal(t, "19", w.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestNewRejectsInvalidTrustedProxy(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	cfg.Server.TrustedProxies = []string{"not-an-ip"}

	s, err := New(cfg, storage.NewMemoryStore(), nil)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestUsageEndpoints(t *testing.T) {
	s := newTestServer(t)
	auth := token(t, uuid.New(), "pro", tenant.RoleMember)

	w := s.do(t, request{method: http.MethodGet, path: "/usage", auth: auth})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))

	var summary map[string]interface{}
	decodeInto(t, w, &summary)
	assert.Equal(t, time.Now().UTC().Format("2006-01"), summary["period"])
	assert.Contains(t, summary, "usage")
	assert.Contains(t, summary, "rate_limit")

	w = s.do(t, request{method: http.MethodGet, path: "/usage/quotas", auth: auth})
	require.Equal(t, http.StatusOK, w.Code)
	var quotas map[string]interface{}
	decodeInto(t, w, &quotas)
	assert.EqualValues(t, 120, quotas["rate_limit_per_minute"])

	w = s.do(t, request{method: http.MethodGet, path: "/usage/rate-limit", auth: auth})
	require.Equal(t, http.StatusOK, w.Code)
	var rl map[string]interface{}
	decodeInto(t, w, &rl)
	assert.EqualValues(t, 120, rl["limit"])

	w = s.do(t, request{method: http.MethodGet, path: "/usage/history?months=3", auth: auth})
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]interface{}
	decodeInto(t, w, &history)
	assert.Len(t, history, 3)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/history?months=abc", auth: auth})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOverrideLifecycleDrivesQuotaGate(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()
	admin := token(t, uuid.New(), "enterprise", tenant.RoleAdmin)
	member := token(t, tenantID, "free", tenant.RoleMember)
	quotasPath := "/usage/tenants/" + tenantID.String() + "/quotas"

	w := s.do(t, request{method: http.MethodPatch, path: quotasPath, auth: admin, body: map[string]interface{}{"monthly_audits": 2}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, request{method: http.MethodGet, path: "/usage/quotas", auth: member})
	var quotas map[string]interface{}
	decodeInto(t, w, &quotas)
	assert.EqualValues(t, 2, quotas["monthly_audits"])
	assert.EqualValues(t, 500, quotas["monthly_crawl_pages"])

	for i := 0; i < 2; i++ {
		w = s.do(t, request{method: http.MethodPost, path: "/api/v1/audits", auth: member})
		require.Equal(t, http.StatusAccepted, w.Code)
	}
	w = s.do(t, request{method: http.MethodPost, path: "/api/v1/audits", auth: member})
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/tenants/" + tenantID.String() + "/events?type=quota", auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var events struct {
		Total int64 `json:"total"`
	}
	decodeInto(t, w, &events)
	assert.EqualValues(t, 1, events.Total)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/tenants/" + tenantID.String() + "?plan=free", auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var detail map[string]interface{}
	decodeInto(t, w, &detail)
	assert.NotNil(t, detail["override"])

	w = s.do(t, request{method: http.MethodDelete, path: quotasPath, auth: admin})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/quotas", auth: member})
	decodeInto(t, w, &quotas)
	assert.EqualValues(t, 5, quotas["monthly_audits"])
}

func TestTenantDetailUsesPlanOfActiveKey(t *testing.T) {
	s := newTestServer(t)
	tenantID := uuid.New()
	admin := token(t, uuid.New(), "enterprise", tenant.RoleAdmin)
	path := "/usage/tenants/" + tenantID.String()

	w := s.do(t, request{method: http.MethodGet, path: path, auth: admin})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var detail struct {
		Plan   string `json:"plan"`
		Quotas struct {
			RateLimitPerMinute int `json:"rate_limit_per_minute"`
		} `json:"quotas"`
	}
	decodeInto(t, w, &detail)
	assert.Equal(t, "free", detail.Plan)
	assert.Equal(t, 60, detail.Quotas.RateLimitPerMinute)

	_, _, err := s.apiKeys.Create(context.Background(), "ci", "ops", tenantID, "pro")
	require.NoError(t, err)

	w = s.do(t, request{method: http.MethodGet, path: path, auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &detail)
	assert.Equal(t, "pro", detail.Plan)
	assert.Equal(t, 120, detail.Quotas.RateLimitPerMinute)

	w = s.do(t, request{method: http.MethodGet, path: path + "?plan=enterprise", auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	decodeInto(t, w, &detail)
	assert.Equal(t, "enterprise", detail.Plan)
}

func TestOverridePatchValidation(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, uuid.New(), "enterprise", tenant.RoleAdmin)
	path := "/usage/tenants/" + uuid.NewString() + "/quotas"

	w := s.do(t, request{method: http.MethodPatch, path: path, auth: admin, body: map[string]interface{}{"monthly_audits": -1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, request{method: http.MethodPatch, path: path, auth: admin, body: map[string]interface{}{"monthly_bananas": 3}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, request{method: http.MethodPatch, path: path, auth: admin, body: map[string]interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, request{method: http.MethodPatch, path: "/usage/tenants/not-a-uuid/quotas", auth: admin, body: map[string]interface{}{"monthly_audits": 1}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	member := token(t, uuid.New(), "pro", tenant.RoleMember)

	w := s.do(t, request{method: http.MethodGet, path: "/usage/tenants/" + uuid.NewString(), auth: member})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/admin/keys"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, uuid.New(), "enterprise", tenant.RoleAdmin)
	tenantID := uuid.New()

	w := s.do(t, request{method: http.MethodPost, path: "/usage/admin/keys", auth: admin, body: map[string]string{
		"name":      "crawler",
		"tenant_id": tenantID.String(),
		"plan":      "pro",
	}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Key    string `json:"key"`
		APIKey struct {
			ID string `json:"id"`
		} `json:"api_key"`
	}
	decodeInto(t, w, &created)
	require.NotEmpty(t, created.Key)

	w = s.do(t, request{method: http.MethodGet, path: "/usage", apiKey: created.Key})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage/admin/keys?tenant_id=" + tenantID.String(), auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var keys []map[string]interface{}
	decodeInto(t, w, &keys)
	assert.Len(t, keys, 1)

	w = s.do(t, request{method: http.MethodDelete, path: "/usage/admin/keys/" + created.APIKey.ID, auth: admin})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/usage", apiKey: created.Key})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, request{method: http.MethodPost, path: "/usage/admin/keys", auth: admin, body: map[string]string{
		"name":      "bad",
		"tenant_id": tenantID.String(),
		"plan":      "platinum",
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := token(t, uuid.New(), "enterprise", tenant.RoleAdmin)

	w := s.do(t, request{method: http.MethodGet, path: "/usage/admin/breaker", auth: admin})
	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]interface{}
	decodeInto(t, w, &status)
	assert.Equal(t, "closed", status["state"])

	w = s.do(t, request{method: http.MethodPost, path: "/usage/admin/breaker/reset", auth: admin})
	assert.Equal(t, http.StatusOK, w.Code)
}
