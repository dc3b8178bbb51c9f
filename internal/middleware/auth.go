package middleware

import (
	"net/http"
	"strings"

	"github.com/aman-churiwal/tenant-admission/internal/service"
	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const authFailureKey = "auth_failure"

// authFailure is a rejected credential. It is answered after Admission has
// rate limited the request under the caller's IP.
type authFailure struct {
	status  int
	message string
}

func failAuth(c *gin.Context, status int, message string) {
	c.Set(authFailureKey, authFailure{status: status, message: message})
	c.Next()
}

// rejectAuthFailure aborts with a recorded credential failure, if any.
func rejectAuthFailure(c *gin.Context) bool {
	v, ok := c.Get(authFailureKey)
	if !ok {
		return false
	}
	f := v.(authFailure)
	c.AbortWithStatusJSON(f.status, gin.H{
		"error": f.message,
	})
	return true
}

// Authenticate attaches a tenant identity from an API key or a bearer token.
// Requests without credentials continue unauthenticated. Invalid credentials
// are recorded and rejected by Admission once the IP limit has been applied.
func Authenticate(apiKeys *service.APIKeyService, tokens *service.TokenVerifier, apiKeyHeader string) gin.HandlerFunc {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}

	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader(apiKeyHeader)); key != "" {
			authenticateAPIKey(c, apiKeys, key)
			return
		}

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			authenticateToken(c, tokens, authHeader)
			return
		}

		c.Next()
	}
}

func authenticateAPIKey(c *gin.Context, apiKeys *service.APIKeyService, key string) {
	apiKey, err := apiKeys.Validate(c.Request.Context(), key)
	if err != nil {
		log.WithError(err).Error("api key lookup failed")
		failAuth(c, http.StatusServiceUnavailable, "Authentication temporarily unavailable")
		return
	}
	if apiKey == nil {
		failAuth(c, http.StatusUnauthorized, "Invalid API key")
		return
	}

	tenant.Set(c, &tenant.Identity{
		TenantID: apiKey.TenantID,
		Plan:     apiKey.Plan,
		Role:     tenant.RoleMember,
		Source:   tenant.SourceAPIKey,
		APIKeyID: apiKey.ID,
	})

	apiKeys.UpdateLastUsed(apiKey.ID)

	c.Next()
}

func authenticateToken(c *gin.Context, tokens *service.TokenVerifier, authHeader string) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		failAuth(c, http.StatusUnauthorized, "Invalid authorization header format. Use: Bearer <token>")
		return
	}

	if tokens == nil || !tokens.Enabled() {
		failAuth(c, http.StatusUnauthorized, "Bearer tokens are not accepted")
		return
	}

	id, err := tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		failAuth(c, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	tenant.Set(c, id)
	c.Next()
}

// RequireTenant rejects requests that did not authenticate.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rejectAuthFailure(c) {
			return
		}
		if _, ok := tenant.FromContext(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rejectAuthFailure(c) {
			return
		}
		id, ok := tenant.FromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		if !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Admin role required",
			})
			return
		}
		c.Next()
	}
}
