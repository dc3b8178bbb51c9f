package tenant

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"

	SourceAPIKey = "api_key"
	SourceToken  = "token"

	contextKey = "tenant_identity"
)

// Identity is the authenticated billing subject of a request.
type Identity struct {
	TenantID uuid.UUID
	Plan     string
	Role     string
	Source   string
	// Set when the request authenticated with an API key.
	APIKeyID uuid.UUID
}

// Key is the counter identity used by the rate limiter.
func (i *Identity) Key() string {
	return i.TenantID.String()
}

func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IPKey is the counter identity for unauthenticated callers.
func IPKey(addr string) string {
	return "ip:" + addr
}

func Set(c *gin.Context, id *Identity) {
	c.Set(contextKey, id)
}

// FromContext returns the request's identity, if it authenticated.
func FromContext(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok && id != nil
}
