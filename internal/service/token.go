package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aman-churiwal/tenant-admission/internal/tenant"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TenantClaims are issued by the authentication service.
type TenantClaims struct {
	TenantID string `json:"tenant_id"`
	Plan     string `json:"plan"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens. It never issues them.
type TokenVerifier struct {
	jwtSecret []byte
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{jwtSecret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *TokenVerifier) Enabled() bool {
	return len(v.jwtSecret) > 0
}

// Validates a JWT and returns the tenant identity it carries
func (v *TokenVerifier) Verify(tokenString string) (*tenant.Identity, error) {
	if !v.Enabled() {
		return nil, fmt.Errorf("%w: bearer tokens are not configured", ErrInvalidToken)
	}

	var claims TenantClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant_id claim", ErrInvalidToken)
	}

	role := strings.ToLower(claims.Role)
	if role == "" {
		role = tenant.RoleMember
	}

	return &tenant.Identity{
		TenantID: tenantID,
		Plan:     claims.Plan,
		Role:     role,
		Source:   tenant.SourceToken,
	}, nil
}
