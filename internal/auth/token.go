// Package auth implements the multi-tenant auth gate: HMAC-signed bearer
// tokens binding every request to an (agent_id, org_id) pair, and the gin
// middleware that enforces them.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// clockSkew is the leeway allowed when checking token expiry.
const clockSkew = 10 * time.Second

// Claims are the JWT claims carried by a gateway bearer token.
type Claims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
}

// Context is the request-scoped identity derived from a verified token.
type Context struct {
	AgentID string
	OrgID   string
}

// TokenIssuer issues and verifies bearer tokens signed with HS256.
// The secret is process-wide, loaded once at startup.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer. A missing secret is a configuration
// error: the gateway must refuse to serve rather than run unauthenticated.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// Issue creates a signed bearer token for the given agent identity.
func (t *TokenIssuer) Issue(agentID, orgID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
		AgentID: agentID,
		OrgID:   orgID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a bearer token, returning its claims.
// Expiry is checked with 10 seconds of clock-skew leeway.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.AgentID == "" || claims.OrgID == "" {
		return nil, fmt.Errorf("token missing agent_id or org_id")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// GenerateSecret returns a fresh 256-bit signing secret, URL-safe base64.
// Used by key provisioning tooling; the gateway itself never mints secrets.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
