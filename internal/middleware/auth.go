package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context keys populated by Auth for downstream handlers.
const (
	subjectContextKey = "auth_subject"
	roleContextKey    = "auth_role"
	partyIDContextKey = "auth_party_id"
)

// Caller roles carried in the "role" claim.
const (
	RoleCoordinator = "coordinator"
	RoleStore       = "store"
	RoleCourier     = "courier"
)

// AuthConfig configures the JWT bearer-token middleware.
type AuthConfig struct {
	// Secret is the HMAC key used to verify HS256 signatures.
	Secret []byte

	// PublicPaths lists exact request paths that bypass authentication.
	PublicPaths []string
}

// Auth returns a gin middleware that validates Bearer tokens.
//
// Tokens must be HS256-signed JWTs. On success the subject, role, and
// party_id claims are stored in the gin context for handlers to read via
// GetSubject, GetRole, and GetPartyID. Requests to public paths pass
// through untouched.
func Auth(cfg AuthConfig) gin.HandlerFunc {
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return cfg.Secret, nil
		})
		if err != nil {
			unauthorized(c, "invalid token")
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			unauthorized(c, "token missing subject")
			return
		}
		c.Set(subjectContextKey, sub)

		if role, ok := claims["role"].(string); ok {
			c.Set(roleContextKey, role)
		}
		if partyID, ok := claims["party_id"].(string); ok {
			c.Set(partyIDContextKey, partyID)
		}

		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func unauthorized(c *gin.Context, msg string) {
	c.Abort()
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    http.StatusUnauthorized,
		"message": msg,
		"data":    nil,
	})
}

// GetSubject returns the authenticated subject ID, or "" when unauthenticated.
func GetSubject(c *gin.Context) string {
	return contextString(c, subjectContextKey)
}

// GetRole returns the caller's role claim, or "" when absent.
func GetRole(c *gin.Context) string {
	return contextString(c, roleContextKey)
}

// GetPartyID returns the store or courier ID the caller is scoped to, or "".
func GetPartyID(c *gin.Context) string {
	return contextString(c, partyIDContextKey)
}

func contextString(c *gin.Context, key string) string {
	if v, exists := c.Get(key); exists {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
