package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds the configuration for the CORS middleware.
//
// There is no credentials setting: authentication is a Bearer token in the
// Authorization header, so cookie-credentialed CORS never applies here.
type CORSConfig struct {
	// AllowOrigins lists origins permitted to make cross-origin requests.
	// ["*"] allows all origins (the debug-mode default).
	AllowOrigins []string

	// AllowMethods lists the HTTP methods permitted cross-origin.
	AllowMethods []string

	// AllowHeaders lists the request headers permitted cross-origin.
	AllowHeaders []string

	// MaxAge is how long (in seconds) a preflight result may be cached.
	MaxAge string
}

// DefaultCORSConfig describes what the API actually serves: the service
// routes' methods and the headers the mobile client sends.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		MaxAge:       "86400",
	}
}

// CORS returns a gin middleware handling Cross-Origin Resource Sharing with
// the permissive development defaults.
func CORS() gin.HandlerFunc {
	return CORSWithConfig(DefaultCORSConfig())
}

// CORSWithConfig returns a gin middleware handling Cross-Origin Resource
// Sharing using the provided configuration. Requests from origins outside the
// allowlist pass through without CORS headers; the browser enforces the rest.
func CORSWithConfig(cfg CORSConfig) gin.HandlerFunc {
	wildcard := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			// Same-origin or non-browser caller.
			c.Next()
			return
		}

		// Caches must differentiate responses by Origin once CORS is active.
		c.Writer.Header().Add("Vary", "Origin")

		switch {
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case originAllowed(cfg.AllowOrigins, origin):
			c.Header("Access-Control-Allow-Origin", origin)
		default:
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Methods", allowMethods)
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Max-Age", cfg.MaxAge)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed checks whether the given origin is in the allowed list.
func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
