package middleware

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/simp-lee/logger"
)

const (
	requestIDHeader     = "X-Request-ID"
	requestIDContextKey = "request_id"
)

var requestIDFallbackCounter atomic.Uint64

// RequestID assigns a fresh id to every request. Inbound X-Request-ID values
// are never adopted: requests arrive straight from mobile clients, not from a
// trusted proxy, and a caller-chosen id would poison log correlation. When a
// client sends one anyway it is logged alongside the server id so the two
// sides can still be matched up.
//
// The generated id is stored in the gin context, echoed in the X-Request-ID
// response header, and attached to the request context for structured logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := newRequestID()
		c.Set(requestIDContextKey, id)
		c.Header(requestIDHeader, id)

		ctx := logger.WithContextAttrs(c.Request.Context(), slog.String("request_id", id))
		if clientID := c.GetHeader(requestIDHeader); clientID != "" {
			ctx = logger.WithContextAttrs(ctx, slog.String("client_request_id", clientID))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// GetRequestID extracts the request ID from the gin.Context.
// Returns an empty string if no request ID is set.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(requestIDContextKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// newRequestID returns 16 random bytes as 32 hex characters. If the system
// randomness source fails, a timestamp plus counter keeps ids unique within
// the process.
func newRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint64(b[8:], requestIDFallbackCounter.Add(1))
	}
	return hex.EncodeToString(b)
}
