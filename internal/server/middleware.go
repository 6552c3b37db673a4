package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/imagen-apex/apex/internal/utils/hashutil"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	apiKeyHeader    = "X-API-Key"
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// AuthError is an authentication failure with the status it maps to.
type AuthError struct {
	Status int
	Detail string
}

func (e *AuthError) Error() string { return e.Detail }

var (
	ErrMissingAPIKey = &AuthError{Status: http.StatusUnauthorized, Detail: "Missing API key. Include X-API-Key header."}
	ErrInvalidAPIKey = &AuthError{Status: http.StatusForbidden, Detail: "Invalid API key"}
)

// apiKeyAuth compares fixed-length digests so the comparison time does not
// depend on the key contents or length.
type apiKeyAuth struct {
	digest []byte
}

func newAPIKeyAuth(key string) *apiKeyAuth {
	return &apiKeyAuth{digest: hashutil.Sha3256Sum([]byte(key))}
}

func (a *apiKeyAuth) verify(key string) error {
	if subtle.ConstantTimeCompare(hashutil.Sha3256Sum([]byte(key)), a.digest) != 1 {
		return ErrInvalidAPIKey
	}

	return nil
}

func (s *Server) authentication() gin.HandlerFunc {
	return func(c *gin.Context) {
		// only an absent header is missing; an empty one is a wrong key
		values := c.Request.Header.Values(apiKeyHeader)
		if len(values) == 0 {
			abortWithDetail(c, ErrMissingAPIKey.Status, ErrMissingAPIKey.Detail)
			return
		}

		if err := s.auth.verify(values[0]); err != nil {
			authErr := err.(*AuthError)
			abortWithDetail(c, authErr.Status, authErr.Detail)
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			abortWithDetail(c, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		c.Next()
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func abortWithDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
