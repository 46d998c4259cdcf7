package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the *AuthResult.
const ResultKey = "auth_result"

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	authService *AuthService
}

func NewMiddleware(s *AuthService) *Middleware {
	return &Middleware{authService: s}
}

// Service returns the service backing m.
func (m *Middleware) Service() *AuthService { return m.authService }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authResult, err := m.authenticate(c.Request)
		if err != nil || !authResult.Success {
			c.Header("WWW-Authenticate", `Basic realm="acoremgr"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(ResultKey, authResult)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires specific permissions
func (m *Middleware) GinRequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(ResultKey)
		result, ok := v.(*AuthResult)
		if !exists || !ok || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !m.authService.HasPermission(result.Roles, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission denied"})
			return
		}
		c.Next()
	}
}

// Require chains GinAuth and GinRequirePermission.
func (m *Middleware) Require(resource, action string) []gin.HandlerFunc {
	return []gin.HandlerFunc{m.GinAuth(), m.GinRequirePermission(resource, action)}
}

// authenticate extracts and validates authentication from HTTP request
func (m *Middleware) authenticate(r *http.Request) (*AuthResult, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return m.authService.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: parts[1]})
		}
	}

	if username, password, ok := r.BasicAuth(); ok {
		return m.authService.Authenticate(r.Context(), LoginRequest{
			Method:   AuthMethodBasic,
			Username: username,
			Password: password,
		})
	}

	// browsers cannot set headers on WebSocket upgrades
	if tok := r.URL.Query().Get("access_token"); tok != "" {
		return m.authService.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: tok})
	}

	return &AuthResult{Success: false}, ErrInvalidCredentials
}
