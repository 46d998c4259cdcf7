package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/loykin/acoremgr/internal/config"
)

func testService(t *testing.T) *AuthService {
	t.Helper()
	gm, err := HashPassword("gm-pass", bcrypt.MinCost)
	require.NoError(t, err)
	old, err := HashPassword("old-pass", bcrypt.MinCost)
	require.NoError(t, err)
	s, err := NewAuthService(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []config.AuthUser{
			{Username: "gm", PasswordHash: gm, Roles: []string{RoleOperator}},
			{Username: "old", PasswordHash: old, Roles: []string{RoleAdmin}, Disabled: true},
		},
		Clients: []config.AuthClient{{ClientID: "grafana", ClientSecret: "s3cret", Roles: []string{RoleViewer}}},
	})
	require.NoError(t, err)
	return s
}

func TestAuthenticateBasic(t *testing.T) {
	s := testService(t)
	ctx := context.Background()

	res, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodBasic, Username: "gm", Password: "gm-pass"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, []string{RoleOperator}, res.Roles)
	require.NotNil(t, res.Token)
	assert.Equal(t, "Bearer", res.Token.Type)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.Token.ExpiresAt, time.Minute)

	for _, req := range []LoginRequest{
		{Method: AuthMethodBasic, Username: "gm", Password: "wrong"},
		{Method: AuthMethodBasic, Username: "nobody", Password: "gm-pass"},
		{Method: AuthMethodBasic, Username: "old", Password: "old-pass"},
		{Method: AuthMethodBasic, Username: "gm"},
	} {
		res, err := s.Authenticate(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidCredentials, req.Username)
		assert.False(t, res.Success)
	}

	_, err = s.Authenticate(ctx, LoginRequest{Method: "kerberos"})
	assert.Error(t, err)
}

func TestAuthenticateClientSecret(t *testing.T) {
	s := testService(t)
	res, err := s.Authenticate(context.Background(), LoginRequest{Method: AuthMethodClientSecret, ClientID: "grafana", ClientSecret: "s3cret"})
	require.NoError(t, err)
	assert.Equal(t, "grafana", res.Username)
	assert.Equal(t, []string{RoleViewer}, res.Roles)

	_, err = s.Authenticate(context.Background(), LoginRequest{Method: AuthMethodClientSecret, ClientID: "grafana", ClientSecret: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateJWT(t *testing.T) {
	s := testService(t)
	ctx := context.Background()
	login, err := s.Authenticate(ctx, LoginRequest{Username: "gm", Password: "gm-pass"})
	require.NoError(t, err)

	res, err := s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: login.Token.Value})
	require.NoError(t, err)
	assert.Equal(t, "gm", res.Username)
	assert.Nil(t, res.Token)

	// signed with another secret
	other, err := NewAuthService(config.AuthConfig{JWTSecret: "other"})
	require.NoError(t, err)
	forged, err := other.generateJWT("gm", []string{RoleAdmin})
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: forged.Value})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// expired
	expired := &Claims{Username: "gm", Roles: []string{RoleOperator}, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    issuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, expired).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: tok})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	// disabled user
	disabled, err := s.generateJWT("old", []string{RoleAdmin})
	require.NoError(t, err)
	_, err = s.Authenticate(ctx, LoginRequest{Method: AuthMethodJWT, Token: disabled.Value})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRandomSecretWhenUnset(t *testing.T) {
	s, err := NewAuthService(config.AuthConfig{})
	require.NoError(t, err)
	assert.Len(t, s.jwtSecret, 32)
	assert.Equal(t, 24*time.Hour, s.tokenTTL)
}

func TestHasPermission(t *testing.T) {
	s := testService(t)
	cases := []struct {
		roles    []string
		resource string
		action   string
		want     bool
	}{
		{[]string{RoleAdmin}, ResourceSettings, ActionWrite, true},
		{[]string{RoleOperator}, ResourceServer, ActionWrite, true},
		{[]string{RoleOperator}, ResourceConsole, ActionWrite, true},
		{[]string{RoleOperator}, ResourceSettings, ActionRead, false},
		{[]string{RoleViewer}, ResourceServer, ActionRead, true},
		{[]string{RoleViewer}, ResourceServer, ActionWrite, false},
		{[]string{"unknown"}, ResourceServer, ActionRead, false},
		{[]string{"unknown", RoleViewer}, ResourceServer, ActionRead, true},
		{nil, ResourceServer, ActionRead, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, s.HasPermission(tc.roles, tc.resource, tc.action), "%v %s:%s", tc.roles, tc.resource, tc.action)
	}
	assert.True(t, KnownRole(RoleViewer))
	assert.False(t, KnownRole("gamemaster"))
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("", bcrypt.MinCost)
	assert.Error(t, err)
	h, err := HashPassword("pw", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := testService(t)
	m := NewMiddleware(s)
	g := gin.New()
	g.GET("/read", append(m.Require(ResourceServer, ActionRead), func(c *gin.Context) { c.Status(http.StatusOK) })...)
	g.POST("/write", append(m.Require(ResourceSettings, ActionWrite), func(c *gin.Context) { c.Status(http.StatusOK) })...)

	do := func(method, path string, set func(*http.Request)) int {
		req := httptest.NewRequest(method, path, nil)
		if set != nil {
			set(req)
		}
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", nil))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read", func(r *http.Request) { r.SetBasicAuth("gm", "gm-pass") }))
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", func(r *http.Request) { r.SetBasicAuth("gm", "bad") }))
	assert.Equal(t, http.StatusForbidden, do(http.MethodPost, "/write", func(r *http.Request) { r.SetBasicAuth("gm", "gm-pass") }))

	login, err := s.Authenticate(context.Background(), LoginRequest{Username: "gm", Password: "gm-pass"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+login.Token.Value)
	}))
	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/read?access_token="+login.Token.Value, nil))
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer garbage")
	}))
}
