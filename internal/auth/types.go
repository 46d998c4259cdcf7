package auth

import (
	"errors"
	"time"
)

// AuthMethod represents the type of authentication
type AuthMethod string

const (
	AuthMethodBasic        AuthMethod = "basic"         // username/password
	AuthMethodClientSecret AuthMethod = "client_secret" // client_id/client_secret
	AuthMethodJWT          AuthMethod = "jwt"           // JWT token
)

// Role names accepted in settings.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Resources and actions checked by the API.
const (
	ResourceServer   = "server"
	ResourceConsole  = "console"
	ResourceSettings = "settings"

	ActionRead  = "read"
	ActionWrite = "write"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthResult represents the result of authentication
type AuthResult struct {
	Success  bool     `json:"success"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Token    *Token   `json:"token,omitempty"`
}

// Token represents a JWT token
type Token struct {
	Type      string    `json:"type"`  // "Bearer"
	Value     string    `json:"value"` // JWT token string
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Method       AuthMethod `json:"method"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"password,omitempty"`
	ClientID     string     `json:"client_id,omitempty"`
	ClientSecret string     `json:"client_secret,omitempty"`
	Token        string     `json:"token,omitempty"`
}

// Permission represents a permission in the system
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

var rolePermissions = map[string][]Permission{
	RoleAdmin: {
		{Resource: "*", Action: "*"},
	},
	RoleOperator: {
		{Resource: ResourceServer, Action: ActionRead},
		{Resource: ResourceServer, Action: ActionWrite},
		{Resource: ResourceConsole, Action: ActionRead},
		{Resource: ResourceConsole, Action: ActionWrite},
	},
	RoleViewer: {
		{Resource: ResourceServer, Action: ActionRead},
	},
}

// KnownRole reports whether name is one of the built-in roles.
func KnownRole(name string) bool {
	_, ok := rolePermissions[name]
	return ok
}
