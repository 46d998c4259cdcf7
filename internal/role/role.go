package role

import (
	"fmt"
	"strings"
)

// Role identifies the source of a log line and, for World and Auth, the
// server executable a supervisor manages.
type Role int

const (
	Manager Role = iota
	World
	Auth
)

// Servers lists the supervised roles in display order.
var Servers = []Role{World, Auth}

func (r Role) String() string {
	switch r {
	case Manager:
		return "manager"
	case World:
		return "world"
	case Auth:
		return "auth"
	default:
		return "unknown"
	}
}

// DisplayName is the human-facing name used in console messages.
func (r Role) DisplayName() string {
	switch r {
	case Manager:
		return "Manager"
	case World:
		return "Worldserver"
	case Auth:
		return "Authserver"
	default:
		return "Unknown"
	}
}

// IsServer reports whether r names a supervised executable.
func (r Role) IsServer() bool { return r == World || r == Auth }

// Parse accepts the lowercase role names (and the executable-style aliases
// "worldserver" / "authserver").
func Parse(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manager":
		return Manager, nil
	case "world", "worldserver":
		return World, nil
	case "auth", "authserver":
		return Auth, nil
	}
	return Manager, fmt.Errorf("unknown role %q", s)
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}
